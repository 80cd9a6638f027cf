package core

import (
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }

func uomPtr(u UOM) *UOM { return &u }

func directMapping(itemID int64, pourOz string) *POSItemMapping {
	return &POSItemMapping{
		LocationID:   1,
		SourceSystem: SourceToast,
		POSItemID:    "pos-1",
		Mode:         MapDirect,
		ItemID:       i64(itemID),
		PourQty:      decPtr(pourOz),
		PourUOM:      uomPtr(UOMOunce),
	}
}

func TestExpandDirect(t *testing.T) {
	m := directMapping(7, "1")

	got, err := ExpandMapping(m, nil, nil, dec("3"))
	if err != nil {
		t.Fatalf("ExpandMapping: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 depletion, got %d", len(got))
	}
	if got[0].ItemID != 7 {
		t.Errorf("item: got %d, want 7", got[0].ItemID)
	}
	if !got[0].Quantity.Equal(dec("3")) || got[0].UOM != UOMOunce {
		t.Errorf("got %s %s, want 3 oz", got[0].Quantity, got[0].UOM)
	}
}

func TestExpandDraftByTap(t *testing.T) {
	m := &POSItemMapping{
		LocationID:   1,
		SourceSystem: SourceSquare,
		POSItemID:    "draft-9",
		Mode:         MapDraftByTap,
		TapID:        i64(4),
		PourQty:      decPtr("473"),
		PourUOM:      uomPtr(UOMML),
	}

	got, err := ExpandMapping(m, nil, i64(22), dec("2"))
	if err != nil {
		t.Fatalf("ExpandMapping: %v", err)
	}
	if got[0].ItemID != 22 || !got[0].Quantity.Equal(dec("946")) {
		t.Errorf("got item %d qty %s, want item 22 qty 946", got[0].ItemID, got[0].Quantity)
	}

	if _, err := ExpandMapping(m, nil, nil, dec("1")); err == nil {
		t.Fatal("expected error when tap has no keg")
	} else if de, ok := AsDomainError(err); !ok || de.Code != CodePreconditionFailed {
		t.Errorf("expected ERR_PRECONDITION_FAILED, got %v", err)
	}
}

func TestExpandRecipe(t *testing.T) {
	recipe := &Recipe{
		ID:   3,
		Name: "Margarita",
		Ingredients: []RecipeIngredient{
			{ItemID: 10, Quantity: dec("1.5"), UOM: UOMOunce},
			{ItemID: 11, Quantity: dec("0.75"), UOM: UOMOunce},
			{ItemID: 12, Quantity: dec("30"), UOM: UOMML},
		},
	}
	m := &POSItemMapping{Mode: MapRecipe, RecipeID: i64(3), SourceSystem: SourceToast, POSItemID: "marg"}

	got, err := ExpandMapping(m, recipe, nil, dec("2"))
	if err != nil {
		t.Fatalf("ExpandMapping: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 depletions, got %d", len(got))
	}
	wants := []struct {
		item int64
		qty  string
		uom  UOM
	}{
		{10, "3", UOMOunce},
		{11, "1.5", UOMOunce},
		{12, "60", UOMML},
	}
	for i, w := range wants {
		if got[i].ItemID != w.item || !got[i].Quantity.Equal(dec(w.qty)) || got[i].UOM != w.uom {
			t.Errorf("ingredient %d: got item %d %s %s, want item %d %s %s",
				i, got[i].ItemID, got[i].Quantity, got[i].UOM, w.item, w.qty, w.uom)
		}
		if got[i].RecipeID == nil || *got[i].RecipeID != 3 {
			t.Errorf("ingredient %d missing recipe ref", i)
		}
	}
}

// A well split "rail tequila" pour: 60% silver, 40% gold, 1.5 oz shot,
// two sold. Silver takes 1.8 oz and gold 1.2 oz.
func TestExpandSplitRatio(t *testing.T) {
	split := &Recipe{
		ID:   8,
		Name: "Rail tequila",
		Ingredients: []RecipeIngredient{
			{ItemID: 31, Quantity: dec("0.6")},
			{ItemID: 32, Quantity: dec("0.4")},
		},
	}
	m := &POSItemMapping{
		Mode:         MapSplitRatio,
		RecipeID:     i64(8),
		SourceSystem: SourceToast,
		POSItemID:    "rail-teq",
		PourQty:      decPtr("1.5"),
		PourUOM:      uomPtr(UOMOunce),
	}

	got, err := ExpandMapping(m, split, nil, dec("2"))
	if err != nil {
		t.Fatalf("ExpandMapping: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 depletions, got %d", len(got))
	}
	if !got[0].Quantity.Equal(dec("1.8")) || got[0].ItemID != 31 {
		t.Errorf("silver: got item %d qty %s, want item 31 qty 1.8", got[0].ItemID, got[0].Quantity)
	}
	if !got[1].Quantity.Equal(dec("1.2")) || got[1].ItemID != 32 {
		t.Errorf("gold: got item %d qty %s, want item 32 qty 1.2", got[1].ItemID, got[1].Quantity)
	}

	split.Ingredients[1].Quantity = dec("0.5") // weights now sum to 1.1
	if _, err := ExpandMapping(m, split, nil, dec("1")); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
}

func TestValidateMapping(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *POSItemMapping)
		wantErr bool
	}{
		{"valid direct", func(m *POSItemMapping) {}, false},
		{"direct missing item", func(m *POSItemMapping) { m.ItemID = nil }, true},
		{"direct missing pour", func(m *POSItemMapping) { m.PourQty = nil }, true},
		{"direct with tap set", func(m *POSItemMapping) { m.TapID = i64(1) }, true},
		{"zero pour", func(m *POSItemMapping) { m.PourQty = decPtr("0") }, true},
		{"bad source", func(m *POSItemMapping) { m.SourceSystem = SourceTapMeter }, true},
		{"empty pos item", func(m *POSItemMapping) { m.POSItemID = "" }, true},
		{"inverted window", func(m *POSItemMapping) {
			to := m.EffectiveFrom.Add(-time.Hour)
			m.EffectiveTo = &to
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := directMapping(1, "1")
			m.EffectiveFrom = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			tt.mutate(m)
			err := ValidateMapping(m)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMappingsOverlap(t *testing.T) {
	ts := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	tp := func(d int) *time.Time { t := ts(d); return &t }

	tests := []struct {
		name  string
		aFrom time.Time
		aTo   *time.Time
		bFrom time.Time
		bTo   *time.Time
		want  bool
	}{
		{"disjoint", ts(1), tp(5), ts(5), tp(9), false},
		{"nested", ts(1), tp(10), ts(3), tp(4), true},
		{"open ended vs later", ts(1), nil, ts(20), tp(25), true},
		{"closed before open starts", ts(1), tp(5), ts(6), nil, false},
		{"both open", ts(1), nil, ts(9), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mappingsOverlap(tt.aFrom, tt.aTo, tt.bFrom, tt.bTo); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			// symmetry
			if got := mappingsOverlap(tt.bFrom, tt.bTo, tt.aFrom, tt.aTo); got != tt.want {
				t.Errorf("reversed: got %v, want %v", got, tt.want)
			}
		})
	}
}
