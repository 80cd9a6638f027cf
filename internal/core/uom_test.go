package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestConvertWithinDimension(t *testing.T) {
	tests := []struct {
		name string
		qty  string
		from UOM
		to   UOM
		want string
	}{
		{"oz to ml", "1", UOMOunce, UOMML, "29.5735295625"},
		{"three oz to ml", "3", UOMOunce, UOMML, "88.7205886875"},
		{"ml to oz", "29.5735295625", UOMML, UOMOunce, "1"},
		{"kg to g", "1.5", UOMKilogram, UOMGram, "1500"},
		{"g to kg", "250", UOMGram, UOMKilogram, "0.25"},
		{"identity", "42", UOMML, UOMML, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(dec(tt.qty), tt.from, tt.to, nil)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvertAcrossDimensions(t *testing.T) {
	density := decPtr("0.95") // g per ml

	got, err := Convert(dec("100"), UOMML, UOMGram, density)
	if err != nil {
		t.Fatalf("ml to g: %v", err)
	}
	if !got.Equal(dec("95")) {
		t.Errorf("ml to g: got %s, want 95", got)
	}

	got, err = Convert(dec("95"), UOMGram, UOMML, density)
	if err != nil {
		t.Fatalf("g to ml: %v", err)
	}
	if !got.Equal(dec("100")) {
		t.Errorf("g to ml: got %s, want 100", got)
	}

	if _, err := Convert(dec("100"), UOMML, UOMGram, nil); err == nil {
		t.Error("expected error converting volume to mass without density")
	}
	if _, err := Convert(dec("5"), UOMUnit, UOMML, nil); err == nil {
		t.Error("expected error converting count without container size")
	}
}

// A weight round-trip must come back within a gram of where it started,
// whatever the density.
func TestConvertRoundTripWithinOneGram(t *testing.T) {
	densities := []string{"0.789", "0.95", "1", "1.26"}
	quantities := []string{"33", "750", "1000", "18927.05"}

	for _, ds := range densities {
		d := decPtr(ds)
		for _, qs := range quantities {
			ml := dec(qs)
			g, err := Convert(ml, UOMML, UOMGram, d)
			if err != nil {
				t.Fatalf("ml to g: %v", err)
			}
			back, err := Convert(g, UOMGram, UOMML, d)
			if err != nil {
				t.Fatalf("g to ml: %v", err)
			}
			diffG := back.Sub(ml).Abs().Mul(*d)
			if diffG.GreaterThan(oneDecimal) {
				t.Errorf("density %s qty %s: round trip drifted %s g", ds, qs, diffG)
			}
		}
	}
}

func TestToBase(t *testing.T) {
	container := dec("750")
	bottle := &InventoryItem{ID: 1, BaseUOM: UOMML, ContainerSizeML: &container}
	caseItem := &InventoryItem{ID: 2, BaseUOM: UOMUnit, ContainerSizeML: &container}
	bulk := &InventoryItem{ID: 3, BaseUOM: UOMGram}

	got, err := ToBase(bottle, dec("2"), UOMUnit, nil)
	if err != nil {
		t.Fatalf("units to ml: %v", err)
	}
	if !got.Equal(dec("1500")) {
		t.Errorf("units to ml: got %s, want 1500", got)
	}

	got, err = ToBase(bottle, dec("1"), UOMOunce, nil)
	if err != nil {
		t.Fatalf("oz to ml: %v", err)
	}
	if !got.Equal(dec("29.5735295625")) {
		t.Errorf("oz to ml: got %s, want 29.5735295625", got)
	}

	got, err = ToBase(caseItem, dec("1500"), UOMML, nil)
	if err != nil {
		t.Fatalf("ml to units: %v", err)
	}
	if !got.Equal(dec("2")) {
		t.Errorf("ml to units: got %s, want 2", got)
	}

	got, err = ToBase(bulk, dec("2"), UOMKilogram, nil)
	if err != nil {
		t.Fatalf("kg to g: %v", err)
	}
	if !got.Equal(dec("2000")) {
		t.Errorf("kg to g: got %s, want 2000", got)
	}

	noContainer := &InventoryItem{ID: 4, BaseUOM: UOMML}
	if _, err := ToBase(noContainer, dec("1"), UOMUnit, nil); err == nil {
		t.Error("expected error for unit conversion without container size")
	}
}

func TestRemainingVolumeML(t *testing.T) {
	// 750ml bottle, 500g empty, 1250g full: derived density 1 g/ml.
	tmpl := &BottleTemplate{
		ItemID:          1,
		ContainerSizeML: dec("750"),
		EmptyWeightG:    dec("500"),
		FullWeightG:     dec("1250"),
	}

	tests := []struct {
		name  string
		gross string
		want  string
	}{
		{"half full", "875", "375"},
		{"below empty clamps to zero", "450", "0"},
		{"above full clamps to container", "1400", "750"},
		{"exactly empty", "500", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemainingVolumeML(tmpl, nil, dec(tt.gross))
			if err != nil {
				t.Fatalf("RemainingVolumeML: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	// explicit density beats the derived one
	tmpl.Density = decPtr("0.95")
	got, err := RemainingVolumeML(tmpl, nil, dec("975"))
	if err != nil {
		t.Fatalf("RemainingVolumeML: %v", err)
	}
	want := dec("475").Div(dec("0.95"))
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestResolveDensityFallsBackToCategory(t *testing.T) {
	cat := &Category{DefaultDensity: decPtr("0.92")}
	if d := resolveDensity(nil, cat); d == nil || !d.Equal(dec("0.92")) {
		t.Errorf("expected category density, got %v", d)
	}
	if d := resolveDensity(nil, nil); d != nil {
		t.Errorf("expected nil density, got %s", d)
	}
}
