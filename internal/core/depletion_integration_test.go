package core_test

import (
	"context"
	"testing"
	"time"

	"barstock/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type engineFixture struct {
	ledger   *core.Ledger
	mappings core.MappingService
	taps     core.TapService
	sales    core.SalesService
	engine   *core.DepletionEngine
}

func newEngineFixture(pool *pgxpool.Pool) *engineFixture {
	ledger := core.NewLedger(pool)
	mappings := core.NewMappingService(pool)
	taps := core.NewTapService(pool)
	sales := core.NewSalesService(pool)
	catalog := core.NewCatalogService(pool)
	settings := core.NewSettingsService(pool)
	return &engineFixture{
		ledger:   ledger,
		mappings: mappings,
		taps:     taps,
		sales:    sales,
		engine: core.NewDepletionEngine(pool, ledger, mappings, taps, sales,
			catalog, settings, zap.NewNop()),
	}
}

func directVodkaMapping(t *testing.T, mappings core.MappingService) {
	t.Helper()
	itemID := int64(1)
	pour := decimal.RequireFromString("1.5")
	uom := core.UOMOunce
	_, err := mappings.CreateMapping(context.Background(), &core.POSItemMapping{
		LocationID:    1,
		SourceSystem:  core.SourceToast,
		POSItemID:     "vodka-shot",
		POSItemName:   "Vodka Shot",
		Mode:          core.MapDirect,
		ItemID:        &itemID,
		PourQty:       &pour,
		PourUOM:       &uom,
		EffectiveFrom: time.Now().UTC().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Failed to create mapping: %v", err)
	}
}

func vodkaSaleLine(lineID string, qty string, soldAt time.Time) core.SalesLine {
	return core.SalesLine{
		SourceSystem:     core.SourceToast,
		SourceLocationID: "toast-loc-1",
		BusinessDate:     soldAt.Truncate(24 * time.Hour),
		ReceiptID:        "receipt-100",
		LineID:           lineID,
		POSItemID:        "vodka-shot",
		POSItemName:      "Vodka Shot",
		Quantity:         decimal.RequireFromString(qty),
		SoldAt:           soldAt,
	}
}

func TestDepletion_DirectMappingIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	fx := newEngineFixture(pool)
	ctx := context.Background()
	directVodkaMapping(t, fx.mappings)

	soldAt := time.Now().UTC().Add(-time.Hour)
	res, err := fx.sales.IngestLines(ctx, 1, []core.SalesLine{vodkaSaleLine("1", "2", soldAt)})
	if err != nil {
		t.Fatalf("IngestLines: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("Inserted = %d, want 1", res.Inserted)
	}

	report, err := fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if report.LinesDepleted != 1 || report.EntriesWritten != 1 {
		t.Fatalf("Report = %+v, want 1 line depleted with 1 entry", report)
	}

	// 2 shots of 1.5 oz, booked in the item's ml base.
	wantDelta := decimal.RequireFromString("3").Mul(decimal.RequireFromString("29.5735295625")).Neg()
	sum, err := fx.ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("SumDeltas: %v", err)
	}
	if !sum.Equal(wantDelta) {
		t.Errorf("SumDeltas = %s, want %s", sum, wantDelta)
	}

	// The POS re-sends yesterday's batch. The upsert only refreshes
	// flags, and the watermark keeps the engine from replaying the line.
	res, err = fx.sales.IngestLines(ctx, 1, []core.SalesLine{vodkaSaleLine("1", "2", soldAt)})
	if err != nil {
		t.Fatalf("Re-ingest: %v", err)
	}
	if res.Updated != 1 || res.Inserted != 0 {
		t.Fatalf("Re-ingest result = %+v, want 1 updated", res)
	}
	report, err = fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("Second RunPending: %v", err)
	}
	if report.EntriesWritten != 0 {
		t.Errorf("Second pass wrote %d entries, want 0", report.EntriesWritten)
	}

	// Even a forced window replay over the same span is absorbed by the
	// per-line dedupe keys.
	report, err = fx.engine.RunWindow(ctx, 1, soldAt.Add(-time.Hour), soldAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("RunWindow: %v", err)
	}
	if report.EntriesWritten != 0 {
		t.Errorf("Window replay wrote %d entries, want 0", report.EntriesWritten)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM consumption_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 depletion row, found %d", count)
	}
}

func TestDepletion_VoidBooksOneReversal(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	fx := newEngineFixture(pool)
	ctx := context.Background()
	directVodkaMapping(t, fx.mappings)

	soldAt := time.Now().UTC().Add(-time.Hour)
	if _, err := fx.sales.IngestLines(ctx, 1, []core.SalesLine{vodkaSaleLine("1", "2", soldAt)}); err != nil {
		t.Fatalf("IngestLines: %v", err)
	}
	if _, err := fx.engine.RunPending(ctx, 1, core.SourceToast, 0); err != nil {
		t.Fatalf("RunPending: %v", err)
	}

	// The bartender voids the ticket; the next import re-sends the line
	// flagged, and the next pass must book exactly one compensating entry.
	voided := vodkaSaleLine("1", "2", soldAt)
	voided.IsVoided = true
	if _, err := fx.sales.IngestLines(ctx, 1, []core.SalesLine{voided}); err != nil {
		t.Fatalf("Void re-ingest: %v", err)
	}

	report, err := fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("RunPending after void: %v", err)
	}
	if report.Reversed != 1 {
		t.Fatalf("Reversed = %d, want 1", report.Reversed)
	}

	sum, err := fx.ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("SumDeltas: %v", err)
	}
	if !sum.IsZero() {
		t.Errorf("Sum after reversal = %s, want 0", sum)
	}

	// Further passes see the line as already compensated.
	report, err = fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("Third RunPending: %v", err)
	}
	if report.Reversed != 0 || report.EntriesWritten != 0 {
		t.Errorf("Third pass = %+v, want nothing new", report)
	}

	var count int
	err = pool.QueryRow(ctx,
		"SELECT count(*) FROM consumption_events WHERE quantity_delta > 0").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 reversal row, found %d", count)
	}
}

func TestDepletion_UnmappedLinesParkForReview(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	fx := newEngineFixture(pool)
	ctx := context.Background()

	soldAt := time.Now().UTC().Add(-time.Hour)
	line := vodkaSaleLine("1", "1", soldAt)
	line.POSItemID = "mystery-special"
	line.POSItemName = "Mystery Special"
	if _, err := fx.sales.IngestLines(ctx, 1, []core.SalesLine{line}); err != nil {
		t.Fatalf("IngestLines: %v", err)
	}

	report, err := fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if report.Unmapped != 1 || report.EntriesWritten != 0 {
		t.Fatalf("Report = %+v, want 1 unmapped and no entries", report)
	}

	parked, err := fx.sales.ListUnmapped(ctx, 1)
	if err != nil {
		t.Fatalf("ListUnmapped: %v", err)
	}
	if len(parked) != 1 || parked[0].POSItemID != "mystery-special" {
		t.Fatalf("Unmapped queue = %+v, want mystery-special", parked)
	}

	// An operator maps the item, then replays the window to catch up.
	itemID := int64(1)
	pour := decimal.RequireFromString("2")
	uom := core.UOMOunce
	_, err = fx.mappings.CreateMapping(ctx, &core.POSItemMapping{
		LocationID:    1,
		SourceSystem:  core.SourceToast,
		POSItemID:     "mystery-special",
		POSItemName:   "Mystery Special",
		Mode:          core.MapDirect,
		ItemID:        &itemID,
		PourQty:       &pour,
		PourUOM:       &uom,
		EffectiveFrom: soldAt.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	report, err = fx.engine.RunWindow(ctx, 1, soldAt.Add(-time.Minute), soldAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunWindow: %v", err)
	}
	if report.LinesDepleted != 1 || report.EntriesWritten != 1 {
		t.Errorf("Replay report = %+v, want the parked line depleted", report)
	}
}

func TestDepletion_MappingOverlapRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	fx := newEngineFixture(pool)
	ctx := context.Background()
	directVodkaMapping(t, fx.mappings)

	// A second open-ended mapping for the same POS item must be refused;
	// two live mappings would double-deplete every sale.
	itemID := int64(2)
	pour := decimal.RequireFromString("1")
	uom := core.UOMOunce
	_, err := fx.mappings.CreateMapping(ctx, &core.POSItemMapping{
		LocationID:    1,
		SourceSystem:  core.SourceToast,
		POSItemID:     "vodka-shot",
		POSItemName:   "Vodka Shot",
		Mode:          core.MapDirect,
		ItemID:        &itemID,
		PourQty:       &pour,
		PourUOM:       &uom,
		EffectiveFrom: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("Expected overlapping mapping to be rejected")
	}
	de, ok := core.AsDomainError(err)
	if !ok || de.Code != core.CodeMappingOverlap {
		t.Fatalf("Expected ERR_MAPPING_OVERLAP, got %v", err)
	}
	if de.Details["conflicting_mapping_id"] == nil {
		t.Error("Overlap error should name the conflicting mapping")
	}

	// Ending the live version frees the window for a successor.
	active, err := fx.mappings.ListMappings(ctx, 1, nil)
	if err != nil {
		t.Fatalf("ListMappings: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 mapping, got %d", len(active))
	}
	cutover := time.Now().UTC()
	if err := fx.mappings.EndMapping(ctx, 1, active[0].ID, cutover); err != nil {
		t.Fatalf("EndMapping: %v", err)
	}
	_, err = fx.mappings.CreateMapping(ctx, &core.POSItemMapping{
		LocationID:    1,
		SourceSystem:  core.SourceToast,
		POSItemID:     "vodka-shot",
		POSItemName:   "Vodka Shot",
		Mode:          core.MapDirect,
		ItemID:        &itemID,
		PourQty:       &pour,
		PourUOM:       &uom,
		EffectiveFrom: cutover,
	})
	if err != nil {
		t.Fatalf("Successor mapping after cutover: %v", err)
	}
}

func TestDepletion_RecipeFansOutPerIngredient(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	fx := newEngineFixture(pool)
	ctx := context.Background()

	recipe, err := fx.mappings.CreateRecipe(ctx, &core.Recipe{
		BusinessID: 1,
		Name:       "House Margarita",
		Ingredients: []core.RecipeIngredient{
			{ItemID: 1, Quantity: decimal.RequireFromString("1.5"), UOM: core.UOMOunce},
			{ItemID: 2, Quantity: decimal.RequireFromString("90"), UOM: core.UOMML},
		},
	})
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}

	_, err = fx.mappings.CreateMapping(ctx, &core.POSItemMapping{
		LocationID:    1,
		SourceSystem:  core.SourceToast,
		POSItemID:     "marg",
		POSItemName:   "House Margarita",
		Mode:          core.MapRecipe,
		RecipeID:      &recipe.ID,
		EffectiveFrom: time.Now().UTC().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	soldAt := time.Now().UTC().Add(-time.Hour)
	line := vodkaSaleLine("1", "2", soldAt)
	line.POSItemID = "marg"
	line.POSItemName = "House Margarita"
	if _, err := fx.sales.IngestLines(ctx, 1, []core.SalesLine{line}); err != nil {
		t.Fatalf("IngestLines: %v", err)
	}

	report, err := fx.engine.RunPending(ctx, 1, core.SourceToast, 0)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if report.EntriesWritten != 2 {
		t.Fatalf("EntriesWritten = %d, want one per ingredient", report.EntriesWritten)
	}

	// Two margaritas: 3 oz of vodka and 180 ml of mix.
	wantVodka := decimal.RequireFromString("3").Mul(decimal.RequireFromString("29.5735295625")).Neg()
	sum, err := fx.ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(wantVodka) {
		t.Errorf("Vodka depletion = %s, want %s", sum, wantVodka)
	}
	sum, err = fx.ledger.SumDeltas(ctx, 2, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(decimal.RequireFromString("-180")) {
		t.Errorf("Mix depletion = %s, want -180", sum)
	}

	var withRecipe int
	err = pool.QueryRow(ctx,
		"SELECT count(*) FROM consumption_events WHERE recipe_id = $1", recipe.ID).Scan(&withRecipe)
	if err != nil {
		t.Fatal(err)
	}
	if withRecipe != 2 {
		t.Errorf("Entries carrying the recipe ref = %d, want 2", withRecipe)
	}
}
