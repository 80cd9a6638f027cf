package core_test

import (
	"context"
	"testing"
	"time"

	"barstock/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func newParService(pool *pgxpool.Pool) (core.ParService, *core.Ledger) {
	ledger := core.NewLedger(pool)
	settings := core.NewSettingsService(pool)
	expected := core.NewExpectedService(pool, ledger, settings)
	return core.NewParService(pool, ledger, expected, settings), ledger
}

func TestPurchasing_SuggestionToClosedOrder(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	pars, ledger := newParService(pool)
	ctx := context.Background()

	// Cider: par 24 bottles, never ordered, nothing on hand.
	_, err := pars.UpsertParLevel(ctx, 1, &core.ParLevel{
		ItemID:   3,
		VendorID: i64p(1),
		ParLevel: decimal.NewFromInt(24),
		MinLevel: decimal.NewFromInt(6),
		ParUOM:   core.ParUnit,
	})
	if err != nil {
		t.Fatalf("UpsertParLevel: %v", err)
	}

	bundles, err := pars.Suggestions(ctx, 1)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(bundles) != 1 || len(bundles[0].Suggestions) != 1 {
		t.Fatalf("Bundles = %+v, want one suggestion for the one vendor", bundles)
	}
	sug := bundles[0].Suggestions[0]
	if sug.ItemID != 3 || !sug.OrderQty.Equal(decimal.NewFromInt(24)) {
		t.Fatalf("Suggestion = %+v, want 24 units of item 3", sug)
	}

	orders, err := pars.CreateFromSuggestions(ctx, 1, 1)
	if err != nil {
		t.Fatalf("CreateFromSuggestions: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != core.POOpen || len(orders[0].Lines) != 1 {
		t.Fatalf("Orders = %+v, want one open order with one line", orders)
	}
	po := orders[0]

	// First run: 10 of 24 bottles come back from the distributor.
	po2, err := pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("First pickup: %v", err)
	}
	if po2.Status != core.POPartial {
		t.Errorf("Status after partial pickup = %s, want partially_fulfilled", po2.Status)
	}
	onHand, err := ledger.SumDeltas(ctx, 3, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.Equal(decimal.NewFromInt(10)) {
		t.Errorf("On hand after partial pickup = %s, want 10", onHand)
	}

	// Second run completes the order and closes it.
	po3, err := pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(14)},
	})
	if err != nil {
		t.Fatalf("Second pickup: %v", err)
	}
	if po3.Status != core.POClosed || po3.ClosedAt == nil {
		t.Errorf("Status after full pickup = %s (closed_at %v), want closed", po3.Status, po3.ClosedAt)
	}
	onHand, err = ledger.SumDeltas(ctx, 3, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.Equal(decimal.NewFromInt(24)) {
		t.Errorf("On hand after full pickup = %s, want 24", onHand)
	}

	// A closed order takes no more stock.
	_, err = pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(1)},
	})
	if err == nil {
		t.Fatal("Expected pickup on a closed order to fail")
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodePreconditionFailed {
		t.Errorf("Expected ERR_PRECONDITION_FAILED, got %v", err)
	}

	// Stock is back above min, so the suggester goes quiet.
	bundles, err = pars.Suggestions(ctx, 1)
	if err != nil {
		t.Fatalf("Suggestions after pickup: %v", err)
	}
	if len(bundles) != 0 {
		t.Errorf("Bundles after restock = %+v, want none", bundles)
	}
}

func TestPurchasing_OverpickRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	pars, ledger := newParService(pool)
	ctx := context.Background()

	po, err := pars.CreatePO(ctx, 1, 1, 1, "weekly cider order", []core.POLineInput{
		{ItemID: 3, Qty: decimal.NewFromInt(5), UOM: core.ParUnit},
	})
	if err != nil {
		t.Fatalf("CreatePO: %v", err)
	}

	_, err = pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(6)},
	})
	if err == nil {
		t.Fatal("Expected overpick to be rejected")
	}

	// The refused pickup left nothing behind.
	onHand, err := ledger.SumDeltas(ctx, 3, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.IsZero() {
		t.Errorf("On hand after refused pickup = %s, want 0", onHand)
	}

	got, err := pars.GetPO(ctx, 1, po.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.POOpen || !got.Lines[0].PickedUpQty.IsZero() {
		t.Errorf("Order state after refused pickup = %+v, want untouched", got)
	}
}

func TestPurchasing_CancelStopsFuturePickups(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	pars, ledger := newParService(pool)
	ctx := context.Background()

	po, err := pars.CreatePO(ctx, 1, 1, 1, "", []core.POLineInput{
		{ItemID: 3, Qty: decimal.NewFromInt(12), UOM: core.ParUnit},
	})
	if err != nil {
		t.Fatalf("CreatePO: %v", err)
	}

	// Half arrives, then the vendor shorts the rest and the order is
	// cancelled. The received half stays on the books.
	if _, err := pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(6)},
	}); err != nil {
		t.Fatalf("Pickup: %v", err)
	}

	cancelled, err := pars.CancelPO(ctx, 1, po.ID)
	if err != nil {
		t.Fatalf("CancelPO: %v", err)
	}
	if cancelled.Status != core.POCancelled {
		t.Errorf("Status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling again is a no-op, not an error.
	if _, err := pars.CancelPO(ctx, 1, po.ID); err != nil {
		t.Errorf("Second cancel errored: %v", err)
	}

	if _, err := pars.RecordPickup(ctx, 1, po.ID, []core.PickupLine{
		{LineID: po.Lines[0].ID, Qty: decimal.NewFromInt(6)},
	}); err == nil {
		t.Fatal("Expected pickup on a cancelled order to fail")
	}

	onHand, err := ledger.SumDeltas(ctx, 3, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.Equal(decimal.NewFromInt(6)) {
		t.Errorf("On hand = %s, want the 6 already received", onHand)
	}
}

func i64p(v int64) *int64 { return &v }
