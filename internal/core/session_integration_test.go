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

func newSessionService(pool *pgxpool.Pool) (core.SessionService, *core.Ledger) {
	ledger := core.NewLedger(pool)
	settings := core.NewSettingsService(pool)
	hub := core.NewSessionHub()
	notifications := core.NewNotificationService(pool)
	return core.NewSessionService(pool, ledger, settings, hub, notifications, zap.NewNop()), ledger
}

func countUnits(itemID int64, qty string) core.SessionLineInput {
	n := decimal.RequireFromString(qty)
	return core.SessionLineInput{ItemID: itemID, CountUnits: &n}
}

func TestSession_CleanCloseWritesNothing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	sessions, ledger := newSessionService(pool)
	ctx := context.Background()

	// Ten 750 ml bottles on the shelf, and the count agrees.
	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")

	sess, err := sessions.Open(ctx, 1, core.SessionWeekly, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Only one session may be open per location.
	if _, err := sessions.Open(ctx, 1, core.SessionSpot, 1); err == nil {
		t.Fatal("Expected second open to be refused")
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeConflict {
		t.Fatalf("Expected ERR_CONFLICT, got %v", err)
	}

	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, countUnits(1, "10"), 1); err != nil {
		t.Fatalf("UpsertLine: %v", err)
	}

	result, err := sessions.Close(ctx, 1, sess.ID, core.CloseRequest{UserID: 1})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.AdjustmentsWritten != 0 {
		t.Errorf("AdjustmentsWritten = %d, want 0 for a zero-variance close", result.AdjustmentsWritten)
	}
	if result.Session.IsOpen() {
		t.Error("Session still open after close")
	}
	if len(result.Lines) != 1 || result.Lines[0].VariancePct == nil || !result.Lines[0].VariancePct.IsZero() {
		t.Errorf("Line outcome = %+v, want zero variance", result.Lines)
	}

	// Closing again is refused, and the ledger holds no adjustment.
	if _, err := sessions.Close(ctx, 1, sess.ID, core.CloseRequest{UserID: 1}); err == nil {
		t.Fatal("Expected double close to fail")
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeSessionAlreadyClosed {
		t.Fatalf("Expected ERR_SESSION_ALREADY_CLOSED, got %v", err)
	}

	adj, err := ledger.Query(ctx, core.LedgerFilter{
		LocationID: 1,
		EventTypes: []core.EventType{core.EventCountAdjustment},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(adj) != 0 {
		t.Errorf("Found %d count adjustments after a clean close, want 0", len(adj))
	}

	// The sealed session refuses new counts.
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, countUnits(1, "9"), 1); err == nil {
		t.Error("Expected count against a closed session to fail")
	}
}

func TestSession_VarianceDemandsReasons(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	sessions, ledger := newSessionService(pool)
	ctx := context.Background()

	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")

	sess, err := sessions.Open(ctx, 1, core.SessionWeekly, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Counted 8 bottles against an expected 10: a -20% variance, past
	// the default 10% threshold.
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, countUnits(1, "8"), 1); err != nil {
		t.Fatalf("UpsertLine: %v", err)
	}

	_, err = sessions.Close(ctx, 1, sess.ID, core.CloseRequest{UserID: 1})
	if err == nil {
		t.Fatal("Expected close without reasons to be refused")
	}
	de, ok := core.AsDomainError(err)
	if !ok || de.Code != core.CodeVarianceReasonsRequired {
		t.Fatalf("Expected ERR_VARIANCE_REASONS_REQUIRED, got %v", err)
	}
	if de.Details["item_ids"] == nil {
		t.Error("Refusal should name the items missing a reason")
	}

	// The refusal rolled everything back: still open, nothing booked.
	got, err := sessions.Get(ctx, 1, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsOpen() {
		t.Fatal("Session was sealed by a refused close")
	}
	sum, err := ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(decimal.RequireFromString("7500")) {
		t.Fatalf("Ledger moved on a refused close: sum = %s", sum)
	}

	// With a reason attached the close lands and the adjustment folds
	// the measured truth back into the ledger.
	result, err := sessions.Close(ctx, 1, sess.ID, core.CloseRequest{
		UserID:  1,
		Reasons: map[int64]core.VarianceReason{1: core.ReasonComp},
	})
	if err != nil {
		t.Fatalf("Close with reasons: %v", err)
	}
	if result.AdjustmentsWritten != 1 {
		t.Errorf("AdjustmentsWritten = %d, want 1", result.AdjustmentsWritten)
	}

	sum, err = ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(decimal.RequireFromString("6000")) {
		t.Errorf("Expected on-hand after close = %s, want the counted 6000", sum)
	}

	adj, err := ledger.Query(ctx, core.LedgerFilter{
		LocationID: 1,
		SessionID:  sess.ID,
		EventTypes: []core.EventType{core.EventCountAdjustment},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(adj) != 1 {
		t.Fatalf("Expected 1 adjustment, got %d", len(adj))
	}
	if !adj[0].QuantityDelta.Equal(decimal.RequireFromString("-1500")) {
		t.Errorf("Adjustment delta = %s, want -1500", adj[0].QuantityDelta)
	}
	if adj[0].VarianceReason == nil || *adj[0].VarianceReason != core.ReasonComp {
		t.Errorf("Adjustment reason = %v, want comp", adj[0].VarianceReason)
	}
}

func TestSession_SubAreaCountsSumPerItem(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	sessions, ledger := newSessionService(pool)
	ctx := context.Background()

	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")

	sess, err := sessions.Open(ctx, 1, core.SessionWeekly, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Two people split the room: 4 bottles behind the bar, 6 in the
	// store room. Together they match the ledger exactly.
	front := countUnits(1, "4")
	front.SubArea = "front bar"
	back := countUnits(1, "6")
	back.SubArea = "store room"
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, front, 1); err != nil {
		t.Fatalf("UpsertLine front: %v", err)
	}
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, back, 1); err != nil {
		t.Fatalf("UpsertLine back: %v", err)
	}

	// Re-counting the same sub-area revises in place rather than adding.
	front.CountUnits = decPtrTest("4")
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, front, 1); err != nil {
		t.Fatalf("UpsertLine revise: %v", err)
	}

	result, err := sessions.Close(ctx, 1, sess.ID, core.CloseRequest{UserID: 1})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.AdjustmentsWritten != 0 {
		t.Errorf("AdjustmentsWritten = %d, want 0", result.AdjustmentsWritten)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(result.Lines))
	}
	for _, line := range result.Lines {
		if line.VarianceBase == nil || !line.VarianceBase.IsZero() {
			t.Errorf("Line %s variance = %v, want 0", line.SubArea, line.VarianceBase)
		}
	}
}

func decPtrTest(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSession_PercentCountConvertsThroughContainer(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	sessions, ledger := newSessionService(pool)
	ctx := context.Background()

	// One opened 750 ml bottle at 40% plus two sealed ones.
	receive(t, ledger, 1, core.UOMML, "1800", "test:recv:1")

	sess, err := sessions.Open(ctx, 1, core.SessionSpot, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sealed := countUnits(1, "2")
	sealed.SubArea = "shelf"
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, sealed, 1); err != nil {
		t.Fatalf("UpsertLine sealed: %v", err)
	}
	open := core.SessionLineInput{ItemID: 1, SubArea: "speed rail", PercentRemaining: decPtrTest("40")}
	if _, err := sessions.UpsertLine(ctx, 1, sess.ID, open, 1); err != nil {
		t.Fatalf("UpsertLine open bottle: %v", err)
	}

	result, err := sessions.Close(ctx, 1, sess.ID, core.CloseRequest{UserID: 1})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	// 2 x 750 + 0.4 x 750 = 1800 ml: spot on.
	if result.AdjustmentsWritten != 0 {
		t.Errorf("AdjustmentsWritten = %d, want 0", result.AdjustmentsWritten)
	}

	// A count form that doesn't fit the item is refused up front.
	sess2, err := sessions.Open(ctx, 1, core.SessionSpot, 1)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	bad := core.SessionLineInput{ItemID: 3, PercentRemaining: decPtrTest("50")}
	if _, err := sessions.UpsertLine(ctx, 1, sess2.ID, bad, 1); err != nil {
		t.Fatalf("UpsertLine: %v", err)
	}
	// Item 3 has no container size, so the close cannot convert 50%.
	if _, err := sessions.Close(ctx, 1, sess2.ID, core.CloseRequest{UserID: 1}); err == nil {
		t.Error("Expected close to refuse a percent count without a container size")
	}
}
