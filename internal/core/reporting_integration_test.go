package core_test

import (
	"context"
	"testing"
	"time"

	"barstock/internal/core"

	"github.com/shopspring/decimal"
)

// bookAt writes one manual ledger entry at an explicit timestamp so the
// reporting windows have something to slice.
func bookAt(t *testing.T, ledger *core.Ledger, itemID int64, typ core.EventType, qty string, ts time.Time, key string) {
	t.Helper()
	_, _, err := ledger.Append(context.Background(), &core.ConsumptionEvent{
		LocationID:    1,
		ItemID:        itemID,
		EventType:     typ,
		SourceSystem:  core.SourceManual,
		QuantityDelta: decimal.RequireFromString(qty),
		UOM:           core.UOMML,
		Confidence:    core.ConfidenceMeasured,
		EventTS:       ts,
		DedupeKey:     &key,
	})
	if err != nil {
		t.Fatalf("Failed to book %s of %s at %s: %v", typ, qty, ts, err)
	}
}

func TestReporting_UsagePricedAtHistoricalCost(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedger(pool)
	reports := core.NewReportingService(pool, core.NewSettingsService(pool))
	ctx := context.Background()

	// Postgres keeps microseconds; whole seconds keep the window edges exact.
	now := time.Now().UTC().Truncate(time.Second)

	// The vodka bottle cost 12.00 until a day ago, 15.00 since.
	_, err := pool.Exec(ctx, `
		INSERT INTO price_history (item_id, unit_cost, effective_from, effective_to)
		VALUES (1, 12.00, $1, $2), (1, 15.00, $2, NULL)
	`, now.Add(-72*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to seed price history: %v", err)
	}

	// One delivery, then a bottle wasted under the old price and half a
	// bottle under the new one.
	bookAt(t, ledger, 1, core.EventReceiving, "7500", now.Add(-60*time.Hour), "test:recv:1")
	bookAt(t, ledger, 1, core.EventWaste, "-750", now.Add(-36*time.Hour), "test:waste:old")
	bookAt(t, ledger, 1, core.EventWaste, "-375", now.Add(-time.Hour), "test:waste:new")

	report, err := reports.UsageSummary(ctx, 1, now.Add(-72*time.Hour), now)
	if err != nil {
		t.Fatalf("UsageSummary: %v", err)
	}
	if report.Currency != "USD" {
		t.Errorf("Currency = %s, want the location default USD", report.Currency)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("Rows = %+v, want exactly the one item with movement", report.Rows)
	}
	row := report.Rows[0]
	if row.ItemID != 1 || row.BaseUOM != core.UOMML {
		t.Errorf("Row identity = item %d in %s, want item 1 in ml", row.ItemID, row.BaseUOM)
	}
	if !row.Depleted.Equal(decimal.RequireFromString("1125")) {
		t.Errorf("Depleted = %s, want 1125", row.Depleted)
	}
	if !row.Received.Equal(decimal.RequireFromString("7500")) {
		t.Errorf("Received = %s, want 7500", row.Received)
	}
	if !row.NetChange.Equal(decimal.RequireFromString("6375")) {
		t.Errorf("NetChange = %s, want 6375", row.NetChange)
	}
	// 750 ml at 12.00/bottle plus 375 ml at 15.00/bottle, 750 ml bottles.
	if !row.DepletionCost.Equal(decimal.RequireFromString("19.5")) {
		t.Errorf("DepletionCost = %s, want 19.5", row.DepletionCost)
	}
	if !report.TotalCost.Equal(decimal.RequireFromString("19.5")) {
		t.Errorf("TotalCost = %s, want 19.5", report.TotalCost)
	}

	t.Run("window excludes from and includes to", func(t *testing.T) {
		oldWaste := now.Add(-36 * time.Hour)

		// Starting exactly at the old waste leaves only the new one.
		after, err := reports.UsageSummary(ctx, 1, oldWaste, now)
		if err != nil {
			t.Fatalf("UsageSummary: %v", err)
		}
		if len(after.Rows) != 1 || !after.Rows[0].Depleted.Equal(decimal.RequireFromString("375")) {
			t.Errorf("Depleted after exclusive from = %+v, want 375", after.Rows)
		}

		// Ending exactly at the old waste keeps it.
		upTo, err := reports.UsageSummary(ctx, 1, now.Add(-72*time.Hour), oldWaste)
		if err != nil {
			t.Fatalf("UsageSummary: %v", err)
		}
		if len(upTo.Rows) != 1 || !upTo.Rows[0].Depleted.Equal(decimal.RequireFromString("750")) {
			t.Errorf("Depleted up to inclusive to = %+v, want 750", upTo.Rows)
		}
	})

	t.Run("quiet window yields no rows", func(t *testing.T) {
		quiet, err := reports.UsageSummary(ctx, 1, now.Add(-200*time.Hour), now.Add(-100*time.Hour))
		if err != nil {
			t.Fatalf("UsageSummary: %v", err)
		}
		if len(quiet.Rows) != 0 || !quiet.TotalCost.IsZero() {
			t.Errorf("Quiet window report = %+v, want empty", quiet)
		}
	})

	t.Run("degenerate window refused", func(t *testing.T) {
		if _, err := reports.UsageSummary(ctx, 1, now, now); err == nil {
			t.Error("Expected a zero-length window to be refused")
		}
	})

	if err := reports.RefreshViews(ctx); err != nil {
		t.Fatalf("RefreshViews: %v", err)
	}
	var depleted decimal.Decimal
	err = pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(depleted), 0) FROM mv_item_daily_usage WHERE item_id = 1").Scan(&depleted)
	if err != nil {
		t.Fatalf("Failed to read refreshed view: %v", err)
	}
	if !depleted.Equal(decimal.RequireFromString("1125")) {
		t.Errorf("View depleted total = %s, want 1125", depleted)
	}
}

func TestReporting_VarianceHistoryAcrossSessions(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	sessions, ledger := newSessionService(pool)
	reports := core.NewReportingService(pool, core.NewSettingsService(pool))
	ctx := context.Background()

	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")

	// First count comes up two bottles short and is written off as comps.
	sess1, err := sessions.Open(ctx, 1, core.SessionWeekly, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := sessions.UpsertLine(ctx, 1, sess1.ID, countUnits(1, "8"), 1); err != nil {
		t.Fatalf("UpsertLine: %v", err)
	}
	if _, err := sessions.Close(ctx, 1, sess1.ID, core.CloseRequest{
		UserID:  1,
		Reasons: map[int64]core.VarianceReason{1: core.ReasonComp},
	}); err != nil {
		t.Fatalf("Close session 1: %v", err)
	}

	// The follow-up spot check matches the adjusted ledger exactly.
	sess2, err := sessions.Open(ctx, 1, core.SessionSpot, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := sessions.UpsertLine(ctx, 1, sess2.ID, countUnits(1, "8"), 1); err != nil {
		t.Fatalf("UpsertLine: %v", err)
	}
	if _, err := sessions.Close(ctx, 1, sess2.ID, core.CloseRequest{UserID: 1}); err != nil {
		t.Fatalf("Close session 2: %v", err)
	}

	history, err := reports.VarianceHistory(ctx, 1, 1, 10)
	if err != nil {
		t.Fatalf("VarianceHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History = %+v, want both closed sessions", history)
	}

	latest, first := history[0], history[1]
	if latest.SessionID != sess2.ID {
		t.Errorf("History order: newest session is %d, want %d", latest.SessionID, sess2.ID)
	}
	if !latest.VarianceBase.IsZero() || latest.Reason != nil {
		t.Errorf("Clean session outcome = %+v, want zero variance and no reason", latest)
	}
	if !first.CountedBase.Equal(decimal.RequireFromString("6000")) ||
		!first.ExpectedBase.Equal(decimal.RequireFromString("7500")) ||
		!first.VarianceBase.Equal(decimal.RequireFromString("-1500")) {
		t.Errorf("Short session outcome = %+v, want 6000 counted against 7500", first)
	}
	if !first.VariancePct.Equal(decimal.RequireFromString("-20")) {
		t.Errorf("VariancePct = %s, want -20", first.VariancePct)
	}
	if first.Reason == nil || *first.Reason != core.ReasonComp {
		t.Errorf("Reason = %v, want comp", first.Reason)
	}

	leaders, err := reports.TopVariance(ctx, 1, time.Now().UTC().Add(-24*time.Hour), 5)
	if err != nil {
		t.Fatalf("TopVariance: %v", err)
	}
	if len(leaders) != 1 {
		t.Fatalf("Leaders = %+v, want one item", leaders)
	}
	lead := leaders[0]
	if lead.ItemID != 1 || lead.Sessions != 2 {
		t.Errorf("Leader = item %d over %d sessions, want item 1 over 2", lead.ItemID, lead.Sessions)
	}
	// Mean of |-20| and |0|.
	if !lead.AvgVariancePct.Equal(decimal.RequireFromString("10")) {
		t.Errorf("AvgVariancePct = %s, want 10", lead.AvgVariancePct)
	}
	if !lead.TotalVariance.Equal(decimal.RequireFromString("-1500")) {
		t.Errorf("TotalVariance = %s, want -1500", lead.TotalVariance)
	}
}
