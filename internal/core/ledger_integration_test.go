package core_test

import (
	"context"
	"os"
	"testing"
	"time"

	"barstock/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// setupTestDB connects to the dedicated test database, wipes it, and
// seeds one business with one location, a manager, and three items:
//   1  Well Vodka        ml base, 750 ml bottle
//   2  House Margarita Mix  ml base, 1000 ml bottle
//   3  Bottled Cider     unit base, pack of 6
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE
			consumption_events, variance_reason_entries, session_lines, session_participants,
			inventory_sessions, purchase_order_lines, purchase_orders, par_levels,
			sales_lines, unmapped_pos_items, ingest_watermarks, pos_item_mappings,
			pos_size_modifiers, recipe_ingredients, recipes, tap_assignments, keg_instances,
			tap_lines, price_history, bottle_templates, inventory_items, vendors, categories,
			shrinkage_flags, alert_dedupe, notifications, audit_log, login_failures,
			refresh_tokens, user_locations, users, location_settings, business_settings,
			locations, businesses
		RESTART IDENTITY CASCADE;

		INSERT INTO businesses (id, name) VALUES (1, 'Test Bar Group');
		INSERT INTO locations (id, business_id, name, timezone) VALUES (1, 1, 'Main Bar', 'UTC');
		INSERT INTO users (id, business_id, email, display_name, password_hash) VALUES
			(1, 1, 'manager@test.local', 'Test Manager', 'not-a-real-hash');
		INSERT INTO user_locations (user_id, location_id, role) VALUES (1, 1, 'manager');

		INSERT INTO categories (id, business_id, name, counting_method, default_density) VALUES
			(1, 1, 'Spirits', 'weight', 0.95),
			(2, 1, 'Packaged', 'unit', NULL);
		INSERT INTO vendors (id, business_id, name) VALUES (1, 1, 'Test Distributor');

		INSERT INTO inventory_items
			(id, location_id, name, category_id, base_uom, container_size_ml, pack_size, vendor_id) VALUES
			(1, 1, 'Well Vodka', 1, 'ml', 750, NULL, 1),
			(2, 1, 'House Margarita Mix', 1, 'ml', 1000, NULL, 1),
			(3, 1, 'Bottled Cider', 2, 'unit', NULL, 6, 1);

		-- bump sequences past the fixed ids so service-created rows don't collide
		SELECT setval('businesses_id_seq', 100);
		SELECT setval('locations_id_seq', 100);
		SELECT setval('users_id_seq', 100);
		SELECT setval('categories_id_seq', 100);
		SELECT setval('vendors_id_seq', 100);
		SELECT setval('inventory_items_id_seq', 100);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

// receive books a manual receiving entry so tests can set up stock.
func receive(t *testing.T, ledger *core.Ledger, itemID int64, uom core.UOM, qty string, key string) *core.ConsumptionEvent {
	t.Helper()
	ev, _, err := ledger.Append(context.Background(), &core.ConsumptionEvent{
		LocationID:    1,
		ItemID:        itemID,
		EventType:     core.EventReceiving,
		SourceSystem:  core.SourceManual,
		QuantityDelta: decimal.RequireFromString(qty),
		UOM:           uom,
		Confidence:    core.ConfidenceMeasured,
		EventTS:       time.Now().UTC().Add(-time.Hour),
		DedupeKey:     &key,
	})
	if err != nil {
		t.Fatalf("Failed to book receiving: %v", err)
	}
	return ev
}

func TestLedger_DedupeKeyIdempotency(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedger(pool)
	ctx := context.Background()

	first := receive(t, ledger, 1, core.UOMML, "7500", "test:recv:vodka")

	// Same key again, even with a different quantity: the stored row
	// comes back untouched and no second row exists.
	key := "test:recv:vodka"
	again, inserted, err := ledger.Append(ctx, &core.ConsumptionEvent{
		LocationID:    1,
		ItemID:        1,
		EventType:     core.EventReceiving,
		SourceSystem:  core.SourceManual,
		QuantityDelta: decimal.RequireFromString("9999"),
		UOM:           core.UOMML,
		Confidence:    core.ConfidenceMeasured,
		DedupeKey:     &key,
	})
	if err != nil {
		t.Fatalf("Duplicate append errored: %v", err)
	}
	if inserted {
		t.Error("Duplicate append reported a fresh insert")
	}
	if again.ID != first.ID {
		t.Errorf("Duplicate append returned id %d, want original %d", again.ID, first.ID)
	}
	if !again.QuantityDelta.Equal(decimal.RequireFromString("7500")) {
		t.Errorf("Duplicate append returned delta %s, want stored 7500", again.QuantityDelta)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM consumption_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 event row, found %d", count)
	}

	sum, err := ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("SumDeltas: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("7500")) {
		t.Errorf("SumDeltas = %s, want 7500", sum)
	}
}

func TestLedger_ReversalIsIdempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedger(pool)
	ctx := context.Background()

	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")
	waste, _, err := ledger.Append(ctx, &core.ConsumptionEvent{
		LocationID:    1,
		ItemID:        1,
		EventType:     core.EventWaste,
		SourceSystem:  core.SourceManual,
		QuantityDelta: decimal.RequireFromString("-500"),
		UOM:           core.UOMML,
		Confidence:    core.ConfidenceEstimated,
	})
	if err != nil {
		t.Fatalf("Failed to book waste: %v", err)
	}

	rev, err := ledger.Reverse(ctx, 1, waste.ID, "logged against the wrong bottle")
	if err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if !rev.QuantityDelta.Equal(decimal.RequireFromString("500")) {
		t.Errorf("Reversal delta = %s, want +500", rev.QuantityDelta)
	}

	// Reversing again must return the same compensating entry, not stack
	// a second one.
	rev2, err := ledger.Reverse(ctx, 1, waste.ID, "double click")
	if err != nil {
		t.Fatalf("Second reverse errored: %v", err)
	}
	if rev2.ID != rev.ID {
		t.Errorf("Second reverse created row %d, want original %d", rev2.ID, rev.ID)
	}

	sum, err := ledger.SumDeltas(ctx, 1, time.Now().UTC())
	if err != nil {
		t.Fatalf("SumDeltas: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("7500")) {
		t.Errorf("Sum after reversal = %s, want 7500", sum)
	}

	// An entry at another location must be invisible to this one.
	if _, err := ledger.Reverse(ctx, 99, waste.ID, "wrong tenant"); err == nil {
		t.Fatal("Expected cross-location reverse to fail")
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeNotFound {
		t.Errorf("Expected ERR_NOT_FOUND, got %v", err)
	}
}

func TestLedger_RejectsMismatchedEvents(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedger(pool)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   core.ConsumptionEvent
	}{
		{
			name: "uom differs from item base",
			ev: core.ConsumptionEvent{
				LocationID: 1, ItemID: 1,
				EventType: core.EventReceiving, SourceSystem: core.SourceManual,
				QuantityDelta: decimal.NewFromInt(10), UOM: core.UOMOunce,
				Confidence: core.ConfidenceMeasured,
			},
		},
		{
			name: "source not allowed for event type",
			ev: core.ConsumptionEvent{
				LocationID: 1, ItemID: 1,
				EventType: core.EventTapFlow, SourceSystem: core.SourceManual,
				QuantityDelta: decimal.NewFromInt(-10), UOM: core.UOMML,
				Confidence: core.ConfidenceMeasured,
			},
		},
		{
			name: "pos sale without a sales line",
			ev: core.ConsumptionEvent{
				LocationID: 1, ItemID: 1,
				EventType: core.EventPOSSale, SourceSystem: core.SourceToast,
				QuantityDelta: decimal.NewFromInt(-10), UOM: core.UOMML,
				Confidence: core.ConfidenceTheoretical,
			},
		},
		{
			name: "count adjustment without a session",
			ev: core.ConsumptionEvent{
				LocationID: 1, ItemID: 1,
				EventType: core.EventCountAdjustment, SourceSystem: core.SourceSessionClose,
				QuantityDelta: decimal.NewFromInt(-10), UOM: core.UOMML,
				Confidence: core.ConfidenceMeasured,
			},
		},
		{
			name: "item from another location",
			ev: core.ConsumptionEvent{
				LocationID: 2, ItemID: 1,
				EventType: core.EventReceiving, SourceSystem: core.SourceManual,
				QuantityDelta: decimal.NewFromInt(10), UOM: core.UOMML,
				Confidence: core.ConfidenceMeasured,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ledger.Append(ctx, &tt.ev); err == nil {
				t.Error("Expected append to be rejected")
			}
		})
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM consumption_events").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Rejected events still left %d rows", count)
	}
}

func TestLedger_ExpectedOnHandReconstruction(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewLedger(pool)
	settings := core.NewSettingsService(pool)
	expected := core.NewExpectedService(pool, ledger, settings)
	ctx := context.Background()

	receive(t, ledger, 1, core.UOMML, "7500", "test:recv:1")
	for _, ev := range []core.ConsumptionEvent{
		{
			LocationID: 1, ItemID: 1,
			EventType: core.EventWaste, SourceSystem: core.SourceManual,
			QuantityDelta: decimal.RequireFromString("-500"), UOM: core.UOMML,
			Confidence: core.ConfidenceEstimated,
		},
		{
			LocationID: 1, ItemID: 1,
			EventType: core.EventManualAdjust, SourceSystem: core.SourceManual,
			QuantityDelta: decimal.RequireFromString("-1000"), UOM: core.UOMML,
			Confidence: core.ConfidenceMeasured,
		},
	} {
		ev := ev
		if _, _, err := ledger.Append(ctx, &ev); err != nil {
			t.Fatalf("Append %s: %v", ev.EventType, err)
		}
	}

	now := time.Now().UTC()
	got, err := expected.ExpectedAt(ctx, 1, now)
	if err != nil {
		t.Fatalf("ExpectedAt: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("6000")) {
		t.Errorf("ExpectedAt = %s, want 6000", got)
	}

	// The same reconstruction, but asked as of before the adjustments.
	got, err = expected.ExpectedAt(ctx, 1, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ExpectedAt (past): %v", err)
	}
	if !got.Equal(decimal.RequireFromString("7500")) {
		t.Errorf("ExpectedAt before adjustments = %s, want 7500", got)
	}

	events, err := ledger.Query(ctx, core.LedgerFilter{
		LocationID: 1,
		ItemID:     1,
		EventTypes: []core.EventType{core.EventWaste},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 waste event, got %d", len(events))
	}
	if !events[0].QuantityDelta.Equal(decimal.RequireFromString("-500")) {
		t.Errorf("Waste delta = %s, want -500", events[0].QuantityDelta)
	}
}
