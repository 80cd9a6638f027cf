package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ConfidenceScore grades how much an expected on-hand figure can be
// trusted right now. Distinct from ConfidenceLevel, which grades a
// single ledger entry's provenance.
type ConfidenceScore string

const (
	ScoreHigh   ConfidenceScore = "high"
	ScoreMedium ConfidenceScore = "medium"
	ScoreLow    ConfidenceScore = "low"
)

// Freshness bounds for confidence scoring, in days since last count.
const (
	confHighCountDays       = 3
	confMediumCountDays     = 7
	confMediumReceivingDays = 14
)

// ExpectedSnapshot is the per-item read model the dashboard and the par
// engine consume: predicted stock plus how much to trust it.
type ExpectedSnapshot struct {
	ItemID         int64            `json:"item_id"`
	Name           string           `json:"name"`
	BaseUOM        UOM              `json:"base_uom"`
	Expected       decimal.Decimal  `json:"expected"`
	Confidence     ConfidenceScore  `json:"confidence"`
	LastCountTS    *time.Time       `json:"last_count_ts,omitempty"`
	AvgDailyUse    decimal.Decimal  `json:"avg_daily_use"`
	DaysToStockout *decimal.Decimal `json:"days_to_stockout,omitempty"` // nil means not depleting
}

// ExpectedService reconstructs predicted stock from the ledger. Because
// count adjustments fold measured truth back into the event stream, the
// whole reconstruction is one signed sum.
type ExpectedService interface {
	ExpectedAt(ctx context.Context, itemID int64, at time.Time) (decimal.Decimal, error)
	Snapshot(ctx context.Context, itemID int64, now time.Time) (*ExpectedSnapshot, error)
	SnapshotLocation(ctx context.Context, locationID int64, now time.Time) ([]ExpectedSnapshot, error)
	AvgDailyDepletion(ctx context.Context, itemID int64, now time.Time, windowDays int) (decimal.Decimal, error)
}

type expectedService struct {
	pool     *pgxpool.Pool
	ledger   *Ledger
	settings SettingsService
}

func NewExpectedService(pool *pgxpool.Pool, ledger *Ledger, settings SettingsService) ExpectedService {
	return &expectedService{pool: pool, ledger: ledger, settings: settings}
}

func (s *expectedService) ExpectedAt(ctx context.Context, itemID int64, at time.Time) (decimal.Decimal, error) {
	return s.ledger.SumDeltas(ctx, itemID, at)
}

// AvgDailyDepletion averages the item's negative deltas over the
// window, returned as a positive per-day rate in the base UOM.
func (s *expectedService) AvgDailyDepletion(ctx context.Context, itemID int64, now time.Time, windowDays int) (decimal.Decimal, error) {
	if windowDays <= 0 {
		windowDays = 14
	}
	since := now.AddDate(0, 0, -windowDays)
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_delta), 0)
		FROM consumption_events
		WHERE item_id = $1 AND quantity_delta < 0 AND event_ts > $2 AND event_ts <= $3
	`, itemID, since, now).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum depletion for item %d: %w", itemID, err)
	}
	return total.Neg().Div(decimal.NewFromInt(int64(windowDays))), nil
}

type snapshotRow struct {
	itemID          int64
	name            string
	baseUOM         UOM
	expected        decimal.Decimal
	lastCountTS     *time.Time
	lastDepletionTS *time.Time
	lastReceivingTS *time.Time
}

const snapshotQuery = `
	SELECT i.id, i.name, i.base_uom,
	       COALESCE(SUM(e.quantity_delta), 0) AS expected,
	       MAX(e.event_ts) FILTER (WHERE e.event_type = 'inventory_count_adjustment') AS last_count_ts,
	       MAX(e.event_ts) FILTER (WHERE e.event_type IN ('pos_sale', 'tap_flow')) AS last_depletion_ts,
	       MAX(e.event_ts) FILTER (WHERE e.event_type = 'receiving') AS last_receiving_ts
	FROM inventory_items i
	LEFT JOIN consumption_events e ON e.item_id = i.id AND e.event_ts <= $2`

func (s *expectedService) Snapshot(ctx context.Context, itemID int64, now time.Time) (*ExpectedSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		snapshotQuery+" WHERE i.id = $1 GROUP BY i.id, i.name, i.base_uom",
		itemID, now)
	var r snapshotRow
	err := row.Scan(&r.itemID, &r.name, &r.baseUOM, &r.expected,
		&r.lastCountTS, &r.lastDepletionTS, &r.lastReceivingTS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", itemID)
		}
		return nil, fmt.Errorf("failed to snapshot item %d: %w", itemID, err)
	}
	return s.finishSnapshot(ctx, &r, now)
}

func (s *expectedService) SnapshotLocation(ctx context.Context, locationID int64, now time.Time) ([]ExpectedSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		snapshotQuery+` WHERE i.location_id = $1 AND i.is_active = TRUE
		GROUP BY i.id, i.name, i.base_uom
		ORDER BY i.name`,
		locationID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot location %d: %w", locationID, err)
	}
	defer rows.Close()

	var raw []snapshotRow
	for rows.Next() {
		var r snapshotRow
		err := rows.Scan(&r.itemID, &r.name, &r.baseUOM, &r.expected,
			&r.lastCountTS, &r.lastDepletionTS, &r.lastReceivingTS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps := make([]ExpectedSnapshot, 0, len(raw))
	for i := range raw {
		snap, err := s.finishSnapshot(ctx, &raw[i], now)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func (s *expectedService) finishSnapshot(ctx context.Context, r *snapshotRow, now time.Time) (*ExpectedSnapshot, error) {
	var locationID int64
	err := s.pool.QueryRow(ctx, "SELECT location_id FROM inventory_items WHERE id = $1", r.itemID).Scan(&locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve item %d location: %w", r.itemID, err)
	}
	cfg, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	velocity, err := s.AvgDailyDepletion(ctx, r.itemID, now, cfg.VelocityWindowDays)
	if err != nil {
		return nil, err
	}

	snap := &ExpectedSnapshot{
		ItemID:      r.itemID,
		Name:        r.name,
		BaseUOM:     r.baseUOM,
		Expected:    r.expected,
		Confidence:  scoreConfidence(r, now),
		LastCountTS: r.lastCountTS,
		AvgDailyUse: velocity,
	}
	if velocity.IsPositive() && snap.Expected.IsPositive() {
		days := snap.Expected.Div(velocity).Round(1)
		snap.DaysToStockout = &days
	} else if !snap.Expected.IsPositive() {
		zero := decimal.Zero
		snap.DaysToStockout = &zero
	}
	return snap, nil
}

// scoreConfidence grades freshness: a recent count backed by live
// depletion data scores high, a count that has gone stale scores low,
// and a negative expectation is always low because the model has
// provably drifted from reality.
func scoreConfidence(r *snapshotRow, now time.Time) ConfidenceScore {
	if r.expected.IsNegative() {
		return ScoreLow
	}
	if r.lastCountTS == nil {
		return ScoreLow
	}
	age := now.Sub(*r.lastCountTS)

	depletionSinceCount := r.lastDepletionTS != nil && r.lastDepletionTS.After(*r.lastCountTS)
	if age <= confHighCountDays*24*time.Hour && depletionSinceCount {
		return ScoreHigh
	}
	if age <= confMediumCountDays*24*time.Hour {
		return ScoreMedium
	}
	receivingSinceCount := r.lastReceivingTS != nil && r.lastReceivingTS.After(*r.lastCountTS)
	if age <= confMediumReceivingDays*24*time.Hour && receivingSinceCount {
		return ScoreMedium
	}
	return ScoreLow
}
