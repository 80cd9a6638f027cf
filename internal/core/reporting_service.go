package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// VarianceHistoryRow is one closed-session outcome for an item, newest
// first. VarianceBase keeps the ledger's sign convention: negative =
// less on the shelf than the ledger predicted.
type VarianceHistoryRow struct {
	SessionID    int64           `json:"session_id"`
	SessionType  SessionType     `json:"session_type"`
	EndedTS      time.Time       `json:"ended_ts"`
	CountedBase  decimal.Decimal `json:"counted_base"`
	ExpectedBase decimal.Decimal `json:"expected_base"`
	VarianceBase decimal.Decimal `json:"variance_base"`
	VariancePct  decimal.Decimal `json:"variance_pct"`
	Reason       *VarianceReason `json:"reason,omitempty"`
}

// UsageRow aggregates an item's ledger movement over a window.
// Depleted is expressed positive (total consumed), Received positive
// (total received), NetChange signed.
type UsageRow struct {
	ItemID        int64           `json:"item_id"`
	ItemName      string          `json:"item_name"`
	BaseUOM       UOM             `json:"base_uom"`
	Depleted      decimal.Decimal `json:"depleted"`
	Received      decimal.Decimal `json:"received"`
	Adjusted      decimal.Decimal `json:"adjusted"` // signed net of count adjustments
	NetChange     decimal.Decimal `json:"net_change"`
	DepletionCost decimal.Decimal `json:"depletion_cost"`
}

// UsageReport is the usage and cost-of-depletion report for a location
// over one window. DepletionCost prices every negative delta at the
// item's cost effective when the event happened, so a mid-window price
// change is reflected from that day forward.
type UsageReport struct {
	LocationID int64           `json:"location_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Currency   string          `json:"currency"`
	Rows       []UsageRow      `json:"rows"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// VarianceLeader is one entry in the worst-variance ranking.
type VarianceLeader struct {
	ItemID         int64           `json:"item_id"`
	ItemName       string          `json:"item_name"`
	Sessions       int             `json:"sessions"`
	AvgVariancePct decimal.Decimal `json:"avg_variance_pct"`
	TotalVariance  decimal.Decimal `json:"total_variance"` // base UOM, signed
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only reporting queries over sessions
// and the consumption ledger.
type ReportingService interface {
	// VarianceHistory returns the item's closed-session outcomes, newest
	// first, up to limit rows.
	VarianceHistory(ctx context.Context, locationID, itemID int64, limit int) ([]VarianceHistoryRow, error)

	// UsageSummary aggregates depletion, receiving and adjustments per
	// item over (from, to], priced at historical cost.
	UsageSummary(ctx context.Context, locationID int64, from, to time.Time) (*UsageReport, error)

	// TopVariance ranks items by mean absolute variance percentage over
	// sessions closed since the given time.
	TopVariance(ctx context.Context, locationID int64, since time.Time, limit int) ([]VarianceLeader, error)

	// RefreshViews refreshes the materialized daily-usage view that
	// backs dashboard sparklines.
	RefreshViews(ctx context.Context) error
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	pool     *pgxpool.Pool
	settings SettingsService
}

// NewReportingService constructs a ReportingService backed by the given pool.
func NewReportingService(pool *pgxpool.Pool, settings SettingsService) ReportingService {
	return &reportingService{pool: pool, settings: settings}
}

func (s *reportingService) VarianceHistory(ctx context.Context, locationID, itemID int64, limit int) ([]VarianceHistoryRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	// Sub-area lines are summed per session; the reason is per item so a
	// plain MAX collapses the duplicates.
	const q = `
		SELECT s.id, s.session_type, s.ended_ts,
		       SUM(sl.counted_base), MAX(sl.expected_base),
		       SUM(sl.counted_base) - MAX(sl.expected_base), MAX(sl.variance_pct),
		       MAX(vre.reason)
		FROM session_lines sl
		JOIN inventory_sessions s ON s.id = sl.session_id
		LEFT JOIN variance_reason_entries vre ON vre.session_id = s.id AND vre.item_id = sl.item_id
		WHERE s.location_id = $1 AND sl.item_id = $2 AND s.ended_ts IS NOT NULL
		GROUP BY s.id, s.session_type, s.ended_ts
		ORDER BY s.ended_ts DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, locationID, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query variance history: %w", err)
	}
	defer rows.Close()

	var history []VarianceHistoryRow
	for rows.Next() {
		var r VarianceHistoryRow
		if err := rows.Scan(&r.SessionID, &r.SessionType, &r.EndedTS,
			&r.CountedBase, &r.ExpectedBase, &r.VarianceBase, &r.VariancePct, &r.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan variance row: %w", err)
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

func (s *reportingService) UsageSummary(ctx context.Context, locationID int64, from, to time.Time) (*UsageReport, error) {
	if !to.After(from) {
		return nil, ErrValidation("usage window must end after it starts")
	}

	// The LATERAL join prices each event at the cost row in effect at
	// event_ts; events before any price row cost zero. unit_cost is per
	// order unit, so volume and mass items divide by container size.
	const q = `
		SELECT i.id, i.name, i.base_uom,
		       COALESCE(SUM(CASE WHEN e.quantity_delta < 0 THEN -e.quantity_delta ELSE 0 END), 0) AS depleted,
		       COALESCE(SUM(CASE WHEN e.event_type = 'receiving' THEN e.quantity_delta ELSE 0 END), 0) AS received,
		       COALESCE(SUM(CASE WHEN e.event_type = 'inventory_count_adjustment' THEN e.quantity_delta ELSE 0 END), 0) AS adjusted,
		       COALESCE(SUM(e.quantity_delta), 0) AS net_change,
		       COALESCE(SUM(CASE WHEN e.quantity_delta < 0 THEN
		           -e.quantity_delta * COALESCE(ph.unit_cost, 0) /
		           CASE WHEN i.base_uom <> 'unit' AND i.container_size_ml > 0 THEN i.container_size_ml ELSE 1 END
		       ELSE 0 END), 0) AS depletion_cost
		FROM inventory_items i
		LEFT JOIN consumption_events e
		       ON e.item_id = i.id AND e.event_ts > $2 AND e.event_ts <= $3
		LEFT JOIN LATERAL (
		    SELECT unit_cost FROM price_history
		    WHERE item_id = i.id AND effective_from <= e.event_ts
		      AND (effective_to IS NULL OR effective_to > e.event_ts)
		    ORDER BY effective_from DESC LIMIT 1
		) ph ON TRUE
		WHERE i.location_id = $1
		GROUP BY i.id, i.name, i.base_uom
		HAVING COUNT(e.id) > 0
		ORDER BY depletion_cost DESC, i.name`

	rows, err := s.pool.Query(ctx, q, locationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	cfg, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	report := &UsageReport{LocationID: locationID, From: from, To: to, Currency: cfg.Currency}
	for rows.Next() {
		var r UsageRow
		if err := rows.Scan(&r.ItemID, &r.ItemName, &r.BaseUOM,
			&r.Depleted, &r.Received, &r.Adjusted, &r.NetChange, &r.DepletionCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		report.Rows = append(report.Rows, r)
		report.TotalCost = report.TotalCost.Add(r.DepletionCost)
	}
	return report, rows.Err()
}

func (s *reportingService) TopVariance(ctx context.Context, locationID int64, since time.Time, limit int) ([]VarianceLeader, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	// Close writes the per-item outcome onto every sub-area line, so the
	// inner query collapses each (item, session) to one row before the
	// cross-session aggregate. Summing raw lines would count an item once
	// per sub-area it was counted in.
	const q = `
		SELECT d.item_id, i.name,
		       COUNT(*)::int,
		       AVG(ABS(d.variance_pct)),
		       SUM(d.variance_base)
		FROM (
		    SELECT sl.session_id, sl.item_id,
		           MAX(sl.variance_pct) AS variance_pct,
		           MAX(sl.variance_base) AS variance_base
		    FROM session_lines sl
		    JOIN inventory_sessions s ON s.id = sl.session_id
		    WHERE s.location_id = $1 AND s.ended_ts > $2 AND sl.variance_pct IS NOT NULL
		    GROUP BY sl.session_id, sl.item_id
		) d
		JOIN inventory_items i ON i.id = d.item_id
		GROUP BY d.item_id, i.name
		ORDER BY AVG(ABS(d.variance_pct)) DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, locationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query variance leaders: %w", err)
	}
	defer rows.Close()

	var leaders []VarianceLeader
	for rows.Next() {
		var l VarianceLeader
		if err := rows.Scan(&l.ItemID, &l.ItemName, &l.Sessions, &l.AvgVariancePct, &l.TotalVariance); err != nil {
			return nil, fmt.Errorf("failed to scan variance leader: %w", err)
		}
		leaders = append(leaders, l)
	}
	return leaders, rows.Err()
}

// ── RefreshViews ──────────────────────────────────────────────────────────────

// RefreshViews refreshes mv_item_daily_usage concurrently so readers are
// never blocked. Requires the view's unique index.
func (s *reportingService) RefreshViews(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		"REFRESH MATERIALIZED VIEW CONCURRENTLY mv_item_daily_usage",
	); err != nil {
		return fmt.Errorf("failed to refresh mv_item_daily_usage: %w", err)
	}
	return nil
}
