package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barstock/internal/metrics"
)

// trendEpsilon is the slope band, in variance percentage points per
// session, inside which a series counts as stable.
const trendEpsilon = 0.5

// analyzeSeries classifies one item's variance history. pcts are
// variance percentages ordered oldest to newest. An item is flagged
// when the series is long enough and the last `consecutive` sessions
// each show variance worse than -thresholdPct.
func analyzeSeries(pcts []decimal.Decimal, minSessions, consecutive int, thresholdPct decimal.Decimal) (bool, Trend) {
	if len(pcts) < minSessions {
		return false, TrendStable
	}

	flagged := len(pcts) >= consecutive
	limit := thresholdPct.Neg()
	for i := len(pcts) - consecutive; i < len(pcts); i++ {
		if i < 0 || !pcts[i].LessThan(limit) {
			flagged = false
			break
		}
	}

	return flagged, classifyTrend(pcts)
}

// classifyTrend fits a least-squares line through the series. Variance
// percentages rising toward zero mean shrinkage is shrinking, so a
// positive slope reads as improving.
func classifyTrend(pcts []decimal.Decimal) Trend {
	n := len(pcts)
	if n < 2 {
		return TrendStable
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range pcts {
		x := float64(i)
		y, _ := p.Float64()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return TrendStable
	}
	slope := (fn*sumXY - sumX*sumY) / denom

	switch {
	case slope > trendEpsilon:
		return TrendImproving
	case slope < -trendEpsilon:
		return TrendWorsening
	default:
		return TrendStable
	}
}

// PatternService is the nightly shrinkage detector. It rebuilds the
// per-location snapshot that dashboards and the alert engine read; it
// never writes ledger entries.
type PatternService interface {
	RunLocation(ctx context.Context, locationID int64) (int, error)
	RunAll(ctx context.Context) (int, error)
	Flags(ctx context.Context, locationID int64, flaggedOnly bool) ([]ShrinkageFlag, error)
}

type patternService struct {
	pool     *pgxpool.Pool
	settings SettingsService
	log      *zap.Logger
}

func NewPatternService(pool *pgxpool.Pool, settings SettingsService, log *zap.Logger) PatternService {
	return &patternService{pool: pool, settings: settings, log: log}
}

// RunLocation rebuilds the snapshot for one location and returns how
// many items came out flagged.
func (s *patternService) RunLocation(ctx context.Context, locationID int64) (int, error) {
	cfg, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -cfg.ShrinkageWindowDays)

	// One row per (item, closed session); variance_pct repeats across an
	// item's sub-area lines so MAX collapses them.
	rows, err := s.pool.Query(ctx, `
		SELECT sl.item_id, MAX(sl.variance_pct)
		FROM session_lines sl
		JOIN inventory_sessions s ON s.id = sl.session_id
		WHERE s.location_id = $1 AND s.ended_ts > $2 AND sl.variance_pct IS NOT NULL
		GROUP BY sl.item_id, s.id, s.ended_ts
		ORDER BY sl.item_id, s.ended_ts
	`, locationID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to query variance series: %w", err)
	}

	series := make(map[int64][]decimal.Decimal)
	var order []int64
	for rows.Next() {
		var itemID int64
		var pct decimal.Decimal
		if err := rows.Scan(&itemID, &pct); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan variance series: %w", err)
		}
		if _, seen := series[itemID]; !seen {
			order = append(order, itemID)
		}
		series[itemID] = append(series[itemID], pct)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Full rebuild: stale rows from items that dropped below the session
	// minimum must not linger.
	if _, err := tx.Exec(ctx, "DELETE FROM shrinkage_flags WHERE location_id = $1", locationID); err != nil {
		return 0, fmt.Errorf("failed to clear shrinkage snapshot: %w", err)
	}

	flaggedCount := 0
	for _, itemID := range order {
		pcts := series[itemID]
		if len(pcts) < cfg.ShrinkageMinSessions {
			continue
		}
		flagged, trend := analyzeSeries(pcts, cfg.ShrinkageMinSessions, cfg.ShrinkageConsecutive, cfg.Alerts.Shrinkage.Threshold)

		sum := decimal.Zero
		for _, p := range pcts {
			sum = sum.Add(p)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(pcts))))
		last := pcts[len(pcts)-1]

		_, err := tx.Exec(ctx, `
			INSERT INTO shrinkage_flags
				(location_id, item_id, flagged, trend, sessions_analyzed, avg_variance_pct, last_variance_pct, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, locationID, itemID, flagged, trend, len(pcts), avg, last, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert shrinkage flag for item %d: %w", itemID, err)
		}
		if flagged {
			flaggedCount++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit shrinkage snapshot: %w", err)
	}

	metrics.ShrinkageFlagged.WithLabelValues(fmt.Sprint(locationID)).Set(float64(flaggedCount))
	s.log.Info("shrinkage snapshot rebuilt",
		zap.Int64("location_id", locationID),
		zap.Int("items_analyzed", len(order)),
		zap.Int("flagged", flaggedCount))
	return flaggedCount, nil
}

// RunAll walks every location. Locations fail independently; the first
// error stops the walk so cron surfaces it.
func (s *patternService) RunAll(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM locations ORDER BY id")
	if err != nil {
		return 0, fmt.Errorf("failed to list locations: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan location id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	total := 0
	for _, id := range ids {
		n, err := s.RunLocation(ctx, id)
		if err != nil {
			return total, fmt.Errorf("location %d: %w", id, err)
		}
		total += n
	}
	return total, nil
}

func (s *patternService) Flags(ctx context.Context, locationID int64, flaggedOnly bool) ([]ShrinkageFlag, error) {
	query := `
		SELECT location_id, item_id, flagged, trend, sessions_analyzed,
		       avg_variance_pct, last_variance_pct, computed_at
		FROM shrinkage_flags WHERE location_id = $1`
	if flaggedOnly {
		query += " AND flagged = TRUE"
	}
	query += " ORDER BY last_variance_pct ASC"

	rows, err := s.pool.Query(ctx, query, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shrinkage flags: %w", err)
	}
	defer rows.Close()

	var flags []ShrinkageFlag
	for rows.Next() {
		var f ShrinkageFlag
		err := rows.Scan(&f.LocationID, &f.ItemID, &f.Flagged, &f.Trend,
			&f.SessionsAnalyzed, &f.AvgVariancePct, &f.LastVariancePct, &f.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shrinkage flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
