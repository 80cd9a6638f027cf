package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"barstock/internal/metrics"
)

// AlertRule identifies one alert predicate. Rules are evaluated per
// business on a cron pass; fired rules become notification rows for
// business admins.
type AlertRule string

const (
	AlertVarianceExceeded AlertRule = "variance_exceeded"
	AlertLowStock         AlertRule = "low_stock"
	AlertStaleCount       AlertRule = "stale_count"
	AlertKegNearEmpty     AlertRule = "keg_near_empty"
	AlertLoginFailures    AlertRule = "login_failures"
	AlertLargeAdjustment  AlertRule = "large_adjustment"
	AlertShrinkage        AlertRule = "shrinkage_pattern"
	AlertParReorder       AlertRule = "par_reorder"
)

// alertDedupeWindow suppresses refires of the same (rule, object) pair.
const alertDedupeWindow = 24 * time.Hour

// AlertService evaluates alert rules and writes notifications. It only
// writes rows; pushing them anywhere is the transport's problem.
type AlertService interface {
	EvaluateBusiness(ctx context.Context, businessID int64) (int, error)
	EvaluateAll(ctx context.Context) (int, error)
}

type alertService struct {
	pool          *pgxpool.Pool
	settings      SettingsService
	notifications NotificationService
	expected      ExpectedService
	taps          TapService
	par           ParService
	log           *zap.Logger
}

func NewAlertService(pool *pgxpool.Pool, settings SettingsService, notifications NotificationService,
	expected ExpectedService, taps TapService, par ParService, log *zap.Logger) AlertService {
	return &alertService{
		pool:          pool,
		settings:      settings,
		notifications: notifications,
		expected:      expected,
		taps:          taps,
		par:           par,
		log:           log,
	}
}

// EvaluateAll fans the evaluation out across businesses. One failing
// business cancels the rest; cron retries the whole pass.
func (s *alertService) EvaluateAll(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM businesses ORDER BY id")
	if err != nil {
		return 0, fmt.Errorf("failed to list businesses: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan business id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var fired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			n, err := s.EvaluateBusiness(gctx, id)
			if err != nil {
				return fmt.Errorf("business %d: %w", id, err)
			}
			fired.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(fired.Load()), err
	}
	return int(fired.Load()), nil
}

// EvaluateBusiness runs every rule for one business and returns how
// many alerts actually fired after dedupe.
func (s *alertService) EvaluateBusiness(ctx context.Context, businessID int64) (int, error) {
	locRows, err := s.pool.Query(ctx, "SELECT id, name FROM locations WHERE business_id = $1 ORDER BY id", businessID)
	if err != nil {
		return 0, fmt.Errorf("failed to list locations: %w", err)
	}
	type loc struct {
		id   int64
		name string
	}
	var locations []loc
	for locRows.Next() {
		var l loc
		if err := locRows.Scan(&l.id, &l.name); err != nil {
			locRows.Close()
			return 0, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, l)
	}
	locRows.Close()
	if err := locRows.Err(); err != nil {
		return 0, err
	}

	fired := 0
	for _, l := range locations {
		cfg, err := s.settings.ForLocation(ctx, l.id)
		if err != nil {
			return fired, err
		}

		checks := []func(context.Context, int64, int64, string, *Settings) (int, error){
			s.checkVariance,
			s.checkLowStockAndStale,
			s.checkKegs,
			s.checkLargeAdjustments,
			s.checkShrinkage,
			s.checkParReorder,
		}
		for _, check := range checks {
			n, err := check(ctx, businessID, l.id, l.name, cfg)
			if err != nil {
				return fired, err
			}
			fired += n
		}
	}

	n, err := s.checkLoginFailures(ctx, businessID)
	if err != nil {
		return fired, err
	}
	fired += n

	return fired, nil
}

// fire records one alert unless the same (rule, object) fired within
// the dedupe window. Dedupe state lives in a table so restarts and
// replicas share it.
func (s *alertService) fire(ctx context.Context, businessID int64, rule AlertRule, objectKey, title, body string) (bool, error) {
	var firedAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alert_dedupe (business_id, rule, object_key, fired_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (business_id, rule, object_key) DO UPDATE
		SET fired_at = NOW()
		WHERE alert_dedupe.fired_at < NOW() - $4::interval
		RETURNING fired_at
	`, businessID, rule, objectKey, alertDedupeWindow.String()).Scan(&firedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil // suppressed by dedupe
		}
		return false, fmt.Errorf("failed to record alert dedupe: %w", err)
	}

	if err := s.notifications.NotifyRole(ctx, businessID, RoleBusinessAdmin, title, body, nil); err != nil {
		return false, err
	}
	metrics.AlertsFired.WithLabelValues(string(rule)).Inc()
	s.log.Info("alert fired",
		zap.Int64("business_id", businessID),
		zap.String("rule", string(rule)),
		zap.String("object", objectKey))
	return true, nil
}

// checkVariance looks for sessions closed in the last pass window whose
// items crossed the variance threshold.
func (s *alertService) checkVariance(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.Variance.Enabled {
		return 0, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, COUNT(DISTINCT sl.item_id)
		FROM inventory_sessions s
		JOIN session_lines sl ON sl.session_id = s.id
		WHERE s.location_id = $1 AND s.ended_ts > NOW() - INTERVAL '24 hours'
		  AND sl.variance_pct IS NOT NULL AND ABS(sl.variance_pct) > $2
		GROUP BY s.id
	`, locationID, cfg.Alerts.Variance.Threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to query variance sessions: %w", err)
	}
	defer rows.Close()

	fired := 0
	for rows.Next() {
		var sessionID int64
		var items int
		if err := rows.Scan(&sessionID, &items); err != nil {
			return fired, fmt.Errorf("failed to scan variance session: %w", err)
		}
		ok, err := s.fire(ctx, businessID, AlertVarianceExceeded,
			fmt.Sprintf("session:%d", sessionID),
			fmt.Sprintf("High variance at %s", locationName),
			fmt.Sprintf("Session %d closed with %d items over the %s%% variance threshold.",
				sessionID, items, cfg.Alerts.Variance.Threshold))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, rows.Err()
}

// checkLowStockAndStale walks the location snapshot once for both the
// below-min rule and the stale-count rule.
func (s *alertService) checkLowStockAndStale(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.LowStock.Enabled && !cfg.Alerts.StaleCount.Enabled {
		return 0, nil
	}
	snaps, err := s.expected.SnapshotLocation(ctx, locationID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	mins := make(map[int64]ParLevel)
	pars, err := s.pool.Query(ctx,
		"SELECT item_id, min_level, par_uom FROM par_levels WHERE location_id = $1", locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to query par levels: %w", err)
	}
	for pars.Next() {
		var p ParLevel
		if err := pars.Scan(&p.ItemID, &p.MinLevel, &p.ParUOM); err != nil {
			pars.Close()
			return 0, fmt.Errorf("failed to scan par level: %w", err)
		}
		mins[p.ItemID] = p
	}
	pars.Close()
	if err := pars.Err(); err != nil {
		return 0, err
	}

	staleDays := cfg.Alerts.StaleCount.ThresholdInt()
	cutoff := staleCutoff(time.Now().UTC(), staleDays)
	fired := 0
	for _, snap := range snaps {
		if par, ok := mins[snap.ItemID]; ok && cfg.Alerts.LowStock.Enabled {
			// Min levels are in order units; scale to the base UOM before
			// comparing against the snapshot.
			u, err := s.orderUnitBaseFor(ctx, snap.ItemID)
			if err != nil {
				return fired, err
			}
			minBase := par.MinLevel.Mul(u)
			if !snap.Expected.GreaterThan(minBase) {
				ok, err := s.fire(ctx, businessID, AlertLowStock,
					fmt.Sprintf("item:%d", snap.ItemID),
					fmt.Sprintf("Low stock at %s", locationName),
					fmt.Sprintf("%s is at %s %s, at or below its minimum.",
						snap.Name, snap.Expected.Round(1), snap.BaseUOM))
				if err != nil {
					return fired, err
				}
				if ok {
					fired++
				}
			}
		}

		if cfg.Alerts.StaleCount.Enabled && (snap.LastCountTS == nil || snap.LastCountTS.Before(cutoff)) {
			ok, err := s.fire(ctx, businessID, AlertStaleCount,
				fmt.Sprintf("item:%d", snap.ItemID),
				fmt.Sprintf("Stale count at %s", locationName),
				fmt.Sprintf("%s has not been counted in over %d days.", snap.Name, staleDays))
			if err != nil {
				return fired, err
			}
			if ok {
				fired++
			}
		}
	}
	return fired, nil
}

func (s *alertService) orderUnitBaseFor(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var item InventoryItem
	err := s.pool.QueryRow(ctx,
		"SELECT id, base_uom, container_size_ml, pack_size FROM inventory_items WHERE id = $1",
		itemID).Scan(&item.ID, &item.BaseUOM, &item.ContainerSizeML, &item.PackSize)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve item %d: %w", itemID, err)
	}
	return orderUnitBase(&item), nil
}

func (s *alertService) checkKegs(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.KegNearEmpty.Enabled {
		return 0, nil
	}
	levels, err := s.taps.KegLevels(ctx, locationID)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, lvl := range levels {
		if lvl.FillPercent.GreaterThan(cfg.Alerts.KegNearEmpty.Threshold) {
			continue
		}
		ok, err := s.fire(ctx, businessID, AlertKegNearEmpty,
			fmt.Sprintf("keg:%d", lvl.KegID),
			fmt.Sprintf("Keg near empty at %s", locationName),
			fmt.Sprintf("Keg of %s on tap %s is down to %s%%.", lvl.ItemName, lvl.TapName, lvl.FillPercent.Round(1)))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (s *alertService) checkLargeAdjustments(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.LargeAdjustment.Enabled {
		return 0, nil
	}
	// An adjustment is large relative to what the ledger said was there
	// just before it landed.
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, i.name, e.quantity_delta, (
		    SELECT COALESCE(SUM(p.quantity_delta), 0)
		    FROM consumption_events p
		    WHERE p.item_id = e.item_id AND p.event_ts <= e.event_ts AND p.id <> e.id
		)
		FROM consumption_events e
		JOIN inventory_items i ON i.id = e.item_id
		WHERE e.location_id = $1 AND e.event_type = 'manual_adjustment'
		  AND e.created_ts > NOW() - INTERVAL '24 hours'
	`, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to query recent adjustments: %w", err)
	}
	defer rows.Close()

	fired := 0
	for rows.Next() {
		var entryID int64
		var itemName string
		var delta, before decimal.Decimal
		if err := rows.Scan(&entryID, &itemName, &delta, &before); err != nil {
			return fired, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		denom := before.Abs()
		if denom.LessThan(oneDecimal) {
			denom = oneDecimal
		}
		pct := delta.Abs().Div(denom).Mul(hundred)
		if !pct.GreaterThan(cfg.Alerts.LargeAdjustment.Threshold) {
			continue
		}
		ok, err := s.fire(ctx, businessID, AlertLargeAdjustment,
			fmt.Sprintf("entry:%d", entryID),
			fmt.Sprintf("Large manual adjustment at %s", locationName),
			fmt.Sprintf("%s was adjusted by %s, %s%% of prior stock.", itemName, delta, pct.Round(1)))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, rows.Err()
}

func (s *alertService) checkShrinkage(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.Shrinkage.Enabled {
		return 0, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT f.item_id, i.name, f.last_variance_pct
		FROM shrinkage_flags f
		JOIN inventory_items i ON i.id = f.item_id
		WHERE f.location_id = $1 AND f.flagged = TRUE
	`, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to query shrinkage flags: %w", err)
	}
	defer rows.Close()

	fired := 0
	for rows.Next() {
		var itemID int64
		var name string
		var lastPct decimal.Decimal
		if err := rows.Scan(&itemID, &name, &lastPct); err != nil {
			return fired, fmt.Errorf("failed to scan shrinkage flag: %w", err)
		}
		ok, err := s.fire(ctx, businessID, AlertShrinkage,
			fmt.Sprintf("item:%d", itemID),
			fmt.Sprintf("Shrinkage pattern at %s", locationName),
			fmt.Sprintf("%s shows repeated negative variance, most recently %s%%.", name, lastPct.Round(1)))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, rows.Err()
}

func (s *alertService) checkParReorder(ctx context.Context, businessID, locationID int64, locationName string, cfg *Settings) (int, error) {
	if !cfg.Alerts.ParReorder.Enabled {
		return 0, nil
	}
	bundles, err := s.par.Suggestions(ctx, locationID)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, b := range bundles {
		if b.VendorID == nil || len(b.Suggestions) == 0 {
			continue
		}
		ok, err := s.fire(ctx, businessID, AlertParReorder,
			fmt.Sprintf("vendor:%d:loc:%d", *b.VendorID, locationID),
			fmt.Sprintf("Reorder suggested at %s", locationName),
			fmt.Sprintf("%d items from %s are at or below their minimum levels.", len(b.Suggestions), b.VendorName))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (s *alertService) checkLoginFailures(ctx context.Context, businessID int64) (int, error) {
	// The window comes from business-level settings; location overrides
	// make no sense for a business-wide credential attack.
	cfg, err := s.settings.ForBusiness(ctx, businessID)
	if err != nil {
		return 0, err
	}
	if !cfg.Alerts.LoginFailures.Enabled {
		return 0, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT lf.email, COUNT(*)::int
		FROM login_failures lf
		JOIN users u ON lower(u.email) = lower(lf.email)
		WHERE u.business_id = $1 AND lf.attempted_at > NOW() - make_interval(mins => $2)
		GROUP BY lf.email
		HAVING COUNT(*) >= $3
	`, businessID, cfg.LoginFailureWindowMin, cfg.Alerts.LoginFailures.ThresholdInt())
	if err != nil {
		return 0, fmt.Errorf("failed to query login failures: %w", err)
	}
	defer rows.Close()

	fired := 0
	for rows.Next() {
		var email string
		var attempts int
		if err := rows.Scan(&email, &attempts); err != nil {
			return fired, fmt.Errorf("failed to scan login failures: %w", err)
		}
		ok, err := s.fire(ctx, businessID, AlertLoginFailures,
			fmt.Sprintf("email:%s", email),
			"Repeated login failures",
			fmt.Sprintf("%d failed login attempts for %s in the last %d minutes.",
				attempts, email, cfg.LoginFailureWindowMin))
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, rows.Err()
}
