package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"barstock/internal/cache"
	"barstock/internal/core"
)

// cronBatchLimit caps one depletion pass per (location, source).
const cronBatchLimit = 10000

// importLookback bounds the first fetch for a source that has never
// delivered a line.
const importLookback = 7 * 24 * time.Hour

// ingestSources are the systems whose sales lines arrive by push or
// file and deplete on the cron pass. Tap meters deplete synchronously
// and are not part of it.
var ingestSources = []core.SourceSystem{core.SourceToast, core.SourceSquare, core.SourceCSVImport}

// POSImporter pulls normalized sales lines from one POS system. The
// adapters themselves live outside this module; anything able to
// produce the sales-line contract can be registered at startup.
type POSImporter interface {
	Source() core.SourceSystem
	FetchSince(ctx context.Context, locationID int64, since time.Time) ([]core.SalesLine, error)
}

func (s *appService) allLocations(ctx context.Context) ([]core.Location, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, business_id, name, timezone, created_at FROM locations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var locs []core.Location
	for rows.Next() {
		var l core.Location
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.Name, &l.Timezone, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

func (s *appService) RunDepletion(ctx context.Context) (*CronRunResult, error) {
	locs, err := s.allLocations(ctx)
	if err != nil {
		return nil, err
	}

	out := &CronRunResult{Locations: len(locs)}
	for _, loc := range locs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		written := 0
		for _, source := range ingestSources {
			report, err := s.engine.RunPending(ctx, loc.ID, source, cronBatchLimit)
			if err != nil {
				out.Failures++
				s.log.Error("depletion pass failed",
					zap.Int64("location_id", loc.ID),
					zap.String("source", string(source)),
					zap.Error(err))
				continue
			}
			out.LinesSeen += report.LinesSeen
			out.EntriesWritten += report.EntriesWritten
			out.Unmapped += report.Unmapped
			out.Reversed += report.Reversed
			written += report.EntriesWritten + report.Reversed
		}
		if written > 0 {
			s.cache.Invalidate(ctx, cache.ExpectedKey(loc.ID))
		}
	}

	s.log.Info("depletion cron finished",
		zap.Int("locations", out.Locations),
		zap.Int("lines_seen", out.LinesSeen),
		zap.Int("entries_written", out.EntriesWritten),
		zap.Int("unmapped", out.Unmapped),
		zap.Int("reversed", out.Reversed),
		zap.Int("failures", out.Failures))
	return out, nil
}

func (s *appService) RunAlerts(ctx context.Context) (int, error) {
	return s.alerts.EvaluateAll(ctx)
}

func (s *appService) RunEndOfDay(ctx context.Context, now time.Time) (*EndOfDayResult, error) {
	// Age-based expiry is the backstop and runs everywhere on every
	// pass; it only touches sessions past their location's max age.
	expired, err := s.sessions.ExpireStale(ctx)
	if err != nil {
		return nil, err
	}
	out := &EndOfDayResult{SessionsExpired: expired}

	locs, err := s.allLocations(ctx)
	if err != nil {
		return out, err
	}
	for _, loc := range locs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		tz, err := time.LoadLocation(loc.Timezone)
		if err != nil {
			s.log.Warn("location has an unloadable timezone",
				zap.Int64("location_id", loc.ID), zap.String("timezone", loc.Timezone))
			continue
		}
		cfg, err := s.settings.ForLocation(ctx, loc.ID)
		if err != nil {
			return out, err
		}
		hour, _, err := cfg.ParseEndOfDay()
		if err != nil {
			s.log.Warn("location has an unparseable end_of_day_time",
				zap.Int64("location_id", loc.ID), zap.String("end_of_day_time", cfg.EndOfDayTime))
			continue
		}
		local := now.In(tz)
		if local.Hour() != hour {
			continue
		}
		out.LocationsMatched++

		closed, err := s.sessions.AutoCloseLocation(ctx, loc.ID)
		if err != nil {
			s.log.Error("end-of-day session close failed",
				zap.Int64("location_id", loc.ID), zap.Error(err))
			continue
		}
		out.SessionsExpired += closed

		// The business day that just ended is yesterday's local date;
		// the recon dedupe key makes reruns no-ops.
		day := local.AddDate(0, 0, -1)
		report, err := s.engine.ReconcileTapVsPOS(ctx, loc.ID, day)
		if err != nil {
			s.log.Error("end-of-day reconciliation failed",
				zap.Int64("location_id", loc.ID), zap.Error(err))
			continue
		}
		out.ReconEntries += report.EntriesWritten

		if closed > 0 || report.EntriesWritten > 0 {
			s.cache.Invalidate(ctx, cache.ExpectedKey(loc.ID))
		}
	}

	s.log.Info("end-of-day cron finished",
		zap.Int("locations_matched", out.LocationsMatched),
		zap.Int("sessions_expired", out.SessionsExpired),
		zap.Int("recon_entries", out.ReconEntries))
	return out, nil
}

func (s *appService) RunPatternScan(ctx context.Context) (int, error) {
	return s.pattern.RunAll(ctx)
}

func (s *appService) RefreshReportingViews(ctx context.Context) error {
	return s.reporting.RefreshViews(ctx)
}

// lastSoldAt finds where an importer should resume for one location.
func (s *appService) lastSoldAt(ctx context.Context, locationID int64, source core.SourceSystem) (time.Time, error) {
	var since time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sold_at), NOW() - $3::interval)
		FROM sales_lines
		WHERE location_id = $1 AND source_system = $2
	`, locationID, source, importLookback.String()).Scan(&since)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve import watermark: %w", err)
	}
	return since, nil
}

func (s *appService) RunImports(ctx context.Context) (*ImportRunResult, error) {
	out := &ImportRunResult{Importers: len(s.importers)}
	if len(s.importers) == 0 {
		return out, nil
	}
	locs, err := s.allLocations(ctx)
	if err != nil {
		return nil, err
	}
	out.Locations = len(locs)

	for _, loc := range locs {
		for _, imp := range s.importers {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			since, err := s.lastSoldAt(ctx, loc.ID, imp.Source())
			if err != nil {
				return out, err
			}
			lines, err := imp.FetchSince(ctx, loc.ID, since)
			if err != nil {
				out.Failures++
				s.log.Error("pos import fetch failed",
					zap.Int64("location_id", loc.ID),
					zap.String("source", string(imp.Source())),
					zap.Error(err))
				continue
			}
			if len(lines) == 0 {
				continue
			}
			res, err := s.sales.IngestLines(ctx, loc.ID, lines)
			if err != nil {
				out.Failures++
				s.log.Error("pos import ingest failed",
					zap.Int64("location_id", loc.ID),
					zap.String("source", string(imp.Source())),
					zap.Error(err))
				continue
			}
			out.Fetched += len(lines)
			out.Inserted += res.Inserted
			out.Duplicates += res.Skipped + res.Updated
		}
	}

	s.log.Info("pos import cron finished",
		zap.Int("importers", out.Importers),
		zap.Int("fetched", out.Fetched),
		zap.Int("inserted", out.Inserted),
		zap.Int("duplicates", out.Duplicates),
		zap.Int("failures", out.Failures))
	return out, nil
}
