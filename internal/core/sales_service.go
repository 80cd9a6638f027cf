package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barstock/internal/metrics"
)

// SalesService ingests raw POS lines and tracks how far depletion has
// consumed them. Lines are stored verbatim; the five-part source key
// (source, source location, business date, receipt, line) makes every
// import replayable.
type SalesService interface {
	IngestLines(ctx context.Context, locationID int64, lines []SalesLine) (*IngestResult, error)
	PendingLines(ctx context.Context, locationID int64, source SourceSystem, limit int) ([]SalesLine, error)
	LinesInWindow(ctx context.Context, locationID int64, from, to time.Time) ([]SalesLine, error)
	VoidedLinesNeedingReversal(ctx context.Context, locationID int64, limit int) ([]SalesLine, error)
	GetLine(ctx context.Context, locationID, lineID int64) (*SalesLine, error)

	Watermark(ctx context.Context, locationID int64, source SourceSystem) (time.Time, error)
	AdvanceWatermark(ctx context.Context, locationID int64, source SourceSystem, to time.Time) error

	RecordUnmapped(ctx context.Context, locationID int64, source SourceSystem, posItemID, posItemName string, seenAt time.Time) error
	ListUnmapped(ctx context.Context, locationID int64) ([]UnmappedItem, error)
	ClearUnmapped(ctx context.Context, locationID int64, source SourceSystem, posItemID string) error
}

// IngestResult summarizes one import batch.
type IngestResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// UnmappedItem is a POS item the depletion engine could not resolve,
// with enough context for an operator to create the mapping.
type UnmappedItem struct {
	LocationID  int64        `json:"location_id"`
	Source      SourceSystem `json:"source_system"`
	POSItemID   string       `json:"pos_item_id"`
	POSItemName string       `json:"pos_item_name"`
	Occurrences int64        `json:"occurrences"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
}

type salesService struct {
	pool *pgxpool.Pool
}

func NewSalesService(pool *pgxpool.Pool) SalesService {
	return &salesService{pool: pool}
}

func validateLine(locationID int64, l *SalesLine) error {
	switch l.SourceSystem {
	case SourceToast, SourceSquare, SourceCSVImport:
	default:
		return ErrValidation("unknown sales source %q", l.SourceSystem)
	}
	if l.SourceLocationID == "" || l.ReceiptID == "" || l.LineID == "" {
		return ErrValidation("sales line requires source location, receipt, and line ids")
	}
	if l.BusinessDate.IsZero() || l.SoldAt.IsZero() {
		return ErrValidation("sales line requires business date and sold_at")
	}
	if l.POSItemID == "" {
		return ErrValidation("sales line requires a pos item id")
	}
	if !l.Quantity.IsPositive() {
		return ErrValidation("sales line quantity must be positive, got %s", l.Quantity)
	}
	if locationID > 0 && l.LocationID != 0 && l.LocationID != locationID {
		return ErrValidation("sales line addressed to location %d, not %d", l.LocationID, locationID)
	}
	return nil
}

// IngestLines upserts a batch. Re-sending a receipt only updates the
// mutable flags (void, refund); quantities and identity fields of an
// existing line never change from an import, so depletion already done
// stays truthful and voids are picked up by the reversal pass.
func (s *salesService) IngestLines(ctx context.Context, locationID int64, lines []SalesLine) (*IngestResult, error) {
	res := &IngestResult{}
	if len(lines) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range lines {
		l := &lines[i]
		l.LocationID = locationID
		if err := validateLine(locationID, l); err != nil {
			return nil, err
		}

		var inserted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO sales_lines
				(location_id, source_system, source_location_id, business_date, receipt_id, line_id,
				 pos_item_id, pos_item_name, quantity, unit_price, sold_at, is_voided, is_refunded,
				 size_modifier_id, raw, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (source_system, source_location_id, business_date, receipt_id, line_id)
			DO UPDATE SET is_voided = EXCLUDED.is_voided, is_refunded = EXCLUDED.is_refunded
			RETURNING id, (xmax = 0)
		`, l.LocationID, l.SourceSystem, l.SourceLocationID, l.BusinessDate, l.ReceiptID, l.LineID,
			l.POSItemID, l.POSItemName, l.Quantity, l.UnitPrice, l.SoldAt, l.IsVoided, l.IsRefunded,
			l.SizeModifierID, l.Raw).Scan(&l.ID, &inserted)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert sales line %s/%s: %w", l.ReceiptID, l.LineID, err)
		}
		if inserted {
			res.Inserted++
			metrics.SalesLinesIngested.WithLabelValues(string(l.SourceSystem)).Inc()
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}
	return res, nil
}

const salesLineColumns = `id, location_id, source_system, source_location_id, business_date,
	receipt_id, line_id, pos_item_id, pos_item_name, quantity, unit_price, sold_at,
	is_voided, is_refunded, size_modifier_id, raw, created_at`

func scanSalesLine(row pgx.Row) (*SalesLine, error) {
	var l SalesLine
	err := row.Scan(&l.ID, &l.LocationID, &l.SourceSystem, &l.SourceLocationID, &l.BusinessDate,
		&l.ReceiptID, &l.LineID, &l.POSItemID, &l.POSItemName, &l.Quantity, &l.UnitPrice, &l.SoldAt,
		&l.IsVoided, &l.IsRefunded, &l.SizeModifierID, &l.Raw, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *salesService) collectLines(ctx context.Context, sql string, args ...any) ([]SalesLine, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales lines: %w", err)
	}
	defer rows.Close()

	var lines []SalesLine
	for rows.Next() {
		l, err := scanSalesLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sales line: %w", err)
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

// PendingLines returns live lines past the source's watermark, oldest
// first, bounded so a giant backlog drains over several passes.
func (s *salesService) PendingLines(ctx context.Context, locationID int64, source SourceSystem, limit int) ([]SalesLine, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	wm, err := s.Watermark(ctx, locationID, source)
	if err != nil {
		return nil, err
	}
	return s.collectLines(ctx, `
		SELECT `+salesLineColumns+`
		FROM sales_lines
		WHERE location_id = $1 AND source_system = $2 AND sold_at > $3
		  AND NOT is_voided AND NOT is_refunded
		ORDER BY sold_at, id
		LIMIT $4
	`, locationID, source, wm, limit)
}

func (s *salesService) LinesInWindow(ctx context.Context, locationID int64, from, to time.Time) ([]SalesLine, error) {
	return s.collectLines(ctx, `
		SELECT `+salesLineColumns+`
		FROM sales_lines
		WHERE location_id = $1 AND sold_at >= $2 AND sold_at < $3
		ORDER BY sold_at, id
	`, locationID, from, to)
}

// VoidedLinesNeedingReversal finds lines that were depleted and later
// voided or refunded but have no compensating entry yet.
func (s *salesService) VoidedLinesNeedingReversal(ctx context.Context, locationID int64, limit int) ([]SalesLine, error) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	return s.collectLines(ctx, `
		SELECT `+salesLineColumns+`
		FROM sales_lines sl
		WHERE sl.location_id = $1 AND (sl.is_voided OR sl.is_refunded)
		  AND EXISTS (
		      SELECT 1 FROM consumption_events e
		      WHERE e.sales_line_id = sl.id AND e.quantity_delta < 0
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM consumption_events e
		      WHERE e.sales_line_id = sl.id AND e.quantity_delta > 0
		  )
		ORDER BY sl.sold_at, sl.id
		LIMIT $2
	`, locationID, limit)
}

func (s *salesService) GetLine(ctx context.Context, locationID, lineID int64) (*SalesLine, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+salesLineColumns+" FROM sales_lines WHERE id = $1 AND location_id = $2",
		lineID, locationID)
	l, err := scanSalesLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("sales line", lineID)
		}
		return nil, fmt.Errorf("failed to fetch sales line: %w", err)
	}
	return l, nil
}

// ── watermarks ────────────────────────────────────────────────────────────────

func (s *salesService) Watermark(ctx context.Context, locationID int64, source SourceSystem) (time.Time, error) {
	var wm time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT max_sold_at FROM ingest_watermarks
		WHERE location_id = $1 AND source_system = $2
	`, locationID, source).Scan(&wm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch watermark: %w", err)
	}
	return wm, nil
}

// AdvanceWatermark moves the high-water mark forward. It never moves
// backward, so overlapping depletion passes are harmless.
func (s *salesService) AdvanceWatermark(ctx context.Context, locationID int64, source SourceSystem, to time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_watermarks (location_id, source_system, max_sold_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (location_id, source_system)
		DO UPDATE SET max_sold_at = GREATEST(ingest_watermarks.max_sold_at, EXCLUDED.max_sold_at)
	`, locationID, source, to)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// ── unmapped items ────────────────────────────────────────────────────────────

func (s *salesService) RecordUnmapped(ctx context.Context, locationID int64, source SourceSystem, posItemID, posItemName string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unmapped_pos_items (location_id, source_system, pos_item_id, pos_item_name, occurrences, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (location_id, source_system, pos_item_id)
		DO UPDATE SET occurrences = unmapped_pos_items.occurrences + 1,
		              pos_item_name = EXCLUDED.pos_item_name,
		              last_seen = GREATEST(unmapped_pos_items.last_seen, EXCLUDED.last_seen)
	`, locationID, source, posItemID, posItemName, seenAt)
	if err != nil {
		return fmt.Errorf("failed to record unmapped item: %w", err)
	}
	metrics.UnmappedSalesLines.Inc()
	return nil
}

func (s *salesService) ListUnmapped(ctx context.Context, locationID int64) ([]UnmappedItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location_id, source_system, pos_item_id, pos_item_name, occurrences, first_seen, last_seen
		FROM unmapped_pos_items
		WHERE location_id = $1
		ORDER BY occurrences DESC, last_seen DESC
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmapped items: %w", err)
	}
	defer rows.Close()

	var items []UnmappedItem
	for rows.Next() {
		var u UnmappedItem
		if err := rows.Scan(&u.LocationID, &u.Source, &u.POSItemID, &u.POSItemName,
			&u.Occurrences, &u.FirstSeen, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan unmapped item: %w", err)
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// ClearUnmapped drops the counter once a mapping exists; the next
// depletion pass re-records it if the mapping still misses.
func (s *salesService) ClearUnmapped(ctx context.Context, locationID int64, source SourceSystem, posItemID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM unmapped_pos_items
		WHERE location_id = $1 AND source_system = $2 AND pos_item_id = $3
	`, locationID, source, posItemID)
	if err != nil {
		return fmt.Errorf("failed to clear unmapped item: %w", err)
	}
	return nil
}
