package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"barstock/internal/metrics"
)

// clockSkewAllowance is how far into the future an event_ts may sit
// before Append clamps it to the server clock.
const clockSkewAllowance = 5 * time.Minute

// allowedSources defines which source systems may emit each event type.
var allowedSources = map[EventType][]SourceSystem{
	EventPOSSale:         {SourceToast, SourceSquare, SourceCSVImport},
	EventTapFlow:         {SourceTapMeter},
	EventReceiving:       {SourceManual, SourceCSVImport},
	EventTransferIn:      {SourceManual},
	EventTransferOut:     {SourceManual},
	EventManualAdjust:    {SourceManual, SourceScale, SourceTapMeter},
	EventCountAdjustment: {SourceSessionClose},
	EventWaste:           {SourceManual},
}

type LedgerService interface {
	Append(ctx context.Context, ev *ConsumptionEvent) (*ConsumptionEvent, error)
	AppendTx(ctx context.Context, tx pgx.Tx, ev *ConsumptionEvent) (*ConsumptionEvent, error)
	Reverse(ctx context.Context, locationID, entryID int64, reason string) (*ConsumptionEvent, error)
	Query(ctx context.Context, filter LedgerFilter) ([]ConsumptionEvent, error)
	SumDeltas(ctx context.Context, itemID int64, upTo time.Time) (decimal.Decimal, error)
	SumDeltasTx(ctx context.Context, tx pgx.Tx, itemID int64, upTo time.Time) (decimal.Decimal, error)
	SumByItem(ctx context.Context, locationID int64, from, to time.Time, types ...EventType) (map[int64]decimal.Decimal, error)
}

// Ledger is the append-only store of consumption events. Rows are never
// updated or deleted; every correction is a new inverse row.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// normalize fills defaults and clamps a future event_ts to now.
func (ev *ConsumptionEvent) normalize(now time.Time) {
	if ev.EventTS.IsZero() || ev.EventTS.After(now.Add(clockSkewAllowance)) {
		ev.EventTS = now
	}
	ev.EventTS = ev.EventTS.UTC()
}

func (ev *ConsumptionEvent) validate() error {
	if ev.LocationID <= 0 {
		return ErrValidation("event requires a location")
	}
	if ev.ItemID <= 0 {
		return ErrValidation("event requires an item")
	}
	sources, ok := allowedSources[ev.EventType]
	if !ok {
		return ErrValidation("unknown event type %q", ev.EventType)
	}
	allowed := false
	for _, s := range sources {
		if s == ev.SourceSystem {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrValidation("source %q may not emit %s events", ev.SourceSystem, ev.EventType)
	}
	switch ev.Confidence {
	case ConfidenceMeasured, ConfidenceTheoretical, ConfidenceEstimated:
	default:
		return ErrValidation("unknown confidence %q", ev.Confidence)
	}
	if !ValidUOM(ev.UOM) {
		return ErrValidation("unknown uom %q", ev.UOM)
	}
	if ev.EventType == EventPOSSale && ev.SalesLineID == nil {
		return ErrValidation("pos_sale events must reference a sales line")
	}
	if ev.EventType == EventCountAdjustment && ev.SessionID == nil {
		return ErrValidation("inventory_count_adjustment events must reference a session")
	}
	if ev.VarianceReason != nil && !ValidVarianceReason(*ev.VarianceReason) {
		return ErrValidation("unknown variance reason %q", *ev.VarianceReason)
	}
	return nil
}

// Append writes one event in its own transaction. A duplicate dedupe
// key is not an error: the already-stored row comes back, with the
// boolean reporting whether this call inserted it.
func (l *Ledger) Append(ctx context.Context, ev *ConsumptionEvent) (*ConsumptionEvent, bool, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	out, inserted, err := l.AppendTx(ctx, tx, ev)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit event: %w", err)
	}
	return out, inserted, nil
}

// AppendTx writes one event inside the caller's transaction. Engines
// that emit several events atomically (session close, PO pickup)
// compose over this.
func (l *Ledger) AppendTx(ctx context.Context, tx pgx.Tx, ev *ConsumptionEvent) (*ConsumptionEvent, bool, error) {
	ev.normalize(time.Now())
	if err := ev.validate(); err != nil {
		return nil, false, err
	}

	// The event must land on an item at its own location, denominated
	// in that item's base UOM.
	var baseUOM UOM
	var itemLocation int64
	err := tx.QueryRow(ctx, "SELECT base_uom, location_id FROM inventory_items WHERE id = $1", ev.ItemID).Scan(&baseUOM, &itemLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound("item", ev.ItemID)
		}
		return nil, false, fmt.Errorf("failed to resolve item %d: %w", ev.ItemID, err)
	}
	if itemLocation != ev.LocationID {
		return nil, false, ErrValidation("item %d does not belong to location %d", ev.ItemID, ev.LocationID)
	}
	if ev.UOM != baseUOM {
		return nil, false, ErrValidation("event uom %s does not match item base uom %s", ev.UOM, baseUOM)
	}

	insert := func() pgx.Row {
		return tx.QueryRow(ctx, `
			INSERT INTO consumption_events
				(location_id, item_id, event_type, source_system, quantity_delta, uom, confidence,
				 event_ts, session_id, recipe_id, sales_line_id, dedupe_key, variance_reason, notes, created_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
			ON CONFLICT (dedupe_key) DO NOTHING
			RETURNING id, created_ts
		`, ev.LocationID, ev.ItemID, ev.EventType, ev.SourceSystem, ev.QuantityDelta, ev.UOM, ev.Confidence,
			ev.EventTS, ev.SessionID, ev.RecipeID, ev.SalesLineID, ev.DedupeKey, ev.VarianceReason, ev.Notes)
	}

	err = insert().Scan(&ev.ID, &ev.CreatedTS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && ev.DedupeKey != nil {
			// Duplicate append: hand back the row written first.
			stored, err := l.getByDedupeKey(ctx, tx, *ev.DedupeKey)
			if err != nil {
				return nil, false, err
			}
			return stored, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert consumption event: %w", err)
	}

	metrics.EventsAppended.WithLabelValues(string(ev.EventType)).Inc()
	return ev, true, nil
}

func (l *Ledger) getByDedupeKey(ctx context.Context, q pgxQuerier, key string) (*ConsumptionEvent, error) {
	row := q.QueryRow(ctx, `
		SELECT id, location_id, item_id, event_type, source_system, quantity_delta, uom, confidence,
		       event_ts, created_ts, session_id, recipe_id, sales_line_id, dedupe_key, variance_reason, notes
		FROM consumption_events WHERE dedupe_key = $1
	`, key)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load event for dedupe key %s: %w", key, err)
	}
	return ev, nil
}

// Reverse appends a manual adjustment that exactly cancels an earlier
// entry. Repeating the call is a no-op thanks to the reversal's own
// dedupe key.
func (l *Ledger) Reverse(ctx context.Context, locationID, entryID int64, reason string) (*ConsumptionEvent, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, location_id, item_id, event_type, source_system, quantity_delta, uom, confidence,
		       event_ts, created_ts, session_id, recipe_id, sales_line_id, dedupe_key, variance_reason, notes
		FROM consumption_events WHERE id = $1
	`, entryID)
	orig, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("ledger entry", entryID)
		}
		return nil, fmt.Errorf("failed to load entry %d: %w", entryID, err)
	}
	if orig.LocationID != locationID {
		return nil, ErrNotFound("ledger entry", entryID)
	}

	key := fmt.Sprintf("reverse:%d", entryID)
	notes := fmt.Sprintf("reversal of entry %d: %s", entryID, reason)
	inverse := &ConsumptionEvent{
		LocationID:    orig.LocationID,
		ItemID:        orig.ItemID,
		EventType:     EventManualAdjust,
		SourceSystem:  SourceManual,
		QuantityDelta: orig.QuantityDelta.Neg(),
		UOM:           orig.UOM,
		Confidence:    orig.Confidence,
		EventTS:       time.Now().UTC(),
		DedupeKey:     &key,
		Notes:         &notes,
	}

	out, _, err := l.AppendTx(ctx, tx, inverse)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}
	return out, nil
}

type LedgerFilter struct {
	LocationID int64
	ItemID     int64
	SessionID  int64
	From       *time.Time
	To         *time.Time
	EventTypes []EventType
	Limit      int
}

func (l *Ledger) Query(ctx context.Context, filter LedgerFilter) ([]ConsumptionEvent, error) {
	if filter.LocationID <= 0 {
		return nil, ErrValidation("ledger query requires a location")
	}

	sql := `
		SELECT id, location_id, item_id, event_type, source_system, quantity_delta, uom, confidence,
		       event_ts, created_ts, session_id, recipe_id, sales_line_id, dedupe_key, variance_reason, notes
		FROM consumption_events
		WHERE location_id = $1`
	args := []any{filter.LocationID}

	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		sql += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if filter.SessionID > 0 {
		args = append(args, filter.SessionID)
		sql += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		sql += fmt.Sprintf(" AND event_ts >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		sql += fmt.Sprintf(" AND event_ts < $%d", len(args))
	}
	if len(filter.EventTypes) > 0 {
		args = append(args, filter.EventTypes)
		sql += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	sql += " ORDER BY event_ts DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var events []ConsumptionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// SumDeltas returns the signed sum of every entry for an item with
// event_ts at or before upTo. Because count adjustments fold measured
// truth back into the ledger, this sum is the expected on-hand.
func (l *Ledger) SumDeltas(ctx context.Context, itemID int64, upTo time.Time) (decimal.Decimal, error) {
	return l.sumDeltas(ctx, l.pool, itemID, upTo)
}

func (l *Ledger) SumDeltasTx(ctx context.Context, tx pgx.Tx, itemID int64, upTo time.Time) (decimal.Decimal, error) {
	return l.sumDeltas(ctx, tx, itemID, upTo)
}

func (l *Ledger) sumDeltas(ctx context.Context, q pgxQuerier, itemID int64, upTo time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_delta), 0)
		FROM consumption_events
		WHERE item_id = $1 AND event_ts <= $2
	`, itemID, upTo).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum deltas for item %d: %w", itemID, err)
	}
	return sum, nil
}

// SumByItem groups signed deltas by item for a window, optionally
// restricted to certain event types.
func (l *Ledger) SumByItem(ctx context.Context, locationID int64, from, to time.Time, types ...EventType) (map[int64]decimal.Decimal, error) {
	sql := `
		SELECT item_id, COALESCE(SUM(quantity_delta), 0)
		FROM consumption_events
		WHERE location_id = $1 AND event_ts >= $2 AND event_ts < $3`
	args := []any{locationID, from, to}
	if len(types) > 0 {
		args = append(args, types)
		sql += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	sql += " GROUP BY item_id"

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum deltas by item: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var sum decimal.Decimal
		if err := rows.Scan(&itemID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan item sum: %w", err)
		}
		totals[itemID] = sum
	}
	return totals, rows.Err()
}

func scanEvent(row pgx.Row) (*ConsumptionEvent, error) {
	var ev ConsumptionEvent
	err := row.Scan(&ev.ID, &ev.LocationID, &ev.ItemID, &ev.EventType, &ev.SourceSystem,
		&ev.QuantityDelta, &ev.UOM, &ev.Confidence, &ev.EventTS, &ev.CreatedTS,
		&ev.SessionID, &ev.RecipeID, &ev.SalesLineID, &ev.DedupeKey, &ev.VarianceReason, &ev.Notes)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
