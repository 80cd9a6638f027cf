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

// TapService manages tap lines, keg instances, and the assignment
// windows between them. Assignments are half-open intervals; at any
// instant a tap has at most one keg and a keg sits on at most one tap.
type TapService interface {
	CreateTapLine(ctx context.Context, t *TapLine) (*TapLine, error)
	ListTapLines(ctx context.Context, locationID int64) ([]TapLine, error)

	RegisterKeg(ctx context.Context, keg *KegInstance, recordReceiving bool, ledger *Ledger) (*KegInstance, error)
	ListKegs(ctx context.Context, locationID int64, statuses ...KegStatus) ([]KegInstance, error)
	MarkKegKicked(ctx context.Context, locationID, kegID int64, at time.Time) error

	AssignTap(ctx context.Context, locationID, tapID, kegID int64, at time.Time) (*TapAssignment, error)
	EndAssignment(ctx context.Context, locationID, tapID int64, at time.Time) error
	KegItemAt(ctx context.Context, tapID int64, at time.Time) (itemID, kegID int64, err error)
	KegLevels(ctx context.Context, locationID int64) ([]KegLevel, error)
}

// KegLevel is the live fill estimate for a tapped keg.
type KegLevel struct {
	KegID       int64           `json:"keg_id"`
	TapID       int64           `json:"tap_id"`
	TapName     string          `json:"tap_name"`
	ItemID      int64           `json:"item_id"`
	ItemName    string          `json:"item_name"`
	StartingML  decimal.Decimal `json:"starting_ml"`
	RemainingML decimal.Decimal `json:"remaining_ml"`
	FillPercent decimal.Decimal `json:"fill_percent"`
	TappedAt    time.Time       `json:"tapped_at"`
}

type tapService struct {
	pool *pgxpool.Pool
}

func NewTapService(pool *pgxpool.Pool) TapService {
	return &tapService{pool: pool}
}

func (s *tapService) CreateTapLine(ctx context.Context, t *TapLine) (*TapLine, error) {
	if t.Name == "" {
		return nil, ErrValidation("tap name is required")
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tap_lines (location_id, name, position)
		VALUES ($1, $2, $3)
		RETURNING id
	`, t.LocationID, t.Name, t.Position).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "tap %q already exists", t.Name)
		}
		return nil, fmt.Errorf("failed to insert tap line: %w", err)
	}
	return t, nil
}

func (s *tapService) ListTapLines(ctx context.Context, locationID int64) ([]TapLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, name, position
		FROM tap_lines WHERE location_id = $1 ORDER BY position, id
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tap lines: %w", err)
	}
	defer rows.Close()

	var taps []TapLine
	for rows.Next() {
		var t TapLine
		if err := rows.Scan(&t.ID, &t.LocationID, &t.Name, &t.Position); err != nil {
			return nil, fmt.Errorf("failed to scan tap line: %w", err)
		}
		taps = append(taps, t)
	}
	return taps, rows.Err()
}

// RegisterKeg creates a keg instance in status full and, when asked,
// books the matching receiving event so expected on-hand rises with the
// delivery.
func (s *tapService) RegisterKeg(ctx context.Context, keg *KegInstance, recordReceiving bool, ledger *Ledger) (*KegInstance, error) {
	if !keg.StartingVolumeML.IsPositive() {
		return nil, ErrValidation("keg starting volume must be positive")
	}
	if keg.ReceivedAt.IsZero() {
		keg.ReceivedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var itemLocation int64
	var baseUOM UOM
	err = tx.QueryRow(ctx, "SELECT location_id, base_uom FROM inventory_items WHERE id = $1", keg.ItemID).
		Scan(&itemLocation, &baseUOM)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", keg.ItemID)
		}
		return nil, fmt.Errorf("failed to resolve keg item: %w", err)
	}
	if itemLocation != keg.LocationID {
		return nil, ErrValidation("item %d does not belong to location %d", keg.ItemID, keg.LocationID)
	}
	if dim, ok := uomDimension(baseUOM); !ok || dim != dimVolume {
		return nil, ErrValidation("keg item %d must have a volumetric base uom, has %s", keg.ItemID, baseUOM)
	}

	keg.Status = KegFull
	err = tx.QueryRow(ctx, `
		INSERT INTO keg_instances (location_id, item_id, starting_volume_ml, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, keg.LocationID, keg.ItemID, keg.StartingVolumeML, keg.Status, keg.ReceivedAt).Scan(&keg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert keg: %w", err)
	}

	if recordReceiving {
		qty, err := Convert(keg.StartingVolumeML, UOMML, baseUOM, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to convert keg volume to %s: %w", baseUOM, err)
		}
		key := fmt.Sprintf("keg:%d:received", keg.ID)
		_, _, err = ledger.AppendTx(ctx, tx, &ConsumptionEvent{
			LocationID:    keg.LocationID,
			ItemID:        keg.ItemID,
			EventType:     EventReceiving,
			SourceSystem:  SourceManual,
			QuantityDelta: qty,
			UOM:           baseUOM,
			Confidence:    ConfidenceMeasured,
			EventTS:       keg.ReceivedAt,
			DedupeKey:     &key,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to book keg receiving: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit keg: %w", err)
	}
	return keg, nil
}

func (s *tapService) ListKegs(ctx context.Context, locationID int64, statuses ...KegStatus) ([]KegInstance, error) {
	sql := `SELECT id, location_id, item_id, starting_volume_ml, status, received_at
		FROM keg_instances WHERE location_id = $1`
	args := []any{locationID}
	if len(statuses) > 0 {
		args = append(args, statuses)
		sql += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	sql += " ORDER BY received_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kegs: %w", err)
	}
	defer rows.Close()

	var kegs []KegInstance
	for rows.Next() {
		var k KegInstance
		if err := rows.Scan(&k.ID, &k.LocationID, &k.ItemID, &k.StartingVolumeML, &k.Status, &k.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan keg: %w", err)
		}
		kegs = append(kegs, k)
	}
	return kegs, rows.Err()
}

// AssignTap puts a keg on a tap. Any keg already on that tap is
// displaced: its assignment closes at the same instant and it returns
// to status full.
func (s *tapService) AssignTap(ctx context.Context, locationID, tapID, kegID int64, at time.Time) (*TapAssignment, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var tapLocation int64
	err = tx.QueryRow(ctx, "SELECT location_id FROM tap_lines WHERE id = $1 FOR UPDATE", tapID).Scan(&tapLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("tap", tapID)
		}
		return nil, fmt.Errorf("failed to lock tap: %w", err)
	}
	if tapLocation != locationID {
		return nil, ErrNotFound("tap", tapID)
	}

	var kegStatus KegStatus
	var kegLocation int64
	err = tx.QueryRow(ctx, "SELECT status, location_id FROM keg_instances WHERE id = $1 FOR UPDATE", kegID).
		Scan(&kegStatus, &kegLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("keg", kegID)
		}
		return nil, fmt.Errorf("failed to lock keg: %w", err)
	}
	if kegLocation != locationID {
		return nil, ErrNotFound("keg", kegID)
	}
	switch kegStatus {
	case KegFull:
	case KegTapped:
		return nil, NewDomainError(CodeConflict, "keg %d is already on a tap", kegID)
	case KegKicked:
		return nil, NewDomainError(CodePreconditionFailed, "keg %d is kicked", kegID)
	}

	// Displace the current keg, if any. The open assignment must have
	// started before the new one or the windows would overlap.
	var openStarted time.Time
	var displacedKeg int64
	err = tx.QueryRow(ctx, `
		SELECT started_ts, keg_id FROM tap_assignments
		WHERE tap_id = $1 AND ended_ts IS NULL
		FOR UPDATE
	`, tapID).Scan(&openStarted, &displacedKeg)
	switch {
	case err == nil:
		if !openStarted.Before(at) {
			return nil, NewDomainError(CodeConflict,
				"tap %d already has an assignment starting at %s", tapID, openStarted.Format(time.RFC3339))
		}
		if _, err := tx.Exec(ctx,
			"UPDATE tap_assignments SET ended_ts = $1 WHERE tap_id = $2 AND ended_ts IS NULL", at, tapID); err != nil {
			return nil, fmt.Errorf("failed to close open assignment: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE keg_instances SET status = $1 WHERE id = $2 AND status = $3", KegFull, displacedKeg, KegTapped); err != nil {
			return nil, fmt.Errorf("failed to release displaced keg: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		// tap is free
	default:
		return nil, fmt.Errorf("failed to check open assignment: %w", err)
	}

	a := &TapAssignment{TapID: tapID, KegID: kegID, StartedTS: at}
	err = tx.QueryRow(ctx, `
		INSERT INTO tap_assignments (tap_id, keg_id, started_ts)
		VALUES ($1, $2, $3)
		RETURNING id
	`, tapID, kegID, at).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE keg_instances SET status = $1 WHERE id = $2", KegTapped, kegID); err != nil {
		return nil, fmt.Errorf("failed to mark keg tapped: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return a, nil
}

func (s *tapService) EndAssignment(ctx context.Context, locationID, tapID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var kegID int64
	var started time.Time
	err = tx.QueryRow(ctx, `
		SELECT a.keg_id, a.started_ts
		FROM tap_assignments a
		JOIN tap_lines t ON t.id = a.tap_id
		WHERE a.tap_id = $1 AND t.location_id = $2 AND a.ended_ts IS NULL
		FOR UPDATE OF a
	`, tapID, locationID).Scan(&kegID, &started)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NewDomainError(CodePreconditionFailed, "tap %d has no open assignment", tapID)
		}
		return fmt.Errorf("failed to lock assignment: %w", err)
	}
	if !started.Before(at) {
		return ErrValidation("assignment on tap %d started at %s, cannot end before that", tapID, started.Format(time.RFC3339))
	}

	if _, err := tx.Exec(ctx,
		"UPDATE tap_assignments SET ended_ts = $1 WHERE tap_id = $2 AND ended_ts IS NULL", at, tapID); err != nil {
		return fmt.Errorf("failed to end assignment: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE keg_instances SET status = $1 WHERE id = $2 AND status = $3", KegFull, kegID, KegTapped); err != nil {
		return fmt.Errorf("failed to release keg: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *tapService) MarkKegKicked(ctx context.Context, locationID, kegID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status KegStatus
	var kegLocation int64
	err = tx.QueryRow(ctx, "SELECT status, location_id FROM keg_instances WHERE id = $1 FOR UPDATE", kegID).
		Scan(&status, &kegLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound("keg", kegID)
		}
		return fmt.Errorf("failed to lock keg: %w", err)
	}
	if kegLocation != locationID {
		return ErrNotFound("keg", kegID)
	}
	if status == KegKicked {
		return nil // already kicked, nothing to do
	}

	if _, err := tx.Exec(ctx,
		"UPDATE tap_assignments SET ended_ts = $1 WHERE keg_id = $2 AND ended_ts IS NULL", at, kegID); err != nil {
		return fmt.Errorf("failed to close assignments: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE keg_instances SET status = $1 WHERE id = $2", KegKicked, kegID); err != nil {
		return fmt.Errorf("failed to mark keg kicked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// KegItemAt resolves which keg, and therefore which item, a tap was
// pouring at a given instant. Depletion uses the sale time here so a
// sale from last week lands on last week's keg.
func (s *tapService) KegItemAt(ctx context.Context, tapID int64, at time.Time) (int64, int64, error) {
	var itemID, kegID int64
	err := s.pool.QueryRow(ctx, `
		SELECT k.item_id, k.id
		FROM tap_assignments a
		JOIN keg_instances k ON k.id = a.keg_id
		WHERE a.tap_id = $1 AND a.started_ts <= $2 AND (a.ended_ts IS NULL OR a.ended_ts > $2)
		ORDER BY a.started_ts DESC
		LIMIT 1
	`, tapID, at).Scan(&itemID, &kegID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, NewDomainError(CodePreconditionFailed, "tap %d had no keg at %s", tapID, at.Format(time.RFC3339))
		}
		return 0, 0, fmt.Errorf("failed to resolve tap %d: %w", tapID, err)
	}
	return itemID, kegID, nil
}

// KegLevels estimates remaining volume for every tapped keg by netting
// the item's pour events since the keg went on. Only pour-shaped events
// count; a delivery of more kegs must not inflate the one on tap.
func (s *tapService) KegLevels(ctx context.Context, locationID int64) ([]KegLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT k.id, a.tap_id, t.name, k.item_id, i.name, i.base_uom, k.starting_volume_ml, a.started_ts,
		       COALESCE((
		           SELECT SUM(e.quantity_delta)
		           FROM consumption_events e
		           WHERE e.item_id = k.item_id
		             AND e.event_ts >= a.started_ts
		             AND e.event_type IN ('pos_sale', 'tap_flow', 'waste', 'manual_adjustment')
		       ), 0) AS poured
		FROM keg_instances k
		JOIN tap_assignments a ON a.keg_id = k.id AND a.ended_ts IS NULL
		JOIN tap_lines t ON t.id = a.tap_id
		JOIN inventory_items i ON i.id = k.item_id
		WHERE k.location_id = $1 AND k.status = $2
		ORDER BY t.position, t.id
	`, locationID, KegTapped)
	if err != nil {
		return nil, fmt.Errorf("failed to query keg levels: %w", err)
	}
	defer rows.Close()

	var levels []KegLevel
	for rows.Next() {
		var kl KegLevel
		var baseUOM UOM
		var poured decimal.Decimal
		if err := rows.Scan(&kl.KegID, &kl.TapID, &kl.TapName, &kl.ItemID, &kl.ItemName,
			&baseUOM, &kl.StartingML, &kl.TappedAt, &poured); err != nil {
			return nil, fmt.Errorf("failed to scan keg level: %w", err)
		}
		// pour events carry the item's base UOM; the keg gauge is in ml
		pouredML, err := Convert(poured, baseUOM, UOMML, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to convert keg %d pours to ml: %w", kl.KegID, err)
		}
		remaining := kl.StartingML.Add(pouredML) // poured is negative
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if remaining.GreaterThan(kl.StartingML) {
			remaining = kl.StartingML
		}
		kl.RemainingML = remaining
		kl.FillPercent = remaining.Mul(hundred).Div(kl.StartingML).Round(1)
		levels = append(levels, kl)
	}
	return levels, rows.Err()
}
