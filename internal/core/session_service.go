package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barstock/internal/metrics"
)

// SessionService runs counting sessions from open through the gated
// close. Closing is the only path that turns counts into ledger truth.
type SessionService interface {
	Open(ctx context.Context, locationID int64, sessionType SessionType, userID int64) (*InventorySession, error)
	Get(ctx context.Context, locationID, sessionID int64) (*InventorySession, error)
	List(ctx context.Context, locationID int64, limit int) ([]InventorySession, error)
	Lines(ctx context.Context, locationID, sessionID int64) ([]SessionLine, error)
	UpsertLine(ctx context.Context, locationID, sessionID int64, in SessionLineInput, userID int64) (*SessionLine, error)
	RemoveLine(ctx context.Context, locationID, sessionID, itemID int64, subArea string) error
	Join(ctx context.Context, locationID, sessionID, userID int64, subArea *string) error
	Participants(ctx context.Context, sessionID int64) ([]SessionParticipant, error)
	Close(ctx context.Context, locationID, sessionID int64, req CloseRequest) (*CloseResult, error)
	ExpireStale(ctx context.Context) (int, error)
	AutoCloseLocation(ctx context.Context, locationID int64) (int, error)
}

// SessionLineInput carries one count. Exactly one of the three quantity
// forms must be set; which one makes sense depends on the item's
// counting method.
type SessionLineInput struct {
	ItemID           int64            `json:"item_id"`
	SubArea          string           `json:"sub_area"`
	CountUnits       *decimal.Decimal `json:"count_units,omitempty"`
	GrossWeightG     *decimal.Decimal `json:"gross_weight_g,omitempty"`
	PercentRemaining *decimal.Decimal `json:"percent_remaining,omitempty"`
	IsManual         bool             `json:"is_manual"`
	Notes            *string          `json:"notes,omitempty"`
}

type CloseRequest struct {
	UserID  int64                    `json:"user_id"`
	Reasons map[int64]VarianceReason `json:"reasons"` // keyed by item id
}

type CloseResult struct {
	Session            *InventorySession `json:"session"`
	Lines              []SessionLine     `json:"lines"`
	AdjustmentsWritten int               `json:"adjustments_written"`
}

type sessionService struct {
	pool          *pgxpool.Pool
	ledger        *Ledger
	settings      SettingsService
	hub           *SessionHub
	notifications NotificationService
	log           *zap.Logger
}

func NewSessionService(pool *pgxpool.Pool, ledger *Ledger, settings SettingsService,
	hub *SessionHub, notifications NotificationService, log *zap.Logger) SessionService {
	return &sessionService{
		pool:          pool,
		ledger:        ledger,
		settings:      settings,
		hub:           hub,
		notifications: notifications,
		log:           log,
	}
}

// Open starts a session. One open session per location: counts from two
// overlapping sessions would race each other's close baselines.
func (s *sessionService) Open(ctx context.Context, locationID int64, sessionType SessionType, userID int64) (*InventorySession, error) {
	switch sessionType {
	case SessionShift, SessionDaily, SessionWeekly, SessionMonthly, SessionSpot:
	default:
		return nil, ErrValidation("unknown session type %q", sessionType)
	}

	sess := &InventorySession{
		LocationID:  locationID,
		SessionType: sessionType,
		StartedTS:   time.Now().UTC(),
		CreatedBy:   &userID,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO inventory_sessions (location_id, session_type, started_ts, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, sess.LocationID, sess.SessionType, sess.StartedTS, sess.CreatedBy).Scan(&sess.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "location %d already has an open session", locationID)
		}
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s.hub.Publish(SessionEvent{SessionID: sess.ID, Type: "session_opened", At: sess.StartedTS, Payload: sess})
	return sess, nil
}

func scanSession(row pgx.Row) (*InventorySession, error) {
	var sess InventorySession
	err := row.Scan(&sess.ID, &sess.LocationID, &sess.SessionType, &sess.StartedTS,
		&sess.EndedTS, &sess.CreatedBy, &sess.ClosedBy)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

const sessionColumns = "id, location_id, session_type, started_ts, ended_ts, created_by, closed_by"

func (s *sessionService) Get(ctx context.Context, locationID, sessionID int64) (*InventorySession, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM inventory_sessions WHERE id = $1 AND location_id = $2",
		sessionID, locationID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("session", sessionID)
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return sess, nil
}

func (s *sessionService) List(ctx context.Context, locationID int64, limit int) ([]InventorySession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM inventory_sessions WHERE location_id = $1 ORDER BY started_ts DESC LIMIT $2",
		locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []InventorySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

const lineColumns = `id, session_id, item_id, sub_area, count_units, gross_weight_g, percent_remaining,
	counted_by, is_manual, notes, updated_at, counted_base, expected_base, variance_base, variance_pct`

func scanLine(row pgx.Row) (*SessionLine, error) {
	var l SessionLine
	err := row.Scan(&l.ID, &l.SessionID, &l.ItemID, &l.SubArea, &l.CountUnits, &l.GrossWeightG,
		&l.PercentRemaining, &l.CountedBy, &l.IsManual, &l.Notes, &l.UpdatedAt,
		&l.CountedBase, &l.ExpectedBase, &l.VarianceBase, &l.VariancePct)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *sessionService) Lines(ctx context.Context, locationID, sessionID int64) ([]SessionLine, error) {
	if _, err := s.Get(ctx, locationID, sessionID); err != nil {
		return nil, err
	}
	return s.loadLines(ctx, s.pool, sessionID)
}

func (s *sessionService) loadLines(ctx context.Context, q pgxQuerier, sessionID int64) ([]SessionLine, error) {
	rows, err := q.Query(ctx,
		"SELECT "+lineColumns+" FROM session_lines WHERE session_id = $1 ORDER BY item_id, sub_area",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session lines: %w", err)
	}
	defer rows.Close()

	var lines []SessionLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session line: %w", err)
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

func validateLineInput(in *SessionLineInput) error {
	if in.ItemID <= 0 {
		return ErrValidation("count requires an item")
	}
	forms := 0
	if in.CountUnits != nil {
		forms++
		if in.CountUnits.IsNegative() {
			return ErrValidation("count cannot be negative")
		}
	}
	if in.GrossWeightG != nil {
		forms++
		if in.GrossWeightG.IsNegative() {
			return ErrValidation("weight cannot be negative")
		}
	}
	if in.PercentRemaining != nil {
		forms++
		if in.PercentRemaining.IsNegative() || in.PercentRemaining.GreaterThan(hundred) {
			return ErrValidation("percent remaining must be within [0, 100]")
		}
	}
	if forms != 1 {
		return ErrValidation("exactly one of count_units, gross_weight_g, percent_remaining must be set")
	}
	return nil
}

// UpsertLine records or revises one count while the session is open.
// The same item can be counted in several sub-areas; each pair is its
// own line and they sum at close.
func (s *sessionService) UpsertLine(ctx context.Context, locationID, sessionID int64, in SessionLineInput, userID int64) (*SessionLine, error) {
	if err := validateLineInput(&in); err != nil {
		return nil, err
	}

	sess, err := s.Get(ctx, locationID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, NewDomainError(CodeSessionAlreadyClosed, "session %d is closed", sessionID)
	}

	var itemLocation int64
	err = s.pool.QueryRow(ctx, "SELECT location_id FROM inventory_items WHERE id = $1", in.ItemID).Scan(&itemLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", in.ItemID)
		}
		return nil, fmt.Errorf("failed to resolve item: %w", err)
	}
	if itemLocation != locationID {
		return nil, ErrValidation("item %d does not belong to location %d", in.ItemID, locationID)
	}

	line := &SessionLine{
		SessionID:        sessionID,
		ItemID:           in.ItemID,
		SubArea:          in.SubArea,
		CountUnits:       in.CountUnits,
		GrossWeightG:     in.GrossWeightG,
		PercentRemaining: in.PercentRemaining,
		CountedBy:        &userID,
		IsManual:         in.IsManual,
		Notes:            in.Notes,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO session_lines
			(session_id, item_id, sub_area, count_units, gross_weight_g, percent_remaining,
			 counted_by, is_manual, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (session_id, item_id, sub_area) DO UPDATE
		SET count_units = EXCLUDED.count_units,
		    gross_weight_g = EXCLUDED.gross_weight_g,
		    percent_remaining = EXCLUDED.percent_remaining,
		    counted_by = EXCLUDED.counted_by,
		    is_manual = EXCLUDED.is_manual,
		    notes = EXCLUDED.notes,
		    updated_at = NOW()
		RETURNING id, updated_at
	`, line.SessionID, line.ItemID, line.SubArea, line.CountUnits, line.GrossWeightG,
		line.PercentRemaining, line.CountedBy, line.IsManual, line.Notes).Scan(&line.ID, &line.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session line: %w", err)
	}

	if err := s.touchParticipant(ctx, sessionID, userID, nil); err != nil {
		return nil, err
	}

	s.hub.Publish(SessionEvent{SessionID: sessionID, Type: "line_upserted", At: line.UpdatedAt, Payload: line})
	return line, nil
}

func (s *sessionService) RemoveLine(ctx context.Context, locationID, sessionID, itemID int64, subArea string) error {
	sess, err := s.Get(ctx, locationID, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsOpen() {
		return NewDomainError(CodeSessionAlreadyClosed, "session %d is closed", sessionID)
	}

	tag, err := s.pool.Exec(ctx,
		"DELETE FROM session_lines WHERE session_id = $1 AND item_id = $2 AND sub_area = $3",
		sessionID, itemID, subArea)
	if err != nil {
		return fmt.Errorf("failed to remove session line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("session line for item", itemID)
	}

	s.hub.Publish(SessionEvent{SessionID: sessionID, Type: "line_removed", At: time.Now().UTC(),
		Payload: map[string]any{"item_id": itemID, "sub_area": subArea}})
	return nil
}

func (s *sessionService) touchParticipant(ctx context.Context, sessionID, userID int64, subArea *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_participants (session_id, user_id, sub_area, last_active_ts)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, user_id) DO UPDATE
		SET last_active_ts = NOW(),
		    sub_area = COALESCE(EXCLUDED.sub_area, session_participants.sub_area)
	`, sessionID, userID, subArea)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

func (s *sessionService) Join(ctx context.Context, locationID, sessionID, userID int64, subArea *string) error {
	sess, err := s.Get(ctx, locationID, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsOpen() {
		return NewDomainError(CodeSessionAlreadyClosed, "session %d is closed", sessionID)
	}
	if err := s.touchParticipant(ctx, sessionID, userID, subArea); err != nil {
		return err
	}
	s.hub.Publish(SessionEvent{SessionID: sessionID, Type: "participant_joined", At: time.Now().UTC(),
		Payload: map[string]any{"user_id": userID, "sub_area": subArea}})
	return nil
}

func (s *sessionService) Participants(ctx context.Context, sessionID int64) ([]SessionParticipant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, sub_area, last_active_ts
		FROM session_participants WHERE session_id = $1 ORDER BY last_active_ts DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var parts []SessionParticipant
	for rows.Next() {
		var p SessionParticipant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.SubArea, &p.LastActiveTS); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// Close runs the whole close in one transaction: lock the session,
// convert every count to the item's base UOM, compare against the
// ledger at the close instant, demand reasons for outliers, then write
// the count adjustments and seal the session. Any refusal rolls the
// whole thing back and the session stays open.
func (s *sessionService) Close(ctx context.Context, locationID, sessionID int64, req CloseRequest) (*CloseResult, error) {
	return s.close(ctx, locationID, sessionID, req, false)
}

func (s *sessionService) close(ctx context.Context, locationID, sessionID int64, req CloseRequest, expired bool) (*CloseResult, error) {
	for itemID, reason := range req.Reasons {
		if !ValidVarianceReason(reason) {
			return nil, ErrValidation("unknown variance reason %q for item %d", reason, itemID)
		}
	}

	cfg, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM inventory_sessions WHERE id = $1 AND location_id = $2 FOR UPDATE",
		sessionID, locationID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("session", sessionID)
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if !sess.IsOpen() {
		return nil, NewDomainError(CodeSessionAlreadyClosed, "session %d closed at %s", sessionID, sess.EndedTS.Format(time.RFC3339))
	}

	closeTS := time.Now().UTC()
	lines, err := s.loadLines(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	// Sub-area lines sum per item before comparing to the ledger.
	type itemTally struct {
		counted decimal.Decimal
	}
	tallies := make(map[int64]*itemTally)
	for i := range lines {
		line := &lines[i]
		counted, err := s.countedBaseTx(ctx, tx, locationID, line)
		if err != nil {
			return nil, err
		}
		line.CountedBase = &counted
		t, ok := tallies[line.ItemID]
		if !ok {
			t = &itemTally{counted: decimal.Zero}
			tallies[line.ItemID] = t
		}
		t.counted = t.counted.Add(counted)
	}

	type itemOutcome struct {
		expected decimal.Decimal
		variance decimal.Decimal
		pct      decimal.Decimal
	}
	outcomes := make(map[int64]itemOutcome, len(tallies))
	var missing []int64
	for itemID, t := range tallies {
		expected, err := s.ledger.SumDeltasTx(ctx, tx, itemID, closeTS)
		if err != nil {
			return nil, err
		}
		variance := t.counted.Sub(expected)
		denom := expected
		if denom.LessThan(oneDecimal) {
			denom = oneDecimal
		}
		pct := variance.Div(denom).Mul(hundred)
		outcomes[itemID] = itemOutcome{expected: expected, variance: variance, pct: pct}

		if pct.Abs().GreaterThan(cfg.Alerts.Variance.Threshold) {
			if _, ok := req.Reasons[itemID]; !ok {
				if expired {
					req.Reasons[itemID] = ReasonSessionExpired
				} else {
					missing = append(missing, itemID)
				}
			}
		}
	}
	if len(missing) > 0 {
		return nil, NewDomainError(CodeVarianceReasonsRequired,
			"%d items exceed the variance threshold and need a reason", len(missing)).
			WithDetail("item_ids", missing)
	}

	// Persist computed columns on every line.
	adjustments := 0
	for i := range lines {
		line := &lines[i]
		out := outcomes[line.ItemID]
		line.ExpectedBase = &out.expected
		line.VarianceBase = &out.variance
		line.VariancePct = &out.pct
		_, err := tx.Exec(ctx, `
			UPDATE session_lines
			SET counted_base = $1, expected_base = $2, variance_base = $3, variance_pct = $4
			WHERE id = $5
		`, line.CountedBase, line.ExpectedBase, line.VarianceBase, line.VariancePct, line.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to store line outcome: %w", err)
		}
	}

	for itemID, reason := range req.Reasons {
		if _, counted := tallies[itemID]; !counted {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO variance_reason_entries (session_id, item_id, reason)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id, item_id) DO UPDATE SET reason = EXCLUDED.reason
		`, sessionID, itemID, reason)
		if err != nil {
			return nil, fmt.Errorf("failed to store variance reason: %w", err)
		}
	}

	// One count adjustment per item with non-zero variance. The entry
	// IS the variance, so after close the ledger sum equals the count.
	for itemID, out := range outcomes {
		if out.variance.IsZero() {
			continue
		}
		var baseUOM UOM
		if err := tx.QueryRow(ctx, "SELECT base_uom FROM inventory_items WHERE id = $1", itemID).Scan(&baseUOM); err != nil {
			return nil, fmt.Errorf("failed to resolve item %d: %w", itemID, err)
		}
		key := fmt.Sprintf("session:%d:close:%d", sessionID, itemID)
		var reason *VarianceReason
		if r, ok := req.Reasons[itemID]; ok {
			reason = &r
		}
		_, _, err := s.ledger.AppendTx(ctx, tx, &ConsumptionEvent{
			LocationID:     locationID,
			ItemID:         itemID,
			EventType:      EventCountAdjustment,
			SourceSystem:   SourceSessionClose,
			QuantityDelta:  out.variance,
			UOM:            baseUOM,
			Confidence:     ConfidenceMeasured,
			EventTS:        closeTS,
			SessionID:      &sessionID,
			DedupeKey:      &key,
			VarianceReason: reason,
		})
		if err != nil {
			return nil, err
		}
		adjustments++
	}

	closedBy := req.UserID
	_, err = tx.Exec(ctx,
		"UPDATE inventory_sessions SET ended_ts = $1, closed_by = $2 WHERE id = $3",
		closeTS, closedBy, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to seal session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit close: %w", err)
	}

	sess.EndedTS = &closeTS
	sess.ClosedBy = &closedBy
	metrics.SessionsClosed.Inc()
	s.hub.Publish(SessionEvent{SessionID: sessionID, Type: "session_closed", At: closeTS,
		Payload: map[string]any{"adjustments": adjustments, "expired": expired}})
	s.log.Info("session closed",
		zap.Int64("session_id", sessionID),
		zap.Int64("location_id", locationID),
		zap.Int("items", len(tallies)),
		zap.Int("adjustments", adjustments),
		zap.Bool("expired", expired))

	return &CloseResult{Session: sess, Lines: lines, AdjustmentsWritten: adjustments}, nil
}

// countedBaseTx converts one line's raw count into the item's base UOM.
func (s *sessionService) countedBaseTx(ctx context.Context, tx pgx.Tx, locationID int64, line *SessionLine) (decimal.Decimal, error) {
	var item InventoryItem
	var cat Category
	err := tx.QueryRow(ctx, `
		SELECT i.id, i.base_uom, i.container_size_ml, c.counting_method, c.default_density
		FROM inventory_items i
		JOIN categories c ON c.id = i.category_id
		WHERE i.id = $1 AND i.location_id = $2
	`, line.ItemID, locationID).Scan(&item.ID, &item.BaseUOM, &item.ContainerSizeML,
		&cat.CountingMethod, &cat.DefaultDensity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound("item", line.ItemID)
		}
		return decimal.Zero, fmt.Errorf("failed to resolve item %d: %w", line.ItemID, err)
	}

	switch {
	case line.GrossWeightG != nil:
		var tmpl BottleTemplate
		err := tx.QueryRow(ctx, `
			SELECT id, item_id, container_size_ml, empty_weight_g, full_weight_g, density
			FROM bottle_templates WHERE item_id = $1
		`, line.ItemID).Scan(&tmpl.ID, &tmpl.ItemID, &tmpl.ContainerSizeML,
			&tmpl.EmptyWeightG, &tmpl.FullWeightG, &tmpl.Density)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return decimal.Zero, NewDomainError(CodePreconditionFailed,
					"item %d was weighed but has no bottle template", line.ItemID)
			}
			return decimal.Zero, fmt.Errorf("failed to fetch bottle template: %w", err)
		}
		ml, err := RemainingVolumeML(&tmpl, &cat, *line.GrossWeightG)
		if err != nil {
			return decimal.Zero, err
		}
		return ToBase(&item, ml, UOMML, resolveDensity(&tmpl, &cat))

	case line.PercentRemaining != nil:
		if item.ContainerSizeML == nil || !item.ContainerSizeML.IsPositive() {
			return decimal.Zero, NewDomainError(CodePreconditionFailed,
				"item %d needs a container size for percent counts", line.ItemID)
		}
		ml := item.ContainerSizeML.Mul(*line.PercentRemaining).Div(hundred)
		return ToBase(&item, ml, UOMML, resolveDensity(nil, &cat))

	case line.CountUnits != nil:
		if item.BaseUOM == UOMUnit {
			return *line.CountUnits, nil
		}
		return ToBase(&item, *line.CountUnits, UOMUnit, resolveDensity(nil, &cat))

	default:
		return decimal.Zero, ErrValidation("session line %d has no quantity", line.ID)
	}
}

// ExpireStale force-closes sessions that outlived their location's max
// age. Outliers get reason session_expired automatically and business
// admins are told their count decayed into an adjustment.
func (s *sessionService) ExpireStale(ctx context.Context) (int, error) {
	open, err := s.openSessions(ctx, 0)
	if err != nil {
		return 0, err
	}

	expired := 0
	now := time.Now().UTC()
	for _, o := range open {
		cfg, err := s.settings.ForLocation(ctx, o.locationID)
		if err != nil {
			return expired, err
		}
		if now.Sub(o.startedTS) < time.Duration(cfg.SessionMaxAgeHours)*time.Hour {
			continue
		}
		ok, err := s.autoClose(ctx, o,
			fmt.Sprintf("Session %d ran past %d hours and was closed automatically.", o.id, cfg.SessionMaxAgeHours))
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// AutoCloseLocation force-closes every open session at one location,
// regardless of age. The end-of-day cron calls this when the location's
// business day ends.
func (s *sessionService) AutoCloseLocation(ctx context.Context, locationID int64) (int, error) {
	open, err := s.openSessions(ctx, locationID)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, o := range open {
		ok, err := s.autoClose(ctx, o,
			fmt.Sprintf("Session %d was still open at end of day and was closed automatically.", o.id))
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

type openSession struct {
	id         int64
	locationID int64
	businessID int64
	createdBy  *int64
	startedTS  time.Time
}

// openSessions lists open sessions, optionally narrowed to one location.
func (s *sessionService) openSessions(ctx context.Context, locationID int64) ([]openSession, error) {
	sql := `
		SELECT s.id, s.location_id, l.business_id, s.created_by, s.started_ts
		FROM inventory_sessions s
		JOIN locations l ON l.id = s.location_id
		WHERE s.ended_ts IS NULL`
	var args []any
	if locationID > 0 {
		args = append(args, locationID)
		sql += " AND s.location_id = $1"
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}
	defer rows.Close()

	var open []openSession
	for rows.Next() {
		var o openSession
		if err := rows.Scan(&o.id, &o.locationID, &o.businessID, &o.createdBy, &o.startedTS); err != nil {
			return nil, fmt.Errorf("failed to scan open session: %w", err)
		}
		open = append(open, o)
	}
	return open, rows.Err()
}

// autoClose runs the expired-close path for one session and notifies
// business admins. A session something else closed between the scan and
// the lock is skipped, not an error.
func (s *sessionService) autoClose(ctx context.Context, o openSession, notice string) (bool, error) {
	closedBy := int64(0)
	if o.createdBy != nil {
		closedBy = *o.createdBy
	}
	_, err := s.close(ctx, o.locationID, o.id, CloseRequest{
		UserID:  closedBy,
		Reasons: map[int64]VarianceReason{},
	}, true)
	if err != nil {
		if de, ok := AsDomainError(err); ok && de.Code == CodeSessionAlreadyClosed {
			return false, nil
		}
		return false, err
	}

	if err := s.notifications.NotifyRole(ctx, o.businessID, RoleBusinessAdmin,
		"Counting session closed automatically", notice, nil); err != nil {
		s.log.Warn("failed to notify session auto-close", zap.Int64("session_id", o.id), zap.Error(err))
	}
	return true, nil
}
