package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/auth"
	"barstock/internal/cache"
	"barstock/internal/core"
)

// ── ledger and expected on-hand ──

func (s *appService) LedgerEntries(ctx context.Context, p *auth.UserPayload, req LedgerQueryRequest) ([]core.ConsumptionEvent, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleStaff); err != nil {
		return nil, err
	}
	filter := core.LedgerFilter{
		LocationID: req.LocationID,
		From:       req.From,
		To:         req.To,
		Limit:      req.Limit,
	}
	if req.ItemID != nil {
		filter.ItemID = *req.ItemID
	}
	if req.EventType != nil {
		filter.EventTypes = []core.EventType{*req.EventType}
	}
	return s.ledger.Query(ctx, filter)
}

// itemBaseDelta converts a caller-supplied quantity into the item's base
// UOM, resolving density from the bottle template or category default
// the same way the depletion engine does.
func (s *appService) itemBaseDelta(ctx context.Context, locationID, itemID int64, qty decimal.Decimal, uom core.UOM) (*core.InventoryItem, decimal.Decimal, error) {
	item, err := s.catalog.GetItem(ctx, locationID, itemID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	var tmpl *core.BottleTemplate
	if t, err := s.catalog.GetBottleTemplate(ctx, itemID); err == nil {
		tmpl = t
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeNotFound {
		return nil, decimal.Zero, err
	}
	var cat *core.Category
	businessID, err := s.locationBusiness(ctx, locationID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if c, err := s.catalog.GetCategory(ctx, businessID, item.CategoryID); err == nil {
		cat = c
	} else if de, ok := core.AsDomainError(err); !ok || de.Code != core.CodeNotFound {
		return nil, decimal.Zero, err
	}
	base, err := core.ItemBaseQuantity(item, tmpl, cat, qty, uom)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return item, base, nil
}

func (s *appService) RecordAdjustment(ctx context.Context, p *auth.UserPayload, req AdjustmentRequest) (*core.ConsumptionEvent, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	if req.Delta.IsZero() {
		return nil, core.ErrValidation("adjustment delta cannot be zero")
	}

	item, delta, err := s.itemBaseDelta(ctx, req.LocationID, req.ItemID, req.Delta, req.UOM)
	if err != nil {
		return nil, err
	}
	ev := &core.ConsumptionEvent{
		LocationID:     req.LocationID,
		ItemID:         req.ItemID,
		EventType:      core.EventManualAdjust,
		SourceSystem:   core.SourceManual,
		QuantityDelta:  delta,
		UOM:            item.BaseUOM,
		Confidence:     core.ConfidenceMeasured,
		VarianceReason: req.Reason,
	}
	if req.Notes != "" {
		ev.Notes = &req.Notes
	}
	out, _, err := s.ledger.Append(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ExpectedKey(req.LocationID))
	s.recordAudit(ctx, p, "ledger.adjust", "consumption_event", out.ID, nil, out)
	return out, nil
}

func (s *appService) RecordReceiving(ctx context.Context, p *auth.UserPayload, req ReceivingRequest) (*core.ConsumptionEvent, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	if !req.Qty.IsPositive() {
		return nil, core.ErrValidation("receiving quantity must be positive")
	}

	item, qty, err := s.itemBaseDelta(ctx, req.LocationID, req.ItemID, req.Qty, req.UOM)
	if err != nil {
		return nil, err
	}
	ev := &core.ConsumptionEvent{
		LocationID:    req.LocationID,
		ItemID:        req.ItemID,
		EventType:     core.EventReceiving,
		SourceSystem:  core.SourceManual,
		QuantityDelta: qty,
		UOM:           item.BaseUOM,
		Confidence:    core.ConfidenceMeasured,
		DedupeKey:     req.DedupeKey,
	}
	if req.ReceivedAt != nil {
		ev.EventTS = *req.ReceivedAt
	}
	if req.Notes != "" {
		ev.Notes = &req.Notes
	}
	out, _, err := s.ledger.Append(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ExpectedKey(req.LocationID))
	s.recordAudit(ctx, p, "ledger.receive", "consumption_event", out.ID, nil, out)
	return out, nil
}

func (s *appService) ReverseEntry(ctx context.Context, p *auth.UserPayload, locationID, entryID int64, reason string) (*core.ConsumptionEvent, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	out, err := s.ledger.Reverse(ctx, locationID, entryID, reason)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ExpectedKey(locationID))
	s.recordAudit(ctx, p, "ledger.reverse", "consumption_event", entryID,
		nil, map[string]any{"reversal_id": out.ID, "reason": reason})
	return out, nil
}

func (s *appService) ExpectedOnHand(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.ExpectedSnapshot, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	key := cache.ExpectedKey(locationID)
	var snaps []core.ExpectedSnapshot
	if s.cache.GetJSON(ctx, key, &snaps) {
		return snaps, nil
	}
	snaps, err := s.expected.SnapshotLocation(ctx, locationID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, snaps)
	return snaps, nil
}

func (s *appService) ItemExpected(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.ExpectedSnapshot, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	// Resolving through the catalog pins the item to this location.
	if _, err := s.catalog.GetItem(ctx, locationID, itemID); err != nil {
		return nil, err
	}
	return s.expected.Snapshot(ctx, itemID, time.Now().UTC())
}

// ── counting sessions ──

func (s *appService) OpenSession(ctx context.Context, p *auth.UserPayload, locationID int64, sessionType core.SessionType) (*core.InventorySession, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Open(ctx, locationID, sessionType, p.UserID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "session.open", "session", sess.ID, nil, sess)
	return sess, nil
}

func (s *appService) GetSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64) (*SessionDetail, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, locationID, sessionID)
	if err != nil {
		return nil, err
	}
	lines, err := s.sessions.Lines(ctx, locationID, sessionID)
	if err != nil {
		return nil, err
	}
	parts, err := s.sessions.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		Session:      sess,
		Lines:        lines,
		Participants: parts,
		Watchers:     s.hub.Watchers(sessionID),
	}, nil
}

func (s *appService) ListSessions(ctx context.Context, p *auth.UserPayload, locationID int64, limit int) ([]core.InventorySession, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.sessions.List(ctx, locationID, limit)
}

func (s *appService) UpsertSessionLine(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, in core.SessionLineInput) (*core.SessionLine, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	line, err := s.sessions.UpsertLine(ctx, locationID, sessionID, in, p.UserID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(core.SessionEvent{
		SessionID: sessionID,
		Type:      "line_upserted",
		At:        time.Now().UTC(),
		Payload:   line,
	})
	return line, nil
}

func (s *appService) RemoveSessionLine(ctx context.Context, p *auth.UserPayload, locationID, sessionID, itemID int64, subArea string) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return err
	}
	if err := s.sessions.RemoveLine(ctx, locationID, sessionID, itemID, subArea); err != nil {
		return err
	}
	s.hub.Publish(core.SessionEvent{
		SessionID: sessionID,
		Type:      "line_removed",
		At:        time.Now().UTC(),
		Payload:   map[string]any{"item_id": itemID, "sub_area": subArea},
	})
	return nil
}

func (s *appService) JoinSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, subArea *string) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return err
	}
	if err := s.sessions.Join(ctx, locationID, sessionID, p.UserID, subArea); err != nil {
		return err
	}
	s.hub.Publish(core.SessionEvent{
		SessionID: sessionID,
		Type:      "participant_joined",
		At:        time.Now().UTC(),
		Payload:   map[string]any{"user_id": p.UserID, "sub_area": subArea},
	})
	return nil
}

func (s *appService) CloseSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, reasons map[int64]core.VarianceReason) (*core.CloseResult, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	res, err := s.sessions.Close(ctx, locationID, sessionID, core.CloseRequest{
		UserID:  p.UserID,
		Reasons: reasons,
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ExpectedKey(locationID))
	s.hub.Publish(core.SessionEvent{
		SessionID: sessionID,
		Type:      "session_closed",
		At:        time.Now().UTC(),
		Payload:   res,
	})
	s.recordAudit(ctx, p, "session.close", "session", sessionID, nil, res)
	return res, nil
}

func (s *appService) WatchSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64) (<-chan core.SessionEvent, func(), error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, nil, err
	}
	if _, err := s.sessions.Get(ctx, locationID, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(sessionID)
	return ch, cancel, nil
}
