package app

import (
	"context"
	"time"

	"barstock/internal/auth"
	"barstock/internal/cache"
	"barstock/internal/core"
)

// ── par levels ──

func (s *appService) UpsertParLevel(ctx context.Context, p *auth.UserPayload, locationID int64, req ParLevelRequest) (*core.ParLevel, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	par := &core.ParLevel{
		LocationID:      locationID,
		ItemID:          req.ItemID,
		VendorID:        req.VendorID,
		ParLevel:        req.ParLevel,
		MinLevel:        req.MinLevel,
		ReorderQty:      req.ReorderQty,
		ParUOM:          req.ParUOM,
		LeadTimeDays:    req.LeadTimeDays,
		SafetyStockDays: req.SafetyStockDays,
	}
	out, err := s.par.UpsertParLevel(ctx, locationID, par)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "par.upsert", "par_level", out.ID, nil, out)
	return out, nil
}

func (s *appService) DeleteParLevel(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	if err := s.par.DeleteParLevel(ctx, locationID, itemID); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "par.delete", "par_level", itemID,
		map[string]any{"location_id": locationID, "item_id": itemID}, nil)
	return nil
}

func (s *appService) ListParLevels(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.ParLevel, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.par.ListParLevels(ctx, locationID)
}

func (s *appService) ParSuggestions(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.VendorBundle, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.par.Suggestions(ctx, locationID)
}

// ── purchase orders ──

func (s *appService) CreatePurchaseOrder(ctx context.Context, p *auth.UserPayload, req CreatePORequest) (*core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	po, err := s.par.CreatePO(ctx, req.LocationID, req.VendorID, p.UserID, req.Notes, req.Lines)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "po.create", "purchase_order", po.ID, nil, po)
	return po, nil
}

func (s *appService) CreatePOsFromSuggestions(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	pos, err := s.par.CreateFromSuggestions(ctx, locationID, p.UserID)
	if err != nil {
		return nil, err
	}
	for i := range pos {
		s.recordAudit(ctx, p, "po.create", "purchase_order", pos[i].ID, nil, &pos[i])
	}
	return pos, nil
}

func (s *appService) GetPurchaseOrder(ctx context.Context, p *auth.UserPayload, locationID, poID int64) (*core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.par.GetPO(ctx, locationID, poID)
}

func (s *appService) ListPurchaseOrders(ctx context.Context, p *auth.UserPayload, locationID int64, status core.POStatus) ([]core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.par.ListPOs(ctx, locationID, status)
}

func (s *appService) RecordPickup(ctx context.Context, p *auth.UserPayload, locationID, poID int64, picks []core.PickupLine) (*core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	before, err := s.par.GetPO(ctx, locationID, poID)
	if err != nil {
		return nil, err
	}
	po, err := s.par.RecordPickup(ctx, locationID, poID, picks)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ExpectedKey(locationID))
	s.recordAudit(ctx, p, "po.pickup", "purchase_order", poID, before, po)
	return po, nil
}

func (s *appService) CancelPurchaseOrder(ctx context.Context, p *auth.UserPayload, locationID, poID int64) (*core.PurchaseOrder, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	po, err := s.par.CancelPO(ctx, locationID, poID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "po.cancel", "purchase_order", poID, nil, po)
	return po, nil
}

// ── reports ──

func (s *appService) VarianceHistory(ctx context.Context, p *auth.UserPayload, locationID, itemID int64, limit int) ([]core.VarianceHistoryRow, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.reporting.VarianceHistory(ctx, locationID, itemID, limit)
}

func (s *appService) UsageSummary(ctx context.Context, p *auth.UserPayload, locationID int64, from, to time.Time) (*core.UsageReport, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.reporting.UsageSummary(ctx, locationID, from, to)
}

func (s *appService) TopVariance(ctx context.Context, p *auth.UserPayload, locationID int64, since time.Time, limit int) ([]core.VarianceLeader, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.reporting.TopVariance(ctx, locationID, since, limit)
}

func (s *appService) ShrinkageFlags(ctx context.Context, p *auth.UserPayload, locationID int64, flaggedOnly bool) ([]core.ShrinkageFlag, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.pattern.Flags(ctx, locationID, flaggedOnly)
}
