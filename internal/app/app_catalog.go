package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/auth"
	"barstock/internal/cache"
	"barstock/internal/core"
)

func (s *appService) CreateCategory(ctx context.Context, p *auth.UserPayload, req CategoryRequest) (*core.Category, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return nil, err
	}
	return s.catalog.CreateCategory(ctx, &core.Category{
		BusinessID:     p.BusinessID,
		Name:           req.Name,
		CountingMethod: req.CountingMethod,
		DefaultDensity: req.DefaultDensity,
	})
}

func (s *appService) ListCategories(ctx context.Context, p *auth.UserPayload) ([]core.Category, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.catalog.ListCategories(ctx, p.BusinessID)
}

func (s *appService) CreateVendor(ctx context.Context, p *auth.UserPayload, req VendorRequest) (*core.Vendor, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return nil, err
	}
	return s.catalog.CreateVendor(ctx, &core.Vendor{
		BusinessID:   p.BusinessID,
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		Phone:        req.Phone,
	})
}

func (s *appService) ListVendors(ctx context.Context, p *auth.UserPayload) ([]core.Vendor, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.catalog.ListVendors(ctx, p.BusinessID)
}

func itemFromRequest(req ItemRequest) *core.InventoryItem {
	return &core.InventoryItem{
		LocationID:      req.LocationID,
		Name:            req.Name,
		Barcode:         req.Barcode,
		CategoryID:      req.CategoryID,
		BaseUOM:         req.BaseUOM,
		ContainerSizeML: req.ContainerSizeML,
		PackSize:        req.PackSize,
		VendorID:        req.VendorID,
		ShowInGuide:     req.ShowInGuide,
	}
}

func (s *appService) CreateItem(ctx context.Context, p *auth.UserPayload, req ItemRequest) (*core.InventoryItem, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	item, err := s.catalog.CreateItem(ctx, itemFromRequest(req))
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.GuideKey(req.LocationID))
	s.recordAudit(ctx, p, "item.create", "item", item.ID, nil, item)
	return item, nil
}

func (s *appService) UpdateItem(ctx context.Context, p *auth.UserPayload, itemID int64, req ItemRequest) (*core.InventoryItem, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	before, err := s.catalog.GetItem(ctx, req.LocationID, itemID)
	if err != nil {
		return nil, err
	}
	item := itemFromRequest(req)
	item.ID = itemID
	after, err := s.catalog.UpdateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.GuideKey(req.LocationID))
	s.recordAudit(ctx, p, "item.update", "item", itemID, before, after)
	return after, nil
}

func (s *appService) GetItem(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.InventoryItem, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.catalog.GetItem(ctx, locationID, itemID)
}

func (s *appService) ListItems(ctx context.Context, p *auth.UserPayload, locationID int64, includeInactive bool) ([]core.InventoryItem, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.catalog.ListItems(ctx, locationID, includeInactive)
}

func (s *appService) ArchiveItem(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	if err := s.catalog.ArchiveItem(ctx, locationID, itemID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, cache.GuideKey(locationID))
	s.recordAudit(ctx, p, "item.archive", "item", itemID, nil, nil)
	return nil
}

func (s *appService) LookupBarcode(ctx context.Context, p *auth.UserPayload, locationID int64, barcode string) (*core.InventoryItem, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.catalog.LookupByBarcode(ctx, locationID, barcode)
}

func (s *appService) UpsertBottleTemplate(ctx context.Context, p *auth.UserPayload, locationID int64, req TemplateRequest) (*core.BottleTemplate, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	// The template must belong to an item at the authorized location.
	if _, err := s.catalog.GetItem(ctx, locationID, req.ItemID); err != nil {
		return nil, err
	}
	return s.catalog.UpsertBottleTemplate(ctx, &core.BottleTemplate{
		ItemID:          req.ItemID,
		ContainerSizeML: req.ContainerSizeML,
		EmptyWeightG:    req.EmptyWeightG,
		FullWeightG:     req.FullWeightG,
		Density:         req.Density,
	})
}

func (s *appService) GetBottleTemplate(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.BottleTemplate, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetItem(ctx, locationID, itemID); err != nil {
		return nil, err
	}
	return s.catalog.GetBottleTemplate(ctx, itemID)
}

func (s *appService) SetItemCost(ctx context.Context, p *auth.UserPayload, locationID, itemID int64, cost decimal.Decimal, currency string, effectiveFrom time.Time) (*core.PricePoint, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetItem(ctx, locationID, itemID); err != nil {
		return nil, err
	}
	pp, err := s.catalog.SetItemCost(ctx, itemID, cost, currency, effectiveFrom)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "item.set_cost", "item", itemID, nil, pp)
	return pp, nil
}

func (s *appService) PublicProductGuide(ctx context.Context, locationID int64) ([]core.GuideItem, error) {
	key := cache.GuideKey(locationID)
	var cached []core.GuideItem
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	items, err := s.catalog.GuideItems(ctx, locationID)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, items)
	return items, nil
}
