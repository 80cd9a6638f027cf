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

// CatalogService manages the slow-moving master data: categories,
// vendors, inventory items, bottle templates, and cost history. Items
// are archived rather than deleted so ledger history always resolves.
type CatalogService interface {
	CreateCategory(ctx context.Context, c *Category) (*Category, error)
	ListCategories(ctx context.Context, businessID int64) ([]Category, error)
	GetCategory(ctx context.Context, businessID, categoryID int64) (*Category, error)

	CreateVendor(ctx context.Context, v *Vendor) (*Vendor, error)
	ListVendors(ctx context.Context, businessID int64) ([]Vendor, error)

	CreateItem(ctx context.Context, item *InventoryItem) (*InventoryItem, error)
	UpdateItem(ctx context.Context, item *InventoryItem) (*InventoryItem, error)
	GetItem(ctx context.Context, locationID, itemID int64) (*InventoryItem, error)
	ListItems(ctx context.Context, locationID int64, includeInactive bool) ([]InventoryItem, error)
	ArchiveItem(ctx context.Context, locationID, itemID int64) error
	LookupByBarcode(ctx context.Context, locationID int64, barcode string) (*InventoryItem, error)

	UpsertBottleTemplate(ctx context.Context, t *BottleTemplate) (*BottleTemplate, error)
	GetBottleTemplate(ctx context.Context, itemID int64) (*BottleTemplate, error)

	SetItemCost(ctx context.Context, itemID int64, cost decimal.Decimal, currency string, effectiveFrom time.Time) (*PricePoint, error)
	CostAt(ctx context.Context, itemID int64, at time.Time) (*PricePoint, error)

	GuideItems(ctx context.Context, locationID int64) ([]GuideItem, error)
}

// GuideItem is the public, price-free projection of an item for the
// location's product guide.
type GuideItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

// ── categories and vendors ────────────────────────────────────────────────────

func (s *catalogService) CreateCategory(ctx context.Context, c *Category) (*Category, error) {
	if c.Name == "" {
		return nil, ErrValidation("category name is required")
	}
	switch c.CountingMethod {
	case MethodWeighable, MethodUnitCount, MethodKeg:
	default:
		return nil, ErrValidation("unknown counting method %q", c.CountingMethod)
	}
	if c.DefaultDensity != nil && !c.DefaultDensity.IsPositive() {
		return nil, ErrValidation("default density must be positive")
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO categories (business_id, name, counting_method, default_density)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.BusinessID, c.Name, c.CountingMethod, c.DefaultDensity).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "category %q already exists", c.Name)
		}
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}
	return c, nil
}

func (s *catalogService) ListCategories(ctx context.Context, businessID int64) ([]Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, name, counting_method, default_density
		FROM categories
		WHERE business_id = $1
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &c.CountingMethod, &c.DefaultDensity); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *catalogService) GetCategory(ctx context.Context, businessID, categoryID int64) (*Category, error) {
	var c Category
	err := s.pool.QueryRow(ctx, `
		SELECT id, business_id, name, counting_method, default_density
		FROM categories
		WHERE id = $1 AND business_id = $2
	`, categoryID, businessID).Scan(&c.ID, &c.BusinessID, &c.Name, &c.CountingMethod, &c.DefaultDensity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("category", categoryID)
		}
		return nil, fmt.Errorf("failed to fetch category: %w", err)
	}
	return &c, nil
}

func (s *catalogService) CreateVendor(ctx context.Context, v *Vendor) (*Vendor, error) {
	if v.Name == "" {
		return nil, ErrValidation("vendor name is required")
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vendors (business_id, name, contact_email, phone, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, is_active
	`, v.BusinessID, v.Name, v.ContactEmail, v.Phone).Scan(&v.ID, &v.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "vendor %q already exists", v.Name)
		}
		return nil, fmt.Errorf("failed to insert vendor: %w", err)
	}
	return v, nil
}

func (s *catalogService) ListVendors(ctx context.Context, businessID int64) ([]Vendor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, name, contact_email, phone, is_active
		FROM vendors
		WHERE business_id = $1 AND is_active = true
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendors: %w", err)
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.BusinessID, &v.Name, &v.ContactEmail, &v.Phone, &v.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// ── items ─────────────────────────────────────────────────────────────────────

func (s *catalogService) validateItem(ctx context.Context, item *InventoryItem) error {
	if item.Name == "" {
		return ErrValidation("item name is required")
	}
	if !ValidUOM(item.BaseUOM) {
		return ErrValidation("unknown base uom %q", item.BaseUOM)
	}
	if item.ContainerSizeML != nil && !item.ContainerSizeML.IsPositive() {
		return ErrValidation("container size must be positive")
	}
	if item.PackSize != nil && *item.PackSize <= 0 {
		return ErrValidation("pack size must be positive")
	}

	// Category must exist in the same business as the item's location.
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM categories c
			JOIN locations l ON l.business_id = c.business_id
			WHERE c.id = $1 AND l.id = $2
		)
	`, item.CategoryID, item.LocationID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if !ok {
		return ErrNotFound("category", item.CategoryID)
	}
	return nil
}

func (s *catalogService) CreateItem(ctx context.Context, item *InventoryItem) (*InventoryItem, error) {
	if err := s.validateItem(ctx, item); err != nil {
		return nil, err
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO inventory_items
			(location_id, name, barcode, category_id, base_uom, container_size_ml, pack_size, vendor_id, show_in_guide, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, NOW())
		RETURNING id, is_active, created_at
	`, item.LocationID, item.Name, item.Barcode, item.CategoryID, item.BaseUOM,
		item.ContainerSizeML, item.PackSize, item.VendorID, item.ShowInGuide).
		Scan(&item.ID, &item.IsActive, &item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "barcode already assigned at this location")
		}
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}
	return item, nil
}

func (s *catalogService) UpdateItem(ctx context.Context, item *InventoryItem) (*InventoryItem, error) {
	if err := s.validateItem(ctx, item); err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE inventory_items
		SET name = $1, barcode = $2, category_id = $3, base_uom = $4,
		    container_size_ml = $5, pack_size = $6, vendor_id = $7, show_in_guide = $8, is_active = $9
		WHERE id = $10 AND location_id = $11
	`, item.Name, item.Barcode, item.CategoryID, item.BaseUOM, item.ContainerSizeML,
		item.PackSize, item.VendorID, item.ShowInGuide, item.IsActive, item.ID, item.LocationID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "barcode already assigned at this location")
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound("item", item.ID)
	}
	return item, nil
}

const itemColumns = `id, location_id, name, barcode, category_id, base_uom, container_size_ml,
	pack_size, vendor_id, show_in_guide, is_active, created_at`

func scanItem(row pgx.Row) (*InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.LocationID, &it.Name, &it.Barcode, &it.CategoryID, &it.BaseUOM,
		&it.ContainerSizeML, &it.PackSize, &it.VendorID, &it.ShowInGuide, &it.IsActive, &it.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *catalogService) GetItem(ctx context.Context, locationID, itemID int64) (*InventoryItem, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+itemColumns+" FROM inventory_items WHERE id = $1 AND location_id = $2",
		itemID, locationID)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", itemID)
		}
		return nil, fmt.Errorf("failed to fetch item: %w", err)
	}
	return it, nil
}

func (s *catalogService) ListItems(ctx context.Context, locationID int64, includeInactive bool) ([]InventoryItem, error) {
	sql := "SELECT " + itemColumns + " FROM inventory_items WHERE location_id = $1"
	if !includeInactive {
		sql += " AND is_active = true"
	}
	sql += " ORDER BY name"

	rows, err := s.pool.Query(ctx, sql, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ArchiveItem marks an item inactive. The row and its ledger history
// stay put; depletion may keep landing on it and reports still resolve.
func (s *catalogService) ArchiveItem(ctx context.Context, locationID, itemID int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE inventory_items SET is_active = false WHERE id = $1 AND location_id = $2",
		itemID, locationID)
	if err != nil {
		return fmt.Errorf("failed to archive item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("item", itemID)
	}
	return nil
}

func (s *catalogService) LookupByBarcode(ctx context.Context, locationID int64, barcode string) (*InventoryItem, error) {
	if barcode == "" {
		return nil, ErrValidation("barcode is required")
	}
	row := s.pool.QueryRow(ctx,
		"SELECT "+itemColumns+" FROM inventory_items WHERE location_id = $1 AND barcode = $2",
		locationID, barcode)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewDomainError(CodeNotFound, "no item with barcode %s", barcode)
		}
		return nil, fmt.Errorf("failed to look up barcode: %w", err)
	}
	return it, nil
}

// ── bottle templates ──────────────────────────────────────────────────────────

func (s *catalogService) UpsertBottleTemplate(ctx context.Context, t *BottleTemplate) (*BottleTemplate, error) {
	if !t.ContainerSizeML.IsPositive() {
		return nil, ErrValidation("container size must be positive")
	}
	if t.FullWeightG.LessThanOrEqual(t.EmptyWeightG) {
		return nil, ErrValidation("full weight must exceed empty weight")
	}
	if t.Density != nil && !t.Density.IsPositive() {
		return nil, ErrValidation("density must be positive")
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO bottle_templates (item_id, container_size_ml, empty_weight_g, full_weight_g, density)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id) DO UPDATE
		SET container_size_ml = EXCLUDED.container_size_ml,
		    empty_weight_g    = EXCLUDED.empty_weight_g,
		    full_weight_g     = EXCLUDED.full_weight_g,
		    density           = EXCLUDED.density
		RETURNING id
	`, t.ItemID, t.ContainerSizeML, t.EmptyWeightG, t.FullWeightG, t.Density).Scan(&t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert bottle template: %w", err)
	}
	return t, nil
}

func (s *catalogService) GetBottleTemplate(ctx context.Context, itemID int64) (*BottleTemplate, error) {
	var t BottleTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, item_id, container_size_ml, empty_weight_g, full_weight_g, density
		FROM bottle_templates WHERE item_id = $1
	`, itemID).Scan(&t.ID, &t.ItemID, &t.ContainerSizeML, &t.EmptyWeightG, &t.FullWeightG, &t.Density)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewDomainError(CodeNotFound, "item %d has no bottle template", itemID)
		}
		return nil, fmt.Errorf("failed to fetch bottle template: %w", err)
	}
	return &t, nil
}

// ── cost history ──────────────────────────────────────────────────────────────

// SetItemCost closes the open price row and starts a new one, keeping
// the history contiguous so CostAt can price any past event.
func (s *catalogService) SetItemCost(ctx context.Context, itemID int64, cost decimal.Decimal, currency string, effectiveFrom time.Time) (*PricePoint, error) {
	if cost.IsNegative() {
		return nil, ErrValidation("unit cost cannot be negative")
	}
	if currency == "" {
		currency = "USD"
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE price_history SET effective_to = $1
		WHERE item_id = $2 AND effective_to IS NULL AND effective_from < $1
	`, effectiveFrom, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to close current price: %w", err)
	}

	pp := &PricePoint{ItemID: itemID, UnitCost: cost, Currency: currency, EffectiveFrom: effectiveFrom}
	err = tx.QueryRow(ctx, `
		INSERT INTO price_history (item_id, unit_cost, currency, effective_from)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, itemID, cost, currency, effectiveFrom).Scan(&pp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert price point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit price change: %w", err)
	}
	return pp, nil
}

func (s *catalogService) CostAt(ctx context.Context, itemID int64, at time.Time) (*PricePoint, error) {
	var pp PricePoint
	err := s.pool.QueryRow(ctx, `
		SELECT id, item_id, unit_cost, currency, effective_from, effective_to
		FROM price_history
		WHERE item_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC
		LIMIT 1
	`, itemID, at).Scan(&pp.ID, &pp.ItemID, &pp.UnitCost, &pp.Currency, &pp.EffectiveFrom, &pp.EffectiveTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewDomainError(CodeNotFound, "item %d has no cost effective at %s", itemID, at.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to fetch cost: %w", err)
	}
	return &pp, nil
}

// ── product guide ─────────────────────────────────────────────────────────────

// GuideItems lists the active, guide-visible items for the public menu.
// No costs, no quantities.
func (s *catalogService) GuideItems(ctx context.Context, locationID int64) ([]GuideItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.name, c.name
		FROM inventory_items i
		JOIN categories c ON c.id = i.category_id
		WHERE i.location_id = $1 AND i.is_active = true AND i.show_in_guide = true
		ORDER BY c.name, i.name
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query guide items: %w", err)
	}
	defer rows.Close()

	var items []GuideItem
	for rows.Next() {
		var g GuideItem
		if err := rows.Scan(&g.ID, &g.Name, &g.Category); err != nil {
			return nil, fmt.Errorf("failed to scan guide item: %w", err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}
