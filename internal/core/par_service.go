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

// ParService owns par levels, reorder suggestions and the purchase
// order lifecycle through pickup.
type ParService interface {
	UpsertParLevel(ctx context.Context, locationID int64, par *ParLevel) (*ParLevel, error)
	DeleteParLevel(ctx context.Context, locationID, itemID int64) error
	ListParLevels(ctx context.Context, locationID int64) ([]ParLevel, error)
	Suggestions(ctx context.Context, locationID int64) ([]VendorBundle, error)
	CreatePO(ctx context.Context, locationID, vendorID, createdBy int64, notes string, lines []POLineInput) (*PurchaseOrder, error)
	CreateFromSuggestions(ctx context.Context, locationID, createdBy int64) ([]PurchaseOrder, error)
	GetPO(ctx context.Context, locationID, poID int64) (*PurchaseOrder, error)
	ListPOs(ctx context.Context, locationID int64, status POStatus) ([]PurchaseOrder, error)
	RecordPickup(ctx context.Context, locationID, poID int64, picks []PickupLine) (*PurchaseOrder, error)
	CancelPO(ctx context.Context, locationID, poID int64) (*PurchaseOrder, error)
}

type POLineInput struct {
	ItemID int64           `json:"item_id"`
	Qty    decimal.Decimal `json:"qty"`
	UOM    ParUOM          `json:"uom"`
}

type PickupLine struct {
	LineID int64           `json:"line_id"`
	Qty    decimal.Decimal `json:"qty"`
}

type parService struct {
	pool     *pgxpool.Pool
	ledger   *Ledger
	expected ExpectedService
	settings SettingsService
}

func NewParService(pool *pgxpool.Pool, ledger *Ledger, expected ExpectedService, settings SettingsService) ParService {
	return &parService{pool: pool, ledger: ledger, expected: expected, settings: settings}
}

// ── par levels ──

func (s *parService) UpsertParLevel(ctx context.Context, locationID int64, par *ParLevel) (*ParLevel, error) {
	if par.ItemID <= 0 {
		return nil, ErrValidation("par level requires an item")
	}
	if par.ParLevel.IsNegative() || par.MinLevel.IsNegative() {
		return nil, ErrValidation("par and min levels cannot be negative")
	}
	if par.MinLevel.GreaterThan(par.ParLevel) {
		return nil, ErrValidation("min level %s exceeds par level %s", par.MinLevel, par.ParLevel)
	}
	if par.ReorderQty != nil && par.ReorderQty.IsNegative() {
		return nil, ErrValidation("reorder quantity cannot be negative")
	}
	switch par.ParUOM {
	case ParUnit, ParPackage:
	default:
		return nil, ErrValidation("unknown par uom %q", par.ParUOM)
	}
	if par.LeadTimeDays < 0 || par.SafetyStockDays < 0 {
		return nil, ErrValidation("lead time and safety stock days cannot be negative")
	}

	var itemLocation int64
	err := s.pool.QueryRow(ctx, "SELECT location_id FROM inventory_items WHERE id = $1", par.ItemID).Scan(&itemLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", par.ItemID)
		}
		return nil, fmt.Errorf("failed to resolve item: %w", err)
	}
	if itemLocation != locationID {
		return nil, ErrValidation("item %d does not belong to location %d", par.ItemID, locationID)
	}

	par.LocationID = locationID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO par_levels
			(location_id, item_id, vendor_id, par_level, min_level, reorder_qty,
			 par_uom, lead_time_days, safety_stock_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (location_id, item_id) DO UPDATE
		SET vendor_id = EXCLUDED.vendor_id,
		    par_level = EXCLUDED.par_level,
		    min_level = EXCLUDED.min_level,
		    reorder_qty = EXCLUDED.reorder_qty,
		    par_uom = EXCLUDED.par_uom,
		    lead_time_days = EXCLUDED.lead_time_days,
		    safety_stock_days = EXCLUDED.safety_stock_days
		RETURNING id
	`, par.LocationID, par.ItemID, par.VendorID, par.ParLevel, par.MinLevel,
		par.ReorderQty, par.ParUOM, par.LeadTimeDays, par.SafetyStockDays).Scan(&par.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert par level: %w", err)
	}
	return par, nil
}

func (s *parService) DeleteParLevel(ctx context.Context, locationID, itemID int64) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM par_levels WHERE location_id = $1 AND item_id = $2", locationID, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete par level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("par level for item", itemID)
	}
	return nil
}

func (s *parService) ListParLevels(ctx context.Context, locationID int64) ([]ParLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, location_id, item_id, vendor_id, par_level, min_level, reorder_qty,
		       par_uom, lead_time_days, safety_stock_days
		FROM par_levels WHERE location_id = $1 ORDER BY item_id
	`, locationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query par levels: %w", err)
	}
	defer rows.Close()

	var pars []ParLevel
	for rows.Next() {
		var p ParLevel
		err := rows.Scan(&p.ID, &p.LocationID, &p.ItemID, &p.VendorID, &p.ParLevel,
			&p.MinLevel, &p.ReorderQty, &p.ParUOM, &p.LeadTimeDays, &p.SafetyStockDays)
		if err != nil {
			return nil, fmt.Errorf("failed to scan par level: %w", err)
		}
		pars = append(pars, p)
	}
	return pars, rows.Err()
}

// ── suggestions ──

// Suggestions evaluates every par level against expected on-hand and
// usage velocity, bundled per vendor. Vendors with nothing to order are
// omitted; items without a vendor land in an unassigned bundle that can
// only be ordered manually.
func (s *parService) Suggestions(ctx context.Context, locationID int64) ([]VendorBundle, error) {
	pars, err := s.ListParLevels(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if len(pars) == 0 {
		return nil, nil
	}
	cfg, err := s.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	byVendor := make(map[int64]*VendorBundle)
	var unassigned *VendorBundle
	var order []int64

	for i := range pars {
		par := &pars[i]
		item, err := s.fetchItem(ctx, par.ItemID)
		if err != nil {
			return nil, err
		}
		if !item.IsActive {
			continue
		}
		current, err := s.expected.ExpectedAt(ctx, par.ItemID, now)
		if err != nil {
			return nil, err
		}
		velocity, err := s.expected.AvgDailyDepletion(ctx, par.ItemID, now, cfg.VelocityWindowDays)
		if err != nil {
			return nil, err
		}

		sug := computeSuggestion(par, item, current, velocity)
		if sug == nil {
			continue
		}
		if sug.VendorID == nil {
			if unassigned == nil {
				unassigned = &VendorBundle{VendorName: "unassigned"}
			}
			unassigned.Suggestions = append(unassigned.Suggestions, *sug)
			continue
		}
		b, ok := byVendor[*sug.VendorID]
		if !ok {
			var name string
			err := s.pool.QueryRow(ctx, "SELECT name FROM vendors WHERE id = $1", *sug.VendorID).Scan(&name)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, ErrNotFound("vendor", *sug.VendorID)
				}
				return nil, fmt.Errorf("failed to resolve vendor: %w", err)
			}
			vid := *sug.VendorID
			b = &VendorBundle{VendorID: &vid, VendorName: name}
			byVendor[vid] = b
			order = append(order, vid)
		}
		b.Suggestions = append(b.Suggestions, *sug)
	}

	bundles := make([]VendorBundle, 0, len(order)+1)
	for _, vid := range order {
		bundles = append(bundles, *byVendor[vid])
	}
	if unassigned != nil {
		bundles = append(bundles, *unassigned)
	}
	return bundles, nil
}

func (s *parService) fetchItem(ctx context.Context, itemID int64) (*InventoryItem, error) {
	var item InventoryItem
	err := s.pool.QueryRow(ctx, `
		SELECT id, location_id, name, base_uom, container_size_ml, pack_size, vendor_id, is_active
		FROM inventory_items WHERE id = $1
	`, itemID).Scan(&item.ID, &item.LocationID, &item.Name, &item.BaseUOM,
		&item.ContainerSizeML, &item.PackSize, &item.VendorID, &item.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("item", itemID)
		}
		return nil, fmt.Errorf("failed to fetch item %d: %w", itemID, err)
	}
	return &item, nil
}

// ── purchase orders ──

func (s *parService) CreatePO(ctx context.Context, locationID, vendorID, createdBy int64, notes string, lines []POLineInput) (*PurchaseOrder, error) {
	if len(lines) == 0 {
		return nil, ErrValidation("purchase order must have at least one line")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var vendorExists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM vendors v
			JOIN locations l ON l.business_id = v.business_id
			WHERE v.id = $1 AND l.id = $2 AND v.is_active = TRUE
		)`, vendorID, locationID).Scan(&vendorExists)
	if err != nil {
		return nil, fmt.Errorf("failed to validate vendor: %w", err)
	}
	if !vendorExists {
		return nil, ErrNotFound("vendor", vendorID)
	}

	for i, in := range lines {
		if !in.Qty.IsPositive() {
			return nil, ErrValidation("line %d: quantity must be positive", i+1)
		}
		switch in.UOM {
		case ParUnit, ParPackage:
		default:
			return nil, ErrValidation("line %d: unknown uom %q", i+1, in.UOM)
		}
		var itemLocation int64
		err := tx.QueryRow(ctx, "SELECT location_id FROM inventory_items WHERE id = $1", in.ItemID).Scan(&itemLocation)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrValidation("line %d: item %d not found", i+1, in.ItemID)
			}
			return nil, fmt.Errorf("line %d: failed to resolve item: %w", i+1, err)
		}
		if itemLocation != locationID {
			return nil, ErrValidation("line %d: item %d does not belong to location %d", i+1, in.ItemID, locationID)
		}
	}

	var poID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (location_id, vendor_id, status, created_by, notes)
		VALUES ($1, $2, 'open', $3, $4)
		RETURNING id
	`, locationID, vendorID, createdBy, notes).Scan(&poID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert purchase order: %w", err)
	}

	for i, in := range lines {
		_, err := tx.Exec(ctx, `
			INSERT INTO purchase_order_lines (po_id, item_id, ordered_qty, picked_up_qty, uom)
			VALUES ($1, $2, $3, 0, $4)
		`, poID, in.ItemID, in.Qty, in.UOM)
		if err != nil {
			return nil, fmt.Errorf("failed to insert PO line %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase order: %w", err)
	}
	return s.GetPO(ctx, locationID, poID)
}

// CreateFromSuggestions turns the current suggestion bundles into open
// purchase orders, one per vendor. The unassigned bundle is skipped.
func (s *parService) CreateFromSuggestions(ctx context.Context, locationID, createdBy int64) ([]PurchaseOrder, error) {
	bundles, err := s.Suggestions(ctx, locationID)
	if err != nil {
		return nil, err
	}

	var orders []PurchaseOrder
	for _, b := range bundles {
		if b.VendorID == nil {
			continue
		}
		lines := make([]POLineInput, 0, len(b.Suggestions))
		for _, sug := range b.Suggestions {
			lines = append(lines, POLineInput{ItemID: sug.ItemID, Qty: sug.OrderQty, UOM: sug.OrderUOM})
		}
		po, err := s.CreatePO(ctx, locationID, *b.VendorID, createdBy, "auto-generated from par suggestions", lines)
		if err != nil {
			return orders, err
		}
		orders = append(orders, *po)
	}
	return orders, nil
}

const poColumns = `po.id, po.location_id, po.vendor_id, v.name, po.status,
	po.created_by, po.created_at, po.closed_at, po.notes`

func scanPO(row pgx.Row) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.LocationID, &po.VendorID, &po.VendorName, &po.Status,
		&po.CreatedBy, &po.CreatedAt, &po.ClosedAt, &po.Notes)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *parService) GetPO(ctx context.Context, locationID, poID int64) (*PurchaseOrder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders po
		JOIN vendors v ON v.id = po.vendor_id
		WHERE po.id = $1 AND po.location_id = $2
	`, poID, locationID)
	po, err := scanPO(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("purchase order", poID)
		}
		return nil, fmt.Errorf("failed to fetch purchase order %d: %w", poID, err)
	}

	po.Lines, err = s.fetchLines(ctx, poID)
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *parService) ListPOs(ctx context.Context, locationID int64, status POStatus) ([]PurchaseOrder, error) {
	query := `
		SELECT ` + poColumns + `
		FROM purchase_orders po
		JOIN vendors v ON v.id = po.vendor_id
		WHERE po.location_id = $1`
	args := []any{locationID}
	if status != "" {
		query += " AND po.status = $2"
		args = append(args, status)
	}
	query += " ORDER BY po.created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		orders = append(orders, *po)
	}
	return orders, rows.Err()
}

func (s *parService) fetchLines(ctx context.Context, poID int64) ([]PurchaseOrderLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pol.id, pol.po_id, pol.item_id, i.name, pol.ordered_qty, pol.picked_up_qty, pol.uom
		FROM purchase_order_lines pol
		JOIN inventory_items i ON i.id = pol.item_id
		WHERE pol.po_id = $1
		ORDER BY pol.id
	`, poID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PO lines for order %d: %w", poID, err)
	}
	defer rows.Close()

	var lines []PurchaseOrderLine
	for rows.Next() {
		var l PurchaseOrderLine
		err := rows.Scan(&l.ID, &l.POID, &l.ItemID, &l.ItemName, &l.OrderedQty, &l.PickedUpQty, &l.UOM)
		if err != nil {
			return nil, fmt.Errorf("failed to scan PO line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// RecordPickup applies picked-up quantities to an open order and writes
// one positive receiving entry per line, all in one transaction. Fully
// picked orders close; anything less moves to partially_fulfilled.
func (s *parService) RecordPickup(ctx context.Context, locationID, poID int64, picks []PickupLine) (*PurchaseOrder, error) {
	if len(picks) == 0 {
		return nil, ErrValidation("at least one pickup line is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status POStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1 AND location_id = $2 FOR UPDATE",
		poID, locationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("purchase order", poID)
		}
		return nil, fmt.Errorf("failed to lock purchase order %d: %w", poID, err)
	}
	if status != POOpen && status != POPartial {
		return nil, NewDomainError(CodePreconditionFailed,
			"purchase order %d cannot accept pickups: status is %s", poID, status)
	}

	lines, err := s.fetchLines(ctx, poID)
	if err != nil {
		return nil, err
	}
	lineByID := make(map[int64]*PurchaseOrderLine, len(lines))
	for i := range lines {
		lineByID[lines[i].ID] = &lines[i]
	}

	now := time.Now().UTC()
	for _, pick := range picks {
		if !pick.Qty.IsPositive() {
			return nil, ErrValidation("PO line %d: pickup quantity must be positive", pick.LineID)
		}
		line, ok := lineByID[pick.LineID]
		if !ok {
			return nil, ErrValidation("PO line %d not found on purchase order %d", pick.LineID, poID)
		}

		newTotal := line.PickedUpQty.Add(pick.Qty)
		if newTotal.GreaterThan(line.OrderedQty) {
			return nil, ErrValidation(
				"PO line %d: would pick up %s but only %s ordered (already picked up %s)",
				pick.LineID, newTotal.StringFixed(4), line.OrderedQty.StringFixed(4),
				line.PickedUpQty.StringFixed(4))
		}

		_, err := tx.Exec(ctx,
			"UPDATE purchase_order_lines SET picked_up_qty = $1 WHERE id = $2",
			newTotal, line.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update PO line %d: %w", line.ID, err)
		}
		line.PickedUpQty = newTotal

		item, err := s.fetchItem(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}
		delta := pickupBaseDelta(item, pick.Qty, line.UOM)
		key := fmt.Sprintf("po:%d:line:%d:cum:%s", poID, line.ID, newTotal.StringFixed(4))
		notes := fmt.Sprintf("pickup against purchase order %d", poID)
		_, _, err = s.ledger.AppendTx(ctx, tx, &ConsumptionEvent{
			LocationID:    locationID,
			ItemID:        line.ItemID,
			EventType:     EventReceiving,
			SourceSystem:  SourceManual,
			QuantityDelta: delta,
			UOM:           item.BaseUOM,
			Confidence:    ConfidenceMeasured,
			EventTS:       now,
			DedupeKey:     &key,
			Notes:         &notes,
		})
		if err != nil {
			return nil, err
		}
	}

	fullyPicked := true
	for i := range lines {
		if lines[i].PickedUpQty.LessThan(lines[i].OrderedQty) {
			fullyPicked = false
			break
		}
	}
	if fullyPicked {
		_, err = tx.Exec(ctx,
			"UPDATE purchase_orders SET status = 'closed', closed_at = $1 WHERE id = $2", now, poID)
	} else {
		_, err = tx.Exec(ctx,
			"UPDATE purchase_orders SET status = 'partially_fulfilled' WHERE id = $1", poID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase order %d status: %w", poID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pickup: %w", err)
	}
	return s.GetPO(ctx, locationID, poID)
}

// CancelPO cancels an order that has not been fully picked up. Already
// recorded receiving entries stand; cancellation only stops future
// pickups.
func (s *parService) CancelPO(ctx context.Context, locationID, poID int64) (*PurchaseOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status POStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1 AND location_id = $2 FOR UPDATE",
		poID, locationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("purchase order", poID)
		}
		return nil, fmt.Errorf("failed to lock purchase order %d: %w", poID, err)
	}
	switch status {
	case POCancelled:
		// Idempotent: cancelling twice is a no-op.
	case POOpen, POPartial:
		_, err = tx.Exec(ctx,
			"UPDATE purchase_orders SET status = 'cancelled', closed_at = NOW() WHERE id = $1", poID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel purchase order %d: %w", poID, err)
		}
	default:
		return nil, NewDomainError(CodePreconditionFailed,
			"purchase order %d cannot be cancelled: status is %s", poID, status)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return s.GetPO(ctx, locationID, poID)
}
