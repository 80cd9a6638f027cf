package core

import "github.com/shopspring/decimal"

// ParSuggestion is one proposed order line. Quantities are in order
// units: containers for volume and mass items, raw units for count
// items, whole packages when the par level says to order by package.
type ParSuggestion struct {
	ItemID       int64           `json:"item_id"`
	ItemName     string          `json:"item_name"`
	VendorID     *int64          `json:"vendor_id,omitempty"`
	CurrentUnits decimal.Decimal `json:"current_units"`
	TargetUnits  decimal.Decimal `json:"target_units"`
	OrderQty     decimal.Decimal `json:"order_qty"`
	OrderUOM     ParUOM          `json:"order_uom"`
}

// VendorBundle groups suggestions by vendor so each becomes one
// purchase order. Items with no vendor land in the nil-vendor bundle.
type VendorBundle struct {
	VendorID    *int64          `json:"vendor_id,omitempty"`
	VendorName  string          `json:"vendor_name"`
	Suggestions []ParSuggestion `json:"suggestions"`
}

// orderUnitBase returns how much of the item's base UOM one order unit
// holds. A 750 ml bottle item counts stock in ml but orders in bottles;
// an oz-based item gets the same container expressed in ounces.
func orderUnitBase(item *InventoryItem) decimal.Decimal {
	if item.BaseUOM == UOMUnit || item.ContainerSizeML == nil || !item.ContainerSizeML.IsPositive() {
		return oneDecimal
	}
	size, err := Convert(*item.ContainerSizeML, UOMML, item.BaseUOM, nil)
	if err != nil || !size.IsPositive() {
		// mass-based items need a density we don't have here; treat the
		// container millilitres as base quantity rather than guessing
		return *item.ContainerSizeML
	}
	return size
}

// computeSuggestion applies the reorder rule for one item. Par, min and
// the override are expressed in order units; current stock and velocity
// arrive in the item's base UOM and are converted first. Returns nil
// when stock is above the min level or nothing needs ordering.
func computeSuggestion(par *ParLevel, item *InventoryItem, currentBase, velocityBase decimal.Decimal) *ParSuggestion {
	unitBase := orderUnitBase(item)
	current := currentBase.Div(unitBase)
	velocity := velocityBase.Div(unitBase)

	if current.GreaterThan(par.MinLevel) {
		return nil
	}

	horizon := decimal.NewFromInt(int64(par.LeadTimeDays + par.SafetyStockDays))
	target := par.ParLevel.Add(velocity.Mul(horizon))

	raw := target.Sub(current)
	if par.ReorderQty != nil && par.ReorderQty.GreaterThan(raw) {
		raw = *par.ReorderQty
	}
	if !raw.IsPositive() {
		return nil
	}

	qty := raw.Ceil()
	if par.ParUOM == ParPackage {
		packSize := oneDecimal
		if item.PackSize != nil && *item.PackSize > 0 {
			packSize = decimal.NewFromInt(int64(*item.PackSize))
		}
		qty = raw.Div(packSize).Ceil()
	}

	return &ParSuggestion{
		ItemID:       item.ID,
		ItemName:     item.Name,
		VendorID:     par.VendorID,
		CurrentUnits: current,
		TargetUnits:  target,
		OrderQty:     qty,
		OrderUOM:     par.ParUOM,
	}
}

// pickupBaseDelta converts a picked-up order quantity into the item's
// base UOM for the receiving ledger entry.
func pickupBaseDelta(item *InventoryItem, qty decimal.Decimal, uom ParUOM) decimal.Decimal {
	delta := qty.Mul(orderUnitBase(item))
	if uom == ParPackage && item.PackSize != nil && *item.PackSize > 0 {
		delta = delta.Mul(decimal.NewFromInt(int64(*item.PackSize)))
	}
	return delta
}
