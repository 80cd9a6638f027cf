package core

import (
	"github.com/shopspring/decimal"
)

// Unit conversion lives here as pure functions so the depletion and
// session engines share one set of factors.

var (
	mlPerOunce  = decimal.RequireFromString("29.5735295625")
	gramsPerKg  = decimal.NewFromInt(1000)
	hundred     = decimal.NewFromInt(100)
	oneDecimal  = decimal.NewFromInt(1)
	zeroDecimal = decimal.Zero
)

type dimension int

const (
	dimCount dimension = iota
	dimVolume
	dimMass
)

func uomDimension(u UOM) (dimension, bool) {
	switch u {
	case UOMUnit:
		return dimCount, true
	case UOMML, UOMOunce:
		return dimVolume, true
	case UOMGram, UOMKilogram:
		return dimMass, true
	}
	return 0, false
}

func ValidUOM(u UOM) bool {
	_, ok := uomDimension(u)
	return ok
}

// toCanonical converts qty to the dimension's canonical unit (ml for
// volume, g for mass, unit for count).
func toCanonical(qty decimal.Decimal, u UOM) decimal.Decimal {
	switch u {
	case UOMOunce:
		return qty.Mul(mlPerOunce)
	case UOMKilogram:
		return qty.Mul(gramsPerKg)
	default:
		return qty
	}
}

func fromCanonical(qty decimal.Decimal, u UOM) decimal.Decimal {
	switch u {
	case UOMOunce:
		return qty.Div(mlPerOunce)
	case UOMKilogram:
		return qty.Div(gramsPerKg)
	default:
		return qty
	}
}

// Convert translates qty from one UOM to another. Volume and mass
// interconvert through density (g per ml); count does not convert at
// all here because it needs a container size, which is item knowledge
// handled by ToBase.
func Convert(qty decimal.Decimal, from, to UOM, density *decimal.Decimal) (decimal.Decimal, error) {
	fromDim, ok := uomDimension(from)
	if !ok {
		return decimal.Zero, ErrValidation("unknown uom %q", from)
	}
	toDim, ok := uomDimension(to)
	if !ok {
		return decimal.Zero, ErrValidation("unknown uom %q", to)
	}
	if from == to {
		return qty, nil
	}

	canonical := toCanonical(qty, from)
	switch {
	case fromDim == toDim:
		return fromCanonical(canonical, to), nil
	case fromDim == dimVolume && toDim == dimMass:
		if density == nil || !density.IsPositive() {
			return decimal.Zero, ErrValidation("converting %s to %s requires a density", from, to)
		}
		return fromCanonical(canonical.Mul(*density), to), nil
	case fromDim == dimMass && toDim == dimVolume:
		if density == nil || !density.IsPositive() {
			return decimal.Zero, ErrValidation("converting %s to %s requires a density", from, to)
		}
		return fromCanonical(canonical.Div(*density), to), nil
	default:
		return decimal.Zero, ErrValidation("cannot convert %s to %s without a container size", from, to)
	}
}

// ToBase converts qty expressed in from into item's base UOM. Count
// conversions use the item's container size: 1 unit = ContainerSizeML
// of volume. Density, when needed, is resolved by the caller (bottle
// template first, then category default).
func ToBase(item *InventoryItem, qty decimal.Decimal, from UOM, density *decimal.Decimal) (decimal.Decimal, error) {
	if from == item.BaseUOM {
		return qty, nil
	}
	fromDim, ok := uomDimension(from)
	if !ok {
		return decimal.Zero, ErrValidation("unknown uom %q", from)
	}
	baseDim, ok := uomDimension(item.BaseUOM)
	if !ok {
		return decimal.Zero, ErrValidation("item %d has unknown base uom %q", item.ID, item.BaseUOM)
	}

	if fromDim != dimCount && baseDim != dimCount {
		return Convert(qty, from, item.BaseUOM, density)
	}

	if item.ContainerSizeML == nil || !item.ContainerSizeML.IsPositive() {
		return decimal.Zero, ErrValidation("item %d needs a container size to convert between units and %s", item.ID, from)
	}

	if fromDim == dimCount {
		// units -> volume in ml, then into base
		ml := qty.Mul(*item.ContainerSizeML)
		return Convert(ml, UOMML, item.BaseUOM, density)
	}
	// measurable -> units through ml
	ml, err := Convert(qty, from, UOMML, density)
	if err != nil {
		return decimal.Zero, err
	}
	return ml.Div(*item.ContainerSizeML), nil
}

// ItemBaseQuantity converts qty expressed in from into the item's base
// UOM, resolving density from the bottle template or category default.
// Template and category may be nil when the item has none.
func ItemBaseQuantity(item *InventoryItem, tmpl *BottleTemplate, cat *Category, qty decimal.Decimal, from UOM) (decimal.Decimal, error) {
	return ToBase(item, qty, from, resolveDensity(tmpl, cat))
}

// resolveDensity picks the density for an item: template override, then
// derived from template weights, then the category default. Returns nil
// when nothing is configured.
func resolveDensity(tmpl *BottleTemplate, cat *Category) *decimal.Decimal {
	if tmpl != nil {
		if tmpl.Density != nil && tmpl.Density.IsPositive() {
			return tmpl.Density
		}
		span := tmpl.FullWeightG.Sub(tmpl.EmptyWeightG)
		if span.IsPositive() && tmpl.ContainerSizeML.IsPositive() {
			d := span.Div(tmpl.ContainerSizeML)
			return &d
		}
	}
	if cat != nil && cat.DefaultDensity != nil && cat.DefaultDensity.IsPositive() {
		return cat.DefaultDensity
	}
	return nil
}

// RemainingVolumeML turns a gross scale reading into remaining liquid
// volume. The net weight is clamped to [0, full-empty] so a dirty or
// overfull bottle never produces an impossible volume.
func RemainingVolumeML(tmpl *BottleTemplate, cat *Category, grossWeightG decimal.Decimal) (decimal.Decimal, error) {
	density := resolveDensity(tmpl, cat)
	if density == nil {
		return decimal.Zero, ErrValidation("item %d has no density to convert weight to volume", tmpl.ItemID)
	}
	net := grossWeightG.Sub(tmpl.EmptyWeightG)
	maxNet := tmpl.FullWeightG.Sub(tmpl.EmptyWeightG)
	if net.IsNegative() {
		net = decimal.Zero
	}
	if maxNet.IsPositive() && net.GreaterThan(maxNet) {
		net = maxNet
	}
	return net.Div(*density), nil
}
