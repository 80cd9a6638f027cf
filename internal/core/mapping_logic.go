package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// splitWeightTolerance bounds how far split-ratio weights may drift
// from summing to exactly 1.
var splitWeightTolerance = decimal.RequireFromString("0.001")

// IngredientDepletion is one item-level quantity produced by expanding
// a sale through its mapping. Quantity is positive; the depletion
// engine negates it when writing the ledger.
type IngredientDepletion struct {
	ItemID   int64
	Quantity decimal.Decimal
	UOM      UOM
	RecipeID *int64
}

// ValidateMapping checks that the fields required by the mapping's mode
// are present and nothing contradictory is set.
func ValidateMapping(m *POSItemMapping) error {
	if m.POSItemID == "" {
		return ErrValidation("mapping requires a pos item id")
	}
	switch m.SourceSystem {
	case SourceToast, SourceSquare, SourceCSVImport:
	default:
		return ErrValidation("mappings are keyed to POS sources, not %q", m.SourceSystem)
	}
	if m.EffectiveTo != nil && !m.EffectiveTo.After(m.EffectiveFrom) {
		return ErrValidation("effective_to must be after effective_from")
	}

	needPour := func() error {
		if m.PourQty == nil || !m.PourQty.IsPositive() {
			return ErrValidation("%s mappings require a positive pour quantity", m.Mode)
		}
		if m.PourUOM == nil || !ValidUOM(*m.PourUOM) {
			return ErrValidation("%s mappings require a pour uom", m.Mode)
		}
		return nil
	}

	switch m.Mode {
	case MapDirect:
		if m.ItemID == nil {
			return ErrValidation("direct mappings require an item")
		}
		if m.TapID != nil || m.RecipeID != nil {
			return ErrValidation("direct mappings may not reference a tap or recipe")
		}
		return needPour()
	case MapDraftByTap:
		if m.TapID == nil {
			return ErrValidation("draft_by_tap mappings require a tap line")
		}
		if m.ItemID != nil || m.RecipeID != nil {
			return ErrValidation("draft_by_tap mappings may not reference an item or recipe")
		}
		return needPour()
	case MapRecipe:
		if m.RecipeID == nil {
			return ErrValidation("recipe mappings require a recipe")
		}
		if m.ItemID != nil || m.TapID != nil {
			return ErrValidation("recipe mappings may not reference an item or tap")
		}
		return nil
	case MapSplitRatio:
		if m.RecipeID == nil {
			return ErrValidation("split_ratio mappings require a recipe of weighted alternatives")
		}
		if m.ItemID != nil || m.TapID != nil {
			return ErrValidation("split_ratio mappings may not reference an item or tap")
		}
		return needPour()
	default:
		return ErrValidation("unknown mapping mode %q", m.Mode)
	}
}

// ExpandMapping turns a sale of saleQty units of a POS item into
// item-level depletions. The caller supplies the recipe for recipe and
// split_ratio modes and the resolved keg item for draft_by_tap.
//
//	direct        pour × qty of the mapped item
//	draft_by_tap  pour × qty of whatever keg the tap held at sale time
//	recipe        each ingredient's quantity × qty
//	split_ratio   pour × qty shared across alternatives by their weights
func ExpandMapping(m *POSItemMapping, recipe *Recipe, tapItemID *int64, saleQty decimal.Decimal) ([]IngredientDepletion, error) {
	if !saleQty.IsPositive() {
		return nil, ErrValidation("sale quantity must be positive, got %s", saleQty)
	}

	switch m.Mode {
	case MapDirect:
		return []IngredientDepletion{{
			ItemID:   *m.ItemID,
			Quantity: m.PourQty.Mul(saleQty),
			UOM:      *m.PourUOM,
		}}, nil

	case MapDraftByTap:
		if tapItemID == nil {
			return nil, NewDomainError(CodePreconditionFailed, "tap %d has no keg assigned", *m.TapID)
		}
		return []IngredientDepletion{{
			ItemID:   *tapItemID,
			Quantity: m.PourQty.Mul(saleQty),
			UOM:      *m.PourUOM,
		}}, nil

	case MapRecipe:
		if recipe == nil || len(recipe.Ingredients) == 0 {
			return nil, NewDomainError(CodePreconditionFailed, "recipe %d has no ingredients", derefInt64(m.RecipeID))
		}
		out := make([]IngredientDepletion, 0, len(recipe.Ingredients))
		for _, ing := range recipe.Ingredients {
			if !ing.Quantity.IsPositive() {
				return nil, ErrValidation("recipe %d ingredient %d has non-positive quantity", recipe.ID, ing.ItemID)
			}
			out = append(out, IngredientDepletion{
				ItemID:   ing.ItemID,
				Quantity: ing.Quantity.Mul(saleQty),
				UOM:      ing.UOM,
				RecipeID: &recipe.ID,
			})
		}
		return out, nil

	case MapSplitRatio:
		if recipe == nil || len(recipe.Ingredients) == 0 {
			return nil, NewDomainError(CodePreconditionFailed, "split recipe %d has no alternatives", derefInt64(m.RecipeID))
		}
		total := decimal.Zero
		for _, ing := range recipe.Ingredients {
			total = total.Add(ing.Quantity)
		}
		if total.Sub(oneDecimal).Abs().GreaterThan(splitWeightTolerance) {
			return nil, ErrValidation("split weights for recipe %d sum to %s, want 1", recipe.ID, total)
		}
		poured := m.PourQty.Mul(saleQty)
		out := make([]IngredientDepletion, 0, len(recipe.Ingredients))
		for _, ing := range recipe.Ingredients {
			out = append(out, IngredientDepletion{
				ItemID:   ing.ItemID,
				Quantity: poured.Mul(ing.Quantity),
				UOM:      *m.PourUOM,
				RecipeID: &recipe.ID,
			})
		}
		return out, nil

	default:
		return nil, ErrValidation("unknown mapping mode %q", m.Mode)
	}
}

// mappingsOverlap reports whether two versioned windows intersect.
// Windows are half-open: [from, to).
func mappingsOverlap(aFrom time.Time, aTo *time.Time, bFrom time.Time, bTo *time.Time) bool {
	aEndsBeforeB := aTo != nil && !aTo.After(bFrom)
	bEndsBeforeA := bTo != nil && !bTo.After(aFrom)
	return !aEndsBeforeB && !bEndsBeforeA
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
