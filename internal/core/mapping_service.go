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

// MappingService owns POS item mappings, recipes, and size modifiers.
// Mappings are versioned: creating one that would be in effect at the
// same instant as an existing version of the same POS item fails with
// ERR_MAPPING_OVERLAP.
type MappingService interface {
	CreateMapping(ctx context.Context, m *POSItemMapping) (*POSItemMapping, error)
	EndMapping(ctx context.Context, locationID, mappingID int64, at time.Time) error
	ListMappings(ctx context.Context, locationID int64, activeAt *time.Time) ([]POSItemMapping, error)
	ResolveAt(ctx context.Context, locationID int64, source SourceSystem, posItemID string, at time.Time) (*POSItemMapping, error)

	CreateRecipe(ctx context.Context, r *Recipe) (*Recipe, error)
	GetRecipe(ctx context.Context, businessID, recipeID int64) (*Recipe, error)
	ListRecipes(ctx context.Context, businessID int64) ([]Recipe, error)
	ReplaceIngredients(ctx context.Context, businessID, recipeID int64, ingredients []RecipeIngredient) (*Recipe, error)
	DeactivateRecipe(ctx context.Context, businessID, recipeID int64) error

	SetSizeModifier(ctx context.Context, locationID int64, source SourceSystem, modifierID string, factor decimal.Decimal) error
	SizeFactor(ctx context.Context, locationID int64, source SourceSystem, modifierID string) (decimal.Decimal, error)
}

type mappingService struct {
	pool *pgxpool.Pool
}

func NewMappingService(pool *pgxpool.Pool) MappingService {
	return &mappingService{pool: pool}
}

// ── mappings ──────────────────────────────────────────────────────────────────

func (s *mappingService) CreateMapping(ctx context.Context, m *POSItemMapping) (*POSItemMapping, error) {
	if err := ValidateMapping(m); err != nil {
		return nil, err
	}
	if m.EffectiveFrom.IsZero() {
		m.EffectiveFrom = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.checkReferences(ctx, tx, m); err != nil {
		return nil, err
	}

	// Lock sibling versions of this POS item so two concurrent creates
	// cannot both pass the overlap check.
	rows, err := tx.Query(ctx, `
		SELECT id, effective_from, effective_to
		FROM pos_item_mappings
		WHERE location_id = $1 AND source_system = $2 AND pos_item_id = $3
		FOR UPDATE
	`, m.LocationID, m.SourceSystem, m.POSItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock mapping versions: %w", err)
	}
	type window struct {
		id   int64
		from time.Time
		to   *time.Time
	}
	var versions []window
	for rows.Next() {
		var w window
		if err := rows.Scan(&w.id, &w.from, &w.to); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan mapping version: %w", err)
		}
		versions = append(versions, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mapping versions: %w", err)
	}

	for _, v := range versions {
		if mappingsOverlap(v.from, v.to, m.EffectiveFrom, m.EffectiveTo) {
			return nil, NewDomainError(CodeMappingOverlap,
				"pos item %s already has a mapping in effect during that window", m.POSItemID).
				WithDetail("conflicting_mapping_id", v.id)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO pos_item_mappings
			(location_id, source_system, pos_item_id, pos_item_name, mode, item_id, tap_id, recipe_id,
			 pour_qty, pour_uom, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, m.LocationID, m.SourceSystem, m.POSItemID, m.POSItemName, m.Mode, m.ItemID, m.TapID, m.RecipeID,
		m.PourQty, m.PourUOM, m.EffectiveFrom, m.EffectiveTo).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mapping: %w", err)
	}
	return m, nil
}

func (s *mappingService) checkReferences(ctx context.Context, tx pgx.Tx, m *POSItemMapping) error {
	switch m.Mode {
	case MapDirect:
		var ok bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM inventory_items WHERE id = $1 AND location_id = $2)",
			*m.ItemID, m.LocationID).Scan(&ok)
		if err != nil {
			return fmt.Errorf("failed to check item: %w", err)
		}
		if !ok {
			return ErrNotFound("item", *m.ItemID)
		}
	case MapDraftByTap:
		var ok bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM tap_lines WHERE id = $1 AND location_id = $2)",
			*m.TapID, m.LocationID).Scan(&ok)
		if err != nil {
			return fmt.Errorf("failed to check tap: %w", err)
		}
		if !ok {
			return ErrNotFound("tap", *m.TapID)
		}
	case MapRecipe, MapSplitRatio:
		var ok bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM recipes r
				JOIN locations l ON l.business_id = r.business_id
				WHERE r.id = $1 AND l.id = $2 AND r.is_active
			)
		`, *m.RecipeID, m.LocationID).Scan(&ok)
		if err != nil {
			return fmt.Errorf("failed to check recipe: %w", err)
		}
		if !ok {
			return ErrNotFound("recipe", *m.RecipeID)
		}
	}
	return nil
}

// EndMapping closes a mapping version at the given instant. Sales after
// that instant resolve to whatever version (if any) covers them.
func (s *mappingService) EndMapping(ctx context.Context, locationID, mappingID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pos_item_mappings SET effective_to = $1
		WHERE id = $2 AND location_id = $3 AND effective_to IS NULL AND effective_from < $1
	`, at, mappingID, locationID)
	if err != nil {
		return fmt.Errorf("failed to end mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NewDomainError(CodePreconditionFailed, "mapping %d is not open or does not start before %s", mappingID, at.Format(time.RFC3339))
	}
	return nil
}

const mappingColumns = `id, location_id, source_system, pos_item_id, pos_item_name, mode,
	item_id, tap_id, recipe_id, pour_qty, pour_uom, effective_from, effective_to`

func scanMapping(row pgx.Row) (*POSItemMapping, error) {
	var m POSItemMapping
	err := row.Scan(&m.ID, &m.LocationID, &m.SourceSystem, &m.POSItemID, &m.POSItemName, &m.Mode,
		&m.ItemID, &m.TapID, &m.RecipeID, &m.PourQty, &m.PourUOM, &m.EffectiveFrom, &m.EffectiveTo)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *mappingService) ListMappings(ctx context.Context, locationID int64, activeAt *time.Time) ([]POSItemMapping, error) {
	sql := "SELECT " + mappingColumns + " FROM pos_item_mappings WHERE location_id = $1"
	args := []any{locationID}
	if activeAt != nil {
		args = append(args, *activeAt)
		sql += " AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)"
	}
	sql += " ORDER BY pos_item_id, effective_from"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []POSItemMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

// ResolveAt finds the mapping version in effect for a POS item at the
// sale instant. Versioning means yesterday's sales re-process against
// yesterday's recipe even after today's edit.
func (s *mappingService) ResolveAt(ctx context.Context, locationID int64, source SourceSystem, posItemID string, at time.Time) (*POSItemMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+mappingColumns+`
		FROM pos_item_mappings
		WHERE location_id = $1 AND source_system = $2 AND pos_item_id = $3
		  AND effective_from <= $4 AND (effective_to IS NULL OR effective_to > $4)
		ORDER BY effective_from DESC
		LIMIT 1
	`, locationID, source, posItemID, at)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewDomainError(CodeNotFound, "no mapping for %s item %s at %s", source, posItemID, at.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("failed to resolve mapping: %w", err)
	}
	return m, nil
}

// ── recipes ───────────────────────────────────────────────────────────────────

func validateIngredients(ingredients []RecipeIngredient) error {
	if len(ingredients) == 0 {
		return ErrValidation("a recipe needs at least one ingredient")
	}
	seen := make(map[int64]bool, len(ingredients))
	for _, ing := range ingredients {
		if ing.ItemID <= 0 {
			return ErrValidation("ingredient requires an item")
		}
		if seen[ing.ItemID] {
			return ErrValidation("item %d appears twice in the recipe", ing.ItemID)
		}
		seen[ing.ItemID] = true
		if !ing.Quantity.IsPositive() {
			return ErrValidation("ingredient %d quantity must be positive", ing.ItemID)
		}
		if ing.UOM != "" && !ValidUOM(ing.UOM) {
			return ErrValidation("ingredient %d has unknown uom %q", ing.ItemID, ing.UOM)
		}
	}
	return nil
}

func (s *mappingService) CreateRecipe(ctx context.Context, r *Recipe) (*Recipe, error) {
	if r.Name == "" {
		return nil, ErrValidation("recipe name is required")
	}
	if err := validateIngredients(r.Ingredients); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO recipes (business_id, name, is_active)
		VALUES ($1, $2, true)
		RETURNING id, is_active
	`, r.BusinessID, r.Name).Scan(&r.ID, &r.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewDomainError(CodeConflict, "recipe %q already exists", r.Name)
		}
		return nil, fmt.Errorf("failed to insert recipe: %w", err)
	}

	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		ing.RecipeID = r.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, item_id, quantity, uom)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, r.ID, ing.ItemID, ing.Quantity, ing.UOM).Scan(&ing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ingredient: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit recipe: %w", err)
	}
	return r, nil
}

func (s *mappingService) GetRecipe(ctx context.Context, businessID, recipeID int64) (*Recipe, error) {
	var r Recipe
	err := s.pool.QueryRow(ctx, `
		SELECT id, business_id, name, is_active FROM recipes
		WHERE id = $1 AND business_id = $2
	`, recipeID, businessID).Scan(&r.ID, &r.BusinessID, &r.Name, &r.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("recipe", recipeID)
		}
		return nil, fmt.Errorf("failed to fetch recipe: %w", err)
	}

	ings, err := s.loadIngredients(ctx, s.pool, recipeID)
	if err != nil {
		return nil, err
	}
	r.Ingredients = ings
	return &r, nil
}

func (s *mappingService) loadIngredients(ctx context.Context, q pgxQuerier, recipeID int64) ([]RecipeIngredient, error) {
	rows, err := q.Query(ctx, `
		SELECT id, recipe_id, item_id, quantity, uom
		FROM recipe_ingredients WHERE recipe_id = $1 ORDER BY id
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	var ings []RecipeIngredient
	for rows.Next() {
		var ing RecipeIngredient
		if err := rows.Scan(&ing.ID, &ing.RecipeID, &ing.ItemID, &ing.Quantity, &ing.UOM); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		ings = append(ings, ing)
	}
	return ings, rows.Err()
}

func (s *mappingService) ListRecipes(ctx context.Context, businessID int64) ([]Recipe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, name, is_active FROM recipes
		WHERE business_id = $1 AND is_active = true
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	var recipes []Recipe
	for rows.Next() {
		var r Recipe
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Name, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// ReplaceIngredients swaps a recipe's ingredient list wholesale. Past
// depletion stays untouched: ledger rows reference the recipe id only
// for lineage, and re-processing resolves through mapping versions.
func (s *mappingService) ReplaceIngredients(ctx context.Context, businessID, recipeID int64, ingredients []RecipeIngredient) (*Recipe, error) {
	if err := validateIngredients(ingredients); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var r Recipe
	err = tx.QueryRow(ctx, `
		SELECT id, business_id, name, is_active FROM recipes
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, recipeID, businessID).Scan(&r.ID, &r.BusinessID, &r.Name, &r.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound("recipe", recipeID)
		}
		return nil, fmt.Errorf("failed to lock recipe: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM recipe_ingredients WHERE recipe_id = $1", recipeID); err != nil {
		return nil, fmt.Errorf("failed to clear ingredients: %w", err)
	}
	for i := range ingredients {
		ing := &ingredients[i]
		ing.RecipeID = recipeID
		err := tx.QueryRow(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, item_id, quantity, uom)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, recipeID, ing.ItemID, ing.Quantity, ing.UOM).Scan(&ing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ingredient: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ingredients: %w", err)
	}
	r.Ingredients = ingredients
	return &r, nil
}

func (s *mappingService) DeactivateRecipe(ctx context.Context, businessID, recipeID int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE recipes SET is_active = false WHERE id = $1 AND business_id = $2",
		recipeID, businessID)
	if err != nil {
		return fmt.Errorf("failed to deactivate recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound("recipe", recipeID)
	}
	return nil
}

// ── size modifiers ────────────────────────────────────────────────────────────

func (s *mappingService) SetSizeModifier(ctx context.Context, locationID int64, source SourceSystem, modifierID string, factor decimal.Decimal) error {
	if modifierID == "" {
		return ErrValidation("modifier id is required")
	}
	if !factor.IsPositive() {
		return ErrValidation("size factor must be positive")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pos_size_modifiers (location_id, source_system, modifier_id, factor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, source_system, modifier_id) DO UPDATE SET factor = EXCLUDED.factor
	`, locationID, source, modifierID, factor)
	if err != nil {
		return fmt.Errorf("failed to upsert size modifier: %w", err)
	}
	return nil
}

// SizeFactor returns the pour multiplier for a modifier, defaulting to
// 1 when the modifier is unknown so unmapped modifiers never block a
// depletion pass.
func (s *mappingService) SizeFactor(ctx context.Context, locationID int64, source SourceSystem, modifierID string) (decimal.Decimal, error) {
	if modifierID == "" {
		return oneDecimal, nil
	}
	var factor decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT factor FROM pos_size_modifiers
		WHERE location_id = $1 AND source_system = $2 AND modifier_id = $3
	`, locationID, source, modifierID).Scan(&factor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return oneDecimal, nil
		}
		return decimal.Zero, fmt.Errorf("failed to fetch size modifier: %w", err)
	}
	return factor, nil
}
