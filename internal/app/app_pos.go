package app

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barstock/internal/auth"
	"barstock/internal/core"
)

// ── POS item mappings ──

func (s *appService) CreateMapping(ctx context.Context, p *auth.UserPayload, req MappingRequest) (*core.POSItemMapping, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	effectiveFrom := time.Now()
	if req.EffectiveFrom != nil {
		effectiveFrom = *req.EffectiveFrom
	}
	m, err := s.mappings.CreateMapping(ctx, &core.POSItemMapping{
		LocationID:    req.LocationID,
		SourceSystem:  req.SourceSystem,
		POSItemID:     req.POSItemID,
		POSItemName:   req.POSItemName,
		Mode:          req.Mode,
		ItemID:        req.ItemID,
		TapID:         req.TapID,
		RecipeID:      req.RecipeID,
		PourQty:       req.PourQty,
		PourUOM:       req.PourUOM,
		EffectiveFrom: effectiveFrom,
	})
	if err != nil {
		return nil, err
	}
	// A fresh mapping usually resolves a backlog entry.
	if err := s.sales.ClearUnmapped(ctx, req.LocationID, req.SourceSystem, req.POSItemID); err != nil {
		s.log.Warn("failed to clear unmapped queue entry", zap.Error(err))
	}
	s.recordAudit(ctx, p, "mapping.create", "pos_mapping", m.ID, nil, m)
	return m, nil
}

func (s *appService) EndMapping(ctx context.Context, p *auth.UserPayload, locationID, mappingID int64, at time.Time) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.mappings.EndMapping(ctx, locationID, mappingID, at); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "mapping.end", "pos_mapping", mappingID, nil, nil)
	return nil
}

func (s *appService) ListMappings(ctx context.Context, p *auth.UserPayload, locationID int64, activeOnly bool) ([]core.POSItemMapping, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	var activeAt *time.Time
	if activeOnly {
		now := time.Now()
		activeAt = &now
	}
	return s.mappings.ListMappings(ctx, locationID, activeAt)
}

func (s *appService) SetSizeModifier(ctx context.Context, p *auth.UserPayload, locationID int64, source core.SourceSystem, modifierID string, factor decimal.Decimal) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	return s.mappings.SetSizeModifier(ctx, locationID, source, modifierID, factor)
}

// ── recipes ──

func (s *appService) CreateRecipe(ctx context.Context, p *auth.UserPayload, req RecipeRequest) (*core.Recipe, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return nil, err
	}
	return s.mappings.CreateRecipe(ctx, &core.Recipe{
		BusinessID:  p.BusinessID,
		Name:        req.Name,
		Ingredients: req.Ingredients,
	})
}

func (s *appService) GetRecipe(ctx context.Context, p *auth.UserPayload, recipeID int64) (*core.Recipe, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.mappings.GetRecipe(ctx, p.BusinessID, recipeID)
}

func (s *appService) ListRecipes(ctx context.Context, p *auth.UserPayload) ([]core.Recipe, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleStaff); err != nil {
		return nil, err
	}
	return s.mappings.ListRecipes(ctx, p.BusinessID)
}

func (s *appService) ReplaceRecipeIngredients(ctx context.Context, p *auth.UserPayload, recipeID int64, ingredients []core.RecipeIngredient) (*core.Recipe, error) {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return nil, err
	}
	before, err := s.mappings.GetRecipe(ctx, p.BusinessID, recipeID)
	if err != nil {
		return nil, err
	}
	after, err := s.mappings.ReplaceIngredients(ctx, p.BusinessID, recipeID, ingredients)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "recipe.replace_ingredients", "recipe", recipeID, before, after)
	return after, nil
}

func (s *appService) DeactivateRecipe(ctx context.Context, p *auth.UserPayload, recipeID int64) error {
	if err := requireBusinessRole(p, businessOf(p), core.RoleManager); err != nil {
		return err
	}
	if err := s.mappings.DeactivateRecipe(ctx, p.BusinessID, recipeID); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "recipe.deactivate", "recipe", recipeID, nil, nil)
	return nil
}

func (s *appService) ListUnmappedItems(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.UnmappedItem, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.sales.ListUnmapped(ctx, locationID)
}

// ── sales ingest ──

func (s *appService) IngestSalesLines(ctx context.Context, p *auth.UserPayload, locationID int64, lines []core.SalesLine) (*core.IngestResult, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.sales.IngestLines(ctx, locationID, lines)
}

func (s *appService) ImportSalesCSV(ctx context.Context, p *auth.UserPayload, locationID int64, r io.Reader) (*CSVImportResult, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}

	lines, rowErrors, err := parseSalesCSV(r, locationID)
	if err != nil {
		return nil, err
	}

	result := &CSVImportResult{
		BatchID:   uuid.NewString(),
		Parsed:    len(lines),
		Rejected:  len(rowErrors),
		RowErrors: rowErrors,
	}
	if len(lines) > 0 {
		ingest, err := s.sales.IngestLines(ctx, locationID, lines)
		if err != nil {
			return nil, err
		}
		result.Inserted = ingest.Inserted
		result.Duplicates = ingest.Skipped + ingest.Updated
	}

	s.log.Info("sales csv imported",
		zap.String("batch_id", result.BatchID),
		zap.Int64("location_id", locationID),
		zap.Int("parsed", result.Parsed),
		zap.Int("inserted", result.Inserted),
		zap.Int("rejected", result.Rejected))
	s.recordAudit(ctx, p, "sales.csv_import", "import_batch", result.BatchID, nil, result)
	return result, nil
}

// ── draft system ──

func (s *appService) CreateTapLine(ctx context.Context, p *auth.UserPayload, locationID int64, name string, position int) (*core.TapLine, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	return s.taps.CreateTapLine(ctx, &core.TapLine{
		LocationID: locationID,
		Name:       name,
		Position:   position,
	})
}

func (s *appService) ListTapLines(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.TapLine, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.taps.ListTapLines(ctx, locationID)
}

func (s *appService) RegisterKeg(ctx context.Context, p *auth.UserPayload, req KegRequest) (*core.KegInstance, error) {
	if err := s.requireLocationRole(ctx, p, req.LocationID, core.RoleManager); err != nil {
		return nil, err
	}
	receivedAt := time.Now()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}
	keg, err := s.taps.RegisterKeg(ctx, &core.KegInstance{
		LocationID:       req.LocationID,
		ItemID:           req.ItemID,
		StartingVolumeML: req.StartingVolumeML,
		ReceivedAt:       receivedAt,
	}, req.RecordReceiving, s.ledger)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "keg.register", "keg", keg.ID, nil, keg)
	return keg, nil
}

func (s *appService) ListKegs(ctx context.Context, p *auth.UserPayload, locationID int64, statuses ...core.KegStatus) ([]core.KegInstance, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.taps.ListKegs(ctx, locationID, statuses...)
}

func (s *appService) AssignTap(ctx context.Context, p *auth.UserPayload, locationID, tapID, kegID int64) (*core.TapAssignment, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return nil, err
	}
	a, err := s.taps.AssignTap(ctx, locationID, tapID, kegID, time.Now())
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, p, "tap.assign", "tap", tapID, nil, a)
	return a, nil
}

func (s *appService) EndTapAssignment(ctx context.Context, p *auth.UserPayload, locationID, tapID int64) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	if err := s.taps.EndAssignment(ctx, locationID, tapID, time.Now()); err != nil {
		return err
	}
	s.recordAudit(ctx, p, "tap.unassign", "tap", tapID, nil, nil)
	return nil
}

func (s *appService) MarkKegKicked(ctx context.Context, p *auth.UserPayload, locationID, kegID int64) error {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleManager); err != nil {
		return err
	}
	return s.taps.MarkKegKicked(ctx, locationID, kegID, time.Now())
}

func (s *appService) KegLevels(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.KegLevel, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.taps.KegLevels(ctx, locationID)
}

func (s *appService) RecordTapPour(ctx context.Context, p *auth.UserPayload, locationID, tapID int64, volumeML decimal.Decimal) (*core.ConsumptionEvent, error) {
	if err := s.requireLocationRole(ctx, p, locationID, core.RoleStaff); err != nil {
		return nil, err
	}
	return s.engine.RecordTapPour(ctx, locationID, tapID, volumeML, time.Now())
}
