package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/app"
	"barstock/internal/core"
)

// ── POS item mappings ──

// createMapping handles POST /api/locations/{locationID}/mappings.
func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		SourceSystem  core.SourceSystem `json:"source_system"`
		POSItemID     string            `json:"pos_item_id"`
		POSItemName   string            `json:"pos_item_name"`
		Mode          core.MappingMode  `json:"mode"`
		ItemID        *int64            `json:"item_id"`
		TapID         *int64            `json:"tap_id"`
		RecipeID      *int64            `json:"recipe_id"`
		PourQty       *decimal.Decimal  `json:"pour_qty"`
		PourUOM       *core.UOM         `json:"pour_uom"`
		EffectiveFrom *time.Time        `json:"effective_from"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.svc.CreateMapping(r.Context(), principal(r.Context()), app.MappingRequest{
		LocationID:    locationID,
		SourceSystem:  req.SourceSystem,
		POSItemID:     req.POSItemID,
		POSItemName:   req.POSItemName,
		Mode:          req.Mode,
		ItemID:        req.ItemID,
		TapID:         req.TapID,
		RecipeID:      req.RecipeID,
		PourQty:       req.PourQty,
		PourUOM:       req.PourUOM,
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, m)
}

// listMappings handles GET /api/locations/{locationID}/mappings?active=true.
func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	mappings, err := h.svc.ListMappings(r.Context(), principal(r.Context()), locationID, queryBool(r, "active"))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, mappings)
}

// endMapping handles POST /api/locations/{locationID}/mappings/{mappingID}/end.
func (h *Handler) endMapping(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	mappingID, ok := pathID(w, r, "mappingID")
	if !ok {
		return
	}
	var req struct {
		At *time.Time `json:"at"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}
	if err := h.svc.EndMapping(r.Context(), principal(r.Context()), locationID, mappingID, at); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// setSizeModifier handles PUT /api/locations/{locationID}/size-modifiers.
func (h *Handler) setSizeModifier(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		SourceSystem core.SourceSystem `json:"source_system"`
		ModifierID   string            `json:"modifier_id"`
		Factor       decimal.Decimal   `json:"factor"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.SetSizeModifier(r.Context(), principal(r.Context()), locationID, req.SourceSystem, req.ModifierID, req.Factor); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listUnmapped handles GET /api/locations/{locationID}/unmapped.
func (h *Handler) listUnmapped(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	items, err := h.svc.ListUnmappedItems(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, items)
}

// ── recipes ──

// createRecipe handles POST /api/recipes.
func (h *Handler) createRecipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string                  `json:"name"`
		Ingredients []core.RecipeIngredient `json:"ingredients"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	recipe, err := h.svc.CreateRecipe(r.Context(), principal(r.Context()), app.RecipeRequest{
		Name:        req.Name,
		Ingredients: req.Ingredients,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, recipe)
}

// getRecipe handles GET /api/recipes/{recipeID}.
func (h *Handler) getRecipe(w http.ResponseWriter, r *http.Request) {
	recipeID, ok := pathID(w, r, "recipeID")
	if !ok {
		return
	}

	recipe, err := h.svc.GetRecipe(r.Context(), principal(r.Context()), recipeID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, recipe)
}

// listRecipes handles GET /api/recipes.
func (h *Handler) listRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.svc.ListRecipes(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, recipes)
}

// replaceIngredients handles PUT /api/recipes/{recipeID}/ingredients.
func (h *Handler) replaceIngredients(w http.ResponseWriter, r *http.Request) {
	recipeID, ok := pathID(w, r, "recipeID")
	if !ok {
		return
	}
	var req struct {
		Ingredients []core.RecipeIngredient `json:"ingredients"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	recipe, err := h.svc.ReplaceRecipeIngredients(r.Context(), principal(r.Context()), recipeID, req.Ingredients)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, recipe)
}

// deactivateRecipe handles POST /api/recipes/{recipeID}/deactivate.
func (h *Handler) deactivateRecipe(w http.ResponseWriter, r *http.Request) {
	recipeID, ok := pathID(w, r, "recipeID")
	if !ok {
		return
	}

	if err := h.svc.DeactivateRecipe(r.Context(), principal(r.Context()), recipeID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── sales ingest ──

// ingestSales handles POST /api/locations/{locationID}/sales — a JSON
// batch of normalized sales lines from a POS adapter.
func (h *Handler) ingestSales(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		Lines []core.SalesLine `json:"lines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.IngestSalesLines(r.Context(), principal(r.Context()), locationID, req.Lines)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// importSalesCSV handles POST /api/locations/{locationID}/sales/csv.
// The body is the raw CSV file.
func (h *Handler) importSalesCSV(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	result, err := h.svc.ImportSalesCSV(r.Context(), principal(r.Context()), locationID, r.Body)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── draft system ──

// createTapLine handles POST /api/locations/{locationID}/taps.
func (h *Handler) createTapLine(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		Position int    `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tap, err := h.svc.CreateTapLine(r.Context(), principal(r.Context()), locationID, req.Name, req.Position)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, tap)
}

// listTapLines handles GET /api/locations/{locationID}/taps.
func (h *Handler) listTapLines(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	taps, err := h.svc.ListTapLines(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, taps)
}

// registerKeg handles POST /api/locations/{locationID}/kegs.
func (h *Handler) registerKeg(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		ItemID           int64           `json:"item_id"`
		StartingVolumeML decimal.Decimal `json:"starting_volume_ml"`
		ReceivedAt       *time.Time      `json:"received_at"`
		RecordReceiving  bool            `json:"record_receiving"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	keg, err := h.svc.RegisterKeg(r.Context(), principal(r.Context()), app.KegRequest{
		LocationID:       locationID,
		ItemID:           req.ItemID,
		StartingVolumeML: req.StartingVolumeML,
		ReceivedAt:       req.ReceivedAt,
		RecordReceiving:  req.RecordReceiving,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, keg)
}

// listKegs handles GET /api/locations/{locationID}/kegs?status=tapped&status=full.
func (h *Handler) listKegs(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var statuses []core.KegStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, core.KegStatus(s))
	}

	kegs, err := h.svc.ListKegs(r.Context(), principal(r.Context()), locationID, statuses...)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, kegs)
}

// assignTap handles POST /api/locations/{locationID}/taps/{tapID}/assign.
func (h *Handler) assignTap(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	tapID, ok := pathID(w, r, "tapID")
	if !ok {
		return
	}
	var req struct {
		KegID int64 `json:"keg_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.svc.AssignTap(r.Context(), principal(r.Context()), locationID, tapID, req.KegID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, a)
}

// endTapAssignment handles POST /api/locations/{locationID}/taps/{tapID}/unassign.
func (h *Handler) endTapAssignment(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	tapID, ok := pathID(w, r, "tapID")
	if !ok {
		return
	}

	if err := h.svc.EndTapAssignment(r.Context(), principal(r.Context()), locationID, tapID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordPour handles POST /api/locations/{locationID}/taps/{tapID}/pour
// — a metered pour from the flow-sensor bridge.
func (h *Handler) recordPour(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	tapID, ok := pathID(w, r, "tapID")
	if !ok {
		return
	}
	var req struct {
		VolumeML decimal.Decimal `json:"volume_ml"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.svc.RecordTapPour(r.Context(), principal(r.Context()), locationID, tapID, req.VolumeML)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, ev)
}

// kickKeg handles POST /api/locations/{locationID}/kegs/{kegID}/kick.
func (h *Handler) kickKeg(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	kegID, ok := pathID(w, r, "kegID")
	if !ok {
		return
	}

	if err := h.svc.MarkKegKicked(r.Context(), principal(r.Context()), locationID, kegID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// kegLevels handles GET /api/locations/{locationID}/kegs/levels.
func (h *Handler) kegLevels(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	levels, err := h.svc.KegLevels(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, levels)
}
