package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/app"
	"barstock/internal/core"
)

// itemBody is the JSON shape for creating and updating inventory items.
type itemBody struct {
	Name            string           `json:"name"`
	Barcode         *string          `json:"barcode"`
	CategoryID      int64            `json:"category_id"`
	BaseUOM         core.UOM         `json:"base_uom"`
	ContainerSizeML *decimal.Decimal `json:"container_size_ml"`
	PackSize        *int             `json:"pack_size"`
	VendorID        *int64           `json:"vendor_id"`
	ShowInGuide     bool             `json:"show_in_guide"`
}

func (b itemBody) toRequest(locationID int64) app.ItemRequest {
	return app.ItemRequest{
		LocationID:      locationID,
		Name:            b.Name,
		Barcode:         b.Barcode,
		CategoryID:      b.CategoryID,
		BaseUOM:         b.BaseUOM,
		ContainerSizeML: b.ContainerSizeML,
		PackSize:        b.PackSize,
		VendorID:        b.VendorID,
		ShowInGuide:     b.ShowInGuide,
	}
}

// ── categories and vendors ──

// createCategory handles POST /api/categories.
func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string              `json:"name"`
		CountingMethod core.CountingMethod `json:"counting_method"`
		DefaultDensity *decimal.Decimal    `json:"default_density"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.svc.CreateCategory(r.Context(), principal(r.Context()), app.CategoryRequest{
		Name:           req.Name,
		CountingMethod: req.CountingMethod,
		DefaultDensity: req.DefaultDensity,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

// listCategories handles GET /api/categories.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.ListCategories(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, cats)
}

// createVendor handles POST /api/vendors.
func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		ContactEmail string `json:"contact_email"`
		Phone        string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := h.svc.CreateVendor(r.Context(), principal(r.Context()), app.VendorRequest{
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		Phone:        req.Phone,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, v)
}

// listVendors handles GET /api/vendors.
func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.svc.ListVendors(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, vendors)
}

// ── items ──

// createItem handles POST /api/locations/{locationID}/items.
func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var body itemBody
	if !decodeJSON(w, r, &body) {
		return
	}

	item, err := h.svc.CreateItem(r.Context(), principal(r.Context()), body.toRequest(locationID))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, item)
}

// updateItem handles PUT /api/locations/{locationID}/items/{itemID}.
func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var body itemBody
	if !decodeJSON(w, r, &body) {
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), principal(r.Context()), itemID, body.toRequest(locationID))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, item)
}

// getItem handles GET /api/locations/{locationID}/items/{itemID}.
func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	item, err := h.svc.GetItem(r.Context(), principal(r.Context()), locationID, itemID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, item)
}

// listItems handles GET /api/locations/{locationID}/items.
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	items, err := h.svc.ListItems(r.Context(), principal(r.Context()), locationID, queryBool(r, "include_inactive"))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, items)
}

// archiveItem handles POST /api/locations/{locationID}/items/{itemID}/archive.
func (h *Handler) archiveItem(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	if err := h.svc.ArchiveItem(r.Context(), principal(r.Context()), locationID, itemID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupBarcode handles GET /api/locations/{locationID}/items/lookup?barcode=…
// — the count-mode scanner path.
func (h *Handler) lookupBarcode(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	barcode := r.URL.Query().Get("barcode")
	if barcode == "" {
		writeError(w, r, "barcode is required", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}

	item, err := h.svc.LookupBarcode(r.Context(), principal(r.Context()), locationID, barcode)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, item)
}

// ── bottle templates and costs ──

// upsertTemplate handles PUT /api/locations/{locationID}/items/{itemID}/template.
func (h *Handler) upsertTemplate(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req struct {
		ContainerSizeML decimal.Decimal  `json:"container_size_ml"`
		EmptyWeightG    decimal.Decimal  `json:"empty_weight_g"`
		FullWeightG     decimal.Decimal  `json:"full_weight_g"`
		Density         *decimal.Decimal `json:"density"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tmpl, err := h.svc.UpsertBottleTemplate(r.Context(), principal(r.Context()), locationID, app.TemplateRequest{
		ItemID:          itemID,
		ContainerSizeML: req.ContainerSizeML,
		EmptyWeightG:    req.EmptyWeightG,
		FullWeightG:     req.FullWeightG,
		Density:         req.Density,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, tmpl)
}

// getTemplate handles GET /api/locations/{locationID}/items/{itemID}/template.
func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	tmpl, err := h.svc.GetBottleTemplate(r.Context(), principal(r.Context()), locationID, itemID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, tmpl)
}

// setItemCost handles POST /api/locations/{locationID}/items/{itemID}/costs.
func (h *Handler) setItemCost(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	var req struct {
		UnitCost      decimal.Decimal `json:"unit_cost"`
		Currency      string          `json:"currency"`
		EffectiveFrom *time.Time      `json:"effective_from"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	effectiveFrom := time.Now()
	if req.EffectiveFrom != nil {
		effectiveFrom = *req.EffectiveFrom
	}
	pp, err := h.svc.SetItemCost(r.Context(), principal(r.Context()), locationID, itemID, req.UnitCost, req.Currency, effectiveFrom)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, pp)
}

// ── public product guide ──

// productGuide handles GET /api/locations/{locationID}/guide. Public.
func (h *Handler) productGuide(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	guide, err := h.svc.PublicProductGuide(r.Context(), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, guide)
}
