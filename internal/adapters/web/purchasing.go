package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/app"
	"barstock/internal/core"
)

// ── par levels ──

// upsertParLevel handles PUT /api/locations/{locationID}/par-levels.
func (h *Handler) upsertParLevel(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		ItemID          int64            `json:"item_id"`
		VendorID        *int64           `json:"vendor_id"`
		ParLevel        decimal.Decimal  `json:"par_level"`
		MinLevel        decimal.Decimal  `json:"min_level"`
		ReorderQty      *decimal.Decimal `json:"reorder_qty"`
		ParUOM          core.ParUOM      `json:"par_uom"`
		LeadTimeDays    int              `json:"lead_time_days"`
		SafetyStockDays int              `json:"safety_stock_days"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	par, err := h.svc.UpsertParLevel(r.Context(), principal(r.Context()), locationID, app.ParLevelRequest{
		ItemID:          req.ItemID,
		VendorID:        req.VendorID,
		ParLevel:        req.ParLevel,
		MinLevel:        req.MinLevel,
		ReorderQty:      req.ReorderQty,
		ParUOM:          req.ParUOM,
		LeadTimeDays:    req.LeadTimeDays,
		SafetyStockDays: req.SafetyStockDays,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, par)
}

// listParLevels handles GET /api/locations/{locationID}/par-levels.
func (h *Handler) listParLevels(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	pars, err := h.svc.ListParLevels(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, pars)
}

// deleteParLevel handles DELETE /api/locations/{locationID}/par-levels/{itemID}.
func (h *Handler) deleteParLevel(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	if err := h.svc.DeleteParLevel(r.Context(), principal(r.Context()), locationID, itemID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parSuggestions handles GET /api/locations/{locationID}/par-levels/suggestions.
func (h *Handler) parSuggestions(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	bundles, err := h.svc.ParSuggestions(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, bundles)
}

// ── purchase orders ──

// createPO handles POST /api/locations/{locationID}/purchase-orders.
func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		VendorID int64              `json:"vendor_id"`
		Notes    string             `json:"notes"`
		Lines    []core.POLineInput `json:"lines"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	po, err := h.svc.CreatePurchaseOrder(r.Context(), principal(r.Context()), app.CreatePORequest{
		LocationID: locationID,
		VendorID:   req.VendorID,
		Notes:      req.Notes,
		Lines:      req.Lines,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, po)
}

// createPOsFromSuggestions handles POST /api/locations/{locationID}/purchase-orders/from-suggestions.
func (h *Handler) createPOsFromSuggestions(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	pos, err := h.svc.CreatePOsFromSuggestions(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, pos)
}

// getPO handles GET /api/locations/{locationID}/purchase-orders/{poID}.
func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}

	po, err := h.svc.GetPurchaseOrder(r.Context(), principal(r.Context()), locationID, poID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, po)
}

// listPOs handles GET /api/locations/{locationID}/purchase-orders?status=open.
func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	pos, err := h.svc.ListPurchaseOrders(r.Context(), principal(r.Context()), locationID, core.POStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, pos)
}

// recordPickup handles POST /api/locations/{locationID}/purchase-orders/{poID}/pickup.
func (h *Handler) recordPickup(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}
	var req struct {
		Picks []core.PickupLine `json:"picks"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	po, err := h.svc.RecordPickup(r.Context(), principal(r.Context()), locationID, poID, req.Picks)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, po)
}

// cancelPO handles POST /api/locations/{locationID}/purchase-orders/{poID}/cancel.
func (h *Handler) cancelPO(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	poID, ok := pathID(w, r, "poID")
	if !ok {
		return
	}

	po, err := h.svc.CancelPurchaseOrder(r.Context(), principal(r.Context()), locationID, poID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, po)
}

// ── reports ──

// varianceHistory handles GET /api/locations/{locationID}/reports/variance-history?item_id=…
func (h *Handler) varianceHistory(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID := int64(queryInt(r, "item_id", 0))
	if itemID <= 0 {
		writeError(w, r, "item_id is required", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}

	rows, err := h.svc.VarianceHistory(r.Context(), principal(r.Context()), locationID, itemID, queryInt(r, "limit", 30))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, rows)
}

// usageSummary handles GET /api/locations/{locationID}/reports/usage?from=…&to=…
// The window defaults to the last 30 days.
func (h *Handler) usageSummary(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	fromP, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, "invalid from", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}
	toP, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, "invalid to", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}
	to := time.Now()
	if toP != nil {
		to = *toP
	}
	from := to.AddDate(0, 0, -30)
	if fromP != nil {
		from = *fromP
	}

	report, err := h.svc.UsageSummary(r.Context(), principal(r.Context()), locationID, from, to)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, report)
}

// topVariance handles GET /api/locations/{locationID}/reports/top-variance?since=…&limit=…
func (h *Handler) topVariance(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	sinceP, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, "invalid since", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}
	since := time.Now().AddDate(0, 0, -90)
	if sinceP != nil {
		since = *sinceP
	}

	leaders, err := h.svc.TopVariance(r.Context(), principal(r.Context()), locationID, since, queryInt(r, "limit", 10))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, leaders)
}

// shrinkageFlags handles GET /api/locations/{locationID}/reports/shrinkage?flagged=true.
func (h *Handler) shrinkageFlags(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	flags, err := h.svc.ShrinkageFlags(r.Context(), principal(r.Context()), locationID, queryBool(r, "flagged"))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, flags)
}
