package web

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/app"
	"barstock/internal/core"
)

// ── consumption ledger ──

// ledgerEntries handles GET /api/locations/{locationID}/ledger.
func (h *Handler) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	req := app.LedgerQueryRequest{
		LocationID: locationID,
		Limit:      queryInt(r, "limit", 100),
	}
	if v := queryInt(r, "item_id", 0); v > 0 {
		id := int64(v)
		req.ItemID = &id
	}
	if v := r.URL.Query().Get("event_type"); v != "" {
		et := core.EventType(v)
		req.EventType = &et
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, "invalid from", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, "invalid to", "ERR_VALIDATION", http.StatusBadRequest)
		return
	}
	req.From, req.To = from, to

	entries, err := h.svc.LedgerEntries(r.Context(), principal(r.Context()), req)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// recordAdjustment handles POST /api/locations/{locationID}/ledger/adjustments.
func (h *Handler) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		ItemID int64                `json:"item_id"`
		Delta  decimal.Decimal      `json:"delta"`
		UOM    core.UOM             `json:"uom"`
		Reason *core.VarianceReason `json:"reason"`
		Notes  string               `json:"notes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.svc.RecordAdjustment(r.Context(), principal(r.Context()), app.AdjustmentRequest{
		LocationID: locationID,
		ItemID:     req.ItemID,
		Delta:      req.Delta,
		UOM:        req.UOM,
		Reason:     req.Reason,
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, ev)
}

// recordReceiving handles POST /api/locations/{locationID}/ledger/receivings.
func (h *Handler) recordReceiving(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		ItemID     int64           `json:"item_id"`
		Qty        decimal.Decimal `json:"qty"`
		UOM        core.UOM        `json:"uom"`
		ReceivedAt *time.Time      `json:"received_at"`
		Notes      string          `json:"notes"`
		DedupeKey  *string         `json:"dedupe_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.svc.RecordReceiving(r.Context(), principal(r.Context()), app.ReceivingRequest{
		LocationID: locationID,
		ItemID:     req.ItemID,
		Qty:        req.Qty,
		UOM:        req.UOM,
		ReceivedAt: req.ReceivedAt,
		Notes:      req.Notes,
		DedupeKey:  req.DedupeKey,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, ev)
}

// reverseEntry handles POST /api/locations/{locationID}/ledger/{entryID}/reverse.
func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.svc.ReverseEntry(r.Context(), principal(r.Context()), locationID, entryID, req.Reason)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, ev)
}

// ── expected on-hand ──

// expectedOnHand handles GET /api/locations/{locationID}/expected.
func (h *Handler) expectedOnHand(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	snaps, err := h.svc.ExpectedOnHand(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, snaps)
}

// itemExpected handles GET /api/locations/{locationID}/expected/{itemID}.
func (h *Handler) itemExpected(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	snap, err := h.svc.ItemExpected(r.Context(), principal(r.Context()), locationID, itemID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, snap)
}
