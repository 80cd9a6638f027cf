package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"barstock/internal/core"
	"barstock/internal/metrics"
)

// ── counting sessions ──

// openSession handles POST /api/locations/{locationID}/sessions.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var req struct {
		Type core.SessionType `json:"type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.OpenSession(r.Context(), principal(r.Context()), locationID, req.Type)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, sess)
}

// listSessions handles GET /api/locations/{locationID}/sessions.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), principal(r.Context()), locationID, queryInt(r, "limit", 20))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, sessions)
}

// getSession handles GET /api/locations/{locationID}/sessions/{sessionID}.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	detail, err := h.svc.GetSession(r.Context(), principal(r.Context()), locationID, sessionID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, detail)
}

// joinSession handles POST /api/locations/{locationID}/sessions/{sessionID}/join.
func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	var req struct {
		SubArea *string `json:"sub_area"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.JoinSession(r.Context(), principal(r.Context()), locationID, sessionID, req.SubArea); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// upsertSessionLine handles PUT /api/locations/{locationID}/sessions/{sessionID}/lines.
func (h *Handler) upsertSessionLine(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	var in core.SessionLineInput
	if !decodeJSON(w, r, &in) {
		return
	}

	line, err := h.svc.UpsertSessionLine(r.Context(), principal(r.Context()), locationID, sessionID, in)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, line)
}

// removeSessionLine handles DELETE /api/locations/{locationID}/sessions/{sessionID}/lines/{itemID}?sub_area=….
func (h *Handler) removeSessionLine(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	subArea := r.URL.Query().Get("sub_area")
	if err := h.svc.RemoveSessionLine(r.Context(), principal(r.Context()), locationID, sessionID, itemID, subArea); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// closeSession handles POST /api/locations/{locationID}/sessions/{sessionID}/close.
// Variance outliers without a reason abort the whole close; the 422
// response carries the offending item ids.
func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	var req struct {
		Reasons map[int64]core.VarianceReason `json:"reasons"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.CloseSession(r.Context(), principal(r.Context()), locationID, sessionID, req.Reasons)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── live session stream ──

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth is the bearer token, not a cookie, so cross-origin dials
	// carry no ambient credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sessionEvents handles GET /api/locations/{locationID}/sessions/{sessionID}/events.
// It upgrades to a websocket and streams the session's live events until
// the client disconnects.
func (h *Handler) sessionEvents(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	events, cancel, err := h.svc.WatchSession(r.Context(), principal(r.Context()), locationID, sessionID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer cancel()

	metrics.SessionStreams.Inc()
	defer metrics.SessionStreams.Dec()

	// The client never sends data frames, but a read loop is still
	// required to process close and pong frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
