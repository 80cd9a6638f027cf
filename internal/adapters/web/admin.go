package web

import (
	"encoding/json"
	"net/http"

	"barstock/internal/app"
	"barstock/internal/core"
)

// ── businesses and locations ──

// createBusiness handles POST /api/businesses. Platform admins only.
func (h *Handler) createBusiness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := h.svc.CreateBusiness(r.Context(), principal(r.Context()), req.Name)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, b)
}

// getBusiness handles GET /api/business — the caller's own tenant.
func (h *Handler) getBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBusiness(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, b)
}

// createLocation handles POST /api/locations.
func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	loc, err := h.svc.CreateLocation(r.Context(), principal(r.Context()), req.Name, req.Timezone)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, loc)
}

// listLocations handles GET /api/locations.
func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.svc.ListLocations(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, locs)
}

// ── users ──

// inviteUser handles POST /api/users.
func (h *Handler) inviteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string              `json:"email"`
		DisplayName string              `json:"display_name"`
		Password    string              `json:"password"`
		Roles       map[int64]core.Role `json:"roles"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.InviteUser(r.Context(), principal(r.Context()), app.InviteUserRequest{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Roles:       req.Roles,
	})
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, u)
}

// listUsers handles GET /api/users.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, users)
}

// grantRole handles POST /api/users/{userID}/roles.
func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req struct {
		LocationID int64     `json:"location_id"`
		Role       core.Role `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.GrantUserRole(r.Context(), principal(r.Context()), userID, req.LocationID, req.Role); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// revokeRole handles DELETE /api/users/{userID}/roles/{locationID}.
func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	if err := h.svc.RevokeUserRole(r.Context(), principal(r.Context()), userID, locationID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deactivateUser handles POST /api/users/{userID}/deactivate.
func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.svc.DeactivateUser(r.Context(), principal(r.Context()), userID); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── notifications ──

// myNotifications handles GET /api/notifications.
func (h *Handler) myNotifications(w http.ResponseWriter, r *http.Request) {
	unread := queryBool(r, "unread")
	limit := queryInt(r, "limit", 50)

	list, err := h.svc.MyNotifications(r.Context(), principal(r.Context()), unread, limit)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, list)
}

// markNotificationRead handles POST /api/notifications/{notificationID}/read.
func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notificationID")
	if !ok {
		return
	}

	if err := h.svc.MarkNotificationRead(r.Context(), principal(r.Context()), id); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// markAllNotificationsRead handles POST /api/notifications/read-all.
func (h *Handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllNotificationsRead(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, map[string]int64{"marked": n})
}

// ── settings ──

// businessSettings handles GET /api/settings.
func (h *Handler) businessSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.BusinessSettings(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, s)
}

// updateBusinessSettings handles PATCH /api/settings. The body is a
// partial settings document merged over the stored one.
func (h *Handler) updateBusinessSettings(w http.ResponseWriter, r *http.Request) {
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}

	s, err := h.svc.UpdateBusinessSettings(r.Context(), principal(r.Context()), patch)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, s)
}

// locationSettings handles GET /api/locations/{locationID}/settings.
func (h *Handler) locationSettings(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}

	s, err := h.svc.LocationSettings(r.Context(), principal(r.Context()), locationID)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, s)
}

// updateLocationSettings handles PATCH /api/locations/{locationID}/settings.
func (h *Handler) updateLocationSettings(w http.ResponseWriter, r *http.Request) {
	locationID, ok := pathID(w, r, "locationID")
	if !ok {
		return
	}
	var patch json.RawMessage
	if !decodeJSON(w, r, &patch) {
		return
	}

	s, err := h.svc.UpdateLocationSettings(r.Context(), principal(r.Context()), locationID, patch)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, s)
}

// ── audit ──

// auditLog handles GET /api/audit.
func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	filter := core.AuditFilter{
		ObjectType: r.URL.Query().Get("object_type"),
		ObjectID:   r.URL.Query().Get("object_id"),
		ActorID:    int64(queryInt(r, "actor_id", 0)),
		Limit:      queryInt(r, "limit", 100),
	}
	if since, err := queryTime(r, "since"); err != nil {
		writeError(w, r, "invalid since", "ERR_VALIDATION", http.StatusBadRequest)
		return
	} else if since != nil {
		filter.Since = *since
	}

	entries, err := h.svc.AuditLog(r.Context(), principal(r.Context()), filter)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, entries)
}
