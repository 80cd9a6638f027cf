package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"barstock/internal/auth"
)

type principalKey struct{}

// principal returns the authenticated caller stored by RequireAuth, or nil.
func principal(ctx context.Context) *auth.UserPayload {
	v, _ := ctx.Value(principalKey{}).(*auth.UserPayload)
	return v
}

// RequireAuth validates the bearer access token and injects the caller's
// payload into the request context. Browsers cannot set headers on a
// websocket dial, so an access_token query parameter is accepted as a
// fallback for the session event stream.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			raw = r.URL.Query().Get("access_token")
		}
		if raw == "" {
			writeError(w, r, "authentication required", "ERR_UNAUTHENTICATED", http.StatusUnauthorized)
			return
		}

		payload, err := h.auth.ParseAccess(raw)
		if err != nil {
			writeDomain(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// remoteIP extracts the client address for the login throttle. The
// service sits behind a reverse proxy in production, so a forwarded
// header wins over the socket address.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password, remoteIP(r))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, session)
}

// refresh handles POST /api/auth/refresh — rotates the refresh token.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, session)
}

// logout handles POST /api/auth/logout — revokes the refresh token.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// me handles GET /api/auth/me.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Me(r.Context(), principal(r.Context()))
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// changePassword handles POST /api/auth/password.
func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), principal(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		writeDomain(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
