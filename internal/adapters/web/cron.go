package web

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// RequireCronSecret gates the /cron endpoints. The scheduler presents
// the shared secret in X-Cron-Secret; an unset secret disables the
// endpoints entirely rather than leaving them open.
func (h *Handler) RequireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get("X-Cron-Secret")
		if h.cronSecret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.cronSecret)) != 1 {
			writeError(w, r, "invalid cron secret", "ERR_FORBIDDEN", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cronDepletion handles POST /cron/depletion.
func (h *Handler) cronDepletion(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunDepletion(r.Context())
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// cronAlerts handles POST /cron/alerts.
func (h *Handler) cronAlerts(w http.ResponseWriter, r *http.Request) {
	fired, err := h.svc.RunAlerts(r.Context())
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"alerts_fired": fired})
}

// cronEndOfDay handles POST /cron/end-of-day.
func (h *Handler) cronEndOfDay(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunEndOfDay(r.Context(), time.Now())
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// cronPatterns handles POST /cron/patterns.
func (h *Handler) cronPatterns(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.RunPatternScan(r.Context())
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"locations_scanned": locations})
}

// cronImports handles POST /cron/imports.
func (h *Handler) cronImports(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunImports(r.Context())
	if err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, result)
}

// cronReports handles POST /cron/reports — refreshes the materialized
// reporting views.
func (h *Handler) cronReports(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RefreshReportingViews(r.Context()); err != nil {
		writeDomain(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "refreshed"})
}
