package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"barstock/internal/app"
	"barstock/internal/auth"
)

// Handler holds the ApplicationService, the token parser and the router.
type Handler struct {
	svc        app.ApplicationService
	auth       *auth.Service
	log        *zap.Logger
	cronSecret string
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, authsvc *auth.Service, cronSecret, allowedOrigins string, log *zap.Logger) http.Handler {
	h := &Handler{
		svc:        svc,
		auth:       authsvc,
		log:        log,
		cronSecret: cronSecret,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	// ── Public ──
	r.Get("/api/health", h.health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 12)) // 4 KB: credentials and tokens only
		r.Post("/api/auth/login", h.login)
		r.Post("/api/auth/refresh", h.refresh)
		r.Post("/api/auth/logout", h.logout)
	})

	// Guest-facing product guide. No authentication: it is the menu QR
	// codes point at.
	r.Get("/api/locations/{locationID}/guide", h.productGuide)

	// ── Cron (gated by the shared secret header) ──
	r.Group(func(r chi.Router) {
		r.Use(h.RequireCronSecret)
		r.Post("/cron/depletion", h.cronDepletion)
		r.Post("/cron/alerts", h.cronAlerts)
		r.Post("/cron/end-of-day", h.cronEndOfDay)
		r.Post("/cron/patterns", h.cronPatterns)
		r.Post("/cron/imports", h.cronImports)
		r.Post("/cron/reports", h.cronReports)
	})

	// ── Protected API ──
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		// CSV import carries whole POS exports; everything else gets 1 MB.
		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(16 << 20))
			r.Post("/api/locations/{locationID}/sales/csv", h.importSalesCSV)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(1 << 20))

			// Auth
			r.Get("/api/auth/me", h.me)
			r.Post("/api/auth/password", h.changePassword)

			// Businesses, locations, users
			r.Post("/api/businesses", h.createBusiness)
			r.Get("/api/business", h.getBusiness)
			r.Post("/api/locations", h.createLocation)
			r.Get("/api/locations", h.listLocations)
			r.Post("/api/users", h.inviteUser)
			r.Get("/api/users", h.listUsers)
			r.Post("/api/users/{userID}/roles", h.grantRole)
			r.Delete("/api/users/{userID}/roles/{locationID}", h.revokeRole)
			r.Post("/api/users/{userID}/deactivate", h.deactivateUser)

			// Catalog
			r.Post("/api/categories", h.createCategory)
			r.Get("/api/categories", h.listCategories)
			r.Post("/api/vendors", h.createVendor)
			r.Get("/api/vendors", h.listVendors)
			r.Post("/api/locations/{locationID}/items", h.createItem)
			r.Get("/api/locations/{locationID}/items", h.listItems)
			r.Get("/api/locations/{locationID}/items/lookup", h.lookupBarcode)
			r.Get("/api/locations/{locationID}/items/{itemID}", h.getItem)
			r.Put("/api/locations/{locationID}/items/{itemID}", h.updateItem)
			r.Post("/api/locations/{locationID}/items/{itemID}/archive", h.archiveItem)
			r.Put("/api/locations/{locationID}/items/{itemID}/template", h.upsertTemplate)
			r.Get("/api/locations/{locationID}/items/{itemID}/template", h.getTemplate)
			r.Post("/api/locations/{locationID}/items/{itemID}/costs", h.setItemCost)

			// POS mappings, recipes, sales ingest
			r.Post("/api/locations/{locationID}/mappings", h.createMapping)
			r.Get("/api/locations/{locationID}/mappings", h.listMappings)
			r.Post("/api/locations/{locationID}/mappings/{mappingID}/end", h.endMapping)
			r.Put("/api/locations/{locationID}/size-modifiers", h.setSizeModifier)
			r.Get("/api/locations/{locationID}/unmapped", h.listUnmapped)
			r.Post("/api/locations/{locationID}/sales", h.ingestSales)
			r.Post("/api/recipes", h.createRecipe)
			r.Get("/api/recipes", h.listRecipes)
			r.Get("/api/recipes/{recipeID}", h.getRecipe)
			r.Put("/api/recipes/{recipeID}/ingredients", h.replaceIngredients)
			r.Post("/api/recipes/{recipeID}/deactivate", h.deactivateRecipe)

			// Draft system
			r.Post("/api/locations/{locationID}/taps", h.createTapLine)
			r.Get("/api/locations/{locationID}/taps", h.listTapLines)
			r.Post("/api/locations/{locationID}/taps/{tapID}/assign", h.assignTap)
			r.Post("/api/locations/{locationID}/taps/{tapID}/unassign", h.endTapAssignment)
			r.Post("/api/locations/{locationID}/taps/{tapID}/pour", h.recordPour)
			r.Post("/api/locations/{locationID}/kegs", h.registerKeg)
			r.Get("/api/locations/{locationID}/kegs", h.listKegs)
			r.Get("/api/locations/{locationID}/kegs/levels", h.kegLevels)
			r.Post("/api/locations/{locationID}/kegs/{kegID}/kick", h.kickKeg)

			// Ledger and expected on-hand
			r.Get("/api/locations/{locationID}/ledger", h.ledgerEntries)
			r.Post("/api/locations/{locationID}/ledger/adjustments", h.recordAdjustment)
			r.Post("/api/locations/{locationID}/ledger/receivings", h.recordReceiving)
			r.Post("/api/locations/{locationID}/ledger/{entryID}/reverse", h.reverseEntry)
			r.Get("/api/locations/{locationID}/expected", h.expectedOnHand)
			r.Get("/api/locations/{locationID}/expected/{itemID}", h.itemExpected)

			// Counting sessions
			r.Post("/api/locations/{locationID}/sessions", h.openSession)
			r.Get("/api/locations/{locationID}/sessions", h.listSessions)
			r.Get("/api/locations/{locationID}/sessions/{sessionID}", h.getSession)
			r.Post("/api/locations/{locationID}/sessions/{sessionID}/join", h.joinSession)
			r.Put("/api/locations/{locationID}/sessions/{sessionID}/lines", h.upsertSessionLine)
			r.Delete("/api/locations/{locationID}/sessions/{sessionID}/lines/{itemID}", h.removeSessionLine)
			r.Post("/api/locations/{locationID}/sessions/{sessionID}/close", h.closeSession)
			r.Get("/api/locations/{locationID}/sessions/{sessionID}/events", h.sessionEvents)

			// Par levels and purchasing
			r.Put("/api/locations/{locationID}/par-levels", h.upsertParLevel)
			r.Get("/api/locations/{locationID}/par-levels", h.listParLevels)
			r.Get("/api/locations/{locationID}/par-levels/suggestions", h.parSuggestions)
			r.Delete("/api/locations/{locationID}/par-levels/{itemID}", h.deleteParLevel)
			r.Post("/api/locations/{locationID}/purchase-orders", h.createPO)
			r.Post("/api/locations/{locationID}/purchase-orders/from-suggestions", h.createPOsFromSuggestions)
			r.Get("/api/locations/{locationID}/purchase-orders", h.listPOs)
			r.Get("/api/locations/{locationID}/purchase-orders/{poID}", h.getPO)
			r.Post("/api/locations/{locationID}/purchase-orders/{poID}/pickup", h.recordPickup)
			r.Post("/api/locations/{locationID}/purchase-orders/{poID}/cancel", h.cancelPO)

			// Reports
			r.Get("/api/locations/{locationID}/reports/variance-history", h.varianceHistory)
			r.Get("/api/locations/{locationID}/reports/usage", h.usageSummary)
			r.Get("/api/locations/{locationID}/reports/top-variance", h.topVariance)
			r.Get("/api/locations/{locationID}/reports/shrinkage", h.shrinkageFlags)

			// Notifications
			r.Get("/api/notifications", h.myNotifications)
			r.Post("/api/notifications/{notificationID}/read", h.markNotificationRead)
			r.Post("/api/notifications/read-all", h.markAllNotificationsRead)

			// Settings and audit
			r.Get("/api/settings", h.businessSettings)
			r.Patch("/api/settings", h.updateBusinessSettings)
			r.Get("/api/locations/{locationID}/settings", h.locationSettings)
			r.Patch("/api/locations/{locationID}/settings", h.updateLocationSettings)
			r.Get("/api/audit", h.auditLog)
		})
	})

	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// pathID extracts a required int64 URL parameter, writing a 400 and
// returning false when it is missing or malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name, "ERR_VALIDATION", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt returns an integer query parameter, or def when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryBool reports whether a query parameter is "true" or "1".
func queryBool(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

// queryTime parses a query parameter as RFC 3339 or as a bare date.
// Returns nil when the parameter is absent.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "ERR_REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "ERR_VALIDATION", http.StatusBadRequest)
		return false
	}
	return true
}
