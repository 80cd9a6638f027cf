package app

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/auth"
	"barstock/internal/core"
)

// ApplicationService is the single interface all transport adapters
// call. It decouples presentation from business logic and owns
// authorization: every operation receives the caller's token payload
// and checks tenant, role and location scope before touching a service.
// Cron operations take no principal; the transport gates them with the
// shared cron secret instead.
type ApplicationService interface {
	// ── auth ──

	// Login verifies credentials and issues an access/refresh token pair.
	Login(ctx context.Context, email, password, remoteIP string) (*auth.Session, error)

	// RefreshSession rotates a refresh token and mints a new access token.
	RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error)

	// Logout revokes a refresh token.
	Logout(ctx context.Context, refreshToken string) error

	// Me returns the caller's profile and role grants.
	Me(ctx context.Context, p *auth.UserPayload) (*MeResult, error)

	// ChangePassword rotates the caller's own password after verifying
	// the current one.
	ChangePassword(ctx context.Context, p *auth.UserPayload, currentPassword, newPassword string) error

	// ── businesses, locations, users ──

	// CreateBusiness provisions a new tenant. Platform admins only.
	CreateBusiness(ctx context.Context, p *auth.UserPayload, name string) (*core.Business, error)

	// GetBusiness returns the caller's business.
	GetBusiness(ctx context.Context, p *auth.UserPayload) (*core.Business, error)

	// CreateLocation adds a location to the caller's business.
	CreateLocation(ctx context.Context, p *auth.UserPayload, name, timezone string) (*core.Location, error)

	// ListLocations returns the business's locations.
	ListLocations(ctx context.Context, p *auth.UserPayload) ([]core.Location, error)

	// InviteUser creates a user in the caller's business with an initial
	// password and optional role grants.
	InviteUser(ctx context.Context, p *auth.UserPayload, req InviteUserRequest) (*core.User, error)

	// ListUsers returns the business's users.
	ListUsers(ctx context.Context, p *auth.UserPayload) ([]core.User, error)

	// GrantUserRole grants a role at one location.
	GrantUserRole(ctx context.Context, p *auth.UserPayload, userID, locationID int64, role core.Role) error

	// RevokeUserRole removes a user's role at one location.
	RevokeUserRole(ctx context.Context, p *auth.UserPayload, userID, locationID int64) error

	// DeactivateUser disables a user and revokes their refresh tokens.
	DeactivateUser(ctx context.Context, p *auth.UserPayload, userID int64) error

	// ── catalog ──

	// CreateCategory adds an inventory category to the business.
	CreateCategory(ctx context.Context, p *auth.UserPayload, req CategoryRequest) (*core.Category, error)

	// ListCategories returns the business's categories.
	ListCategories(ctx context.Context, p *auth.UserPayload) ([]core.Category, error)

	// CreateVendor adds a vendor to the business.
	CreateVendor(ctx context.Context, p *auth.UserPayload, req VendorRequest) (*core.Vendor, error)

	// ListVendors returns the business's active vendors.
	ListVendors(ctx context.Context, p *auth.UserPayload) ([]core.Vendor, error)

	// CreateItem adds an inventory item at a location.
	CreateItem(ctx context.Context, p *auth.UserPayload, req ItemRequest) (*core.InventoryItem, error)

	// UpdateItem edits an item's catalog fields.
	UpdateItem(ctx context.Context, p *auth.UserPayload, itemID int64, req ItemRequest) (*core.InventoryItem, error)

	// GetItem returns one item at a location.
	GetItem(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.InventoryItem, error)

	// ListItems returns a location's items.
	ListItems(ctx context.Context, p *auth.UserPayload, locationID int64, includeInactive bool) ([]core.InventoryItem, error)

	// ArchiveItem deactivates an item; its ledger history stays intact.
	ArchiveItem(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) error

	// LookupBarcode finds an item by barcode for count-mode scanning.
	LookupBarcode(ctx context.Context, p *auth.UserPayload, locationID int64, barcode string) (*core.InventoryItem, error)

	// UpsertBottleTemplate sets an item's tare weights.
	UpsertBottleTemplate(ctx context.Context, p *auth.UserPayload, locationID int64, req TemplateRequest) (*core.BottleTemplate, error)

	// GetBottleTemplate returns an item's tare weights.
	GetBottleTemplate(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.BottleTemplate, error)

	// SetItemCost opens a new cost-history row for an item.
	SetItemCost(ctx context.Context, p *auth.UserPayload, locationID, itemID int64, cost decimal.Decimal, currency string, effectiveFrom time.Time) (*core.PricePoint, error)

	// PublicProductGuide returns a location's guest-facing menu. No
	// authentication; served through the read cache when one is wired.
	PublicProductGuide(ctx context.Context, locationID int64) ([]core.GuideItem, error)

	// ── POS mappings, recipes, sales ingest ──

	// CreateMapping links a POS item to inventory from now on. Overlap
	// with an existing window fails with ERR_MAPPING_OVERLAP.
	CreateMapping(ctx context.Context, p *auth.UserPayload, req MappingRequest) (*core.POSItemMapping, error)

	// EndMapping closes a mapping window at the given instant.
	EndMapping(ctx context.Context, p *auth.UserPayload, locationID, mappingID int64, at time.Time) error

	// ListMappings returns a location's mappings, optionally only those
	// in effect right now.
	ListMappings(ctx context.Context, p *auth.UserPayload, locationID int64, activeOnly bool) ([]core.POSItemMapping, error)

	// SetSizeModifier stores a multiplicative pour factor for a POS size
	// modifier id.
	SetSizeModifier(ctx context.Context, p *auth.UserPayload, locationID int64, source core.SourceSystem, modifierID string, factor decimal.Decimal) error

	// CreateRecipe adds a recipe with its ingredient list.
	CreateRecipe(ctx context.Context, p *auth.UserPayload, req RecipeRequest) (*core.Recipe, error)

	// GetRecipe returns one recipe with ingredients.
	GetRecipe(ctx context.Context, p *auth.UserPayload, recipeID int64) (*core.Recipe, error)

	// ListRecipes returns the business's recipes.
	ListRecipes(ctx context.Context, p *auth.UserPayload) ([]core.Recipe, error)

	// ReplaceRecipeIngredients swaps a recipe's ingredient list. Future
	// depletion uses the new list; history is unaffected.
	ReplaceRecipeIngredients(ctx context.Context, p *auth.UserPayload, recipeID int64, ingredients []core.RecipeIngredient) (*core.Recipe, error)

	// DeactivateRecipe retires a recipe from new mappings.
	DeactivateRecipe(ctx context.Context, p *auth.UserPayload, recipeID int64) error

	// ListUnmappedItems returns POS items seen in sales with no mapping,
	// ordered by occurrence count.
	ListUnmappedItems(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.UnmappedItem, error)

	// IngestSalesLines stores raw sales lines idempotently.
	IngestSalesLines(ctx context.Context, p *auth.UserPayload, locationID int64, lines []core.SalesLine) (*core.IngestResult, error)

	// ImportSalesCSV parses a CSV batch (up to 50k rows) matching the
	// sales-line contract and ingests it idempotently.
	ImportSalesCSV(ctx context.Context, p *auth.UserPayload, locationID int64, r io.Reader) (*CSVImportResult, error)

	// ── draft system ──

	// CreateTapLine adds a tap at a location.
	CreateTapLine(ctx context.Context, p *auth.UserPayload, locationID int64, name string, position int) (*core.TapLine, error)

	// ListTapLines returns a location's taps.
	ListTapLines(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.TapLine, error)

	// RegisterKeg records a delivered keg, optionally booking the
	// matching receiving ledger entry.
	RegisterKeg(ctx context.Context, p *auth.UserPayload, req KegRequest) (*core.KegInstance, error)

	// ListKegs returns a location's kegs, optionally filtered by status.
	ListKegs(ctx context.Context, p *auth.UserPayload, locationID int64, statuses ...core.KegStatus) ([]core.KegInstance, error)

	// AssignTap puts a keg on a tap, displacing the current one.
	AssignTap(ctx context.Context, p *auth.UserPayload, locationID, tapID, kegID int64) (*core.TapAssignment, error)

	// EndTapAssignment takes the current keg off a tap.
	EndTapAssignment(ctx context.Context, p *auth.UserPayload, locationID, tapID int64) error

	// MarkKegKicked marks a keg empty.
	MarkKegKicked(ctx context.Context, p *auth.UserPayload, locationID, kegID int64) error

	// KegLevels returns estimated fill per active keg.
	KegLevels(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.KegLevel, error)

	// RecordTapPour books a metered pour against the keg on the tap.
	RecordTapPour(ctx context.Context, p *auth.UserPayload, locationID, tapID int64, volumeML decimal.Decimal) (*core.ConsumptionEvent, error)

	// ── ledger and expected on-hand ──

	// LedgerEntries queries the consumption ledger.
	LedgerEntries(ctx context.Context, p *auth.UserPayload, req LedgerQueryRequest) ([]core.ConsumptionEvent, error)

	// RecordAdjustment appends a manual adjustment (waste, breakage,
	// transfer, correction).
	RecordAdjustment(ctx context.Context, p *auth.UserPayload, req AdjustmentRequest) (*core.ConsumptionEvent, error)

	// RecordReceiving appends a receiving event outside the PO flow.
	RecordReceiving(ctx context.Context, p *auth.UserPayload, req ReceivingRequest) (*core.ConsumptionEvent, error)

	// ReverseEntry appends the inverse of an existing ledger entry.
	ReverseEntry(ctx context.Context, p *auth.UserPayload, locationID, entryID int64, reason string) (*core.ConsumptionEvent, error)

	// ExpectedOnHand returns the expected-stock snapshot for every
	// active item at a location, with confidence scores.
	ExpectedOnHand(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.ExpectedSnapshot, error)

	// ItemExpected returns one item's expected-stock snapshot.
	ItemExpected(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) (*core.ExpectedSnapshot, error)

	// ── counting sessions ──

	// OpenSession starts a counting session. One open session per
	// location.
	OpenSession(ctx context.Context, p *auth.UserPayload, locationID int64, sessionType core.SessionType) (*core.InventorySession, error)

	// GetSession returns a session with its lines and participants.
	GetSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64) (*SessionDetail, error)

	// ListSessions returns recent sessions at a location.
	ListSessions(ctx context.Context, p *auth.UserPayload, locationID int64, limit int) ([]core.InventorySession, error)

	// UpsertSessionLine records a count for one item in one sub-area.
	UpsertSessionLine(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, in core.SessionLineInput) (*core.SessionLine, error)

	// RemoveSessionLine deletes a count line from an open session.
	RemoveSessionLine(ctx context.Context, p *auth.UserPayload, locationID, sessionID, itemID int64, subArea string) error

	// JoinSession registers the caller as a session participant.
	JoinSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, subArea *string) error

	// CloseSession runs the gated close: variance outliers need reasons
	// or the whole close aborts with ERR_VARIANCE_REASONS_REQUIRED.
	CloseSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64, reasons map[int64]core.VarianceReason) (*core.CloseResult, error)

	// WatchSession subscribes to a session's live events. The returned
	// cancel must be called when the subscriber disconnects.
	WatchSession(ctx context.Context, p *auth.UserPayload, locationID, sessionID int64) (<-chan core.SessionEvent, func(), error)

	// ── par levels and purchasing ──

	// UpsertParLevel sets an item's par, minimum and reorder override.
	UpsertParLevel(ctx context.Context, p *auth.UserPayload, locationID int64, req ParLevelRequest) (*core.ParLevel, error)

	// DeleteParLevel removes an item's par configuration.
	DeleteParLevel(ctx context.Context, p *auth.UserPayload, locationID, itemID int64) error

	// ListParLevels returns a location's par configuration.
	ListParLevels(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.ParLevel, error)

	// ParSuggestions computes reorder quantities bundled by vendor.
	ParSuggestions(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.VendorBundle, error)

	// CreatePurchaseOrder opens a PO with explicit lines.
	CreatePurchaseOrder(ctx context.Context, p *auth.UserPayload, req CreatePORequest) (*core.PurchaseOrder, error)

	// CreatePOsFromSuggestions opens one PO per vendor bundle from the
	// current par suggestions.
	CreatePOsFromSuggestions(ctx context.Context, p *auth.UserPayload, locationID int64) ([]core.PurchaseOrder, error)

	// GetPurchaseOrder returns one PO with lines.
	GetPurchaseOrder(ctx context.Context, p *auth.UserPayload, locationID, poID int64) (*core.PurchaseOrder, error)

	// ListPurchaseOrders returns a location's POs, optionally by status.
	ListPurchaseOrders(ctx context.Context, p *auth.UserPayload, locationID int64, status core.POStatus) ([]core.PurchaseOrder, error)

	// RecordPickup books quantities received against an open PO and
	// writes the matching receiving entries.
	RecordPickup(ctx context.Context, p *auth.UserPayload, locationID, poID int64, picks []core.PickupLine) (*core.PurchaseOrder, error)

	// CancelPurchaseOrder cancels an unfulfilled PO.
	CancelPurchaseOrder(ctx context.Context, p *auth.UserPayload, locationID, poID int64) (*core.PurchaseOrder, error)

	// ── reports ──

	// VarianceHistory returns an item's per-session variance trail.
	VarianceHistory(ctx context.Context, p *auth.UserPayload, locationID, itemID int64, limit int) ([]core.VarianceHistoryRow, error)

	// UsageSummary returns depletion quantities and cost over a window.
	UsageSummary(ctx context.Context, p *auth.UserPayload, locationID int64, from, to time.Time) (*core.UsageReport, error)

	// TopVariance ranks items by average absolute variance.
	TopVariance(ctx context.Context, p *auth.UserPayload, locationID int64, since time.Time, limit int) ([]core.VarianceLeader, error)

	// ShrinkageFlags returns the pattern detector's current snapshot.
	ShrinkageFlags(ctx context.Context, p *auth.UserPayload, locationID int64, flaggedOnly bool) ([]core.ShrinkageFlag, error)

	// ── notifications ──

	// MyNotifications returns the caller's notifications.
	MyNotifications(ctx context.Context, p *auth.UserPayload, unreadOnly bool, limit int) ([]core.Notification, error)

	// MarkNotificationRead marks one of the caller's notifications read.
	MarkNotificationRead(ctx context.Context, p *auth.UserPayload, notificationID int64) error

	// MarkAllNotificationsRead marks all of the caller's notifications
	// read and returns how many changed.
	MarkAllNotificationsRead(ctx context.Context, p *auth.UserPayload) (int64, error)

	// ── settings and audit ──

	// BusinessSettings returns the business-level resolved settings.
	BusinessSettings(ctx context.Context, p *auth.UserPayload) (*core.Settings, error)

	// LocationSettings returns the fully resolved settings for a location.
	LocationSettings(ctx context.Context, p *auth.UserPayload, locationID int64) (*core.Settings, error)

	// UpdateBusinessSettings merges a JSON patch over the business document.
	UpdateBusinessSettings(ctx context.Context, p *auth.UserPayload, patch json.RawMessage) (*core.Settings, error)

	// UpdateLocationSettings merges a JSON patch over the location document.
	UpdateLocationSettings(ctx context.Context, p *auth.UserPayload, locationID int64, patch json.RawMessage) (*core.Settings, error)

	// AuditLog queries the business's audit trail.
	AuditLog(ctx context.Context, p *auth.UserPayload, filter core.AuditFilter) ([]core.AuditEntry, error)

	// ── cron (no principal; transport gates with the cron secret) ──

	// RunDepletion processes pending sales lines for every location and
	// ingest source.
	RunDepletion(ctx context.Context) (*CronRunResult, error)

	// RunAlerts evaluates alert rules for every business.
	RunAlerts(ctx context.Context) (int, error)

	// RunEndOfDay expires stale sessions everywhere and reconciles tap
	// flow against POS sales for locations whose local end-of-day hour
	// matches now. Safe to call repeatedly.
	RunEndOfDay(ctx context.Context, now time.Time) (*EndOfDayResult, error)

	// RunPatternScan rebuilds the shrinkage-pattern snapshot everywhere.
	RunPatternScan(ctx context.Context) (int, error)

	// RunImports pulls sales lines from the registered POS importers and
	// ingests them. A no-op when none are registered.
	RunImports(ctx context.Context) (*ImportRunResult, error)

	// RefreshReportingViews refreshes the materialized reporting views.
	RefreshReportingViews(ctx context.Context) error
}
