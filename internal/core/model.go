package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ── tenancy ──

type Role string

const (
	RoleStaff         Role = "staff"
	RoleManager       Role = "manager"
	RoleCurator       Role = "curator"
	RoleAccounting    Role = "accounting"
	RoleBusinessAdmin Role = "business_admin"
	RolePlatformAdmin Role = "platform_admin"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleStaff, RoleManager, RoleCurator, RoleAccounting, RoleBusinessAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

var roleRank = map[Role]int{
	RoleStaff:         1,
	RoleManager:       2,
	RoleCurator:       3,
	RoleAccounting:    4,
	RoleBusinessAdmin: 5,
	RolePlatformAdmin: 6,
}

// RoleAtLeast reports whether have ranks at or above want in the role
// hierarchy. Unknown roles rank below staff.
func RoleAtLeast(have, want Role) bool {
	return roleRank[have] >= roleRank[want]
}

// MaxRole returns the higher-ranked of the two roles.
func MaxRole(a, b Role) Role {
	if roleRank[b] > roleRank[a] {
		return b
	}
	return a
}

type Business struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"business_id"`
	Name       string    `json:"name"`
	Timezone   string    `json:"timezone"`
	CreatedAt  time.Time `json:"created_at"`
}

type User struct {
	ID           int64     `json:"id"`
	BusinessID   int64     `json:"business_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserLocation grants a user one role at one location. A user's role can
// differ between locations of the same business.
type UserLocation struct {
	UserID     int64 `json:"user_id"`
	LocationID int64 `json:"location_id"`
	Role       Role  `json:"role"`
}

// ── catalog ──

type CountingMethod string

const (
	MethodWeighable CountingMethod = "weighable"
	MethodUnitCount CountingMethod = "unit_count"
	MethodKeg       CountingMethod = "keg"
)

type UOM string

const (
	UOMUnit     UOM = "unit"
	UOMML       UOM = "ml"
	UOMOunce    UOM = "oz"
	UOMGram     UOM = "g"
	UOMKilogram UOM = "kg"
)

type Category struct {
	ID             int64            `json:"id"`
	BusinessID     int64            `json:"business_id"`
	Name           string           `json:"name"`
	CountingMethod CountingMethod   `json:"counting_method"`
	DefaultDensity *decimal.Decimal `json:"default_density,omitempty"` // g per ml
}

type Vendor struct {
	ID           int64  `json:"id"`
	BusinessID   int64  `json:"business_id"`
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
	Phone        string `json:"phone"`
	IsActive     bool   `json:"is_active"`
}

type InventoryItem struct {
	ID              int64            `json:"id"`
	LocationID      int64            `json:"location_id"`
	Name            string           `json:"name"`
	Barcode         *string          `json:"barcode,omitempty"`
	CategoryID      int64            `json:"category_id"`
	BaseUOM         UOM              `json:"base_uom"`
	ContainerSizeML *decimal.Decimal `json:"container_size_ml,omitempty"`
	PackSize        *int             `json:"pack_size,omitempty"`
	VendorID        *int64           `json:"vendor_id,omitempty"`
	ShowInGuide     bool             `json:"show_in_guide"`
	IsActive        bool             `json:"is_active"`
	CreatedAt       time.Time        `json:"created_at"`
}

// BottleTemplate holds the tare weights used to turn a scale reading
// into remaining volume for weighable items.
type BottleTemplate struct {
	ID              int64            `json:"id"`
	ItemID          int64            `json:"item_id"`
	ContainerSizeML decimal.Decimal  `json:"container_size_ml"`
	EmptyWeightG    decimal.Decimal  `json:"empty_weight_g"`
	FullWeightG     decimal.Decimal  `json:"full_weight_g"`
	Density         *decimal.Decimal `json:"density,omitempty"` // g per ml, overrides category default
}

// PricePoint is one row of an item's cost history. The open-ended row
// (EffectiveTo nil) is the current cost.
type PricePoint struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Currency      string          `json:"currency"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
}

// ── consumption ledger ──

type EventType string

const (
	EventPOSSale         EventType = "pos_sale"
	EventTapFlow         EventType = "tap_flow"
	EventReceiving       EventType = "receiving"
	EventTransferIn      EventType = "transfer_in"
	EventTransferOut     EventType = "transfer_out"
	EventManualAdjust    EventType = "manual_adjustment"
	EventCountAdjustment EventType = "inventory_count_adjustment"
	EventWaste           EventType = "waste"
)

type SourceSystem string

const (
	SourceToast        SourceSystem = "toast"
	SourceSquare       SourceSystem = "square"
	SourceManual       SourceSystem = "manual"
	SourceScale        SourceSystem = "scale"
	SourceTapMeter     SourceSystem = "tap_meter"
	SourceCSVImport    SourceSystem = "csv_import"
	SourceSessionClose SourceSystem = "session_close"
)

type ConfidenceLevel string

const (
	ConfidenceMeasured    ConfidenceLevel = "measured"
	ConfidenceTheoretical ConfidenceLevel = "theoretical"
	ConfidenceEstimated   ConfidenceLevel = "estimated"
)

type VarianceReason string

const (
	ReasonWasteFoam      VarianceReason = "waste_foam"
	ReasonComp           VarianceReason = "comp"
	ReasonStaffDrink     VarianceReason = "staff_drink"
	ReasonTheft          VarianceReason = "theft"
	ReasonBreakage       VarianceReason = "breakage"
	ReasonLineCleaning   VarianceReason = "line_cleaning"
	ReasonTransfer       VarianceReason = "transfer"
	ReasonUnknown        VarianceReason = "unknown"
	ReasonSessionExpired VarianceReason = "session_expired"
)

func ValidVarianceReason(r VarianceReason) bool {
	switch r {
	case ReasonWasteFoam, ReasonComp, ReasonStaffDrink, ReasonTheft, ReasonBreakage,
		ReasonLineCleaning, ReasonTransfer, ReasonUnknown, ReasonSessionExpired:
		return true
	}
	return false
}

// ConsumptionEvent is one immutable ledger row. QuantityDelta is signed:
// negative depletes, positive restores. Rows are never updated or
// deleted; corrections append an inverse row.
type ConsumptionEvent struct {
	ID             int64           `json:"id"`
	LocationID     int64           `json:"location_id"`
	ItemID         int64           `json:"item_id"`
	EventType      EventType       `json:"event_type"`
	SourceSystem   SourceSystem    `json:"source_system"`
	QuantityDelta  decimal.Decimal `json:"quantity_delta"`
	UOM            UOM             `json:"uom"`
	Confidence     ConfidenceLevel `json:"confidence"`
	EventTS        time.Time       `json:"event_ts"`
	CreatedTS      time.Time       `json:"created_ts"`
	SessionID      *int64          `json:"session_id,omitempty"`
	RecipeID       *int64          `json:"recipe_id,omitempty"`
	SalesLineID    *int64          `json:"sales_line_id,omitempty"`
	DedupeKey      *string         `json:"dedupe_key,omitempty"`
	VarianceReason *VarianceReason `json:"variance_reason,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
}

// ── POS mapping and sales ──

type MappingMode string

const (
	MapDirect     MappingMode = "direct"
	MapDraftByTap MappingMode = "draft_by_tap"
	MapRecipe     MappingMode = "recipe"
	MapSplitRatio MappingMode = "split_ratio"
)

// POSItemMapping links one POS menu item to the inventory it depletes.
// Which reference fields are set depends on Mode:
//
//	direct       ItemID + PourQty/PourUOM
//	draft_by_tap TapID + PourQty/PourUOM
//	recipe       RecipeID
//	split_ratio  RecipeID + PourQty/PourUOM (ingredient quantities are ratio weights)
//
// Mappings are versioned by [EffectiveFrom, EffectiveTo); depletion
// resolves against the version in effect at the sale's sold_at.
type POSItemMapping struct {
	ID            int64            `json:"id"`
	LocationID    int64            `json:"location_id"`
	SourceSystem  SourceSystem     `json:"source_system"`
	POSItemID     string           `json:"pos_item_id"`
	POSItemName   string           `json:"pos_item_name"`
	Mode          MappingMode      `json:"mode"`
	ItemID        *int64           `json:"item_id,omitempty"`
	TapID         *int64           `json:"tap_id,omitempty"`
	RecipeID      *int64           `json:"recipe_id,omitempty"`
	PourQty       *decimal.Decimal `json:"pour_qty,omitempty"`
	PourUOM       *UOM             `json:"pour_uom,omitempty"`
	EffectiveFrom time.Time        `json:"effective_from"`
	EffectiveTo   *time.Time       `json:"effective_to,omitempty"`
}

type Recipe struct {
	ID          int64              `json:"id"`
	BusinessID  int64              `json:"business_id"`
	Name        string             `json:"name"`
	IsActive    bool               `json:"is_active"`
	Ingredients []RecipeIngredient `json:"ingredients,omitempty"`
}

type RecipeIngredient struct {
	ID       int64           `json:"id"`
	RecipeID int64           `json:"recipe_id"`
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UOM      UOM             `json:"uom"`
}

// SalesLine is a raw POS line held verbatim. The five-part source key
// makes re-imports idempotent.
type SalesLine struct {
	ID               int64            `json:"id"`
	LocationID       int64            `json:"location_id"`
	SourceSystem     SourceSystem     `json:"source_system"`
	SourceLocationID string           `json:"source_location_id"`
	BusinessDate     time.Time        `json:"business_date"`
	ReceiptID        string           `json:"receipt_id"`
	LineID           string           `json:"line_id"`
	POSItemID        string           `json:"pos_item_id"`
	POSItemName      string           `json:"pos_item_name"`
	Quantity         decimal.Decimal  `json:"quantity"`
	UnitPrice        *decimal.Decimal `json:"unit_price,omitempty"`
	SoldAt           time.Time        `json:"sold_at"`
	IsVoided         bool             `json:"is_voided"`
	IsRefunded       bool             `json:"is_refunded"`
	SizeModifierID   *string          `json:"size_modifier_id,omitempty"`
	Raw              json.RawMessage  `json:"raw,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ── draft system ──

type TapLine struct {
	ID         int64  `json:"id"`
	LocationID int64  `json:"location_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
}

type KegStatus string

const (
	KegFull   KegStatus = "full"
	KegTapped KegStatus = "tapped"
	KegKicked KegStatus = "kicked"
)

type KegInstance struct {
	ID               int64           `json:"id"`
	LocationID       int64           `json:"location_id"`
	ItemID           int64           `json:"item_id"`
	StartingVolumeML decimal.Decimal `json:"starting_volume_ml"`
	Status           KegStatus       `json:"status"`
	ReceivedAt       time.Time       `json:"received_at"`
}

// TapAssignment couples a keg to a tap line for a half-open interval.
// At most one assignment per tap is open (EndedTS nil) at a time.
type TapAssignment struct {
	ID        int64      `json:"id"`
	TapID     int64      `json:"tap_id"`
	KegID     int64      `json:"keg_id"`
	StartedTS time.Time  `json:"started_ts"`
	EndedTS   *time.Time `json:"ended_ts,omitempty"`
}

// ── inventory sessions ──

type SessionType string

const (
	SessionShift   SessionType = "shift"
	SessionDaily   SessionType = "daily"
	SessionWeekly  SessionType = "weekly"
	SessionMonthly SessionType = "monthly"
	SessionSpot    SessionType = "spot"
)

type InventorySession struct {
	ID          int64       `json:"id"`
	LocationID  int64       `json:"location_id"`
	SessionType SessionType `json:"session_type"`
	StartedTS   time.Time   `json:"started_ts"`
	EndedTS     *time.Time  `json:"ended_ts,omitempty"`
	CreatedBy   *int64      `json:"created_by,omitempty"`
	ClosedBy    *int64      `json:"closed_by,omitempty"`
}

func (s *InventorySession) IsOpen() bool { return s.EndedTS == nil }

// SessionLine is one item count inside a session. Counted/Expected/
// Variance columns stay nil while the session is open and are filled at
// close, after which the whole row is read-only.
type SessionLine struct {
	ID               int64            `json:"id"`
	SessionID        int64            `json:"session_id"`
	ItemID           int64            `json:"item_id"`
	SubArea          string           `json:"sub_area"`
	CountUnits       *decimal.Decimal `json:"count_units,omitempty"`
	GrossWeightG     *decimal.Decimal `json:"gross_weight_g,omitempty"`
	PercentRemaining *decimal.Decimal `json:"percent_remaining,omitempty"`
	CountedBy        *int64           `json:"counted_by,omitempty"`
	IsManual         bool             `json:"is_manual"`
	Notes            *string          `json:"notes,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CountedBase      *decimal.Decimal `json:"counted_base,omitempty"`
	ExpectedBase     *decimal.Decimal `json:"expected_base,omitempty"`
	VarianceBase     *decimal.Decimal `json:"variance_base,omitempty"`
	VariancePct      *decimal.Decimal `json:"variance_pct,omitempty"`
}

type SessionParticipant struct {
	SessionID    int64     `json:"session_id"`
	UserID       int64     `json:"user_id"`
	SubArea      *string   `json:"sub_area,omitempty"`
	LastActiveTS time.Time `json:"last_active_ts"`
}

// ── par levels and purchasing ──

type ParUOM string

const (
	ParUnit    ParUOM = "unit"
	ParPackage ParUOM = "package"
)

type ParLevel struct {
	ID              int64            `json:"id"`
	LocationID      int64            `json:"location_id"`
	ItemID          int64            `json:"item_id"`
	VendorID        *int64           `json:"vendor_id,omitempty"`
	ParLevel        decimal.Decimal  `json:"par_level"`
	MinLevel        decimal.Decimal  `json:"min_level"`
	ReorderQty      *decimal.Decimal `json:"reorder_qty,omitempty"`
	ParUOM          ParUOM           `json:"par_uom"`
	LeadTimeDays    int              `json:"lead_time_days"`
	SafetyStockDays int              `json:"safety_stock_days"`
}

type POStatus string

const (
	POOpen      POStatus = "open"
	POPartial   POStatus = "partially_fulfilled"
	POClosed    POStatus = "closed"
	POCancelled POStatus = "cancelled"
)

type PurchaseOrder struct {
	ID         int64               `json:"id"`
	LocationID int64               `json:"location_id"`
	VendorID   int64               `json:"vendor_id"`
	VendorName string              `json:"vendor_name"` // joined, read-only
	Status     POStatus            `json:"status"`
	CreatedBy  *int64              `json:"created_by,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ClosedAt   *time.Time          `json:"closed_at,omitempty"`
	Notes      string              `json:"notes"`
	Lines      []PurchaseOrderLine `json:"lines,omitempty"`
}

type PurchaseOrderLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ItemID      int64           `json:"item_id"`
	ItemName    string          `json:"item_name"` // joined, read-only
	OrderedQty  decimal.Decimal `json:"ordered_qty"`
	PickedUpQty decimal.Decimal `json:"picked_up_qty"`
	UOM         ParUOM          `json:"uom"`
}

// ── shrinkage analytics ──

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

type ShrinkageFlag struct {
	LocationID       int64           `json:"location_id"`
	ItemID           int64           `json:"item_id"`
	Flagged          bool            `json:"flagged"`
	Trend            Trend           `json:"trend"`
	SessionsAnalyzed int             `json:"sessions_analyzed"`
	AvgVariancePct   decimal.Decimal `json:"avg_variance_pct"`
	LastVariancePct  decimal.Decimal `json:"last_variance_pct"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// ── notifications and audit ──

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	LinkURL   *string   `json:"link_url,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID          int64           `json:"id"`
	BusinessID  int64           `json:"business_id"`
	ActorUserID *int64          `json:"actor_user_id,omitempty"`
	Action      string          `json:"action"`
	ObjectType  string          `json:"object_type"`
	ObjectID    string          `json:"object_id"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
