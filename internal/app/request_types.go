package app

import (
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/core"
)

// InviteUserRequest is the input for creating a user in the caller's
// business. Roles maps location id to the role granted there.
type InviteUserRequest struct {
	Email       string
	DisplayName string
	Password    string
	Roles       map[int64]core.Role
}

// CategoryRequest is the input for creating an inventory category.
type CategoryRequest struct {
	Name           string
	CountingMethod core.CountingMethod
	DefaultDensity *decimal.Decimal // g per ml, weighable categories only
}

// VendorRequest is the input for creating a vendor.
type VendorRequest struct {
	Name         string
	ContactEmail string
	Phone        string
}

// ItemRequest is the input for creating or updating an inventory item.
type ItemRequest struct {
	LocationID      int64
	Name            string
	Barcode         *string
	CategoryID      int64
	BaseUOM         core.UOM
	ContainerSizeML *decimal.Decimal
	PackSize        *int
	VendorID        *int64
	ShowInGuide     bool
}

// TemplateRequest is the input for setting an item's bottle tare weights.
type TemplateRequest struct {
	ItemID          int64
	ContainerSizeML decimal.Decimal
	EmptyWeightG    decimal.Decimal
	FullWeightG     decimal.Decimal
	Density         *decimal.Decimal // overrides the category default
}

// MappingRequest is the input for creating a POS item mapping. Which
// reference fields must be set depends on Mode; validation lives in the
// mapping service.
type MappingRequest struct {
	LocationID    int64
	SourceSystem  core.SourceSystem
	POSItemID     string
	POSItemName   string
	Mode          core.MappingMode
	ItemID        *int64
	TapID         *int64
	RecipeID      *int64
	PourQty       *decimal.Decimal
	PourUOM       *core.UOM
	EffectiveFrom *time.Time // nil means now
}

// RecipeRequest is the input for creating a recipe.
type RecipeRequest struct {
	Name        string
	Ingredients []core.RecipeIngredient
}

// KegRequest is the input for registering a delivered keg.
type KegRequest struct {
	LocationID       int64
	ItemID           int64
	StartingVolumeML decimal.Decimal
	ReceivedAt       *time.Time // nil means now
	RecordReceiving  bool       // also book the receiving ledger entry
}

// LedgerQueryRequest filters a consumption-ledger read.
type LedgerQueryRequest struct {
	LocationID int64
	ItemID     *int64
	EventType  *core.EventType
	From       *time.Time
	To         *time.Time
	Limit      int
}

// AdjustmentRequest is the input for a manual ledger adjustment. Delta
// is signed in the given UOM; it is converted to the item's base UOM
// before the append.
type AdjustmentRequest struct {
	LocationID int64
	ItemID     int64
	Delta      decimal.Decimal
	UOM        core.UOM
	Reason     *core.VarianceReason
	Notes      string
}

// ReceivingRequest is the input for a receiving event outside the
// purchase-order flow.
type ReceivingRequest struct {
	LocationID int64
	ItemID     int64
	Qty        decimal.Decimal // positive, in UOM
	UOM        core.UOM
	ReceivedAt *time.Time // nil means now
	Notes      string
	DedupeKey  *string // optional caller idempotency key
}

// ParLevelRequest is the input for configuring an item's par level.
// Quantities are in order units (bottles, packages, or units for
// unit-counted items).
type ParLevelRequest struct {
	ItemID          int64
	VendorID        *int64
	ParLevel        decimal.Decimal
	MinLevel        decimal.Decimal
	ReorderQty      *decimal.Decimal
	ParUOM          core.ParUOM
	LeadTimeDays    int
	SafetyStockDays int
}

// CreatePORequest is the input for opening a purchase order.
type CreatePORequest struct {
	LocationID int64
	VendorID   int64
	Notes      string
	Lines      []core.POLineInput
}
