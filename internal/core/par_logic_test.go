package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeSuggestion(t *testing.T) {
	twelve := 12

	tests := []struct {
		name     string
		par      ParLevel
		item     InventoryItem
		current  string // base UOM
		velocity string // base UOM per day
		wantQty  string // empty means no suggestion
		wantUOM  ParUOM
	}{
		{
			// par 24, min 6, lead 2 + safety 1, velocity 4/day,
			// current 5: order ceil((24 + 12) - 5) = 31.
			name:     "unit item below min",
			par:      ParLevel{ParLevel: dec("24"), MinLevel: dec("6"), ParUOM: ParUnit, LeadTimeDays: 2, SafetyStockDays: 1},
			item:     InventoryItem{ID: 1, BaseUOM: UOMUnit},
			current:  "5",
			velocity: "4",
			wantQty:  "31",
			wantUOM:  ParUnit,
		},
		{
			name:     "above min is quiet",
			par:      ParLevel{ParLevel: dec("24"), MinLevel: dec("6"), ParUOM: ParUnit, LeadTimeDays: 2, SafetyStockDays: 1},
			item:     InventoryItem{ID: 1, BaseUOM: UOMUnit},
			current:  "7",
			velocity: "4",
			wantQty:  "",
		},
		{
			name:     "reorder override wins when larger",
			par:      ParLevel{ParLevel: dec("10"), MinLevel: dec("6"), ReorderQty: decPtr("48"), ParUOM: ParUnit},
			item:     InventoryItem{ID: 1, BaseUOM: UOMUnit},
			current:  "5",
			velocity: "0",
			wantQty:  "48",
			wantUOM:  ParUnit,
		},
		{
			// 750 ml bottles: 1500 ml on hand = 2 bottles, min 3.
			// target 6 bottles, order ceil(6 - 2) = 4 bottles.
			name:     "volume item converts to bottles",
			par:      ParLevel{ParLevel: dec("6"), MinLevel: dec("3"), ParUOM: ParUnit},
			item:     InventoryItem{ID: 2, BaseUOM: UOMML, ContainerSizeML: decPtr("750")},
			current:  "1500",
			velocity: "0",
			wantQty:  "4",
			wantUOM:  ParUnit,
		},
		{
			// Needs 31 units, pack of 12: 3 packages, not 2.58.
			name:     "package rounding goes up",
			par:      ParLevel{ParLevel: dec("24"), MinLevel: dec("6"), ParUOM: ParPackage, LeadTimeDays: 2, SafetyStockDays: 1},
			item:     InventoryItem{ID: 3, BaseUOM: UOMUnit, PackSize: &twelve},
			current:  "5",
			velocity: "4",
			wantQty:  "3",
			wantUOM:  ParPackage,
		},
		{
			name:     "negative expected still orders",
			par:      ParLevel{ParLevel: dec("12"), MinLevel: dec("2"), ParUOM: ParUnit},
			item:     InventoryItem{ID: 4, BaseUOM: UOMUnit},
			current:  "-3",
			velocity: "0",
			wantQty:  "15",
			wantUOM:  ParUnit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeSuggestion(&tt.par, &tt.item, dec(tt.current), dec(tt.velocity))
			if tt.wantQty == "" {
				if got != nil {
					t.Fatalf("computeSuggestion() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("computeSuggestion() = nil, want a suggestion")
			}
			if !got.OrderQty.Equal(dec(tt.wantQty)) {
				t.Errorf("OrderQty = %s, want %s", got.OrderQty, tt.wantQty)
			}
			if got.OrderUOM != tt.wantUOM {
				t.Errorf("OrderUOM = %s, want %s", got.OrderUOM, tt.wantUOM)
			}
		})
	}
}

func TestOrderUnitBase(t *testing.T) {
	mlBottle := InventoryItem{BaseUOM: UOMML, ContainerSizeML: decPtr("750")}
	if got := orderUnitBase(&mlBottle); !got.Equal(dec("750")) {
		t.Errorf("ml bottle = %s, want 750", got)
	}

	// oz-based item: one bottle is 750 ml worth of ounces
	ozBottle := InventoryItem{BaseUOM: UOMOunce, ContainerSizeML: decPtr("750")}
	wantOz := dec("750").Div(dec("29.5735295625"))
	if got := orderUnitBase(&ozBottle); !got.Equal(wantOz) {
		t.Errorf("oz bottle = %s, want %s", got, wantOz)
	}

	countItem := InventoryItem{BaseUOM: UOMUnit, ContainerSizeML: decPtr("750")}
	if got := orderUnitBase(&countItem); !got.Equal(oneDecimal) {
		t.Errorf("count item = %s, want 1", got)
	}
}

func TestPickupBaseDelta(t *testing.T) {
	six := 6
	bottle := InventoryItem{BaseUOM: UOMML, ContainerSizeML: decPtr("750"), PackSize: &six}

	if got := pickupBaseDelta(&bottle, decimal.NewFromInt(2), ParUnit); !got.Equal(dec("1500")) {
		t.Errorf("2 bottles = %s ml, want 1500", got)
	}
	if got := pickupBaseDelta(&bottle, decimal.NewFromInt(2), ParPackage); !got.Equal(dec("9000")) {
		t.Errorf("2 packages = %s ml, want 9000", got)
	}

	countItem := InventoryItem{BaseUOM: UOMUnit}
	if got := pickupBaseDelta(&countItem, decimal.NewFromInt(5), ParUnit); !got.Equal(dec("5")) {
		t.Errorf("5 units = %s, want 5", got)
	}
}
