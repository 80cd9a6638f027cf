package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barstock/internal/metrics"
)

// DepletionEngine turns raw demand signals (POS sales lines, tap meter
// pulses) into ledger entries. Every write is keyed, so a pass can be
// repeated or overlapped without double-depleting.
type DepletionEngine struct {
	pool     *pgxpool.Pool
	ledger   *Ledger
	mappings MappingService
	taps     TapService
	sales    SalesService
	catalog  CatalogService
	settings SettingsService
	log      *zap.Logger
}

func NewDepletionEngine(pool *pgxpool.Pool, ledger *Ledger, mappings MappingService, taps TapService,
	sales SalesService, catalog CatalogService, settings SettingsService, log *zap.Logger) *DepletionEngine {
	return &DepletionEngine{
		pool:     pool,
		ledger:   ledger,
		mappings: mappings,
		taps:     taps,
		sales:    sales,
		catalog:  catalog,
		settings: settings,
		log:      log,
	}
}

// DepletionReport summarizes one engine pass.
type DepletionReport struct {
	LinesSeen      int `json:"lines_seen"`
	LinesDepleted  int `json:"lines_depleted"`
	EntriesWritten int `json:"entries_written"`
	Unmapped       int `json:"unmapped"`
	Reversed       int `json:"reversed"`
}

// itemContext caches the catalog knowledge conversion needs.
type itemContext struct {
	item *InventoryItem
	tmpl *BottleTemplate
	cat  *Category
}

type runState struct {
	locationID int64
	businessID int64
	items      map[int64]*itemContext
}

func (e *DepletionEngine) newRunState(ctx context.Context, locationID int64) (*runState, error) {
	var businessID int64
	err := e.pool.QueryRow(ctx, "SELECT business_id FROM locations WHERE id = $1", locationID).Scan(&businessID)
	if err != nil {
		return nil, ErrNotFound("location", locationID)
	}
	return &runState{locationID: locationID, businessID: businessID, items: make(map[int64]*itemContext)}, nil
}

func (e *DepletionEngine) itemContext(ctx context.Context, st *runState, itemID int64) (*itemContext, error) {
	if ic, ok := st.items[itemID]; ok {
		return ic, nil
	}
	item, err := e.catalog.GetItem(ctx, st.locationID, itemID)
	if err != nil {
		return nil, err
	}
	ic := &itemContext{item: item}
	if tmpl, err := e.catalog.GetBottleTemplate(ctx, itemID); err == nil {
		ic.tmpl = tmpl
	} else if de, ok := AsDomainError(err); !ok || de.Code != CodeNotFound {
		return nil, err
	}
	if cat, err := e.catalog.GetCategory(ctx, st.businessID, item.CategoryID); err == nil {
		ic.cat = cat
	} else if de, ok := AsDomainError(err); !ok || de.Code != CodeNotFound {
		return nil, err
	}
	st.items[itemID] = ic
	return ic, nil
}

// toItemBase converts an expanded depletion quantity into the item's
// base UOM, pulling density from the bottle template or category when
// the conversion crosses volume and mass.
func (e *DepletionEngine) toItemBase(ctx context.Context, st *runState, d IngredientDepletion) (*InventoryItem, decimal.Decimal, error) {
	ic, err := e.itemContext(ctx, st, d.ItemID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	qty, err := ToBase(ic.item, d.Quantity, d.UOM, resolveDensity(ic.tmpl, ic.cat))
	if err != nil {
		return nil, decimal.Zero, err
	}
	return ic.item, qty, nil
}

// RunPending drains lines past the source's watermark, then books
// reversals for lines voided after they were depleted. The watermark
// only advances when the whole batch lands.
func (e *DepletionEngine) RunPending(ctx context.Context, locationID int64, source SourceSystem, limit int) (*DepletionReport, error) {
	st, err := e.newRunState(ctx, locationID)
	if err != nil {
		return nil, err
	}

	lines, err := e.sales.PendingLines(ctx, locationID, source, limit)
	if err != nil {
		return nil, err
	}

	report := &DepletionReport{}
	var maxSoldAt time.Time
	for i := range lines {
		if err := e.processLine(ctx, st, &lines[i], report); err != nil {
			metrics.DepletionRuns.WithLabelValues("pos", "error").Inc()
			return report, fmt.Errorf("sales line %d: %w", lines[i].ID, err)
		}
		if lines[i].SoldAt.After(maxSoldAt) {
			maxSoldAt = lines[i].SoldAt
		}
	}

	if !maxSoldAt.IsZero() {
		if err := e.sales.AdvanceWatermark(ctx, locationID, source, maxSoldAt); err != nil {
			return report, err
		}
	}

	if err := e.reverseVoided(ctx, st, report); err != nil {
		return report, err
	}

	metrics.DepletionRuns.WithLabelValues("pos", "ok").Inc()
	e.log.Info("depletion pass complete",
		zap.Int64("location_id", locationID),
		zap.String("source", string(source)),
		zap.Int("lines", report.LinesSeen),
		zap.Int("entries", report.EntriesWritten),
		zap.Int("unmapped", report.Unmapped),
		zap.Int("reversed", report.Reversed))
	return report, nil
}

// RunWindow re-processes every line sold inside [from, to), voided ones
// included so their reversals catch up. Dedupe keys make this safe over
// already-depleted spans; operators use it after fixing a mapping.
func (e *DepletionEngine) RunWindow(ctx context.Context, locationID int64, from, to time.Time) (*DepletionReport, error) {
	if !to.After(from) {
		return nil, ErrValidation("window end must be after start")
	}
	st, err := e.newRunState(ctx, locationID)
	if err != nil {
		return nil, err
	}

	lines, err := e.sales.LinesInWindow(ctx, locationID, from, to)
	if err != nil {
		return nil, err
	}

	report := &DepletionReport{}
	for i := range lines {
		if lines[i].IsVoided || lines[i].IsRefunded {
			report.LinesSeen++
			continue
		}
		if err := e.processLine(ctx, st, &lines[i], report); err != nil {
			metrics.DepletionRuns.WithLabelValues("window", "error").Inc()
			return report, fmt.Errorf("sales line %d: %w", lines[i].ID, err)
		}
	}
	if err := e.reverseVoided(ctx, st, report); err != nil {
		return report, err
	}

	metrics.DepletionRuns.WithLabelValues("window", "ok").Inc()
	return report, nil
}

func (e *DepletionEngine) processLine(ctx context.Context, st *runState, line *SalesLine, report *DepletionReport) error {
	report.LinesSeen++

	mapping, err := e.mappings.ResolveAt(ctx, st.locationID, line.SourceSystem, line.POSItemID, line.SoldAt)
	if err != nil {
		if de, ok := AsDomainError(err); ok && de.Code == CodeNotFound {
			report.Unmapped++
			return e.sales.RecordUnmapped(ctx, st.locationID, line.SourceSystem, line.POSItemID, line.POSItemName, line.SoldAt)
		}
		return err
	}

	factor := oneDecimal
	if line.SizeModifierID != nil {
		factor, err = e.mappings.SizeFactor(ctx, st.locationID, line.SourceSystem, *line.SizeModifierID)
		if err != nil {
			return err
		}
	}
	effectiveQty := line.Quantity.Mul(factor)

	var recipe *Recipe
	if mapping.RecipeID != nil {
		recipe, err = e.mappings.GetRecipe(ctx, st.businessID, *mapping.RecipeID)
		if err != nil {
			return err
		}
	}

	var tapItemID *int64
	if mapping.Mode == MapDraftByTap {
		itemID, _, err := e.taps.KegItemAt(ctx, *mapping.TapID, line.SoldAt)
		if err != nil {
			if de, ok := AsDomainError(err); ok && de.Code == CodePreconditionFailed {
				// Tap was dry at sale time. Surface it like a mapping
				// miss so an operator notices instead of silently
				// losing the pour.
				report.Unmapped++
				return e.sales.RecordUnmapped(ctx, st.locationID, line.SourceSystem, line.POSItemID,
					line.POSItemName+" (no keg on tap)", line.SoldAt)
			}
			return err
		}
		tapItemID = &itemID
	}

	depletions, err := ExpandMapping(mapping, recipe, tapItemID, effectiveQty)
	if err != nil {
		return err
	}

	for _, d := range depletions {
		item, qty, err := e.toItemBase(ctx, st, d)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("sale:%d:%d", line.ID, item.ID)
		_, inserted, err := e.ledger.Append(ctx, &ConsumptionEvent{
			LocationID:    st.locationID,
			ItemID:        item.ID,
			EventType:     EventPOSSale,
			SourceSystem:  line.SourceSystem,
			QuantityDelta: qty.Neg(),
			UOM:           item.BaseUOM,
			Confidence:    ConfidenceTheoretical,
			EventTS:       line.SoldAt,
			RecipeID:      d.RecipeID,
			SalesLineID:   &line.ID,
			DedupeKey:     &key,
		})
		if err != nil {
			return err
		}
		// A replay over an already-depleted span hits the dedupe key
		// and writes nothing.
		if inserted {
			report.EntriesWritten++
		}
	}
	report.LinesDepleted++
	return nil
}

// reverseVoided books one positive entry per depleted item of each line
// voided or refunded after depletion. void_seq stays at 1: however many
// times a line flaps, exactly one reversal exists.
func (e *DepletionEngine) reverseVoided(ctx context.Context, st *runState, report *DepletionReport) error {
	lines, err := e.sales.VoidedLinesNeedingReversal(ctx, st.locationID, 0)
	if err != nil {
		return err
	}

	for i := range lines {
		line := &lines[i]
		rows, err := e.pool.Query(ctx, `
			SELECT item_id, quantity_delta, uom
			FROM consumption_events
			WHERE sales_line_id = $1 AND quantity_delta < 0
		`, line.ID)
		if err != nil {
			return fmt.Errorf("failed to load entries for line %d: %w", line.ID, err)
		}
		type entry struct {
			itemID int64
			delta  decimal.Decimal
			uom    UOM
		}
		var toReverse []entry
		for rows.Next() {
			var en entry
			if err := rows.Scan(&en.itemID, &en.delta, &en.uom); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan entry: %w", err)
			}
			toReverse = append(toReverse, en)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		cause := "voided"
		if !line.IsVoided && line.IsRefunded {
			cause = "refunded"
		}
		for _, en := range toReverse {
			key := fmt.Sprintf("sale:%d:%d:void:1", line.ID, en.itemID)
			notes := fmt.Sprintf("sales line %s", cause)
			_, inserted, err := e.ledger.Append(ctx, &ConsumptionEvent{
				LocationID:    st.locationID,
				ItemID:        en.itemID,
				EventType:     EventPOSSale,
				SourceSystem:  line.SourceSystem,
				QuantityDelta: en.delta.Neg(),
				UOM:           en.uom,
				Confidence:    ConfidenceTheoretical,
				EventTS:       time.Now().UTC(),
				SalesLineID:   &line.ID,
				DedupeKey:     &key,
				Notes:         &notes,
			})
			if err != nil {
				return err
			}
			if inserted {
				report.EntriesWritten++
			}
		}
		report.Reversed++
	}
	return nil
}

// RecordTapPour books a measured tap_flow depletion against whatever
// keg the tap held at the pour instant.
func (e *DepletionEngine) RecordTapPour(ctx context.Context, locationID, tapID int64, volumeML decimal.Decimal, at time.Time) (*ConsumptionEvent, error) {
	if !volumeML.IsPositive() {
		return nil, ErrValidation("pour volume must be positive, got %s", volumeML)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	st, err := e.newRunState(ctx, locationID)
	if err != nil {
		return nil, err
	}

	itemID, _, err := e.taps.KegItemAt(ctx, tapID, at)
	if err != nil {
		return nil, err
	}
	item, qty, err := e.toItemBase(ctx, st, IngredientDepletion{ItemID: itemID, Quantity: volumeML, UOM: UOMML})
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("tap:%d:%d", tapID, at.UnixNano())
	ev, _, err := e.ledger.Append(ctx, &ConsumptionEvent{
		LocationID:    locationID,
		ItemID:        item.ID,
		EventType:     EventTapFlow,
		SourceSystem:  SourceTapMeter,
		QuantityDelta: qty.Neg(),
		UOM:           item.BaseUOM,
		Confidence:    ConfidenceMeasured,
		EventTS:       at,
		DedupeKey:     &key,
	})
	return ev, err
}

// ReconcileTapVsPOS nets out double counting for items that deplete
// both by tap meter and by POS draft sales. For each such item-day the
// losing signal's total is cancelled with one compensating adjustment,
// leaving the winner per location settings.
func (e *DepletionEngine) ReconcileTapVsPOS(ctx context.Context, locationID int64, day time.Time) (*DepletionReport, error) {
	st, err := e.newRunState(ctx, locationID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.settings.ForLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	posTotals, err := e.ledger.SumByItem(ctx, locationID, dayStart, dayEnd, EventPOSSale)
	if err != nil {
		return nil, err
	}
	tapTotals, err := e.ledger.SumByItem(ctx, locationID, dayStart, dayEnd, EventTapFlow)
	if err != nil {
		return nil, err
	}

	report := &DepletionReport{}
	for itemID, tapSum := range tapTotals {
		posSum, ok := posTotals[itemID]
		if !ok || posSum.IsZero() || tapSum.IsZero() {
			continue
		}

		// Both signals hit this item today. Cancel the loser.
		loser := posSum
		if !cfg.TapFlowWins {
			loser = tapSum
		}
		compensation := loser.Neg()
		if compensation.IsZero() {
			continue
		}

		ic, err := e.itemContext(ctx, st, itemID)
		if err != nil {
			return report, err
		}
		key := fmt.Sprintf("recon:%d:%d:%s", locationID, itemID, dayStart.Format("2006-01-02"))
		notes := fmt.Sprintf("tap/pos reconciliation for %s", dayStart.Format("2006-01-02"))
		_, inserted, err := e.ledger.Append(ctx, &ConsumptionEvent{
			LocationID:    locationID,
			ItemID:        itemID,
			EventType:     EventManualAdjust,
			SourceSystem:  SourceTapMeter,
			QuantityDelta: compensation,
			UOM:           ic.item.BaseUOM,
			Confidence:    ConfidenceEstimated,
			EventTS:       dayEnd.Add(-time.Second),
			DedupeKey:     &key,
			Notes:         &notes,
		})
		if err != nil {
			return report, err
		}
		if inserted {
			report.EntriesWritten++
		}
	}

	metrics.DepletionRuns.WithLabelValues("reconcile", "ok").Inc()
	return report, nil
}
