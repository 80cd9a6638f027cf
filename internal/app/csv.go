package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"barstock/internal/core"
)

// maxCSVRows caps one import batch.
const maxCSVRows = 50000

// maxRowErrors bounds how many per-row failures are echoed back.
const maxRowErrors = 50

var csvRequiredColumns = []string{
	"source_system", "source_location_id", "business_date", "sold_at",
	"receipt_id", "line_id", "pos_item_id", "pos_item_name",
	"quantity", "is_voided", "is_refunded",
}

// parseSalesCSV reads a sales-line CSV batch. The header row names the
// columns; order does not matter. Bad rows are skipped and reported,
// they never abort the batch. A malformed header or an oversized batch
// does abort.
func parseSalesCSV(r io.Reader, locationID int64) ([]core.SalesLine, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, core.ErrValidation("failed to read CSV header: %v", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range csvRequiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, nil, core.ErrValidation("CSV is missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var lines []core.SalesLine
	var rowErrors []string
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			if len(rowErrors) < maxRowErrors {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", rowNum, err))
			}
			continue
		}
		if len(lines) >= maxCSVRows {
			return nil, nil, core.ErrValidation("batch exceeds %d rows", maxCSVRows)
		}

		line, err := csvRow(record, field, locationID)
		if err != nil {
			if len(rowErrors) < maxRowErrors {
				rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", rowNum, err))
			}
			continue
		}
		lines = append(lines, *line)
	}
	return lines, rowErrors, nil
}

func csvRow(record []string, field func([]string, string) string, locationID int64) (*core.SalesLine, error) {
	line := &core.SalesLine{
		LocationID:       locationID,
		SourceSystem:     core.SourceSystem(field(record, "source_system")),
		SourceLocationID: field(record, "source_location_id"),
		ReceiptID:        field(record, "receipt_id"),
		LineID:           field(record, "line_id"),
		POSItemID:        field(record, "pos_item_id"),
		POSItemName:      field(record, "pos_item_name"),
	}
	if line.SourceSystem == "" || line.ReceiptID == "" || line.LineID == "" || line.POSItemID == "" {
		return nil, fmt.Errorf("missing key field")
	}

	businessDate, err := time.Parse("2006-01-02", field(record, "business_date"))
	if err != nil {
		return nil, fmt.Errorf("bad business_date: %v", err)
	}
	line.BusinessDate = businessDate

	soldAt, err := time.Parse(time.RFC3339, field(record, "sold_at"))
	if err != nil {
		return nil, fmt.Errorf("bad sold_at: %v", err)
	}
	line.SoldAt = soldAt

	qty, err := decimal.NewFromString(field(record, "quantity"))
	if err != nil {
		return nil, fmt.Errorf("bad quantity: %v", err)
	}
	line.Quantity = qty

	line.IsVoided, err = csvBool(field(record, "is_voided"))
	if err != nil {
		return nil, fmt.Errorf("bad is_voided: %v", err)
	}
	line.IsRefunded, err = csvBool(field(record, "is_refunded"))
	if err != nil {
		return nil, fmt.Errorf("bad is_refunded: %v", err)
	}

	if v := field(record, "size_modifier_id"); v != "" {
		line.SizeModifierID = &v
	}
	if v := field(record, "unit_price"); v != "" {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("bad unit_price: %v", err)
		}
		line.UnitPrice = &price
	}
	return line, nil
}

func csvBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "t", "1", "yes", "y":
		return true, nil
	case "false", "f", "0", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}
