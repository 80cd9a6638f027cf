package app

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"barstock/internal/core"
)

const csvHeader = "source_system,source_location_id,business_date,sold_at,receipt_id,line_id,pos_item_id,pos_item_name,quantity,is_voided,is_refunded,size_modifier_id,unit_price"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseSalesCSV(t *testing.T) {
	body := csvHeader + "\n" +
		"toast,loc-9,2026-03-14,2026-03-14T22:05:00Z,r-1,l-1,pos-77,House Margarita,2,false,false,,12.50\n" +
		"toast,loc-9,2026-03-14,2026-03-14T22:06:00Z,r-1,l-2,pos-12,IPA Pint,1,true,false,mod-lg,\n"

	lines, rowErrors, err := parseSalesCSV(strings.NewReader(body), 42)
	if err != nil {
		t.Fatalf("parseSalesCSV: %v", err)
	}
	if len(rowErrors) != 0 {
		t.Fatalf("unexpected row errors: %v", rowErrors)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	first := lines[0]
	if first.LocationID != 42 || first.SourceSystem != core.SourceToast || first.ReceiptID != "r-1" {
		t.Errorf("first line header fields wrong: %+v", first)
	}
	if !first.Quantity.Equal(dec("2")) {
		t.Errorf("quantity: got %s, want 2", first.Quantity)
	}
	if first.UnitPrice == nil || !first.UnitPrice.Equal(dec("12.50")) {
		t.Errorf("unit_price: got %v, want 12.50", first.UnitPrice)
	}
	if first.SizeModifierID != nil {
		t.Errorf("size_modifier_id: got %v, want nil", *first.SizeModifierID)
	}
	if first.BusinessDate.Format("2006-01-02") != "2026-03-14" {
		t.Errorf("business_date: got %s", first.BusinessDate)
	}

	second := lines[1]
	if !second.IsVoided || second.IsRefunded {
		t.Errorf("void flags: got voided=%v refunded=%v", second.IsVoided, second.IsRefunded)
	}
	if second.SizeModifierID == nil || *second.SizeModifierID != "mod-lg" {
		t.Errorf("size_modifier_id: got %v, want mod-lg", second.SizeModifierID)
	}
	if second.UnitPrice != nil {
		t.Errorf("unit_price: got %v, want nil", second.UnitPrice)
	}
}

func TestParseSalesCSVHeaderOrderIndependent(t *testing.T) {
	body := "quantity,is_refunded,is_voided,pos_item_name,pos_item_id,line_id,receipt_id,sold_at,business_date,source_location_id,source_system\n" +
		"3,no,no,Well Whiskey,pos-5,l-9,r-4,2026-02-01T01:15:00Z,2026-01-31,sq-2,square\n"

	lines, rowErrors, err := parseSalesCSV(strings.NewReader(body), 7)
	if err != nil {
		t.Fatalf("parseSalesCSV: %v", err)
	}
	if len(rowErrors) != 0 || len(lines) != 1 {
		t.Fatalf("got %d lines %d errors", len(lines), len(rowErrors))
	}
	if lines[0].SourceSystem != core.SourceSquare || !lines[0].Quantity.Equal(dec("3")) {
		t.Errorf("got %+v", lines[0])
	}
}

func TestParseSalesCSVMissingColumn(t *testing.T) {
	body := "source_system,receipt_id\ntoast,r-1\n"

	_, _, err := parseSalesCSV(strings.NewReader(body), 1)
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	de, ok := core.AsDomainError(err)
	if !ok || de.Code != core.CodeValidation {
		t.Errorf("expected ERR_VALIDATION, got %v", err)
	}
}

func TestParseSalesCSVBadRowsAreSkipped(t *testing.T) {
	body := csvHeader + "\n" +
		"toast,loc-9,2026-03-14,2026-03-14T22:05:00Z,r-1,l-1,pos-77,Marg,2,false,false,,\n" +
		"toast,loc-9,not-a-date,2026-03-14T22:05:00Z,r-1,l-2,pos-77,Marg,1,false,false,,\n" +
		"toast,loc-9,2026-03-14,2026-03-14T22:05:00Z,r-1,l-3,pos-77,Marg,many,false,false,,\n" +
		"toast,loc-9,2026-03-14,2026-03-14T22:05:00Z,r-1,,pos-77,Marg,1,false,false,,\n"

	lines, rowErrors, err := parseSalesCSV(strings.NewReader(body), 1)
	if err != nil {
		t.Fatalf("parseSalesCSV: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 good line, got %d", len(lines))
	}
	if len(rowErrors) != 3 {
		t.Fatalf("expected 3 row errors, got %v", rowErrors)
	}
	for _, re := range rowErrors {
		if !strings.HasPrefix(re, "row ") {
			t.Errorf("row error missing row number: %q", re)
		}
	}
}
