package store

import (
	"errors"
	"testing"

	"nfcescan/pkg/nfce"
)

func sampleRecord() *nfce.ReceiptRecord {
	return &nfce.ReceiptRecord{
		SeriesNumber:  "Número: 123456 Série: 1",
		IssuerName:    " SUPERMERCADO BOM PRECO ",
		TaxID:         "12.345.678/0001-90",
		IssuedAt:      "10/03/2024 14:22:01",
		TotalValue:    "R$ 42,47",
		PaymentMethod: "Dinheiro",
		AccessKey:     "2403 1234 5678",
		Category:      "bogus",
		Items: []nfce.LineItem{
			{Description: "ARROZ", Quantity: "1,000", Unit: "UN", UnitPrice: "25,99", LineTotal: "25,99"},
			{Description: "CAFE", Quantity: "2", Unit: "UN", UnitPrice: "8,24", Discount: "", LineTotal: "abc"},
		},
	}
}

func TestToModel(t *testing.T) {
	m := ToModel(sampleRecord())
	if m.AccessKey != "240312345678" {
		t.Fatalf("access key %q", m.AccessKey)
	}
	if m.IssuerName != "SUPERMERCADO BOM PRECO" {
		t.Fatalf("issuer %q", m.IssuerName)
	}
	if m.TotalValue.String() != "42.47" {
		t.Fatalf("total %s", m.TotalValue)
	}
	if m.Category != nfce.DefaultCategory {
		t.Fatalf("unknown category should fall back, got %q", m.Category)
	}
	if m.IssuedOn == nil || m.IssuedOn.Day() != 10 {
		t.Fatalf("issued_on not parsed: %v", m.IssuedOn)
	}
	if len(m.Items) != 2 || m.Items[0].Position != 1 || m.Items[1].Position != 2 {
		t.Fatalf("unexpected items %+v", m.Items)
	}
	if !m.Items[1].LineTotal.IsZero() || !m.Items[1].Discount.IsZero() {
		t.Fatalf("unparsable amounts should default to zero: %+v", m.Items[1])
	}
	if m.Items[1].UnitPrice.String() != "8.24" {
		t.Fatalf("unit price %s", m.Items[1].UnitPrice)
	}
}

func TestToModelUnreadableDate(t *testing.T) {
	rec := sampleRecord()
	rec.IssuedAt = "sem data"
	if m := ToModel(rec); m.IssuedOn != nil || m.IssuedAt != "sem data" {
		t.Fatalf("expected raw text kept and nil date, got %q %v", m.IssuedAt, m.IssuedOn)
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	if isUniqueConstraintError(nil) {
		t.Fatalf("nil is not a unique violation")
	}
	err := errors.New(`ERROR: duplicate key value violates unique constraint "idx_receipts_access_key" (SQLSTATE 23505)`)
	if !isUniqueConstraintError(err) {
		t.Fatalf("expected unique violation")
	}
	if isUniqueConstraintError(errors.New("connection refused")) {
		t.Fatalf("unexpected unique violation")
	}
}
