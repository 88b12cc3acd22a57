package store

import (
	"strings"

	"nfcescan/models"
	"nfcescan/pkg/nfce"
)

// ToModel converts an extracted record into its row form. Unparsable amounts
// are stored as zero and an unreadable issue date leaves IssuedOn nil; the
// printed text is kept either way.
func ToModel(rec *nfce.ReceiptRecord) models.Receipt {
	category := rec.Category
	if !nfce.IsCategory(category) {
		category = nfce.DefaultCategory
	}
	m := models.Receipt{
		SeriesNumber:      strings.TrimSpace(rec.SeriesNumber),
		IssuerName:        strings.TrimSpace(rec.IssuerName),
		TaxID:             strings.TrimSpace(rec.TaxID),
		StateRegistration: strings.TrimSpace(rec.StateRegistration),
		IssuedAt:          strings.TrimSpace(rec.IssuedAt),
		AuthorizedAt:      strings.TrimSpace(rec.AuthorizedAt),
		TotalValue:        nfce.AmountOrZero(rec.TotalValue),
		PaymentMethod:     strings.TrimSpace(rec.PaymentMethod),
		AccessKey:         nfce.NormalizeAccessKey(rec.AccessKey),
		Category:          category,
		ArchiveObject:     rec.ArchiveObject,
		Items:             ToItems(rec.Items),
	}
	if ts, err := nfce.ParseTimestamp(rec.IssuedAt); err == nil {
		m.IssuedOn = &ts
	}
	return m
}

// ToItems converts line items, numbering them from 1 in page order.
func ToItems(items []nfce.LineItem) []models.Item {
	out := make([]models.Item, 0, len(items))
	for i, it := range items {
		out = append(out, models.Item{
			Position:    i + 1,
			Description: strings.TrimSpace(it.Description),
			Quantity:    nfce.AmountOrZero(it.Quantity),
			Unit:        strings.TrimSpace(it.Unit),
			UnitPrice:   nfce.AmountOrZero(it.UnitPrice),
			Discount:    nfce.AmountOrZero(it.Discount),
			LineTotal:   nfce.AmountOrZero(it.LineTotal),
		})
	}
	return out
}
