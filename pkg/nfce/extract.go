package nfce

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// Header label ids on the DANFE page.
const (
	idSeriesNumber      = "lblNumeroSerie"
	idIssuerName        = "lblRazaoSocialEmitente"
	idTaxID             = "lblCPFCNPJEmitente"
	idStateRegistration = "lblInscricaoEstadualEmitente"
	idIssuedAt          = "lblDataEmissao"
	idAuthorizedAt      = "lblDataAutorizacao"
	idTotalValue        = "lblValorTotal"
	idPaymentMethod     = "lblFormaPagamento"
	idAccessKey         = "lblChave"

	itemRowsSelector = "#tbItensList tr"
)

// Item table columns (0-based): the first two hold the row number and the
// product code.
const (
	colDescription = 2 + iota
	colQuantity
	colUnit
	colUnitPrice
	colDiscount
	colLineTotal

	itemColumns = colLineTotal + 1
)

// Extractor reads a loaded DANFE page into a ReceiptRecord.
type Extractor struct {
	log zerolog.Logger
}

func NewExtractor(log zerolog.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract parses html. Malformed item rows are skipped with a warning; a page
// without any receipt header yields ErrNotReceiptPage.
func (e *Extractor) Extract(html string) (*ReceiptRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return e.ExtractDocument(doc)
}

func (e *Extractor) ExtractDocument(doc *goquery.Document) (*ReceiptRecord, error) {
	label := func(id string) string {
		return cleanText(doc.Find("#" + id).First().Text())
	}
	rec := &ReceiptRecord{
		SeriesNumber:      label(idSeriesNumber),
		IssuerName:        label(idIssuerName),
		TaxID:             label(idTaxID),
		StateRegistration: label(idStateRegistration),
		IssuedAt:          IsolateTimestamp(label(idIssuedAt)),
		AuthorizedAt:      IsolateTimestamp(label(idAuthorizedAt)),
		TotalValue:        label(idTotalValue),
		PaymentMethod:     label(idPaymentMethod),
		AccessKey:         NormalizeAccessKey(label(idAccessKey)),
		Category:          DefaultCategory,
	}
	if rec.AccessKey == "" && rec.IssuerName == "" && rec.TotalValue == "" {
		return nil, ErrNotReceiptPage
	}

	rec.Items = []LineItem{}
	doc.Find(itemRowsSelector).Each(func(i int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return
		}
		row := i + 1
		item, err := itemFromRow(tds)
		if err != nil {
			e.log.Warn().Err(err).Int("row", row).Str("access_key", rec.AccessKey).Msg("skipping item row")
			return
		}
		rec.Items = append(rec.Items, item)
	})
	return rec, nil
}

func itemFromRow(tds *goquery.Selection) (LineItem, error) {
	if n := tds.Length(); n < itemColumns {
		return LineItem{}, fmt.Errorf("row has %d cells, need %d", n, itemColumns)
	}
	cell := func(i int) string { return cleanText(tds.Eq(i).Text()) }
	it := LineItem{
		Description: cell(colDescription),
		Quantity:    stripLabel(cell(colQuantity)),
		Unit:        stripLabel(cell(colUnit)),
		UnitPrice:   stripLabel(cell(colUnitPrice)),
		Discount:    stripLabel(cell(colDiscount)),
		LineTotal:   stripLabel(cell(colLineTotal)),
	}
	if err := it.Validate(); err != nil {
		return LineItem{}, err
	}
	return it, nil
}
