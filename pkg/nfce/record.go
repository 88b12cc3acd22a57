// Package nfce fetches electronic consumer receipts (NFC-e) from a state tax
// portal: it drives a browser through the numeric CAPTCHA gate and extracts
// the DANFE page into plain records.
package nfce

import "fmt"

// Expense categories a receipt can be filed under.
const (
	CategoryFood      = "alimentacao"
	CategoryTransport = "transporte"
	CategoryLeisure   = "lazer"
	CategoryHealth    = "saude"
	CategoryEducation = "educacao"
	DefaultCategory   = CategoryFood
)

// Categories lists every accepted category in display order.
var Categories = []string{CategoryFood, CategoryTransport, CategoryLeisure, CategoryHealth, CategoryEducation}

// IsCategory reports whether c is one of Categories.
func IsCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// ReceiptRecord is the header of one receipt as shown on the portal. Values
// are the trimmed label texts; numeric parsing happens at persistence time.
type ReceiptRecord struct {
	SeriesNumber      string     `json:"series_number"`
	IssuerName        string     `json:"issuer_name"`
	TaxID             string     `json:"tax_id"`
	StateRegistration string     `json:"state_registration"`
	IssuedAt          string     `json:"issued_at"`
	AuthorizedAt      string     `json:"authorized_at"`
	TotalValue        string     `json:"total_value"`
	PaymentMethod     string     `json:"payment_method"`
	AccessKey         string     `json:"access_key"`
	Category          string     `json:"category"`
	ArchiveObject     string     `json:"archive_object,omitempty"`
	Items             []LineItem `json:"items"`
}

// LineItem is one product row of the receipt's item table.
type LineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit"`
	UnitPrice   string `json:"unit_price"`
	Discount    string `json:"discount"`
	LineTotal   string `json:"line_total"`
}

// Validate checks that the description is present and every numeric field
// parses. Discount may be empty.
func (it LineItem) Validate() error {
	if it.Description == "" {
		return fmt.Errorf("empty description")
	}
	for _, f := range []struct{ name, v string }{
		{"quantity", it.Quantity},
		{"unit_price", it.UnitPrice},
		{"line_total", it.LineTotal},
	} {
		if _, err := ParseAmount(f.v); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if it.Discount != "" {
		if _, err := ParseAmount(it.Discount); err != nil {
			return fmt.Errorf("discount: %w", err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (r *ReceiptRecord) Clone() *ReceiptRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Items != nil {
		c.Items = make([]LineItem, len(r.Items))
		copy(c.Items, r.Items)
	}
	return &c
}
