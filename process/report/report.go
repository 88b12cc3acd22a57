package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"nfcescan/models"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/store"
)

// Source is the part of the store a report reads.
type Source interface {
	MonthReport(ctx context.Context, start time.Time, category string) (store.MonthStats, error)
	List(ctx context.Context, f store.ListFilter) ([]models.Receipt, error)
}

// maxListed bounds the receipts printed with list=true.
const maxListed = 1000

// MonthStart parses a YYYY-MM month into its first instant in the portal's zone.
func MonthStart(month string) (time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, nfce.PortalZone), nil
}

// Run prints a month-bounded report (month in YYYY-MM), optionally limited to
// one category, and optionally lists the matching receipts.
func Run(ctx context.Context, w io.Writer, src Source, month, category string, list bool) error {
	if category != "" && !nfce.IsCategory(category) {
		return fmt.Errorf("%w: %q", store.ErrUnknownCategory, category)
	}
	start, err := MonthStart(month)
	if err != nil {
		return err
	}
	st, err := src.MonthReport(ctx, start, category)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	scope := category
	if scope == "" {
		scope = "all"
	}
	fmt.Fprintf(w, "Report for month=%s category=%s:\n", month, scope)
	fmt.Fprintf(w, "  receipts=%d total_value=%s\n", st.Receipts, st.Total.StringFixed(2))

	if !list {
		return nil
	}
	rows, err := src.List(ctx, store.ListFilter{
		Category: category,
		From:     start,
		To:       start.AddDate(0, 1, 0),
		Limit:    maxListed,
	})
	if err != nil {
		return fmt.Errorf("fetch rows failed: %w", err)
	}
	for _, r := range rows {
		issued := r.IssuedAt
		if r.IssuedOn != nil {
			issued = r.IssuedOn.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d|%s|%s|%s|%s|%s\n", r.ID, r.AccessKey, r.IssuerName, r.Category, r.TotalValue.StringFixed(2), issued)
	}
	return nil
}
