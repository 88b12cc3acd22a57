package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"nfcescan/models"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/qr"
	"nfcescan/pkg/store"
)

// receiptStore is the subset of store.Store the handlers use.
type receiptStore interface {
	SaveReceipt(ctx context.Context, rec *nfce.ReceiptRecord) (*models.Receipt, bool, error)
	Get(ctx context.Context, id uint) (*models.Receipt, error)
	List(ctx context.Context, f store.ListFilter) ([]models.Receipt, error)
	ReplaceItems(ctx context.Context, id uint, items []nfce.LineItem, category string) (*models.Receipt, error)
	MonthlySummary(ctx context.Context, category string) ([]store.MonthTotal, error)
}

func setupRoutes(r *gin.Engine) {
	r.POST("/scan", scanHandler)
	r.POST("/scan/qr", scanQRHandler)
	r.GET("/pending/:id", getPendingHandler)
	r.PUT("/pending/:id", updatePendingHandler)
	r.DELETE("/pending/:id", deletePendingHandler)
	r.POST("/pending/:id/confirm", confirmPendingHandler)
	r.GET("/receipts", listReceiptsHandler)
	r.GET("/receipts/:id", getReceiptHandler)
	r.PUT("/receipts/:id/items", replaceItemsHandler)
	r.GET("/summary", summaryHandler)
	r.GET("/categories", func(c *gin.Context) { c.JSON(http.StatusOK, nfce.Categories) })
}

func scanHandler(c *gin.Context) {
	var req struct {
		AccessKey string `json:"access_key"`
		URL       string `json:"url"`
		Category  string `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input := req.URL
	if input == "" {
		input = req.AccessKey
	}
	target, err := nfce.ResolveTarget(appCfg.PortalURL, input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_key or url required"})
		return
	}
	runScan(c, target, req.Category)
}

// scanQRHandler accepts a photo of the receipt and reads the portal URL from its QR code.
func scanQRHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > 10*1024*1024 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 10MB)"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer f.Close()
	text, err := decodeQR(f)
	if err != nil {
		if errors.Is(err, qr.ErrNoCode) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no qr code found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image"})
		return
	}
	target, err := nfce.ResolveTarget(appCfg.PortalURL, text)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "qr code does not carry an access key"})
		return
	}
	runScan(c, target, c.PostForm("category"))
}

// runScan fetches target under the scan timeout and parks the result for review.
func runScan(c *gin.Context, target, category string) {
	if category != "" && !nfce.IsCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category", "categories": nfce.Categories})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), appCfg.ScanTimeout)
	defer cancel()
	rec, err := fetchReceipt(ctx, target)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "scan timed out"})
			return
		}
		logger.Warn().Err(err).Str("target", target).Msg("scan failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "scan failed", "detail": err.Error()})
		return
	}
	if category != "" {
		rec.Category = category
	}
	p := pending.add(target, rec)
	c.JSON(http.StatusOK, gin.H{"pending_id": p.ID, "receipt": p.Receipt})
}

func getPendingHandler(c *gin.Context) {
	p, ok := pending.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending receipt not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// updatePendingHandler lets the user fix items or pick a category before confirming.
func updatePendingHandler(c *gin.Context) {
	var req struct {
		Category *string          `json:"category"`
		Items    *[]nfce.LineItem `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, found, err := pending.update(c.Param("id"), func(rec *nfce.ReceiptRecord) error {
		if req.Category != nil {
			if !nfce.IsCategory(*req.Category) {
				return store.ErrUnknownCategory
			}
			rec.Category = *req.Category
		}
		if req.Items != nil {
			items, err := cleanItems(*req.Items)
			if err != nil {
				return err
			}
			rec.Items = items
		}
		return nil
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending receipt not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func deletePendingHandler(c *gin.Context) {
	if !pending.remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending receipt not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// confirmPendingHandler persists a reviewed receipt. On a write error the
// pending entry is kept so the caller can retry.
func confirmPendingHandler(c *gin.Context) {
	id := c.Param("id")
	p, ok := pending.get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending receipt not found"})
		return
	}
	m, duplicate, err := receipts.SaveReceipt(c.Request.Context(), p.Receipt)
	if err != nil {
		logger.Error().Err(err).Str("pending_id", id).Msg("save receipt failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save receipt"})
		return
	}
	pending.remove(id)
	if duplicate {
		c.JSON(http.StatusConflict, gin.H{"error": "receipt already recorded", "id": m.ID})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": m.ID})
}

func listReceiptsHandler(c *gin.Context) {
	f := store.ListFilter{Category: c.Query("category"), Limit: 200}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			f.Limit = n
		}
	}
	rows, err := receipts.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func getReceiptHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	m, err := receipts.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func replaceItemsHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Category string          `json:"category"`
		Items    []nfce.LineItem `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := cleanItems(req.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := receipts.ReplaceItems(c.Request.Context(), id, items, req.Category)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
	case errors.Is(err, store.ErrUnknownCategory):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category", "categories": nfce.Categories})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update items"})
	default:
		c.JSON(http.StatusOK, m)
	}
}

// summaryHandler returns item totals grouped by month and category.
func summaryHandler(c *gin.Context) {
	category := c.Query("category")
	if category != "" && !nfce.IsCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category", "categories": nfce.Categories})
		return
	}
	rows, err := receipts.MonthlySummary(c.Request.Context(), category)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if rows == nil {
		rows = []store.MonthTotal{}
	}
	c.JSON(http.StatusOK, rows)
}

func parseID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(n), true
}

// cleanItems trims user-edited items and rejects the ones that would not parse.
func cleanItems(in []nfce.LineItem) ([]nfce.LineItem, error) {
	out := make([]nfce.LineItem, 0, len(in))
	for i, it := range in {
		it.Description = strings.TrimSpace(it.Description)
		it.Quantity = strings.TrimSpace(it.Quantity)
		it.Unit = strings.TrimSpace(it.Unit)
		it.UnitPrice = strings.TrimSpace(it.UnitPrice)
		it.Discount = strings.TrimSpace(it.Discount)
		it.LineTotal = strings.TrimSpace(it.LineTotal)
		if err := it.Validate(); err != nil {
			return nil, &itemError{index: i, err: err}
		}
		out = append(out, it)
	}
	return out, nil
}

type itemError struct {
	index int
	err   error
}

func (e *itemError) Error() string { return "item " + strconv.Itoa(e.index+1) + ": " + e.err.Error() }
func (e *itemError) Unwrap() error { return e.err }
