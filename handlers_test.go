package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nfcescan/models"
	"nfcescan/pkg/config"
	"nfcescan/pkg/nfce"
	"nfcescan/pkg/qr"
	"nfcescan/pkg/store"
)

// memReceipts is an in-memory receiptStore keyed by access key.
type memReceipts struct {
	mu      sync.Mutex
	byKey   map[string]*models.Receipt
	nextID  uint
	failErr error
}

func newMemReceipts() *memReceipts {
	return &memReceipts{byKey: map[string]*models.Receipt{}}
}

func (m *memReceipts) SaveReceipt(ctx context.Context, rec *nfce.ReceiptRecord) (*models.Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, false, m.failErr
	}
	if r, ok := m.byKey[rec.AccessKey]; ok {
		return r, true, nil
	}
	m.nextID++
	r := store.ToModel(rec)
	r.ID = m.nextID
	m.byKey[rec.AccessKey] = &r
	return &r, false, nil
}

func (m *memReceipts) Get(ctx context.Context, id uint) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byKey {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memReceipts) List(ctx context.Context, f store.ListFilter) ([]models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Receipt{}
	for _, r := range m.byKey {
		if f.Category == "" || r.Category == f.Category {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memReceipts) ReplaceItems(ctx context.Context, id uint, items []nfce.LineItem, category string) (*models.Receipt, error) {
	if category != "" && !nfce.IsCategory(category) {
		return nil, store.ErrUnknownCategory
	}
	r, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Items = store.ToItems(items)
	if category != "" {
		r.Category = category
	}
	return r, nil
}

func (m *memReceipts) MonthlySummary(ctx context.Context, category string) ([]store.MonthTotal, error) {
	return []store.MonthTotal{{Month: "2024-03", Category: nfce.CategoryFood, Total: decimal.RequireFromString("42.97"), Receipts: 1}}, nil
}

func sampleReceipt() *nfce.ReceiptRecord {
	return &nfce.ReceiptRecord{
		IssuerName: "SUPERMERCADO BOM PRECO LTDA",
		IssuedAt:   "10/03/2024 14:22:01",
		TotalValue: "42,97",
		AccessKey:  "24031234567800019065001000123456112345678901",
		Category:   nfce.DefaultCategory,
		Items: []nfce.LineItem{
			{Description: "ARROZ", Quantity: "1,000", Unit: "UN", UnitPrice: "25,99", LineTotal: "25,99"},
			{Description: "CAFE", Quantity: "1,000", Unit: "UN", UnitPrice: "18,49", Discount: "1,51", LineTotal: "16,98"},
		},
	}
}

// setupHandlerTest installs fakes for the scraper and the database.
func setupHandlerTest(t *testing.T, fetch func(ctx context.Context, target string) (*nfce.ReceiptRecord, error)) (*gin.Engine, *memReceipts) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg, _ := config.Load()
	cfg.PortalURL = "http://portal.test/nfce"
	cfg.ScanTimeout = time.Second
	appCfg = cfg
	logger = zerolog.Nop()
	pending = newPendingStore(time.Hour)
	mem := newMemReceipts()
	receipts = mem
	fetchReceipt = fetch
	decodeQR = qr.Decode
	r := gin.New()
	setupRoutes(r)
	return r, mem
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func scanPending(t *testing.T, r *gin.Engine, body map[string]string) string {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/scan", jsonBody(t, body), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", resp.Code, resp.Body.String())
	}
	var out struct {
		PendingID string              `json:"pending_id"`
		Receipt   *nfce.ReceiptRecord `json:"receipt"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil || out.PendingID == "" {
		t.Fatalf("bad scan response %s", resp.Body.String())
	}
	return out.PendingID
}

func TestScanReviewConfirm(t *testing.T) {
	var gotTarget string
	r, mem := setupHandlerTest(t, func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		gotTarget = target
		return sampleReceipt(), nil
	})

	id := scanPending(t, r, map[string]string{"access_key": "2403 1234", "category": "lazer"})
	if gotTarget != "http://portal.test/nfce?p=24031234" {
		t.Fatalf("unexpected target %q", gotTarget)
	}
	if len(mem.byKey) != 0 {
		t.Fatalf("nothing may be stored before confirmation")
	}

	resp := performRequest(r, http.MethodGet, "/pending/"+id, nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get pending status=%d", resp.Code)
	}
	var p pendingReceipt
	_ = json.Unmarshal(resp.Body.Bytes(), &p)
	if p.Receipt == nil || p.Receipt.Category != "lazer" {
		t.Fatalf("category not applied: %s", resp.Body.String())
	}

	edit := map[string]any{
		"category": "saude",
		"items": []nfce.LineItem{
			{Description: " REMEDIO ", Quantity: "1", Unit: "UN", UnitPrice: "12,50", LineTotal: "12,50"},
		},
	}
	resp = performRequest(r, http.MethodPut, "/pending/"+id, jsonBody(t, edit), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", resp.Code, resp.Body.String())
	}

	resp = performRequest(r, http.MethodPost, "/pending/"+id+"/confirm", nil, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("confirm status=%d body=%s", resp.Code, resp.Body.String())
	}
	stored := mem.byKey[sampleReceipt().AccessKey]
	if stored == nil || stored.Category != "saude" || len(stored.Items) != 1 || stored.Items[0].Description != "REMEDIO" {
		t.Fatalf("unexpected stored receipt %+v", stored)
	}
	if stored.Items[0].LineTotal.String() != "12.5" {
		t.Fatalf("line total %s", stored.Items[0].LineTotal)
	}

	resp = performRequest(r, http.MethodGet, "/pending/"+id, nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("confirmed review should be gone, status=%d", resp.Code)
	}

	// a second scan of the same receipt confirms as a duplicate
	id2 := scanPending(t, r, map[string]string{"url": "http://portal.test/nfce?p=2403"})
	resp = performRequest(r, http.MethodPost, "/pending/"+id2+"/confirm", nil, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", resp.Code, resp.Body.String())
	}
	if len(mem.byKey) != 1 {
		t.Fatalf("duplicate must not be stored twice")
	}
}

func TestConfirmWriteErrorKeepsPending(t *testing.T) {
	r, mem := setupHandlerTest(t, func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		return sampleReceipt(), nil
	})
	mem.failErr = errors.New("connection refused")
	id := scanPending(t, r, map[string]string{"access_key": "1"})
	resp := performRequest(r, http.MethodPost, "/pending/"+id+"/confirm", nil, "")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if _, ok := pending.get(id); !ok {
		t.Fatalf("pending entry should survive a failed write")
	}
}

func TestScanErrors(t *testing.T) {
	r, _ := setupHandlerTest(t, func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	appCfg.ScanTimeout = 20 * time.Millisecond

	resp := performRequest(r, http.MethodPost, "/scan", jsonBody(t, map[string]string{"access_key": "1"}), "application/json")
	if resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/scan", jsonBody(t, map[string]string{}), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing key got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodPost, "/scan", jsonBody(t, map[string]string{"access_key": "1", "category": "viagem"}), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category got %d", resp.Code)
	}

	fetchReceipt = func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		return nil, nfce.ErrAttemptsExhausted
	}
	resp = performRequest(r, http.MethodPost, "/scan", jsonBody(t, map[string]string{"access_key": "1"}), "application/json")
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}

func TestUpdatePendingRejectsBadItems(t *testing.T) {
	r, _ := setupHandlerTest(t, func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		return sampleReceipt(), nil
	})
	id := scanPending(t, r, map[string]string{"access_key": "1"})
	edit := map[string]any{"items": []nfce.LineItem{{Description: "X", Quantity: "um", UnitPrice: "1", LineTotal: "1"}}}
	resp := performRequest(r, http.MethodPut, "/pending/"+id, jsonBody(t, edit), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	p, _ := pending.get(id)
	if len(p.Receipt.Items) != 2 {
		t.Fatalf("rejected edit must not change the review")
	}
	resp = performRequest(r, http.MethodPut, "/pending/nope", jsonBody(t, map[string]any{}), "application/json")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestScanQRNoCode(t *testing.T) {
	r, _ := setupHandlerTest(t, nil)
	decodeQR = func(r io.Reader) (string, error) { return "", qr.ErrNoCode }

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "nota.jpg")
	_, _ = fw.Write([]byte("not really a jpeg"))
	_ = mw.Close()
	resp := performRequest(r, http.MethodPost, "/scan/qr", &buf, mw.FormDataContentType())
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestScanQR(t *testing.T) {
	var gotTarget string
	r, _ := setupHandlerTest(t, func(ctx context.Context, target string) (*nfce.ReceiptRecord, error) {
		gotTarget = target
		return sampleReceipt(), nil
	})
	const payload = "http://nfce.set.rn.gov.br/consultarNFCe.aspx?p=2403|2|1"
	decodeQR = func(r io.Reader) (string, error) { return payload, nil }

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "nota.jpg")
	_, _ = fw.Write([]byte("jpeg"))
	_ = mw.WriteField("category", "transporte")
	_ = mw.Close()
	resp := performRequest(r, http.MethodPost, "/scan/qr", &buf, mw.FormDataContentType())
	if resp.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.Code, resp.Body.String())
	}
	if gotTarget != payload {
		t.Fatalf("qr url should be used as-is, got %q", gotTarget)
	}
}

func TestReceiptRoutes(t *testing.T) {
	r, mem := setupHandlerTest(t, nil)
	saved, _, _ := mem.SaveReceipt(context.Background(), sampleReceipt())

	resp := performRequest(r, http.MethodGet, "/receipts/abc", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/receipts/999", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/receipts/1", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	body := map[string]any{"category": "viagem", "items": []nfce.LineItem{}}
	resp = performRequest(r, http.MethodPut, "/receipts/1/items", jsonBody(t, body), "application/json")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	body = map[string]any{"items": []nfce.LineItem{{Description: "PAO", Quantity: "6", Unit: "UN", UnitPrice: "0,50", LineTotal: "3,00"}}}
	resp = performRequest(r, http.MethodPut, "/receipts/1/items", jsonBody(t, body), "application/json")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.Code, resp.Body.String())
	}
	if len(saved.Items) != 1 || saved.Items[0].Description != "PAO" {
		t.Fatalf("items not replaced: %+v", saved.Items)
	}

	resp = performRequest(r, http.MethodGet, "/summary?category=alimentacao", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("summary status=%d", resp.Code)
	}
	resp = performRequest(r, http.MethodGet, "/summary?category=viagem", nil, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
