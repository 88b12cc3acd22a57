package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nfcescan/pkg/nfce"
)

// openTestStore connects to DB_DSN. Database tests are opt-in: set
// DB_DSN_TEST=1 and DB_DSN to run them.
func openTestStore(t *testing.T) *Store {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("database tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gdb, err := gorm.Open(postgres.Open(os.Getenv("DB_DSN")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s := New(gdb, zerolog.Nop())
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func uniqueKey() string {
	return fmt.Sprintf("2403%020d", time.Now().UnixNano())
}

func TestSaveReceiptIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	rec.AccessKey = uniqueKey()
	rec.Items = append(rec.Items, nfce.LineItem{
		Description: "GASOLINA COMUM", Quantity: "10,1234", Unit: "L", UnitPrice: "5,899", LineTotal: "59,72",
	})

	first, dup, err := s.SaveReceipt(ctx, rec)
	if err != nil || dup {
		t.Fatalf("first save: dup=%v err=%v", dup, err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, first.ID) })

	second, dup, err := s.SaveReceipt(ctx, rec)
	if err != nil || !dup {
		t.Fatalf("second save: dup=%v err=%v", dup, err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate should return stored id %d, got %d", first.ID, second.ID)
	}

	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 3 || got.Items[0].Description != "ARROZ" {
		t.Fatalf("unexpected items %+v", got.Items)
	}
	fuel := got.Items[2]
	if !fuel.UnitPrice.Equal(decimal.RequireFromString("5.899")) || !fuel.Quantity.Equal(decimal.RequireFromString("10.1234")) {
		t.Fatalf("fractional digits lost: unit_price=%s quantity=%s", fuel.UnitPrice, fuel.Quantity)
	}
}

func TestReplaceItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	rec.AccessKey = uniqueKey()
	saved, _, err := s.SaveReceipt(ctx, rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, saved.ID) })

	items := []nfce.LineItem{{Description: "PASSAGEM", Quantity: "1", Unit: "UN", UnitPrice: "4,50", LineTotal: "4,50"}}
	got, err := s.ReplaceItems(ctx, saved.ID, items, nfce.CategoryTransport)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got.Category != nfce.CategoryTransport || len(got.Items) != 1 || got.Items[0].LineTotal.String() != "4.5" {
		t.Fatalf("unexpected receipt %+v", got)
	}
	if _, err := s.ReplaceItems(ctx, saved.ID, items, "viagem"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), 1<<31-1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	rec.AccessKey = uniqueKey()
	if ok, err := s.Exists(ctx, rec.AccessKey); err != nil || ok {
		t.Fatalf("before save: ok=%v err=%v", ok, err)
	}
	saved, _, err := s.SaveReceipt(ctx, rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, saved.ID) })
	if ok, err := s.Exists(ctx, rec.AccessKey); err != nil || !ok {
		t.Fatalf("after save: ok=%v err=%v", ok, err)
	}
}
