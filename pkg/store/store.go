// Package store persists confirmed receipts in Postgres through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"nfcescan/models"
	"nfcescan/pkg/nfce"
)

var (
	// ErrNotFound is returned when no receipt matches.
	ErrNotFound        = errors.New("receipt not found")
	ErrUnknownCategory = errors.New("unknown category")
)

// Store is the persistence adapter for receipts and their items.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log}
}

// DB exposes the underlying handle for ad-hoc queries in tools.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates the receipt tables. Each model is migrated on its
// own so a permission problem on one table does not block the other.
func (s *Store) Migrate() error {
	var errs []error
	for _, t := range []struct {
		name  string
		model any
	}{
		{"receipts", &models.Receipt{}},
		{"items", &models.Item{}},
	} {
		if err := s.db.AutoMigrate(t.model); err != nil {
			s.log.Warn().Err(err).Str("table", t.name).Msg("migration warning")
			errs = append(errs, fmt.Errorf("migrate %s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// SaveReceipt stores rec with its items in one transaction. If a receipt with
// the same access key already exists nothing is written and the stored receipt
// is returned with duplicate set.
func (s *Store) SaveReceipt(ctx context.Context, rec *nfce.ReceiptRecord) (*models.Receipt, bool, error) {
	if rec == nil {
		return nil, false, errors.New("nil receipt")
	}
	m := ToModel(rec)
	if m.AccessKey == "" {
		return nil, false, nfce.ErrNoAccessKey
	}

	duplicate := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Receipt
		err := tx.Where("access_key = ?", m.AccessKey).First(&existing).Error
		if err == nil {
			duplicate = true
			m = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		if !isUniqueConstraintError(err) {
			return nil, false, fmt.Errorf("save receipt: %w", err)
		}
		// lost a race with a concurrent save of the same key
		existing, gerr := s.GetByAccessKey(ctx, m.AccessKey)
		if gerr != nil {
			return nil, false, fmt.Errorf("save receipt: %w", err)
		}
		return existing, true, nil
	}
	if duplicate {
		s.log.Info().Str("access_key", m.AccessKey).Uint("id", m.ID).Msg("receipt already recorded")
	} else {
		s.log.Info().Str("access_key", m.AccessKey).Uint("id", m.ID).Int("items", len(m.Items)).Msg("receipt saved")
	}
	return &m, duplicate, nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Receipt, error) {
	var m models.Receipt
	err := s.withItems(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetByAccessKey(ctx context.Context, key string) (*models.Receipt, error) {
	var m models.Receipt
	err := s.withItems(ctx).Where("access_key = ?", nfce.NormalizeAccessKey(key)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Exists reports whether a receipt with the access key is already stored.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Receipt{}).
		Where("access_key = ?", nfce.NormalizeAccessKey(key)).Count(&n).Error
	return n > 0, err
}

// ListFilter narrows List. Zero values mean no restriction; Limit defaults to 50.
type ListFilter struct {
	Category string
	From, To time.Time
	Limit    int
	Offset   int
}

// List returns receipts newest first, without items.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Receipt, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := s.db.WithContext(ctx).Model(&models.Receipt{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if !f.From.IsZero() {
		q = q.Where("issued_on >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("issued_on < ?", f.To)
	}
	var out []models.Receipt
	if err := q.Order("issued_on DESC NULLS LAST, id DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceItems swaps the item list of receipt id and, when category is not
// empty, refiles it. Used after a user corrects an extraction.
func (s *Store) ReplaceItems(ctx context.Context, id uint, items []nfce.LineItem, category string) (*models.Receipt, error) {
	if category != "" && !nfce.IsCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Receipt
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Where("receipt_id = ?", id).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		rows := ToItems(items)
		for i := range rows {
			rows[i].ReceiptID = id
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if category != "" && category != m.Category {
			return tx.Model(&m).Update("category", category).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a receipt and, by cascade, its items.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Receipt{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MonthTotal is one bucket of the spending summary.
type MonthTotal struct {
	Month    string          `json:"month"`
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Receipts int64           `json:"receipts"`
}

// MonthlySummary sums item line totals per YYYY-MM of issue date and category.
// Receipts with an unreadable issue date are left out.
func (s *Store) MonthlySummary(ctx context.Context, category string) ([]MonthTotal, error) {
	q := s.db.WithContext(ctx).Table("items AS i").
		Select("to_char(r.issued_on, 'YYYY-MM') AS month, r.category AS category, COALESCE(SUM(i.line_total),0) AS total, COUNT(DISTINCT r.id) AS receipts").
		Joins("JOIN receipts r ON r.id = i.receipt_id").
		Where("r.issued_on IS NOT NULL")
	if category != "" {
		q = q.Where("r.category = ?", category)
	}
	var out []MonthTotal
	if err := q.Group("month, r.category").Order("month, r.category").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MonthStats is the header-level total for one month.
type MonthStats struct {
	Receipts int64
	Total    decimal.Decimal
}

// MonthReport counts receipts issued in [start, start+1 month) and sums their totals.
func (s *Store) MonthReport(ctx context.Context, start time.Time, category string) (MonthStats, error) {
	end := start.AddDate(0, 1, 0)
	q := s.db.WithContext(ctx).Model(&models.Receipt{}).
		Select("COUNT(*) AS receipts, COALESCE(SUM(total_value),0) AS total").
		Where("issued_on >= ? AND issued_on < ?", start, end)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var st MonthStats
	if err := q.Scan(&st).Error; err != nil {
		return MonthStats{}, err
	}
	return st, nil
}

func (s *Store) withItems(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	})
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
