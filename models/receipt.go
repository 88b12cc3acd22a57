package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is one confirmed NFC-e receipt. AccessKey is the natural key; a
// second save of the same key is reported as a duplicate, never stored twice.
type Receipt struct {
	ID                uint `gorm:"primaryKey"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SeriesNumber      string          `gorm:"size:64"`
	IssuerName        string          `gorm:"size:255"`
	TaxID             string          `gorm:"column:tax_id;size:32;index"`
	StateRegistration string          `gorm:"size:32"`
	IssuedAt          string          `gorm:"size:64"`                  // as printed on the portal
	IssuedOn          *time.Time      `gorm:"index"`                    // parsed IssuedAt, nil when unreadable
	AuthorizedAt      string          `gorm:"size:64"`
	TotalValue        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	PaymentMethod     string          `gorm:"size:128"`
	AccessKey         string          `gorm:"size:100;uniqueIndex;not null"`
	Category          string          `gorm:"size:32;not null;default:alimentacao;index"`
	ArchiveObject     string          `gorm:"size:255"` // object key of the archived page, if any
	Items             []Item          `gorm:"foreignKey:ReceiptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// Item is a product line of a Receipt, kept in page order by Position.
type Item struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ReceiptID   uint            `gorm:"index;not null"`
	Position    int             `gorm:"not null"`
	Description string          `gorm:"size:255;not null"`
	Quantity    decimal.Decimal `gorm:"type:numeric(15,4);not null;default:0"`
	Unit        string          `gorm:"size:16"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(21,10);not null;default:0"`
	Discount    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
}
