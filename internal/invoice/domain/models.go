// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusConfirmed InvoiceStatus = "CONFIRMED"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice represents a generated invoice. TotalAmount is computed once
// at confirmation and frozen; PaidAmount may never exceed it, and
// Status is PAID exactly when the two are equal.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoice_number,priority:1"`
	Number         string        `gorm:"type:text;not null;uniqueIndex:ux_invoice_number,priority:2"`
	SubscriptionID snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoice_period,priority:1"`
	CustomerID     snowflake.ID  `gorm:"not null;index"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`

	PeriodStart time.Time `gorm:"not null;uniqueIndex:ux_invoice_period,priority:2"`
	PeriodEnd   time.Time `gorm:"not null"`

	Currency    string `gorm:"type:text;not null"`
	TotalAmount int64  `gorm:"not null;default:0"`
	PaidAmount  int64  `gorm:"not null;default:0"`

	IssuedAt *time.Time `gorm:""`
	DueAt    *time.Time `gorm:""`
	PaidAt   *time.Time `gorm:""`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Balance is the outstanding amount in minor units.
func (i *Invoice) Balance() int64 { return i.TotalAmount - i.PaidAmount }

// Overdue is derived, never stored.
func (i *Invoice) Overdue(now time.Time) bool {
	if i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusCancelled {
		return false
	}
	if i.DueAt == nil || !now.After(*i.DueAt) {
		return false
	}
	return i.PaidAmount < i.TotalAmount
}

// RecomputeTotal derives the total from the lines. A mismatch with
// the stored TotalAmount indicates corruption; callers treat it as a
// consistency failure.
func (i *Invoice) RecomputeTotal() int64 {
	var total int64
	for _, line := range i.Lines {
		total += line.Amount
	}
	return total
}

// InvoiceLine represents a line on an invoice. Lines are immutable
// once the invoice leaves DRAFT.
type InvoiceLine struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	OrgID      snowflake.ID  `gorm:"not null;index"`
	InvoiceID  snowflake.ID  `gorm:"not null;index"`
	ProductID  *snowflake.ID `gorm:"index"`
	PlanLineID *snowflake.ID `gorm:"index"`

	Description    string `gorm:"type:text"`
	Quantity       int64  `gorm:"not null"`
	UnitAmount     int64  `gorm:"not null"`
	DiscountAmount int64  `gorm:"not null;default:0"`
	TaxAmount      int64  `gorm:"not null;default:0"`
	Amount         int64  `gorm:"not null"`
	Position       int    `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// NumberSequence allocates sequential invoice numbers per org. The
// row is bumped inside the invoice create transaction so numbers stay
// gapless under concurrency.
type NumberSequence struct {
	OrgID      snowflake.ID `gorm:"primaryKey"`
	LastNumber int64        `gorm:"not null;default:0"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NumberSequence) TableName() string { return "invoice_number_sequences" }
