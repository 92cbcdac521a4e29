// Package domain contains the payment ledger models. A payment
// references exactly one invoice but is owned by the ledger, not the
// invoice: it can be reversed later without touching invoice lines.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentStatus represents payment lifecycle states. COMPLETED is
// immutable; PENDING and FAILED may settle to COMPLETED exactly once.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// PaymentMethod identifies how a payment was made.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash         PaymentMethod = "CASH"
)

// Payment is one attempt to settle an invoice balance. PaidAt orders
// application against sibling payments; the snowflake ID breaks ties
// by submission sequence.
type Payment struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	OrgID      snowflake.ID  `gorm:"not null;index"`
	InvoiceID  snowflake.ID  `gorm:"not null;index"`
	CustomerID snowflake.ID  `gorm:"not null;index"`
	Status     PaymentStatus `gorm:"type:text;not null;default:'PENDING'"`
	Method     PaymentMethod `gorm:"type:text;not null"`

	Amount   int64  `gorm:"not null"`
	Currency string `gorm:"type:text;not null"`

	ExternalRef   string  `gorm:"type:text"`
	FailureReason *string `gorm:"type:text"`

	PaidAt     time.Time  `gorm:"not null;index"`
	AppliedAt  *time.Time `gorm:""`
	RefundedAt *time.Time `gorm:""`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Applied reports whether this payment has mutated its invoice balance.
func (p *Payment) Applied() bool { return p.AppliedAt != nil }
