package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/invora/internal/money"
)

// LineDraft is a composed, not yet persisted invoice line.
type LineDraft struct {
	ProductID      snowflake.ID
	PlanLineID     snowflake.ID
	Description    string
	Quantity       int64
	UnitAmount     int64
	DiscountAmount int64
	TaxAmount      int64
	Amount         int64
}

type CreateConfirmedRequest struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	Currency       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	IssuedAt       time.Time
	DueAt          time.Time
	Lines          []LineDraft
}

type Service interface {
	// CreateConfirmed persists a new invoice with its lines and a
	// freshly allocated number, already confirmed with a frozen
	// total. Create-or-nothing: any failure leaves no invoice.
	CreateConfirmed(ctx context.Context, req CreateConfirmedRequest) (Invoice, error)
	Confirm(ctx context.Context, id string) (Invoice, error)
	Cancel(ctx context.Context, id string) (Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	// FindByPeriod is the idempotence probe for invoice generation,
	// keyed by (subscription id, period start).
	FindByPeriod(ctx context.Context, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	// RecordPayment increases the paid amount, guarding against
	// overpayment, and flips the invoice to PAID on exact settlement.
	// Only the payment allocator calls this. A non-nil apply runs in
	// the same transaction as the balance update, so the caller can
	// flip its own payment record atomically: either both commit or
	// neither does.
	RecordPayment(ctx context.Context, invoiceID snowflake.ID, amount money.Money, apply func(tx *gorm.DB) error) (Invoice, error)
	// ReversePayment decrements the paid amount symmetrically for a
	// refunded payment, reopening a PAID invoice. apply behaves as in
	// RecordPayment.
	ReversePayment(ctx context.Context, invoiceID snowflake.ID, amount money.Money, apply func(tx *gorm.DB) error) (Invoice, error)
	// ListOverdue returns confirmed invoices due before the cutoff,
	// ordered by due date, for the delinquency sweep.
	ListOverdue(ctx context.Context, subscriptionID snowflake.ID, cutoff time.Time) ([]Invoice, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrEmptyInvoice        = errors.New("empty_invoice")
	ErrOverpayment         = errors.New("overpayment")
	ErrInvoiceHasPayments  = errors.New("invoice_has_payments")
	ErrNotConfirmed        = errors.New("invoice_not_confirmed")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrTotalMismatch       = errors.New("total_mismatch")
	ErrInvalidAmount       = errors.New("invalid_amount")
)
