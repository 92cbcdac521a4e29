package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/invora/internal/money"
)

var (
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvalidAmount       = errors.New("invalid_payment_amount")
	ErrAlreadySettled      = errors.New("payment_already_settled")
	ErrNotSettleable       = errors.New("payment_not_settleable")
	ErrNotApplied          = errors.New("payment_not_applied")
	ErrGatewayDeclined     = errors.New("gateway_declined")
	ErrInvoiceOverpaid     = errors.New("payment_exceeds_invoice_balance")
	ErrCurrencyMismatch    = errors.New("payment_currency_mismatch")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidOrganization = errors.New("invalid_organization")
)

// ChargeStatus is the gateway's verdict on a charge attempt.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "SUCCEEDED"
	ChargeDeclined  ChargeStatus = "DECLINED"
)

// ChargeResult is returned by a Gateway after an InitiateCharge call.
type ChargeResult struct {
	Reference string
	Status    ChargeStatus
	Reason    string
}

// Gateway abstracts an external payment processor. Implementations
// must be safe for concurrent use.
type Gateway interface {
	InitiateCharge(ctx context.Context, amount money.Money, method PaymentMethod) (ChargeResult, error)
}

// RecordPaymentRequest records a settlement that happened out of band,
// e.g. a bank transfer reconciled manually.
type RecordPaymentRequest struct {
	OrgID       snowflake.ID
	InvoiceID   snowflake.ID
	CustomerID  snowflake.ID
	Amount      money.Money
	Method      PaymentMethod
	PaidAt      time.Time
	ExternalRef string
}

// ChargeRequest asks the configured gateway to collect an amount for
// an invoice. The resulting payment is COMPLETED and applied on
// success, FAILED with no invoice mutation on decline.
type ChargeRequest struct {
	OrgID      snowflake.ID
	InvoiceID  snowflake.ID
	CustomerID snowflake.ID
	Amount     money.Money
	Method     PaymentMethod
}

type Service interface {
	// RecordManualPayment stores a completed out-of-band payment and
	// applies it to its invoice.
	RecordManualPayment(ctx context.Context, req RecordPaymentRequest) (*Payment, error)

	// Charge initiates a gateway charge and settles the resulting
	// payment. A declined charge yields a FAILED payment and
	// ErrGatewayDeclined.
	Charge(ctx context.Context, req ChargeRequest) (*Payment, error)

	// Settle moves a PENDING or FAILED payment to COMPLETED and
	// applies it to its invoice. Calling it on a COMPLETED payment
	// returns ErrAlreadySettled; settlement happens exactly once.
	Settle(ctx context.Context, paymentID snowflake.ID, settledAt time.Time) (*Payment, error)

	// ApplyPending settles an invoice's pending payments in
	// (paid_at, id) order, the deterministic allocation order for
	// concurrent submissions. A payment that would overpay is marked
	// FAILED and the remainder still runs.
	ApplyPending(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)

	// Refund reverses a completed, applied payment: the invoice
	// balance is decremented and the payment is marked refunded.
	Refund(ctx context.Context, paymentID snowflake.ID) (*Payment, error)

	// GetByID returns a payment scoped to the calling organization.
	GetByID(ctx context.Context, paymentID snowflake.ID) (*Payment, error)

	// ListByInvoice returns an invoice's payments ordered by
	// (paid_at, id), the same order they are applied in.
	ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
}
