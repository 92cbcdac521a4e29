package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/invora/internal/clock"
	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
	"github.com/smallbiznis/invora/internal/locker"
	"github.com/smallbiznis/invora/internal/money"
	"github.com/smallbiznis/invora/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invora/internal/payment/domain"
	"github.com/smallbiznis/invora/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locks      *locker.KeyedMutex
	Gateway    paymentdomain.Gateway `optional:"true"`
	InvoiceSvc invoicedomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	locks       *locker.KeyedMutex
	gateway     paymentdomain.Gateway
	invoiceSvc  invoicedomain.Service
	paymentrepo repository.Repository[paymentdomain.Payment]
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,
		locks: p.Locks,

		gateway:     p.Gateway,
		invoiceSvc:  p.InvoiceSvc,
		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func (s *Service) RecordManualPayment(ctx context.Context, req paymentdomain.RecordPaymentRequest) (*paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if req.Method == "" {
		return nil, paymentdomain.ErrInvalidMethod
	}

	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}
	if req.ExternalRef == "" {
		req.ExternalRef = "manual_" + uuid.NewString()
	}

	payment := &paymentdomain.Payment{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		InvoiceID:   req.InvoiceID,
		CustomerID:  req.CustomerID,
		Status:      paymentdomain.PaymentStatusPending,
		Method:      req.Method,
		Amount:      req.Amount.Amount,
		Currency:    req.Amount.Currency,
		ExternalRef: req.ExternalRef,
		PaidAt:      paidAt,
	}
	if err := s.paymentrepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	return s.settle(ctx, payment, paidAt)
}

func (s *Service) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("charge %d: no payment gateway configured", req.InvoiceID)
	}

	now := s.clock.Now()
	payment := &paymentdomain.Payment{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		InvoiceID:  req.InvoiceID,
		CustomerID: req.CustomerID,
		Status:     paymentdomain.PaymentStatusPending,
		Method:     req.Method,
		Amount:     req.Amount.Amount,
		Currency:   req.Amount.Currency,
		PaidAt:     now,
	}
	if err := s.paymentrepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	result, err := s.gateway.InitiateCharge(ctx, req.Amount, req.Method)
	if err != nil {
		s.failPayment(ctx, payment, err.Error())
		return payment, fmt.Errorf("initiate charge: %w", err)
	}

	payment.ExternalRef = result.Reference
	if result.Status != paymentdomain.ChargeSucceeded {
		s.failPayment(ctx, payment, result.Reason)
		return payment, paymentdomain.ErrGatewayDeclined
	}

	return s.settle(ctx, payment, s.clock.Now())
}

func (s *Service) Settle(ctx context.Context, paymentID snowflake.ID, settledAt time.Time) (*paymentdomain.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if settledAt.IsZero() {
		settledAt = s.clock.Now()
	}
	return s.settle(ctx, payment, settledAt)
}

// settle flips a payment to COMPLETED and applies it to the invoice
// balance. The keyed lock serializes settlement per payment so the
// invoice mutation happens exactly once: a payment that is already
// COMPLETED is rejected, a FAILED one is retried from scratch.
func (s *Service) settle(ctx context.Context, payment *paymentdomain.Payment, settledAt time.Time) (*paymentdomain.Payment, error) {
	unlock := s.locks.Lock(fmt.Sprintf("payment/%d", payment.ID))
	defer unlock()

	var current paymentdomain.Payment
	if err := s.db.WithContext(ctx).Where("id = ? AND org_id = ?", payment.ID, payment.OrgID).First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentdomain.ErrPaymentNotFound
		}
		return nil, err
	}

	switch current.Status {
	case paymentdomain.PaymentStatusCompleted:
		return payment, paymentdomain.ErrAlreadySettled
	case paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusFailed:
	default:
		return payment, paymentdomain.ErrNotSettleable
	}

	// The invoice service runs its own transaction and invoice-level
	// lock. It is called outside any payments transaction so the two
	// never nest; the payment's flip to COMPLETED rides inside that
	// same transaction, so the balance and the status commit together
	// or not at all.
	now := s.clock.Now()
	amount := money.Money{Amount: current.Amount, Currency: current.Currency}
	_, err := s.invoiceSvc.RecordPayment(ctx, current.InvoiceID, amount, func(tx *gorm.DB) error {
		return tx.Exec(
			`UPDATE payments SET status = ?, paid_at = ?, applied_at = ?, failure_reason = NULL, updated_at = ? WHERE id = ?`,
			paymentdomain.PaymentStatusCompleted, settledAt, now, now, current.ID,
		).Error
	})
	if err != nil {
		if errors.Is(err, invoicedomain.ErrOverpayment) {
			// A terminal verdict for this payment, not a transient
			// error: mark it FAILED so the allocator does not retry
			// it forever.
			s.failPayment(ctx, payment, "exceeds invoice balance")
			return payment, fmt.Errorf("%w: %w", paymentdomain.ErrInvoiceOverpaid, err)
		}
		return payment, err
	}

	payment.Status = paymentdomain.PaymentStatusCompleted
	payment.PaidAt = settledAt
	payment.AppliedAt = &now
	payment.FailureReason = nil

	s.log.Info("payment settled",
		zap.Int64("payment_id", payment.ID.Int64()),
		zap.Int64("invoice_id", payment.InvoiceID.Int64()),
		zap.Int64("amount", payment.Amount),
	)
	return payment, nil
}

func (s *Service) ApplyPending(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var pending []paymentdomain.Payment
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ? AND status = ?", orgID, invoiceID, paymentdomain.PaymentStatusPending).
		Order("paid_at ASC, id ASC").
		Find(&pending).Error
	if err != nil {
		return nil, err
	}

	applied := make([]paymentdomain.Payment, 0, len(pending))
	for i := range pending {
		p := pending[i]
		settled, err := s.settle(ctx, &p, p.PaidAt)
		if err != nil {
			// An overpaying payment is already marked FAILED by
			// settle; anything else aborts the pass.
			if errors.Is(err, paymentdomain.ErrInvoiceOverpaid) {
				s.log.Warn("payment skipped, exceeds invoice balance",
					zap.Int64("payment_id", p.ID.Int64()),
					zap.Int64("invoice_id", invoiceID.Int64()),
				)
				continue
			}
			return applied, err
		}
		applied = append(applied, *settled)
	}
	return applied, nil
}

func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(fmt.Sprintf("payment/%d", payment.ID))
	defer unlock()

	var current paymentdomain.Payment
	if err := s.db.WithContext(ctx).Where("id = ? AND org_id = ?", payment.ID, payment.OrgID).First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentdomain.ErrPaymentNotFound
		}
		return nil, err
	}
	if current.Status != paymentdomain.PaymentStatusCompleted || !current.Applied() {
		return nil, paymentdomain.ErrNotApplied
	}
	if current.RefundedAt != nil {
		return nil, paymentdomain.ErrNotApplied
	}

	now := s.clock.Now()
	amount := money.Money{Amount: current.Amount, Currency: current.Currency}
	_, err = s.invoiceSvc.ReversePayment(ctx, current.InvoiceID, amount, func(tx *gorm.DB) error {
		return tx.Exec(
			`UPDATE payments SET refunded_at = ?, updated_at = ? WHERE id = ?`,
			now, now, current.ID,
		).Error
	})
	if err != nil {
		return nil, err
	}
	payment.RefundedAt = &now

	s.log.Info("payment refunded",
		zap.Int64("payment_id", payment.ID.Int64()),
		zap.Int64("invoice_id", payment.InvoiceID.Int64()),
	)
	return payment, nil
}

func (s *Service) GetByID(ctx context.Context, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.paymentrepo.FindOne(ctx, &paymentdomain.Payment{ID: paymentID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var payments []paymentdomain.Payment
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("paid_at ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// failPayment records a terminal failure. Best effort: the original
// failure is what the caller sees, not a write error here.
func (s *Service) failPayment(ctx context.Context, payment *paymentdomain.Payment, reason string) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = ?, external_ref = ?, updated_at = ? WHERE id = ?`,
		paymentdomain.PaymentStatusFailed, reason, payment.ExternalRef, now, payment.ID,
	).Error
	if err != nil {
		s.log.Error("mark payment failed", zap.Int64("payment_id", payment.ID.Int64()), zap.Error(err))
		return
	}
	payment.Status = paymentdomain.PaymentStatusFailed
	payment.FailureReason = &reason
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, paymentdomain.ErrInvalidOrganization
	}
	return orgID, nil
}
