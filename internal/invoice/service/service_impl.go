package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invora/internal/clock"
	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
	"github.com/smallbiznis/invora/internal/locker"
	"github.com/smallbiznis/invora/internal/money"
	"github.com/smallbiznis/invora/internal/orgcontext"
	"github.com/smallbiznis/invora/pkg/db"
	"github.com/smallbiznis/invora/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Locks *locker.KeyedMutex
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	locks       *locker.KeyedMutex
	invoicerepo repository.Repository[invoicedomain.Invoice]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		locks: p.Locks,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

func (s *Service) CreateConfirmed(ctx context.Context, req invoicedomain.CreateConfirmedRequest) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if len(req.Lines) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrEmptyInvoice
	}

	now := s.clock.Now()
	issuedAt := req.IssuedAt
	dueAt := req.DueAt

	var total int64
	lines := make([]invoicedomain.InvoiceLine, 0, len(req.Lines))

	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		SubscriptionID: req.SubscriptionID,
		CustomerID:     req.CustomerID,
		Status:         invoicedomain.InvoiceStatusConfirmed,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		IssuedAt:       &issuedAt,
		DueAt:          &dueAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for i, draft := range req.Lines {
		productID := draft.ProductID
		planLineID := draft.PlanLineID
		lines = append(lines, invoicedomain.InvoiceLine{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			InvoiceID:      invoice.ID,
			ProductID:      &productID,
			PlanLineID:     &planLineID,
			Description:    draft.Description,
			Quantity:       draft.Quantity,
			UnitAmount:     draft.UnitAmount,
			DiscountAmount: draft.DiscountAmount,
			TaxAmount:      draft.TaxAmount,
			Amount:         draft.Amount,
			Position:       i,
			CreatedAt:      now,
		})
		total += draft.Amount
	}
	invoice.TotalAmount = total

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextNumber(ctx, tx, orgID, now)
		if err != nil {
			return err
		}
		invoice.Number = number

		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return tx.Create(&lines).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoice.Lines = lines
	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.Int64("total_amount", invoice.TotalAmount),
	)
	return invoice, nil
}

func (s *Service) Confirm(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := s.parseID(id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var result invoicedomain.Invoice
	err = s.withInvoiceLock(ctx, invoiceID, func(tx *gorm.DB, invoice *invoicedomain.Invoice) error {
		if invoice.OrgID != orgID {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status == invoicedomain.InvoiceStatusConfirmed {
			result = *invoice
			return nil
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrInvalidTransition
		}

		var lines []invoicedomain.InvoiceLine
		if err := tx.Where("invoice_id = ?", invoice.ID).Order("position ASC").Find(&lines).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return invoicedomain.ErrEmptyInvoice
		}

		invoice.Lines = lines
		invoice.TotalAmount = invoice.RecomputeTotal()
		invoice.Status = invoicedomain.InvoiceStatusConfirmed
		invoice.UpdatedAt = s.clock.Now()

		if err := s.updateBalance(ctx, tx, invoice); err != nil {
			return err
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return result, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := s.parseID(id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var result invoicedomain.Invoice
	err = s.withInvoiceLock(ctx, invoiceID, func(tx *gorm.DB, invoice *invoicedomain.Invoice) error {
		if invoice.OrgID != orgID {
			return invoicedomain.ErrInvoiceNotFound
		}
		switch invoice.Status {
		case invoicedomain.InvoiceStatusCancelled:
			result = *invoice
			return nil
		case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusConfirmed:
		default:
			return invoicedomain.ErrInvalidTransition
		}
		if invoice.PaidAmount > 0 {
			return invoicedomain.ErrInvoiceHasPayments
		}

		invoice.Status = invoicedomain.InvoiceStatusCancelled
		invoice.UpdatedAt = s.clock.Now()
		if err := s.updateBalance(ctx, tx, invoice); err != nil {
			return err
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return result, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := s.parseID(id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var invoice invoicedomain.Invoice
	err = s.db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("org_id = ? AND id = ?", orgID, invoiceID).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	// Consistency check: the frozen total must always be re-derivable
	// from the lines.
	if invoice.Status != invoicedomain.InvoiceStatusDraft && invoice.RecomputeTotal() != invoice.TotalAmount {
		return invoicedomain.Invoice{}, fmt.Errorf("invoice %s: %w", invoice.Number, invoicedomain.ErrTotalMismatch)
	}
	return invoice, nil
}

func (s *Service) FindByPeriod(ctx context.Context, subscriptionID snowflake.ID, periodStart time.Time) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) RecordPayment(ctx context.Context, invoiceID snowflake.ID, amount money.Money, apply func(tx *gorm.DB) error) (invoicedomain.Invoice, error) {
	if amount.Amount <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}

	var result invoicedomain.Invoice
	err := s.withInvoiceLock(ctx, invoiceID, func(tx *gorm.DB, invoice *invoicedomain.Invoice) error {
		if invoice.Status != invoicedomain.InvoiceStatusConfirmed {
			return invoicedomain.ErrNotConfirmed
		}
		if invoice.Currency != amount.Currency {
			return money.ErrCurrencyMismatch
		}
		if invoice.PaidAmount+amount.Amount > invoice.TotalAmount {
			return invoicedomain.ErrOverpayment
		}

		now := s.clock.Now()
		invoice.PaidAmount += amount.Amount
		if invoice.PaidAmount == invoice.TotalAmount {
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
		}
		invoice.UpdatedAt = now

		if err := s.updateBalance(ctx, tx, invoice); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx); err != nil {
				return err
			}
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return result, nil
}

func (s *Service) ReversePayment(ctx context.Context, invoiceID snowflake.ID, amount money.Money, apply func(tx *gorm.DB) error) (invoicedomain.Invoice, error) {
	if amount.Amount <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}

	var result invoicedomain.Invoice
	err := s.withInvoiceLock(ctx, invoiceID, func(tx *gorm.DB, invoice *invoicedomain.Invoice) error {
		if invoice.Currency != amount.Currency {
			return money.ErrCurrencyMismatch
		}
		if amount.Amount > invoice.PaidAmount {
			return invoicedomain.ErrInvalidAmount
		}

		invoice.PaidAmount -= amount.Amount
		if invoice.Status == invoicedomain.InvoiceStatusPaid {
			invoice.Status = invoicedomain.InvoiceStatusConfirmed
			invoice.PaidAt = nil
		}
		invoice.UpdatedAt = s.clock.Now()

		if err := s.updateBalance(ctx, tx, invoice); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx); err != nil {
				return err
			}
		}
		result = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return result, nil
}

func (s *Service) ListOverdue(ctx context.Context, subscriptionID snowflake.ID, cutoff time.Time) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ? AND due_at < ? AND paid_amount < total_amount",
			subscriptionID, invoicedomain.InvoiceStatusConfirmed, cutoff).
		Order("due_at ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// withInvoiceLock serializes a read-modify-write on one invoice: the
// keyed mutex guards in-process callers, the row lock guards other
// writers on the same database.
func (s *Service) withInvoiceLock(ctx context.Context, invoiceID snowflake.ID, fn func(tx *gorm.DB, invoice *invoicedomain.Invoice) error) error {
	unlock := s.locks.Lock("invoice/" + invoiceID.String())
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice invoicedomain.Invoice
		err := db.ForUpdate(tx).Where("id = ?", invoiceID).First(&invoice).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		return fn(tx, &invoice)
	})
}

func (s *Service) updateBalance(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, total_amount = ?, paid_amount = ?, paid_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		invoice.Status,
		invoice.TotalAmount,
		invoice.PaidAmount,
		invoice.PaidAt,
		invoice.UpdatedAt,
		invoice.OrgID,
		invoice.ID,
	).Error
}

// nextNumber bumps the per-org sequence inside the caller's
// transaction and formats the invoice number.
func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, now time.Time) (string, error) {
	var seq invoicedomain.NumberSequence
	err := db.ForUpdate(tx.WithContext(ctx)).Where("org_id = ?", orgID).First(&seq).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return "", err
		}
		seq = invoicedomain.NumberSequence{OrgID: orgID, LastNumber: 0, UpdatedAt: now}
		if err := tx.WithContext(ctx).Create(&seq).Error; err != nil {
			return "", err
		}
	}

	seq.LastNumber++
	seq.UpdatedAt = now
	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoice_number_sequences SET last_number = ?, updated_at = ? WHERE org_id = ?`,
		seq.LastNumber, seq.UpdatedAt, orgID,
	).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("INV-%06d", seq.LastNumber), nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invoicedomain.ErrInvalidInvoice
	}
	return id, nil
}
