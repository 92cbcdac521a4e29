package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingcycledomain "github.com/smallbiznis/invora/internal/billingcycle/domain"
	"github.com/smallbiznis/invora/internal/clock"
	"github.com/smallbiznis/invora/internal/config"
	"github.com/smallbiznis/invora/internal/invoice/compose"
	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
	"github.com/smallbiznis/invora/internal/locker"
	"github.com/smallbiznis/invora/internal/observability/metrics"
	"github.com/smallbiznis/invora/internal/orgcontext"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
	"github.com/smallbiznis/invora/pkg/db"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Locks  *locker.KeyedMutex
	Policy *config.BillingPolicyHolder

	Rules           pricingdomain.RuleSource
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service

	Metrics *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	locks  *locker.KeyedMutex
	policy *config.BillingPolicyHolder

	rules           pricingdomain.RuleSource
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	metrics         *metrics.BillingMetrics
}

func NewService(p ServiceParam) billingcycledomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("billingcycle.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		locks:  p.Locks,
		policy: p.Policy,

		rules:           p.Rules,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
	}
}

func (s *Service) RunBillingCycle(ctx context.Context, subscriptionID snowflake.ID, asOf time.Time) (billingcycledomain.RunResult, error) {
	started := s.clock.Now()
	result, err := s.runBillingCycle(ctx, subscriptionID, asOf)
	s.metrics.ObserveRun(runOutcomeLabel(result, err), s.clock.Now().Sub(started))
	return result, err
}

func (s *Service) runBillingCycle(ctx context.Context, subscriptionID snowflake.ID, asOf time.Time) (billingcycledomain.RunResult, error) {
	result := billingcycledomain.RunResult{SubscriptionID: subscriptionID}

	// One run per subscription at a time within this process; the
	// row lock in updateNextBilling covers cross-process races.
	unlock := s.locks.Lock(fmt.Sprintf("subscription/%d", subscriptionID))
	defer unlock()

	sub, err := s.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return result, err
	}
	ctx = orgcontext.WithOrgID(ctx, sub.OrgID)

	billable, err := s.checkBillable(ctx, sub)
	if err != nil {
		return result, err
	}
	if !billable {
		result.Outcome = billingcycledomain.OutcomeClosed
		return result, nil
	}

	if sub.Status == subscriptiondomain.SubscriptionStatusActive {
		suspended, err := s.suspendIfDelinquent(ctx, sub, asOf)
		if err != nil {
			return result, err
		}
		if suspended {
			result.Outcome = billingcycledomain.OutcomeSuspended
			return result, nil
		}
	}

	plan, err := s.fetchPlan(ctx, sub.OrgID, sub.PlanID)
	if err != nil {
		return result, err
	}

	periodStart := sub.NextBillingAt
	periodEnd := plan.Cadence.AddTo(periodStart)
	result.PeriodStart = periodStart
	result.PeriodEnd = periodEnd

	// Billing in arrears: the period must have fully elapsed.
	if asOf.Before(periodEnd) {
		result.Outcome = billingcycledomain.OutcomeNotDue
		return result, nil
	}

	existing, err := s.invoiceSvc.FindByPeriod(ctx, sub.ID, periodStart)
	if err != nil {
		return result, err
	}
	if existing != nil {
		// Heal the pointer if a previous run created the invoice but
		// stopped before advancing.
		if err := s.advanceAfterBilling(ctx, sub, periodStart, periodEnd); err != nil {
			return result, err
		}
		result.Outcome = billingcycledomain.OutcomeAlreadyGenerated
		result.Invoice = existing
		return result, nil
	}

	scope := pricingdomain.RuleScope{OrgID: sub.OrgID, PlanID: plan.ID}
	discounts, err := s.rules.ResolveDiscountRules(ctx, scope, periodStart)
	if err != nil {
		return result, fmt.Errorf("resolve discount rules: %w", err)
	}
	taxes, err := s.rules.ResolveTaxRules(ctx, scope, periodStart)
	if err != nil {
		return result, fmt.Errorf("resolve tax rules: %w", err)
	}

	composed, err := compose.Lines(compose.Input{
		Subscription: *sub,
		Plan:         *plan,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Discounts:    discounts,
		Taxes:        taxes,
	})
	if err != nil {
		return result, err
	}
	result.RejectedLines = len(composed.Rejected)
	for _, rejected := range composed.Rejected {
		s.log.Warn("plan line rejected",
			zap.Int64("subscription_id", sub.ID.Int64()),
			zap.Int64("plan_line_id", rejected.PlanLine.ID.Int64()),
			zap.Error(rejected.Err),
		)
	}
	if len(composed.Lines) == 0 {
		return result, fmt.Errorf("%w: subscription %d period %s",
			billingcycledomain.ErrAllLinesRejected, sub.ID, periodStart.Format(time.RFC3339))
	}

	policy := s.policy.Get()
	issuedAt := s.clock.Now()
	invoice, err := s.invoiceSvc.CreateConfirmed(ctx, invoicedomain.CreateConfirmedRequest{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Currency:       plan.Currency,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		IssuedAt:       issuedAt,
		DueAt:          issuedAt.AddDate(0, 0, policy.DueTermDays),
		Lines:          composed.Lines,
	})
	if err != nil {
		// A concurrent run may have won the unique (subscription,
		// period start) race; treat its invoice as ours.
		if !db.IsDuplicateKeyErr(err) {
			return result, err
		}
		if won, probeErr := s.invoiceSvc.FindByPeriod(ctx, sub.ID, periodStart); probeErr == nil && won != nil {
			if err := s.advanceAfterBilling(ctx, sub, periodStart, periodEnd); err != nil {
				return result, err
			}
			result.Outcome = billingcycledomain.OutcomeAlreadyGenerated
			result.Invoice = won
			return result, nil
		}
		return result, err
	}

	if err := s.advanceAfterBilling(ctx, sub, periodStart, periodEnd); err != nil {
		return result, err
	}

	s.metrics.InvoiceGenerated(len(composed.Lines))
	s.log.Info("invoice generated",
		zap.Int64("subscription_id", sub.ID.Int64()),
		zap.Int64("invoice_id", invoice.ID.Int64()),
		zap.String("number", invoice.Number),
		zap.Int64("total_amount", invoice.TotalAmount),
		zap.Time("period_start", periodStart),
		zap.Time("period_end", periodEnd),
	)

	result.Outcome = billingcycledomain.OutcomeGenerated
	result.Invoice = &invoice
	return result, nil
}

func (s *Service) GenerateInvoicesDue(ctx context.Context, asOf time.Time) (billingcycledomain.SweepResult, error) {
	var sweep billingcycledomain.SweepResult

	policy := s.policy.Get()
	candidates, err := s.listBillableSubscriptions(ctx, asOf, policy.BatchSize)
	if err != nil {
		return sweep, err
	}

	for _, id := range candidates {
		sweep.Visited++
		result, err := s.RunBillingCycle(ctx, id, asOf)
		if err != nil {
			sweep.Failed = append(sweep.Failed, billingcycledomain.SweepFailure{SubscriptionID: id, Err: err})
			s.log.Error("billing cycle failed",
				zap.Int64("subscription_id", id.Int64()),
				zap.Error(err),
			)
			continue
		}
		switch result.Outcome {
		case billingcycledomain.OutcomeGenerated:
			sweep.Generated++
		case billingcycledomain.OutcomeAlreadyGenerated:
			sweep.AlreadyGenerated++
		case billingcycledomain.OutcomeNotDue:
			sweep.NotDue++
		case billingcycledomain.OutcomeClosed:
			sweep.Closed++
		case billingcycledomain.OutcomeSuspended:
			sweep.Suspended++
		}
	}

	s.metrics.SweepVisited(sweep.Visited)
	return sweep, nil
}

func (s *Service) SweepDelinquent(ctx context.Context, asOf time.Time) (int, error) {
	policy := s.policy.Get()
	cutoff := asOf.AddDate(0, 0, -policy.GraceDays)

	var rows []struct {
		ID    snowflake.ID
		OrgID snowflake.ID
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT s.id, s.org_id
		 FROM subscriptions s
		 JOIN invoices i ON i.subscription_id = s.id
		 WHERE s.status = ?
		   AND i.status = ?
		   AND i.paid_amount < i.total_amount
		   AND i.due_at < ?
		 ORDER BY s.id`,
		subscriptiondomain.SubscriptionStatusActive,
		invoicedomain.InvoiceStatusConfirmed,
		cutoff,
	).Scan(&rows).Error
	if err != nil {
		return 0, err
	}

	suspended := 0
	for _, row := range rows {
		orgCtx := orgcontext.WithOrgID(ctx, row.OrgID)
		if _, err := s.subscriptionSvc.Suspend(orgCtx, row.ID.String(), subscriptiondomain.ReasonDelinquency); err != nil {
			// Raced into a non-suspendable state; skip it.
			if errors.Is(err, subscriptiondomain.ErrInvalidTransition) {
				continue
			}
			s.log.Error("suspend delinquent subscription",
				zap.Int64("subscription_id", row.ID.Int64()),
				zap.Error(err),
			)
			continue
		}
		suspended++
		s.metrics.SubscriptionSuspended()
	}
	return suspended, nil
}

func (s *Service) fetchSubscription(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billingcycledomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) fetchPlan(ctx context.Context, orgID, planID snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ? AND org_id = ?", planID, orgID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// checkBillable decides whether the subscription can be billed at all.
// False with a nil error means it was closed instead: its remaining
// periods start on or after the end date or cancellation cutoff.
func (s *Service) checkBillable(ctx context.Context, sub *subscriptiondomain.Subscription) (bool, error) {
	switch sub.Status {
	case subscriptiondomain.SubscriptionStatusActive:
	case subscriptiondomain.SubscriptionStatusCancelled:
		// A cancelled subscription still owes its final partial
		// period; one whose unbilled periods start after the
		// cancellation is done. CANCELLED is already terminal, no
		// further transition.
		if sub.CanceledAt == nil || !sub.NextBillingAt.Before(*sub.CanceledAt) {
			return false, nil
		}
	default:
		return false, billingcycledomain.ErrSubscriptionNotActive
	}

	if sub.EndAt != nil && !sub.NextBillingAt.Before(*sub.EndAt) {
		// A cancelled subscription whose end date is also exhausted
		// is already terminal; Close is only legal from ACTIVE.
		if sub.Status == subscriptiondomain.SubscriptionStatusActive {
			if _, err := s.subscriptionSvc.Close(ctx, sub.ID.String()); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return true, nil
}

func (s *Service) suspendIfDelinquent(ctx context.Context, sub *subscriptiondomain.Subscription, asOf time.Time) (bool, error) {
	policy := s.policy.Get()
	cutoff := asOf.AddDate(0, 0, -policy.GraceDays)
	overdue, err := s.invoiceSvc.ListOverdue(ctx, sub.ID, cutoff)
	if err != nil {
		return false, err
	}
	if len(overdue) == 0 {
		return false, nil
	}
	if _, err := s.subscriptionSvc.Suspend(ctx, sub.ID.String(), subscriptiondomain.ReasonDelinquency); err != nil {
		return false, err
	}
	s.metrics.SubscriptionSuspended()
	s.log.Warn("subscription suspended for delinquency",
		zap.Int64("subscription_id", sub.ID.Int64()),
		zap.Int64("oldest_invoice_id", overdue[0].ID.Int64()),
	)
	return true, nil
}

// advanceAfterBilling moves NextBillingAt past the billed period. The
// guarded WHERE makes it idempotent: replays and racing runs see zero
// affected rows.
func (s *Service) advanceAfterBilling(ctx context.Context, sub *subscriptiondomain.Subscription, periodStart, periodEnd time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE subscriptions SET next_billing_at = ?, updated_at = ? WHERE id = ? AND next_billing_at = ?`,
			periodEnd, s.clock.Now(), sub.ID, periodStart,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			sub.NextBillingAt = periodEnd
		}
		return nil
	})
}

func (s *Service) listBillableSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]snowflake.ID, error) {
	q := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("status IN ?", []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusCancelled,
		}).
		Where("next_billing_at <= ?", asOf).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []snowflake.ID
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func runOutcomeLabel(result billingcycledomain.RunResult, err error) string {
	if err != nil {
		return metrics.RunOutcomeError
	}
	switch result.Outcome {
	case billingcycledomain.OutcomeGenerated:
		return metrics.RunOutcomeGenerated
	case billingcycledomain.OutcomeAlreadyGenerated:
		return metrics.RunOutcomeAlreadyGenerated
	case billingcycledomain.OutcomeNotDue:
		return metrics.RunOutcomeNotDue
	case billingcycledomain.OutcomeSuspended:
		return metrics.RunOutcomeSuspended
	case billingcycledomain.OutcomeClosed:
		return metrics.RunOutcomeClosed
	default:
		return metrics.RunOutcomeError
	}
}
