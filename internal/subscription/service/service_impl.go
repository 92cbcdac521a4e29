package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invora/internal/clock"
	customerdomain "github.com/smallbiznis/invora/internal/customer/domain"
	"github.com/smallbiznis/invora/internal/orgcontext"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
	"github.com/smallbiznis/invora/pkg/db"
	"github.com/smallbiznis/invora/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID            *snowflake.Node
	clock            clock.Clock
	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	customerRepo     repository.Repository[customerdomain.Customer]
	planRepo         repository.Repository[plandomain.Plan]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:            p.GenID,
		clock:            p.Clock,
		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		customerRepo:     repository.ProvideStore[customerdomain.Customer](p.DB),
		planRepo:         repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	customerID, err := s.parseID(req.CustomerID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	planID, err := s.parseID(req.PlanID, subscriptiondomain.ErrInvalidPlan)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: customerID, OrgID: orgID})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if customer == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrMissingCustomer
	}

	plan, err := s.planRepo.FindOne(ctx, &plandomain.Plan{ID: planID, OrgID: orgID})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if plan == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrMissingPlan
	}

	now := s.clock.Now()
	startAt := now
	if req.StartAt != nil {
		startAt = req.StartAt.UTC()
	}
	if req.EndAt != nil && !req.EndAt.After(startAt) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidEndAt
	}

	subscription := subscriptiondomain.Subscription{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		CustomerID:    customerID,
		PlanID:        planID,
		Status:        subscriptiondomain.SubscriptionStatusDraft,
		StartAt:       startAt,
		NextBillingAt: startAt,
		EndAt:         req.EndAt,
		Metadata:      datatypes.JSONMap(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.subscriptionRepo.Create(ctx, &subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	item, err := s.subscriptionRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: subscriptionID, OrgID: orgID})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

func (s *Service) Activate(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.ReasonManual)
}

func (s *Service) Suspend(ctx context.Context, id string, reason subscriptiondomain.TransitionReason) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusSuspended, reason)
}

func (s *Service) Reactivate(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.ReasonManual)
}

func (s *Service) Cancel(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusCancelled, subscriptiondomain.ReasonManual)
}

func (s *Service) Close(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusClosed, subscriptiondomain.ReasonEndOfTerm)
}

func (s *Service) transition(
	ctx context.Context,
	subscriptionID string,
	targetStatus subscriptiondomain.SubscriptionStatus,
	reason subscriptiondomain.TransitionReason,
) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	id, err := s.parseID(subscriptionID, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if !isValidStatus(targetStatus) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTargetStatus
	}

	var result subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.lockSubscription(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		if subscription.Status == targetStatus {
			result = *subscription
			return nil
		}

		if !isTransitionAllowed(subscription.Status, targetStatus) {
			return subscriptiondomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		switch targetStatus {
		case subscriptiondomain.SubscriptionStatusActive:
			if subscription.Status == subscriptiondomain.SubscriptionStatusDraft {
				if subscription.ActivatedAt == nil {
					subscription.ActivatedAt = &now
				}
			}
			if subscription.Status == subscriptiondomain.SubscriptionStatusSuspended {
				subscription.ResumedAt = &now
			}
		case subscriptiondomain.SubscriptionStatusSuspended:
			subscription.SuspendedAt = &now
		case subscriptiondomain.SubscriptionStatusCancelled:
			subscription.CanceledAt = &now
		case subscriptiondomain.SubscriptionStatusClosed:
			subscription.ClosedAt = &now
		default:
			return subscriptiondomain.ErrInvalidTargetStatus
		}

		subscription.Status = targetStatus
		subscription.UpdatedAt = now

		s.log.Info("subscription transition",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("status", string(targetStatus)),
			zap.String("reason", string(reason)),
		)

		if err := s.updateLifecycle(ctx, tx, subscription); err != nil {
			return err
		}
		result = *subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return result, nil
}

func (s *Service) lockSubscription(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&subscription).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) updateLifecycle(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, activated_at = ?, suspended_at = ?, resumed_at = ?, canceled_at = ?, closed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		subscription.Status,
		subscription.ActivatedAt,
		subscription.SuspendedAt,
		subscription.ResumedAt,
		subscription.CanceledAt,
		subscription.ClosedAt,
		subscription.UpdatedAt,
		subscription.OrgID,
		subscription.ID,
	).Error
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func isValidStatus(status subscriptiondomain.SubscriptionStatus) bool {
	switch status {
	case subscriptiondomain.SubscriptionStatusDraft,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusSuspended,
		subscriptiondomain.SubscriptionStatusCancelled,
		subscriptiondomain.SubscriptionStatusClosed:
		return true
	default:
		return false
	}
}

// isTransitionAllowed is the exhaustive transition table. CANCELLED
// and CLOSED are terminal.
func isTransitionAllowed(current, target subscriptiondomain.SubscriptionStatus) bool {
	switch current {
	case subscriptiondomain.SubscriptionStatusDraft:
		return target == subscriptiondomain.SubscriptionStatusActive
	case subscriptiondomain.SubscriptionStatusActive:
		return target == subscriptiondomain.SubscriptionStatusSuspended ||
			target == subscriptiondomain.SubscriptionStatusCancelled ||
			target == subscriptiondomain.SubscriptionStatusClosed
	case subscriptiondomain.SubscriptionStatusSuspended:
		return target == subscriptiondomain.SubscriptionStatusActive ||
			target == subscriptiondomain.SubscriptionStatusCancelled
	default:
		return false
	}
}
