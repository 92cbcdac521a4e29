package domain

import (
	"context"
	"errors"
	"time"
)

type CreateSubscriptionRequest struct {
	CustomerID string         `json:"customer_id"`
	PlanID     string         `json:"plan_id"`
	StartAt    *time.Time     `json:"start_at,omitempty"`
	EndAt      *time.Time     `json:"end_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type TransitionReason string

const (
	ReasonManual      TransitionReason = "manual"
	ReasonDelinquency TransitionReason = "delinquency"
	ReasonEndOfTerm   TransitionReason = "end_of_term"
)

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	Activate(ctx context.Context, id string) (Subscription, error)
	Suspend(ctx context.Context, id string, reason TransitionReason) (Subscription, error)
	Reactivate(ctx context.Context, id string) (Subscription, error)
	Cancel(ctx context.Context, id string) (Subscription, error)
	Close(ctx context.Context, id string) (Subscription, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidStartAt       = errors.New("invalid_start_at")
	ErrInvalidEndAt         = errors.New("invalid_end_at")
	ErrInvalidTargetStatus  = errors.New("invalid_target_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrMissingCustomer      = errors.New("missing_customer")
	ErrMissingPlan          = errors.New("missing_plan")
)
