package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// RunBillingCycle bills at most one period for the subscription:
	// the period starting at NextBillingAt, and only once that period
	// has fully elapsed at asOf. Re-running for the same period is a
	// no-op reported as ALREADY_GENERATED.
	RunBillingCycle(ctx context.Context, subscriptionID snowflake.ID, asOf time.Time) (RunResult, error)

	// GenerateInvoicesDue runs the billing cycle for every eligible
	// subscription. One failing subscription never blocks the rest.
	GenerateInvoicesDue(ctx context.Context, asOf time.Time) (SweepResult, error)

	// SweepDelinquent suspends active subscriptions holding a
	// confirmed invoice past its due date by more than the grace
	// period. Returns how many were suspended.
	SweepDelinquent(ctx context.Context, asOf time.Time) (int, error)
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrAllLinesRejected      = errors.New("all_lines_rejected")
)
