package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
)

// RunOutcome says what a billing cycle run did for one subscription.
type RunOutcome string

const (
	// OutcomeGenerated means a new invoice was created.
	OutcomeGenerated RunOutcome = "GENERATED"
	// OutcomeAlreadyGenerated means the period's invoice already
	// existed; the run was a no-op beyond healing NextBillingAt.
	OutcomeAlreadyGenerated RunOutcome = "ALREADY_GENERATED"
	// OutcomeNotDue means the current period has not elapsed yet.
	OutcomeNotDue RunOutcome = "NOT_DUE"
	// OutcomeSuspended means the subscription was suspended for
	// delinquency instead of being billed.
	OutcomeSuspended RunOutcome = "SUSPENDED"
	// OutcomeClosed means the subscription reached its end date or
	// cancellation cutoff and was closed.
	OutcomeClosed RunOutcome = "CLOSED"
)

// RunResult reports one subscription's billing cycle run.
type RunResult struct {
	SubscriptionID snowflake.ID
	Outcome        RunOutcome
	PeriodStart    time.Time
	PeriodEnd      time.Time
	// Invoice is set when Outcome is GENERATED or ALREADY_GENERATED.
	Invoice *invoicedomain.Invoice
	// RejectedLines counts plan lines dropped by bad pricing rules.
	RejectedLines int
}

// SweepResult aggregates one GenerateInvoicesDue pass. Failed
// subscriptions are isolated: their errors are collected here and the
// pass continues.
type SweepResult struct {
	Visited          int
	Generated        int
	AlreadyGenerated int
	NotDue           int
	Closed           int
	Suspended        int
	Failed           []SweepFailure
}

// SweepFailure records one subscription the sweep could not process.
type SweepFailure struct {
	SubscriptionID snowflake.ID
	Err            error
}
