// Package compose builds invoice lines from a subscription's plan for
// a billing period. Composition is a pure function of its inputs:
// re-running it for the same period and rule snapshot produces
// identical lines, which is what makes invoice generation idempotent.
package compose

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/invora/internal/invoice/domain"
	"github.com/smallbiznis/invora/internal/money"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	"github.com/smallbiznis/invora/internal/pricing/resolve"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
)

var ErrInvalidPeriod = errors.New("invalid_period")

// Input bundles everything line composition depends on. Discounts and
// Taxes are the rule snapshot resolved at period start; nothing else
// is read, so later rule edits cannot change the outcome.
type Input struct {
	Subscription subscriptiondomain.Subscription
	Plan         plandomain.Plan
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Discounts    []pricingdomain.DiscountRule
	Taxes        []pricingdomain.TaxRule
}

// Result carries the composed lines plus any per-line rule failures.
// A bad rule rejects only the line it applies to; the invoice fails as
// a whole only when every line was rejected.
type Result struct {
	Lines    []invoicedomain.LineDraft
	Rejected []RejectedLine
}

type RejectedLine struct {
	PlanLine plandomain.PlanLine
	Err      error
}

// Lines prices each plan line for the period, prorated by the fraction
// of the period the subscription was active. Rounding is half-up, once
// per line (per-line proration keeps every line auditable on its own).
func Lines(in Input) (Result, error) {
	if !in.PeriodEnd.After(in.PeriodStart) {
		return Result{}, ErrInvalidPeriod
	}

	activeStart, activeEnd := activeWindow(in)
	num, den := overlapSeconds(activeStart, activeEnd, in.PeriodStart, in.PeriodEnd)

	out := Result{Lines: make([]invoicedomain.LineDraft, 0, len(in.Plan.Lines))}
	for _, planLine := range in.Plan.Lines {
		draft, err := composeLine(in, planLine, num, den)
		if err != nil {
			out.Rejected = append(out.Rejected, RejectedLine{PlanLine: planLine, Err: err})
			continue
		}
		out.Lines = append(out.Lines, draft)
	}
	return out, nil
}

func composeLine(in Input, planLine plandomain.PlanLine, num, den int64) (invoicedomain.LineDraft, error) {
	unit := money.New(planLine.UnitAmount, in.Plan.Currency)
	base := unit.MulInt(planLine.Quantity).Prorate(num, den)

	discounts := rulesForProduct(in.Discounts, planLine.ProductID)
	taxes := taxesForProduct(in.Taxes, planLine.ProductID)

	discountTotal, taxTotal, err := resolve.Line(base, discounts, taxes, in.PeriodStart)
	if err != nil {
		return invoicedomain.LineDraft{}, err
	}

	net, err := base.Sub(discountTotal)
	if err != nil {
		return invoicedomain.LineDraft{}, err
	}
	total, err := net.Add(taxTotal)
	if err != nil {
		return invoicedomain.LineDraft{}, err
	}

	return invoicedomain.LineDraft{
		ProductID:      planLine.ProductID,
		PlanLineID:     planLine.ID,
		Description:    planLine.Description,
		Quantity:       planLine.Quantity,
		UnitAmount:     planLine.UnitAmount,
		DiscountAmount: discountTotal.Amount,
		TaxAmount:      taxTotal.Amount,
		Amount:         total.Amount,
	}, nil
}

// activeWindow intersects the subscription's life with the period:
// start is delayed by a mid-period subscription start, end is pulled
// in by an end date or cancellation.
func activeWindow(in Input) (time.Time, time.Time) {
	start := in.PeriodStart
	if in.Subscription.StartAt.After(start) {
		start = in.Subscription.StartAt
	}

	end := in.PeriodEnd
	if in.Subscription.EndAt != nil && in.Subscription.EndAt.Before(end) {
		end = *in.Subscription.EndAt
	}
	if in.Subscription.CanceledAt != nil && in.Subscription.CanceledAt.Before(end) {
		end = *in.Subscription.CanceledAt
	}
	return start, end
}

func overlapSeconds(activeStart, activeEnd, periodStart, periodEnd time.Time) (num, den int64) {
	den = int64(periodEnd.Sub(periodStart) / time.Second)
	if !activeEnd.After(activeStart) {
		return 0, den
	}
	num = int64(activeEnd.Sub(activeStart) / time.Second)
	if num > den {
		num = den
	}
	return num, den
}

func rulesForProduct(rules []pricingdomain.DiscountRule, productID snowflake.ID) []pricingdomain.DiscountRule {
	var out []pricingdomain.DiscountRule
	for _, rule := range rules {
		if rule.ProductID == nil || *rule.ProductID == productID {
			out = append(out, rule)
		}
	}
	return out
}

func taxesForProduct(rules []pricingdomain.TaxRule, productID snowflake.ID) []pricingdomain.TaxRule {
	var out []pricingdomain.TaxRule
	for _, rule := range rules {
		if rule.ProductID == nil || *rule.ProductID == productID {
			out = append(out, rule)
		}
	}
	return out
}
