package domain

import (
	"context"
	"time"
)

// RuleSource resolves the discount and tax rules applicable to a scope
// at a point in time. Implementations must return a stable snapshot:
// identical inputs produce identical rule sets in identical order, so
// invoice generation stays deterministic.
type RuleSource interface {
	ResolveDiscountRules(ctx context.Context, scope RuleScope, asOf time.Time) ([]DiscountRule, error)
	ResolveTaxRules(ctx context.Context, scope RuleScope, asOf time.Time) ([]TaxRule, error)
}
