package repository

import (
	"context"
	"time"

	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	"gorm.io/gorm"
)

type ruleSource struct {
	db *gorm.DB
}

func NewRuleSource(db *gorm.DB) pricingdomain.RuleSource {
	return &ruleSource{db: db}
}

// ResolveDiscountRules returns enabled discounts whose validity window
// covers asOf. A zero PlanID or ProductID in the scope leaves that
// dimension unconstrained, so a plan-level snapshot still carries its
// product-specific rules; line composition narrows per product.
// Ordered by id so snapshots are stable.
func (r *ruleSource) ResolveDiscountRules(ctx context.Context, scope pricingdomain.RuleScope, asOf time.Time) ([]pricingdomain.DiscountRule, error) {
	var rules []pricingdomain.DiscountRule
	err := r.scoped(ctx, scope).
		Where("valid_from <= ?", asOf).
		Where("(valid_to IS NULL OR valid_to > ?)", asOf).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleSource) ResolveTaxRules(ctx context.Context, scope pricingdomain.RuleScope, asOf time.Time) ([]pricingdomain.TaxRule, error) {
	_ = asOf
	var rules []pricingdomain.TaxRule
	err := r.scoped(ctx, scope).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleSource) scoped(ctx context.Context, scope pricingdomain.RuleScope) *gorm.DB {
	q := r.db.WithContext(ctx).
		Where("org_id = ?", scope.OrgID).
		Where("is_enabled = ?", true)
	if scope.PlanID != 0 {
		q = q.Where("(plan_id IS NULL OR plan_id = ?)", scope.PlanID)
	}
	if scope.ProductID != 0 {
		q = q.Where("(product_id IS NULL OR product_id = ?)", scope.ProductID)
	}
	return q
}
