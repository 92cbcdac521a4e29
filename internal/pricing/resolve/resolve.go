// Package resolve implements the discount and tax arithmetic applied
// per invoice line. All rounding happens inside money.Money, half-up,
// exactly once per resolved amount.
package resolve

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invora/internal/money"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
)

var hundred = decimal.NewFromInt(100)

// Discount computes the discount amount a rule takes off base.
// PERCENT rules yield round(base * value / 100); FIXED rules yield
// min(value, base) so a line total never goes negative.
func Discount(base money.Money, rule pricingdomain.DiscountRule, asOf time.Time) (money.Money, error) {
	if !rule.ActiveAt(asOf) {
		return money.Money{}, fmt.Errorf("discount %s not valid at %s: %w", rule.Code, asOf.Format(time.RFC3339), pricingdomain.ErrInvalidRule)
	}

	switch rule.Type {
	case pricingdomain.DiscountTypePercent:
		if rule.Value.IsNegative() || rule.Value.GreaterThan(hundred) {
			return money.Money{}, fmt.Errorf("discount %s percent out of range: %w", rule.Code, pricingdomain.ErrInvalidRule)
		}
		return base.Percent(rule.Value), nil
	case pricingdomain.DiscountTypeFixed:
		if rule.Value.IsNegative() {
			return money.Money{}, fmt.Errorf("discount %s negative amount: %w", rule.Code, pricingdomain.ErrInvalidRule)
		}
		fixed := money.New(rule.Value.IntPart(), base.Currency)
		return base.Min(fixed)
	default:
		return money.Money{}, fmt.Errorf("discount %s has unknown type %q: %w", rule.Code, rule.Type, pricingdomain.ErrInvalidRule)
	}
}

// Tax computes the tax a rule adds on the discounted net amount.
func Tax(taxable money.Money, rule pricingdomain.TaxRule) (money.Money, error) {
	if rule.Rate.IsNegative() {
		return money.Money{}, fmt.Errorf("tax %s negative rate: %w", rule.Code, pricingdomain.ErrInvalidRule)
	}
	return taxable.Percent(rule.Rate), nil
}

// Line resolves all discounts and taxes against a base amount.
// Discounts apply to the base and are capped at the remaining amount;
// taxes apply to the net (base minus discounts) and are summed across
// rules without compounding.
func Line(
	base money.Money,
	discounts []pricingdomain.DiscountRule,
	taxes []pricingdomain.TaxRule,
	asOf time.Time,
) (discountTotal, taxTotal money.Money, err error) {
	discountTotal = money.Zero(base.Currency)
	taxTotal = money.Zero(base.Currency)

	remaining := base
	for _, rule := range discounts {
		amount, err := Discount(base, rule, asOf)
		if err != nil {
			return money.Money{}, money.Money{}, err
		}
		// Stacked discounts never push the net below zero.
		amount, err = amount.Min(remaining)
		if err != nil {
			return money.Money{}, money.Money{}, err
		}
		if remaining, err = remaining.Sub(amount); err != nil {
			return money.Money{}, money.Money{}, err
		}
		if discountTotal, err = discountTotal.Add(amount); err != nil {
			return money.Money{}, money.Money{}, err
		}
	}

	net, err := base.Sub(discountTotal)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}

	for _, rule := range taxes {
		amount, err := Tax(net, rule)
		if err != nil {
			return money.Money{}, money.Money{}, err
		}
		if taxTotal, err = taxTotal.Add(amount); err != nil {
			return money.Money{}, money.Money{}, err
		}
	}

	return discountTotal, taxTotal, nil
}
