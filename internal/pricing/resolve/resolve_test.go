package resolve

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invora/internal/money"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func percentRule(value string, from time.Time, to *time.Time) pricingdomain.DiscountRule {
	return pricingdomain.DiscountRule{
		Code:      "disc",
		Type:      pricingdomain.DiscountTypePercent,
		Value:     decimal.RequireFromString(value),
		ValidFrom: from,
		ValidTo:   to,
	}
}

func fixedRule(minor int64, from time.Time) pricingdomain.DiscountRule {
	return pricingdomain.DiscountRule{
		Code:      "fixed",
		Type:      pricingdomain.DiscountTypeFixed,
		Value:     decimal.NewFromInt(minor),
		ValidFrom: from,
	}
}

func taxRule(rate string) pricingdomain.TaxRule {
	return pricingdomain.TaxRule{Code: "tax", Rate: decimal.RequireFromString(rate)}
}

func TestDiscountPercent(t *testing.T) {
	base := money.New(100_00, "USD")

	got, err := Discount(base, percentRule("10", asOf.AddDate(0, -1, 0), nil), asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(10_00), got.Amount)
}

func TestDiscountPercentOutOfRange(t *testing.T) {
	base := money.New(100_00, "USD")

	_, err := Discount(base, percentRule("101", asOf.AddDate(0, -1, 0), nil), asOf)
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)

	_, err = Discount(base, percentRule("-1", asOf.AddDate(0, -1, 0), nil), asOf)
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)
}

func TestDiscountOutsideValidityWindow(t *testing.T) {
	base := money.New(100_00, "USD")

	// Window ended before asOf.
	endedAt := asOf.AddDate(0, 0, -1)
	_, err := Discount(base, percentRule("10", asOf.AddDate(0, -2, 0), &endedAt), asOf)
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)

	// Window starts after asOf.
	_, err = Discount(base, percentRule("10", asOf.AddDate(0, 1, 0), nil), asOf)
	assert.ErrorIs(t, err, pricingdomain.ErrInvalidRule)
}

func TestFixedDiscountCappedAtBase(t *testing.T) {
	base := money.New(5_00, "USD")

	got, err := Discount(base, fixedRule(9_99, asOf.AddDate(0, -1, 0)), asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(5_00), got.Amount, "fixed discount never exceeds the base")
}

func TestTaxOnNet(t *testing.T) {
	// 100.00 base, 10% discount, 5% tax -> total (100-10)*1.05 = 94.50.
	base := money.New(100_00, "USD")

	discount, tax, err := Line(
		base,
		[]pricingdomain.DiscountRule{percentRule("10", asOf.AddDate(0, -1, 0), nil)},
		[]pricingdomain.TaxRule{taxRule("5")},
		asOf,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(10_00), discount.Amount)
	assert.Equal(t, int64(4_50), tax.Amount, "tax applies to base minus discount")

	net, err := base.Sub(discount)
	require.NoError(t, err)
	total, err := net.Add(tax)
	require.NoError(t, err)
	assert.Equal(t, int64(94_50), total.Amount)
}

func TestMultipleTaxesSumWithoutCompounding(t *testing.T) {
	base := money.New(100_00, "USD")

	_, tax, err := Line(base, nil, []pricingdomain.TaxRule{taxRule("5"), taxRule("2.5")}, asOf)
	require.NoError(t, err)
	// 5% of 100.00 + 2.5% of 100.00, not 2.5% of 105.00.
	assert.Equal(t, int64(7_50), tax.Amount)
}

func TestStackedDiscountsNeverGoNegative(t *testing.T) {
	base := money.New(10_00, "USD")

	discount, tax, err := Line(
		base,
		[]pricingdomain.DiscountRule{
			percentRule("80", asOf.AddDate(0, -1, 0), nil),
			fixedRule(5_00, asOf.AddDate(0, -1, 0)),
		},
		[]pricingdomain.TaxRule{taxRule("10")},
		asOf,
	)
	require.NoError(t, err)
	assert.Equal(t, int64(10_00), discount.Amount, "second discount capped at the remainder")
	assert.Equal(t, int64(0), tax.Amount, "tax on a zero net is zero")
}

func TestRoundingHalfUpOncePerAmount(t *testing.T) {
	// 12.49 at 5%: 0.6245 -> 62 cents (not 63, no double rounding).
	_, tax, err := Line(money.New(12_49, "USD"), nil, []pricingdomain.TaxRule{taxRule("5")}, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(62), tax.Amount)

	// 12.50 at 5%: 0.625 -> rounds up to 63.
	_, tax, err = Line(money.New(12_50, "USD"), nil, []pricingdomain.TaxRule{taxRule("5")}, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(63), tax.Amount)
}
