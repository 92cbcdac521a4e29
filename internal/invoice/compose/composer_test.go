package compose

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	pricingdomain "github.com/smallbiznis/invora/internal/pricing/domain"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
)

var (
	periodStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return node
}

func baseInput(node *snowflake.Node, lines ...plandomain.PlanLine) Input {
	return Input{
		Subscription: subscriptiondomain.Subscription{
			ID:            node.Generate(),
			Status:        subscriptiondomain.SubscriptionStatusActive,
			StartAt:       periodStart,
			NextBillingAt: periodStart,
		},
		Plan: plandomain.Plan{
			ID:       node.Generate(),
			Cadence:  plandomain.CadenceMonthly,
			Currency: "USD",
			Lines:    lines,
		},
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
}

func planLine(node *snowflake.Node, description string, unitAmount, quantity int64, position int) plandomain.PlanLine {
	return plandomain.PlanLine{
		ID:          node.Generate(),
		ProductID:   node.Generate(),
		Description: description,
		UnitAmount:  unitAmount,
		Quantity:    quantity,
		Position:    position,
	}
}

func TestLines_FullPeriod(t *testing.T) {
	node := testNode(t)
	seat := planLine(node, "Seat", 10000, 3, 0)
	addon := planLine(node, "Addon", 500, 1, 1)
	in := baseInput(node, seat, addon)

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	assert.Empty(t, result.Rejected)

	assert.Equal(t, "Seat", result.Lines[0].Description)
	assert.Equal(t, int64(30000), result.Lines[0].Amount)
	assert.Equal(t, "Addon", result.Lines[1].Description)
	assert.Equal(t, int64(500), result.Lines[1].Amount)
}

func TestLines_InvalidPeriod(t *testing.T) {
	node := testNode(t)
	in := baseInput(node, planLine(node, "Seat", 10000, 1, 0))
	in.PeriodEnd = in.PeriodStart

	_, err := Lines(in)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestLines_MidPeriodStartProrates(t *testing.T) {
	node := testNode(t)
	in := baseInput(node, planLine(node, "Seat", 10000, 1, 0))
	// Joined 15 days into a 31-day period: 16 days of service.
	in.Subscription.StartAt = periodStart.AddDate(0, 0, 15)

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	// 10000 * 16/31 = 5161.29, half-up.
	assert.Equal(t, int64(5161), result.Lines[0].Amount)
}

func TestLines_CancellationCapsActiveWindow(t *testing.T) {
	node := testNode(t)
	in := baseInput(node, planLine(node, "Seat", 10000, 1, 0))
	canceledAt := periodStart.AddDate(0, 0, 9)
	in.Subscription.CanceledAt = &canceledAt

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	// 9 of 31 days.
	assert.Equal(t, int64(2903), result.Lines[0].Amount)
}

func TestLines_InactiveSubscriptionPricesToZero(t *testing.T) {
	node := testNode(t)
	in := baseInput(node, planLine(node, "Seat", 10000, 1, 0))
	endAt := periodStart // ended before the period began
	in.Subscription.EndAt = &endAt

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, int64(0), result.Lines[0].Amount)
}

func TestLines_DiscountAndTaxPerLine(t *testing.T) {
	node := testNode(t)
	seat := planLine(node, "Seat", 10000, 1, 0)
	in := baseInput(node, seat)
	in.Discounts = []pricingdomain.DiscountRule{{
		ID:        node.Generate(),
		Code:      "TEN",
		Type:      pricingdomain.DiscountTypePercent,
		Value:     decimal.NewFromInt(10),
		ValidFrom: periodStart.AddDate(-1, 0, 0),
		IsEnabled: true,
	}}
	in.Taxes = []pricingdomain.TaxRule{{
		ID:        node.Generate(),
		Code:      "VAT",
		Rate:      decimal.NewFromInt(5),
		IsEnabled: true,
	}}

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)

	line := result.Lines[0]
	assert.Equal(t, int64(1000), line.DiscountAmount)
	assert.Equal(t, int64(450), line.TaxAmount)
	assert.Equal(t, int64(9450), line.Amount)
}

func TestLines_ProductScopedRuleAppliesToItsLineOnly(t *testing.T) {
	node := testNode(t)
	seat := planLine(node, "Seat", 10000, 1, 0)
	addon := planLine(node, "Addon", 2000, 1, 1)
	in := baseInput(node, seat, addon)

	seatProduct := seat.ProductID
	in.Discounts = []pricingdomain.DiscountRule{{
		ID:        node.Generate(),
		Code:      "SEAT50",
		Type:      pricingdomain.DiscountTypePercent,
		Value:     decimal.NewFromInt(50),
		ProductID: &seatProduct,
		ValidFrom: periodStart.AddDate(-1, 0, 0),
		IsEnabled: true,
	}}

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, int64(5000), result.Lines[0].Amount)
	assert.Equal(t, int64(2000), result.Lines[1].Amount)
}

func TestLines_BadRuleRejectsOnlyItsLine(t *testing.T) {
	node := testNode(t)
	seat := planLine(node, "Seat", 10000, 1, 0)
	addon := planLine(node, "Addon", 2000, 1, 1)
	in := baseInput(node, seat, addon)

	seatProduct := seat.ProductID
	in.Discounts = []pricingdomain.DiscountRule{{
		ID:        node.Generate(),
		Code:      "BROKEN",
		Type:      pricingdomain.DiscountTypePercent,
		Value:     decimal.NewFromInt(150), // out of range
		ProductID: &seatProduct,
		ValidFrom: periodStart.AddDate(-1, 0, 0),
		IsEnabled: true,
	}}

	result, err := Lines(in)
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "Addon", result.Lines[0].Description)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, seat.ID, result.Rejected[0].PlanLine.ID)
	assert.ErrorIs(t, result.Rejected[0].Err, pricingdomain.ErrInvalidRule)
}

func TestLines_Deterministic(t *testing.T) {
	node := testNode(t)
	in := baseInput(node,
		planLine(node, "Seat", 9999, 7, 0),
		planLine(node, "Addon", 333, 3, 1),
	)
	in.Subscription.StartAt = periodStart.AddDate(0, 0, 3)

	first, err := Lines(in)
	require.NoError(t, err)
	second, err := Lines(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
