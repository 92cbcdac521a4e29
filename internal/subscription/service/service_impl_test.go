package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/invora/internal/clock"
	customerdomain "github.com/smallbiznis/invora/internal/customer/domain"
	"github.com/smallbiznis/invora/internal/orgcontext"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/invora/internal/subscription/domain"
)

type subscriptionFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   subscriptiondomain.Service
	ctx   context.Context
	orgID snowflake.ID

	customerID snowflake.ID
	planID     snowflake.ID
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&plandomain.Plan{},
		&plandomain.PlanLine{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	orgID := node.Generate()
	customer := customerdomain.Customer{
		ID:       node.Generate(),
		OrgID:    orgID,
		Name:     "Acme Corp",
		Email:    "billing@acme.test",
		Currency: "USD",
		Metadata: datatypes.JSONMap{},
	}
	require.NoError(t, db.Create(&customer).Error)

	plan := plandomain.Plan{
		ID:       node.Generate(),
		OrgID:    orgID,
		Code:     "standard",
		Version:  1,
		Name:     "Standard",
		Cadence:  plandomain.CadenceMonthly,
		Currency: "USD",
	}
	require.NoError(t, db.Create(&plan).Error)

	return &subscriptionFixture{
		db:         db,
		node:       node,
		clock:      fake,
		svc:        svc,
		ctx:        orgcontext.WithOrgID(context.Background(), orgID),
		orgID:      orgID,
		customerID: customer.ID,
		planID:     plan.ID,
	}
}

func (f *subscriptionFixture) create(t *testing.T, mutate func(*subscriptiondomain.CreateSubscriptionRequest)) subscriptiondomain.Subscription {
	t.Helper()
	req := subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: f.customerID.String(),
		PlanID:     f.planID.String(),
	}
	if mutate != nil {
		mutate(&req)
	}
	sub, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	return sub
}

func TestCreate_DefaultsToDraftStartingNow(t *testing.T) {
	f := newSubscriptionFixture(t)

	sub := f.create(t, nil)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusDraft, sub.Status)
	assert.Equal(t, f.clock.Now(), sub.StartAt)
	assert.Equal(t, sub.StartAt, sub.NextBillingAt)
	assert.Nil(t, sub.EndAt)
	assert.Nil(t, sub.ActivatedAt)
}

func TestCreate_RejectsEndBeforeStart(t *testing.T) {
	f := newSubscriptionFixture(t)

	start := f.clock.Now().AddDate(0, 1, 0)
	end := start.Add(-time.Hour)
	_, err := f.svc.Create(f.ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: f.customerID.String(),
		PlanID:     f.planID.String(),
		StartAt:    &start,
		EndAt:      &end,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidEndAt)
}

func TestCreate_RequiresKnownCustomerAndPlan(t *testing.T) {
	f := newSubscriptionFixture(t)

	_, err := f.svc.Create(f.ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: f.node.Generate().String(),
		PlanID:     f.planID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrMissingCustomer)

	_, err = f.svc.Create(f.ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: f.customerID.String(),
		PlanID:     f.node.Generate().String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrMissingPlan)

	_, err = f.svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: f.customerID.String(),
		PlanID:     f.planID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOrganization)
}

func TestActivate_StampsActivatedAt(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.create(t, nil)

	f.clock.Advance(time.Hour)
	got, err := f.svc.Activate(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.ActivatedAt)
	assert.Equal(t, f.clock.Now(), *got.ActivatedAt)

	// Re-activating an active subscription is a no-op.
	again, err := f.svc.Activate(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, got.ActivatedAt, again.ActivatedAt)
}

func TestSuspendAndReactivate(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.create(t, nil)
	_, err := f.svc.Activate(f.ctx, sub.ID.String())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	suspended, err := f.svc.Suspend(f.ctx, sub.ID.String(), subscriptiondomain.ReasonDelinquency)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, suspended.Status)
	require.NotNil(t, suspended.SuspendedAt)

	f.clock.Advance(time.Hour)
	resumed, err := f.svc.Reactivate(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, resumed.Status)
	require.NotNil(t, resumed.ResumedAt)
	assert.Equal(t, f.clock.Now(), *resumed.ResumedAt)
}

func TestTransitionTable(t *testing.T) {
	f := newSubscriptionFixture(t)

	// DRAFT can only go to ACTIVE.
	draft := f.create(t, nil)
	_, err := f.svc.Suspend(f.ctx, draft.ID.String(), subscriptiondomain.ReasonManual)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
	_, err = f.svc.Close(f.ctx, draft.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	// CANCELLED is terminal.
	cancelled := f.create(t, nil)
	_, err = f.svc.Activate(f.ctx, cancelled.ID.String())
	require.NoError(t, err)
	got, err := f.svc.Cancel(f.ctx, cancelled.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got.CanceledAt)
	_, err = f.svc.Reactivate(f.ctx, cancelled.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
	_, err = f.svc.Close(f.ctx, cancelled.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	// CLOSED is terminal.
	closed := f.create(t, nil)
	_, err = f.svc.Activate(f.ctx, closed.ID.String())
	require.NoError(t, err)
	got, err = f.svc.Close(f.ctx, closed.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got.ClosedAt)
	_, err = f.svc.Activate(f.ctx, closed.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestTransitions_DoNotTouchNextBillingAt(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.create(t, nil)

	_, err := f.svc.Activate(f.ctx, sub.ID.String())
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Suspend(f.ctx, sub.ID.String(), subscriptiondomain.ReasonDelinquency)
	require.NoError(t, err)

	reloaded, err := f.svc.GetByID(f.ctx, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, sub.NextBillingAt, reloaded.NextBillingAt)
}

func TestGetByID_ScopedToOrganization(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := f.create(t, nil)

	otherCtx := orgcontext.WithOrgID(context.Background(), f.node.Generate())
	_, err := f.svc.GetByID(otherCtx, sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.GetByID(f.ctx, "not-a-snowflake")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscription)
}
