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
	"gorm.io/gorm"

	"github.com/smallbiznis/invora/internal/clock"
	"github.com/smallbiznis/invora/internal/orgcontext"
	plandomain "github.com/smallbiznis/invora/internal/plan/domain"
)

type planFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   plandomain.Service
	ctx   context.Context
	orgID snowflake.ID
}

func newPlanFixture(t *testing.T) *planFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}, &plandomain.PlanLine{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	orgID := node.Generate()
	return &planFixture{
		db:    db,
		node:  node,
		clock: fake,
		svc:   svc,
		ctx:   orgcontext.WithOrgID(context.Background(), orgID),
		orgID: orgID,
	}
}

func (f *planFixture) createRequest() plandomain.CreatePlanRequest {
	return plandomain.CreatePlanRequest{
		Code:     "standard",
		Name:     "Standard",
		Cadence:  plandomain.CadenceMonthly,
		Currency: "usd",
		Lines: []plandomain.CreatePlanLineRequest{
			{ProductID: f.node.Generate().String(), Description: "Base fee", UnitAmount: 9900, Quantity: 1},
			{ProductID: f.node.Generate().String(), Description: "Seats", UnitAmount: 500, Quantity: 4},
		},
	}
}

func TestCreatePlan(t *testing.T) {
	f := newPlanFixture(t)

	plan, err := f.svc.Create(f.ctx, f.createRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Version)
	assert.Equal(t, "USD", plan.Currency)
	assert.Equal(t, f.clock.Now(), plan.CreatedAt)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, 0, plan.Lines[0].Position)
	assert.Equal(t, 1, plan.Lines[1].Position)
}

func TestCreatePlan_Validation(t *testing.T) {
	f := newPlanFixture(t)

	req := f.createRequest()
	req.Lines = nil
	_, err := f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, plandomain.ErrInvalidLines)

	req = f.createRequest()
	req.Cadence = "FORTNIGHTLY"
	_, err = f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, plandomain.ErrInvalidCadence)

	req = f.createRequest()
	req.Currency = "dollars"
	_, err = f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, plandomain.ErrInvalidCurrency)

	req = f.createRequest()
	req.Lines[0].Quantity = 0
	_, err = f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, plandomain.ErrInvalidLines)

	_, err = f.svc.Create(context.Background(), f.createRequest())
	assert.ErrorIs(t, err, plandomain.ErrInvalidOrganization)
}

func TestGetByID_PreloadsLines(t *testing.T) {
	f := newPlanFixture(t)
	created, err := f.svc.Create(f.ctx, f.createRequest())
	require.NoError(t, err)

	got, err := f.svc.GetByID(f.ctx, created.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, int64(9900), got.Lines[0].UnitAmount)

	otherCtx := orgcontext.WithOrgID(context.Background(), f.node.Generate())
	_, err = f.svc.GetByID(otherCtx, created.ID.String())
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestSupersede_LeavesCurrentVersionUntouched(t *testing.T) {
	f := newPlanFixture(t)
	v1, err := f.svc.Create(f.ctx, f.createRequest())
	require.NoError(t, err)

	v2, err := f.svc.Supersede(f.ctx, v1.ID.String(), []plandomain.CreatePlanLineRequest{
		{ProductID: f.node.Generate().String(), Description: "Base fee", UnitAmount: 12900, Quantity: 1},
	})
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Equal(t, v1.Code, v2.Code)
	assert.Equal(t, 2, v2.Version)
	require.Len(t, v2.Lines, 1)
	assert.Equal(t, int64(12900), v2.Lines[0].UnitAmount)

	// Version 1 retains its original prices.
	reloaded, err := f.svc.GetByID(f.ctx, v1.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Version)
	require.Len(t, reloaded.Lines, 2)
	assert.Equal(t, int64(9900), reloaded.Lines[0].UnitAmount)

	_, err = f.svc.Supersede(f.ctx, v1.ID.String(), nil)
	assert.ErrorIs(t, err, plandomain.ErrInvalidLines)
}
