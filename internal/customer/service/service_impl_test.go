package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	customerdomain "github.com/smallbiznis/invora/internal/customer/domain"
	"github.com/smallbiznis/invora/internal/orgcontext"
)

func newCustomerService(t *testing.T) (customerdomain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&customerdomain.Customer{}))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	return NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node}), node
}

func TestCustomerCreateAndGet(t *testing.T) {
	svc, node := newCustomerService(t)
	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())

	created, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{
		Name:     "  Acme Corp ",
		Email:    "Billing@Acme.Test",
		Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", created.Name)
	assert.Equal(t, "billing@acme.test", created.Email)
	assert.Equal(t, "USD", created.Currency)

	got, err := svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	otherCtx := orgcontext.WithOrgID(context.Background(), node.Generate())
	_, err = svc.GetByID(otherCtx, created.ID.String())
	assert.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)
}

func TestCustomerCreate_Validation(t *testing.T) {
	svc, node := newCustomerService(t)
	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())

	_, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{Email: "x@y.test"})
	assert.ErrorIs(t, err, customerdomain.ErrInvalidCustomer)

	_, err = svc.Create(context.Background(), customerdomain.CreateCustomerRequest{Name: "A", Email: "x@y.test"})
	assert.ErrorIs(t, err, customerdomain.ErrInvalidOrganization)
}

func TestCustomerListByOrg(t *testing.T) {
	svc, node := newCustomerService(t)
	ctx := orgcontext.WithOrgID(context.Background(), node.Generate())

	for _, name := range []string{"Acme", "Globex"} {
		_, err := svc.Create(ctx, customerdomain.CreateCustomerRequest{Name: name, Email: name + "@test.test", Currency: "USD"})
		require.NoError(t, err)
	}

	customers, err := svc.ListByOrg(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)

	otherCtx := orgcontext.WithOrgID(context.Background(), node.Generate())
	empty, err := svc.ListByOrg(otherCtx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
