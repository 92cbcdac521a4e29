package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/invora/internal/billingcycle"
	"github.com/smallbiznis/invora/internal/clock"
	"github.com/smallbiznis/invora/internal/config"
	"github.com/smallbiznis/invora/internal/customer"
	"github.com/smallbiznis/invora/internal/invoice"
	"github.com/smallbiznis/invora/internal/locker"
	"github.com/smallbiznis/invora/internal/logger"
	"github.com/smallbiznis/invora/internal/migration"
	"github.com/smallbiznis/invora/internal/observability/metrics"
	"github.com/smallbiznis/invora/internal/payment"
	"github.com/smallbiznis/invora/internal/plan"
	"github.com/smallbiznis/invora/internal/pricing"
	"github.com/smallbiznis/invora/internal/scheduler"
	"github.com/smallbiznis/invora/internal/subscription"
	"github.com/smallbiznis/invora/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(locker.New),
		db.Module,
		clock.Module,
		migration.Module,
		metrics.Module,

		// Functional domains
		customer.Module,
		plan.Module,
		pricing.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,
		billingcycle.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
