package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/apikey"
	"github.com/meterline/meterline/internal/audit"
	"github.com/meterline/meterline/internal/bundle"
	"github.com/meterline/meterline/internal/clock"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	"github.com/meterline/meterline/internal/invoice"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/migration"
	"github.com/meterline/meterline/internal/observability"
	"github.com/meterline/meterline/internal/payment"
	"github.com/meterline/meterline/internal/providers"
	"github.com/meterline/meterline/internal/ratelimit"
	"github.com/meterline/meterline/internal/scheduler"
	"github.com/meterline/meterline/internal/schema"
	"github.com/meterline/meterline/internal/secrets"
	"github.com/meterline/meterline/internal/server"
	"github.com/meterline/meterline/internal/tenant"
	"github.com/meterline/meterline/internal/usage"
	"github.com/meterline/meterline/pkg/db"
	"github.com/meterline/meterline/pkg/telemetry"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		telemetry.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,

		schema.Module,
		tenant.Module,
		bundle.Module,
		entitlement.Module,
		usage.Module,
		secrets.Module,
		audit.Module,
		providers.Module,
		invoice.Module,
		apikey.Module,
		payment.Module,
		ratelimit.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
