package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/invoice"
	"github.com/smallbiznis/walue/internal/migration"
	"github.com/smallbiznis/walue/internal/observability"
	"github.com/smallbiznis/walue/internal/plan"
	"github.com/smallbiznis/walue/internal/providers"
	"github.com/smallbiznis/walue/internal/ratelimit"
	"github.com/smallbiznis/walue/internal/scheduler"
	"github.com/smallbiznis/walue/internal/signup"
	"github.com/smallbiznis/walue/internal/tenant"
	"github.com/smallbiznis/walue/internal/tokenstore"
	"github.com/smallbiznis/walue/internal/usage"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Domain services required by the jobs
		tokenstore.Module,
		ratelimit.Module,
		providers.Module,
		plan.Module,
		tenant.Module,
		usage.Module,
		invoice.Module,
		signup.Module,

		// No server module.
		scheduler.Module,
		scheduler.RunModule,
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
