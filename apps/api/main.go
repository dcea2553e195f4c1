package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/auth/oauth2provider"
	"github.com/smallbiznis/walue/internal/authorization"
	"github.com/smallbiznis/walue/internal/calls"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/invoice"
	"github.com/smallbiznis/walue/internal/messaging"
	"github.com/smallbiznis/walue/internal/observability"
	"github.com/smallbiznis/walue/internal/plan"
	"github.com/smallbiznis/walue/internal/pricing"
	"github.com/smallbiznis/walue/internal/providers"
	"github.com/smallbiznis/walue/internal/ratelimit"
	"github.com/smallbiznis/walue/internal/server"
	"github.com/smallbiznis/walue/internal/signup"
	"github.com/smallbiznis/walue/internal/tenant"
	"github.com/smallbiznis/walue/internal/tokenstore"
	"github.com/smallbiznis/walue/internal/usage"
	"github.com/smallbiznis/walue/internal/webhook"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
)

// The API process serves HTTP only. Jobs run in apps/scheduler, so the
// admin job trigger answers 503 here.
func main() {
	decimal.MarshalJSONWithoutQuotes = true

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		tokenstore.Module,
		ratelimit.Module,
		authorization.Module,
		providers.Module,
		pricing.Module,

		plan.Module,
		tenant.Module,
		usage.Module,
		invoice.Module,
		messaging.Module,
		calls.Module,
		signup.Module,
		webhook.Module,
		oauth2provider.Module,

		server.Module,
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
