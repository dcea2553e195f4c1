package janus

import "go.uber.org/fx"

var Module = fx.Module("providers.janus",
	fx.Provide(
		fx.Annotate(NewClient, fx.As(new(Gateway))),
	),
)
