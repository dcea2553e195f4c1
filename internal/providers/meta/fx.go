package meta

import "go.uber.org/fx"

var Module = fx.Module("providers.meta",
	fx.Provide(NewClient),
)
