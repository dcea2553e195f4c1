package oauth2provider

import "go.uber.org/fx"

var Module = fx.Module("auth.oauth2.provider",
	fx.Provide(NewCodeStore),
	fx.Provide(NewService),
	fx.Provide(NewHandler),
)
