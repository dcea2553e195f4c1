package calls

import (
	"github.com/smallbiznis/walue/internal/calls/service"
	"go.uber.org/fx"
)

var Module = fx.Module("calls.service",
	fx.Provide(service.New),
)
