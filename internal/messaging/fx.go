package messaging

import (
	"github.com/smallbiznis/walue/internal/messaging/service"
	"go.uber.org/fx"
)

var Module = fx.Module("messaging.service",
	fx.Provide(service.New),
)
