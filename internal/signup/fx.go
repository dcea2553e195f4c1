package signup

import (
	"github.com/smallbiznis/walue/internal/signup/repository"
	"github.com/smallbiznis/walue/internal/signup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("signup.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
