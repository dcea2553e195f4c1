package plan

import (
	"context"

	"github.com/smallbiznis/walue/internal/plan/domain"
	"github.com/smallbiznis/walue/internal/plan/repository"
	"github.com/smallbiznis/walue/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(func(lc fx.Lifecycle, svc domain.Service) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.EnsureCatalog(ctx)
			},
		})
	}),
)
