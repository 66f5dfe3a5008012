package notifications

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
)

// Module provides the notifications domain and binds it as the
// relationship service's notifier
var Module = fx.Module("notifications",
	fx.Provide(NewRepository),
	fx.Provide(NewEmailChannel),
	fx.Provide(func(repo *Repository, cfg *config.Config, log *slog.Logger, email *EmailChannel) *Service {
		return NewService(repo, cfg, log).WithEmail(email)
	}),
	fx.Provide(func(s *Service) relationships.Notifier { return s }),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return s.Wait(ctx)
			},
		})
	}),
)
