package relationships

import (
	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/users"
)

// Module provides the relationships domain
var Module = fx.Module("relationships",
	fx.Provide(
		fx.Annotate(NewRepository, fx.As(new(Store))),
		NewResolver,
		fx.Annotate(NewEdgeBlockList, fx.As(new(BlockList))),
		NewRateLimiter,
		func(l *RateLimiter) RequestLimiter { return l },
		func(s *users.Service) Directory { return s },
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)
