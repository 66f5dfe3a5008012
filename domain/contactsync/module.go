package contactsync

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/syshealth"
)

// Module provides the contact sync domain
var Module = fx.Module("contactsync",
	fx.Provide(
		func(s *users.Service) Directory { return s },
		newReconciler,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

type reconcilerParams struct {
	fx.In
	Store     relationships.Store
	Directory Directory
	Monitor   syshealth.Monitor `optional:"true"`
	Cfg       *config.Config
	Log       *slog.Logger
}

// newReconciler scales fan-out with system health when sampling is on.
func newReconciler(p reconcilerParams) *Reconciler {
	r := NewReconciler(p.Store, p.Directory, p.Cfg, p.Log)
	if p.Monitor != nil && p.Cfg.SysHealth.Enabled {
		r.WithLimiter(syshealth.NewScaler(p.Monitor, "contact_sync", 1, r.concurrency))
	}
	return r
}
