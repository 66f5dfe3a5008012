// Package main provides the entry point for the Tether relationship server
//
// @title Tether API
// @version 0.1.0
// @description Bidirectional relationship graph with a consistency auditor
// @BasePath /
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token (format: "Bearer <token>")
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/contactsync"
	"github.com/emergent-company/tether/domain/health"
	"github.com/emergent-company/tether/domain/notifications"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/domain/scheduler"
	"github.com/emergent-company/tether/domain/tracing"
	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/database"
	"github.com/emergent-company/tether/internal/migrate"
	"github.com/emergent-company/tether/internal/server"
	"github.com/emergent-company/tether/internal/storage"
	"github.com/emergent-company/tether/pkg/auth"
	"github.com/emergent-company/tether/pkg/logger"
	"github.com/emergent-company/tether/pkg/syshealth"
)

func main() {
	// Load .env files if present (for local development)
	// Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,
		storage.Module,
		auth.Module,
		tracing.Module,
		syshealth.Module,

		// Domain modules
		health.Module,
		users.Module,
		relationships.Module,
		contactsync.Module,
		notifications.Module,

		// Repair queue, worker and auditor
		consistency.Module,

		// Scheduled audit, repair recovery and notification cleanup
		scheduler.Module,
	).Run()
}
