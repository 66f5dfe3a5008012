// Package testutil provides database fixtures for package tests.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/database"
	"github.com/emergent-company/tether/internal/migrate"
)

// NewDB returns a migrated in-memory sqlite database that is closed when the
// test ends. A single connection keeps the in-memory database alive and
// serializes access the way a single-node deployment does.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Run(context.Background(), db.DB, config.DriverSQLite))
	return db
}

// Logger returns a logger that only emits errors, keeping test output quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}
