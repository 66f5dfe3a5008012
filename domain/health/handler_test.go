package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/domain/scheduler"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/testutil"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
	"github.com/emergent-company/tether/pkg/syshealth"
)

func newTestServer(t *testing.T, env string) (*echo.Echo, *consistency.RepairQueue) {
	t.Helper()
	db := testutil.NewDB(t)
	log := testutil.Logger()

	cfg := &config.Config{Environment: env, Debug: true}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Auth.TrustedUserHeader = "X-User-ID"
	cfg.Audit.MaxRepairTries = 5

	queue := consistency.NewRepairQueue(db, cfg, log)
	monitor := syshealth.NewMonitor(cfg, db, log)
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)
	RegisterRoutes(e,
		NewHandler(db, cfg, queue, monitor),
		NewMetricsHandler(queue, scheduler.NewScheduler(log), monitor),
		auth.NewMiddleware(cfg, log))
	return e, queue
}

func get(e *echo.Echo, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	e, _ := newTestServer(t, "local")

	rec := get(e, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, StatusHealthy, body.Checks["database"].Status)
	assert.Equal(t, StatusHealthy, body.Checks["repairs"].Status)
	assert.Equal(t, StatusHealthy, body.Checks["system"].Status, "a stale sample never degrades")
	assert.NotEmpty(t, body.Version.Version)

	assert.Equal(t, http.StatusOK, get(e, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, get(e, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, get(e, "/debug", "").Code)
}

func TestHealth_DegradedByExhaustedRepairs(t *testing.T) {
	e, queue := newTestServer(t, "local")
	ctx := t.Context()
	require.NoError(t, queue.ReportRepair(ctx, "u1", "u2", relationships.StatusAccepted, "test"))

	ids, err := queue.Jobs().Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	permanent, err := queue.Jobs().MarkFailed(ctx, ids[0], 4, "still broken")
	require.NoError(t, err)
	require.True(t, permanent)

	rec := get(e, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusDegraded, body.Status)
	assert.Contains(t, body.Checks["repairs"].Message, "1 repairs")
}

func TestDebugHiddenInProduction(t *testing.T) {
	e, _ := newTestServer(t, "production")
	assert.Equal(t, http.StatusNotFound, get(e, "/debug", "").Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	e, _ := newTestServer(t, "local")
	rec := get(e, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestJobMetrics(t *testing.T) {
	e, queue := newTestServer(t, "local")
	require.NoError(t, queue.ReportRepair(t.Context(), "u1", "u2", relationships.StatusAccepted, "test"))

	assert.Equal(t, http.StatusUnauthorized, get(e, "/api/metrics/jobs", "").Code)

	rec := get(e, "/api/metrics/jobs", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	var body AllJobMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 1)
	assert.Equal(t, int64(1), body.Queues[0].Pending)
	assert.Equal(t, int64(1), body.Queues[0].Total)

	rec = get(e, "/api/metrics/scheduler", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)

	rec = get(e, "/api/metrics/system", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	var sys syshealth.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	assert.Equal(t, 100, sys.Score)
	assert.True(t, sys.Stale, "monitor was never started")
}
