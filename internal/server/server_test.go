package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

func newTestEcho(t *testing.T, mutate func(*config.Config)) (*echo.Echo, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{MaxBodySize: "1K"}
	cfg.Auth.TrustedUserHeader = "X-User-ID"
	if mutate != nil {
		mutate(cfg)
	}
	var logs bytes.Buffer
	e := NewEcho(cfg, logger.NewWithWriter(&logs))
	e.POST("/api/echo", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	e.GET("/api/panic", func(echo.Context) error { panic("boom") })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e, &logs
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewEcho_TrailingSlashAndRequestID(t *testing.T) {
	e, _ := newTestEcho(t, nil)
	rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/echo/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestNewEcho_BodyLimit(t *testing.T) {
	e, _ := newTestEcho(t, nil)
	body := strings.NewReader(strings.Repeat("x", 4096))
	rec := serve(e, httptest.NewRequest(http.MethodPost, "/api/echo", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payload_too_large"`)
}

func TestNewEcho_PanicRendersInternalError(t *testing.T) {
	e, logs := newTestEcho(t, nil)
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal_error"`)
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestNewEcho_AccessLogSkipsProbes(t *testing.T) {
	e, logs := newTestEcho(t, nil)
	serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotContains(t, logs.String(), "/health")

	serve(e, httptest.NewRequest(http.MethodPost, "/api/echo", nil))
	assert.Contains(t, logs.String(), "/api/echo")
}

func TestNewEcho_CORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{"any origin when unset", nil, "https://app.example.com", true},
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEcho(t, func(c *config.Config) { c.CORSOrigins = tt.origins })
			req := httptest.NewRequest(http.MethodOptions, "/api/echo", nil)
			req.Header.Set(echo.HeaderOrigin, tt.origin)
			req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
			rec := serve(e, req)

			got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin)
			if tt.allowed {
				require.Equal(t, tt.origin, got)
				assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowHeaders), "X-User-ID")
			} else {
				assert.Empty(t, got)
			}
		})
	}
}
