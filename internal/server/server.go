// Package server builds the echo instance shared by every domain's routes
// and runs it inside the fx lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
	"github.com/emergent-company/tether/pkg/logger"
)

var Module = fx.Module("server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// quietPaths are polled by probes and scrapers and are not access-logged.
var quietPaths = []string{"/health", "/healthz", "/ready", "/metrics"}

// NewEcho configures echo with the error renderer, validator and the
// middleware every route shares.
func NewEcho(cfg *config.Config, log *slog.Logger) *echo.Echo {
	log = log.With(logger.Scope("http"))

	e := echo.New()
	e.Debug = cfg.Debug
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)
	e.Validator = NewValidator()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.RequestID(),
		cors(cfg),
		middleware.BodyLimit(cfg.MaxBodySize),
		accessLog(log),
		middleware.RecoverWithConfig(middleware.RecoverConfig{
			LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
				log.Error("panic recovered",
					slog.String("path", c.Path()),
					logger.Error(err),
					slog.String("stack", string(stack)))
				return err
			},
		}),
	)
	return e
}

func cors(cfg *config.Config) echo.MiddlewareFunc {
	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
		echo.HeaderAuthorization, echo.HeaderCacheControl, "Last-Event-ID"}
	if cfg.Auth.TrustedUserHeader != "" {
		headers = append(headers, cfg.Auth.TrustedUserHeader)
	}
	origins := cfg.CORSOrigins
	return middleware.CORSWithConfig(middleware.CORSConfig{
		// The origin is echoed back rather than "*" since credentials are allowed.
		AllowOriginFunc: func(origin string) (bool, error) {
			return len(origins) == 0 || slices.Contains(origins, origin), nil
		},
		AllowCredentials: true,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  headers,
		ExposeHeaders: []string{echo.HeaderXRequestID, "X-Report-Key"},
	})
}

// accessLog logs one line per request: server errors at error level,
// client errors at warn, the rest at info.
func accessLog(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return slices.Contains(quietPaths, c.Request().URL.Path)
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if u := auth.GetUser(c); u != nil {
				attrs = append(attrs, slog.String("user_id", u.ID))
			}

			level := slog.LevelInfo
			switch {
			case v.Status >= http.StatusInternalServerError:
				level = slog.LevelError
				if v.Error != nil {
					attrs = append(attrs, logger.Error(v.Error))
				}
			case v.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			log.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Run binds the listen address during start so a taken port fails the app
// instead of logging from a goroutine, then serves until stop.
func Run(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, log *slog.Logger) {
	log = log.With(logger.Scope("server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerAddress, cfg.ServerPort),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var listen net.ListenConfig
			ln, err := listen.Listen(ctx, "tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			e.Listener = ln
			log.Info("http server listening",
				slog.String("address", ln.Addr().String()),
				slog.String("environment", cfg.Environment))

			go func() {
				if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", logger.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			log.Info("http server shutting down")
			return e.Shutdown(ctx)
		},
	})
}
