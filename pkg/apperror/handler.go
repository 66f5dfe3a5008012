package apperror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/pkg/logger"
)

// statusCodes names the echo errors raised by routing, binding and
// middleware, which carry only a status.
var statusCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusUnprocessableEntity:   "validation_error",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusServiceUnavailable:    "service_unavailable",
}

// fromEcho converts an *echo.HTTPError into an *Error.
func fromEcho(he *echo.HTTPError) *Error {
	code, ok := statusCodes[he.Code]
	if !ok {
		if he.Code >= 500 {
			return ErrInternal.WithInternal(he)
		}
		code = "error"
	}
	msg, ok := he.Message.(string)
	if !ok || msg == "" {
		msg = http.StatusText(he.Code)
	}
	return &Error{HTTPStatus: he.Code, Code: code, Message: msg, Internal: he.Internal}
}

// HTTPErrorHandler renders every error returned by a handler as a Response.
// Server-side failures are logged with their internal cause.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var appErr *Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
		case errors.As(err, &he):
			appErr = fromEcho(he)
		default:
			appErr = ErrInternal.WithInternal(err)
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Error("request failed",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Int("status", appErr.HTTPStatus),
				logger.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(appErr.HTTPStatus)
			return
		}
		_ = c.JSON(appErr.HTTPStatus, appErr.Response())
	}
}
