package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// ScopeRelationshipsAdmin grants access to audit and repair endpoints.
const ScopeRelationshipsAdmin = "relationships:admin"

// AuthUser represents an authenticated user
type AuthUser struct {
	// ID is the token subject and the user id used on relationship edges.
	ID string `json:"id"`

	// Granted scopes from token
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the user was granted scope.
func (u *AuthUser) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ContextKey for storing auth user in context
type contextKey string

const UserContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated user from the Echo context
func GetUser(c echo.Context) *AuthUser {
	if user, ok := c.Get(string(UserContextKey)).(*AuthUser); ok {
		return user
	}
	return nil
}

// Claims are the JWT claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Middleware handles authentication for routes
type Middleware struct {
	secret        []byte
	issuer        string
	trustedHeader string
	log           *slog.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	m := &Middleware{
		secret: []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.Issuer,
		log:    log.With(logger.Scope("auth")),
	}

	// Gateways may forward the user id directly during development
	if cfg.Debug {
		m.trustedHeader = cfg.Auth.TrustedUserHeader
	}

	return m
}

// RequireAuth returns middleware that requires authentication
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := m.authenticate(c.Request())
			if err != nil {
				m.log.Warn("authentication failed", logger.Error(err))
				return m.authError(c, err)
			}

			c.Set(string(UserContextKey), user)
			return next(c)
		}
	}
}

// RequireScopes returns middleware that requires specific scopes
func (m *Middleware) RequireScopes(scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return m.authError(c, apperror.ErrUnauthorized)
			}

			var missing []string
			for _, required := range scopes {
				if !user.HasScope(required) {
					missing = append(missing, required)
				}
			}
			if len(missing) > 0 {
				return m.authError(c, apperror.ErrForbidden.WithDetails(map[string]any{
					"missing": missing,
				}))
			}

			return next(c)
		}
	}
}

// authenticate extracts and validates the token from the request
func (m *Middleware) authenticate(r *http.Request) (*AuthUser, error) {
	if m.trustedHeader != "" {
		if id := strings.TrimSpace(r.Header.Get(m.trustedHeader)); id != "" {
			return &AuthUser{ID: id, Scopes: []string{ScopeRelationshipsAdmin}}, nil
		}
	}

	token := m.extractToken(r)
	if token == "" {
		return nil, apperror.ErrMissingToken
	}

	return m.validateToken(token)
}

// extractToken extracts the bearer token from request
func (m *Middleware) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// validateToken verifies an HS256 token and maps its claims to a user
func (m *Middleware) validateToken(token string) (*AuthUser, error) {
	if len(m.secret) == 0 {
		return nil, apperror.ErrInvalidToken.WithInternal(errors.New("no signing secret configured"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperror.ErrInvalidToken.WithInternal(err)
	}
	if claims.Subject == "" {
		return nil, apperror.ErrInvalidToken.WithMessage("token has no subject")
	}

	return &AuthUser{
		ID:     claims.Subject,
		Scopes: ParseScopes(claims.Scope),
	}, nil
}

// authError answers directly so rejected requests never reach the route's
// error handling.
func (m *Middleware) authError(c echo.Context, err error) error {
	appErr := apperror.From(err)
	return c.JSON(appErr.HTTPStatus, appErr.Response())
}

// ParseScopes splits a space separated scope claim.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret, issuer, userID string, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
