package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without internal error",
			err:      New(http.StatusNotFound, "not_found", "Resource not found"),
			expected: "not_found: Resource not found",
		},
		{
			name:     "with internal error",
			err:      ErrDatabase.WithInternal(errors.New("connection reset")),
			expected: "database_error: Database operation failed (connection reset)",
		},
		{
			name:     "empty message",
			err:      New(http.StatusBadRequest, "bad_request", ""),
			expected: "bad_request: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorIs_MatchesDerivedCopies(t *testing.T) {
	derived := ErrConflict.WithMessage("already friends").WithDetails(map[string]any{"edgeId": "e1"})

	assert.True(t, errors.Is(derived, ErrConflict))
	assert.False(t, errors.Is(derived, ErrNotFound))

	wrapped := fmt.Errorf("send request: %w", derived)
	assert.True(t, errors.Is(wrapped, ErrConflict))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := ErrInternal.WithInternal(inner)

	assert.Same(t, inner, errors.Unwrap(err))
	assert.Nil(t, ErrInternal.Unwrap())
}

func TestErrorCopiesDoNotMutateOriginal(t *testing.T) {
	_ = ErrValidation.WithMessage("owner and target must differ").WithInternal(errors.New("x"))

	assert.Equal(t, "Validation failed", ErrValidation.Message)
	assert.Nil(t, ErrValidation.Internal)
	assert.Nil(t, ErrValidation.Details)
}

func TestWithInternal_KeepsDetails(t *testing.T) {
	err := ErrConflict.WithDetails(map[string]any{"status": "blocked"}).WithInternal(errors.New("x"))

	assert.Equal(t, "blocked", err.Details["status"])
}

func TestResponse(t *testing.T) {
	resp := ErrNotParticipant.WithDetails(map[string]any{"edgeId": "e1"}).Response()
	assert.Equal(t, "unauthorized_actor", resp.Error.Code)
	assert.Equal(t, map[string]any{"edgeId": "e1"}, resp.Error.Details)

	raw, err := json.Marshal(ErrNotFound.Response())
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"not_found","message":"Resource not found"}}`, string(raw))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"bad request", NewBadRequest("bad"), http.StatusBadRequest, "bad_request", "bad"},
		{"validation", NewValidation("self"), http.StatusUnprocessableEntity, "validation_error", "self"},
		{"not found", NewNotFound("edge", "e1"), http.StatusNotFound, "not_found", "edge 'e1' not found"},
		{"conflict", NewConflict("dup"), http.StatusConflict, "conflict", "dup"},
		{"forbidden", NewForbidden("no"), http.StatusForbidden, "forbidden", "no"},
		{"internal", NewInternal("oops", nil), http.StatusInternalServerError, "internal_error", "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantMsg, tt.err.Message)
		})
	}
}

func TestFrom(t *testing.T) {
	got := From(fmt.Errorf("wrapped: %w", ErrRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, got.HTTPStatus)
	assert.Equal(t, "rate_limited", got.Code)

	cause := errors.New("plain")
	got = From(cause)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	assert.Equal(t, "internal_error", got.Code)
	assert.ErrorIs(t, got, cause)
}
