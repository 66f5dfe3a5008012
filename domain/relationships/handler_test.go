package relationships

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/server"
	"github.com/emergent-company/tether/internal/testutil"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/auth"
)

const userHeader = "X-User-ID"

func newTestServer(t *testing.T) (*echo.Echo, *fixture) {
	t.Helper()
	f := newFixture(t)

	cfg := &config.Config{Debug: true}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TrustedUserHeader = userHeader

	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(testutil.Logger())
	e.Validator = server.NewValidator()
	RegisterRoutes(e, NewHandler(f.svc, NewEdgeBlockList(f.repo)), auth.NewMiddleware(cfg, testutil.Logger()))
	return e, f
}

func do(e *echo.Echo, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHandler_RequestLifecycle(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/relationships/requests", "u1", `{"targetId":"u2","message":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sent ResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	require.NotNil(t, sent.Edge)
	assert.Equal(t, StatusPending, sent.Edge.Status)

	rec = do(e, http.MethodGet, "/api/relationships/requests", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reqs FriendRequestsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reqs))
	require.Len(t, reqs.Incoming, 1)
	assert.Empty(t, reqs.Outgoing)

	rec = do(e, http.MethodPost, "/api/relationships/requests/"+sent.Edge.ID+"/accept", "u3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized_actor", errorCode(t, rec))

	rec = do(e, http.MethodPost, "/api/relationships/requests/"+sent.Edge.ID+"/accept", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/relationships/friends", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var friends FriendListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	require.Equal(t, 1, friends.Total)
	assert.Equal(t, "u2", friends.Friends[0].UserID)
	assert.Equal(t, "User u2", friends.Friends[0].DisplayName)

	rec = do(e, http.MethodGet, "/api/relationships/counts", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts CountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts.Friends)

	rec = do(e, http.MethodDelete, "/api/relationships/friends/u1", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/api/relationships/friends", "u1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	assert.Equal(t, 0, friends.Total)
	assert.NotNil(t, friends.Friends)
}

func TestHandler_Errors(t *testing.T) {
	e, f := newTestServer(t)
	_, err := f.svc.BlockUser(t.Context(), "u4", "u3")
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		user     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"no identity", http.MethodGet, "/api/relationships/friends", "", "", http.StatusUnauthorized, "missing_token"},
		{"missing target", http.MethodPost, "/api/relationships/requests", "u1", `{}`, http.StatusUnprocessableEntity, "validation_error"},
		{"device origin", http.MethodPost, "/api/relationships/requests", "u1", `{"targetId":"u2","origin":"device_contact"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"malformed body", http.MethodPost, "/api/relationships/requests", "u1", `{`, http.StatusBadRequest, "bad_request"},
		{"self request", http.MethodPost, "/api/relationships/requests", "u1", `{"targetId":"u1"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"blocked", http.MethodPost, "/api/relationships/requests", "u3", `{"targetId":"u4"}`, http.StatusConflict, "conflict"},
		{"unknown request", http.MethodGet, "/api/relationships/requests/nope", "u1", "", http.StatusNotFound, "not_found"},
		{"unblock without block", http.MethodDelete, "/api/relationships/blocks/u5", "u1", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}
}

func TestHandler_SimultaneousRequestReturnsOK(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/relationships/requests", "u1", `{"targetId":"u2"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(e, http.MethodPost, "/api/relationships/requests", "u2", `{"targetId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ResultDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.AutoAccepted)
	assert.Equal(t, StatusAccepted, res.Edge.Status)

	rec = do(e, http.MethodGet, "/api/relationships/friends/u2/mutual", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mutual MutualFriendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mutual))
	assert.Equal(t, []string{}, mutual.UserIDs)
}
