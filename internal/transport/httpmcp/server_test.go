package httpmcp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgate-io/snowgate-mcp/internal/config"
	"github.com/snowgate-io/snowgate-mcp/internal/gateway"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Warehouse.DSN = "user:pass@tcp(127.0.0.1:3306)/testdb"
	cfg.Pool.MinSize = 0
	cfg.Pool.MaxSize = 2
	cfg.HTTP.RequestTimeout = 5 * time.Second
	cfg.Security.AdminAPIKey = "test-admin-key"
	cfg.Security.APIKeySalt = "test-salt"
	cfg.Security.MaxAuthAttemptsMin = 3
	cfg.Security.MaxAuthAttemptsDay = 10
	cfg.Security.LockoutSeconds = time.Minute
	return cfg
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig(t)
	gw, err := gateway.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return New(gw, cfg.HTTP, cfg.Security, zerolog.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleListTools_ReturnsFiveToolNames(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/mcp/tools", nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	names, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, names, 5)
}

func TestHandleToolCall_RejectsUnknownMethod(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/mcp/tools/call", toolCallRequest{Method: "not_a_tool"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleToolCall_RejectsMissingRequiredArgument(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/mcp/tools/call", toolCallRequest{
		Method: "execute_query",
		Params: map[string]any{},
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleAdminToken_RejectsWrongKey(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/admin/token", adminTokenRequest{APIKey: "wrong"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAdminToken_IssuesTokenThatGrantsDashboardAccess(t *testing.T) {
	s := testServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/admin/token", adminTokenRequest{APIKey: "test-admin-key"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	token, ok := body["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDashboard_RejectsMissingBearerToken(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_LocksOutAfterRepeatedFailures(t *testing.T) {
	a := NewAdminAuth(config.Security{
		AdminAPIKey:        "correct",
		APIKeySalt:         "salt",
		MaxAuthAttemptsMin: 2,
		MaxAuthAttemptsDay: 100,
		LockoutSeconds:     time.Minute,
	})

	_, err := a.Exchange("10.0.0.1", "wrong")
	require.Error(t, err)
	_, err = a.Exchange("10.0.0.1", "wrong")
	require.Error(t, err)

	_, err = a.Exchange("10.0.0.1", "correct")
	require.Error(t, err, "locked out even with the correct key once the attempt threshold is hit")
}

func TestAdminAuth_IssuedTokenVerifies(t *testing.T) {
	a := NewAdminAuth(config.Security{
		AdminAPIKey:        "correct",
		APIKeySalt:         "salt",
		MaxAuthAttemptsMin: 5,
		MaxAuthAttemptsDay: 50,
		LockoutSeconds:     time.Minute,
	})

	token, err := a.Exchange("10.0.0.2", "correct")
	require.NoError(t, err)
	assert.NoError(t, a.Verify(token))
	assert.Error(t, a.Verify("not-a-token"))
}
