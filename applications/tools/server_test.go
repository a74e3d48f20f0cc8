package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/governance_layer/infrastructure/httputil"
)

func TestHTTPRegisterFlow(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/tools/get_agent_api_key", "application/json",
		strings.NewReader(`{"agent_id":"http-alpha"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env httputil.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.TraceID)

	result := env.Result.(map[string]interface{})
	assert.Equal(t, true, result["is_new"])
	assert.NotEmpty(t, result["api_key"])
}

func TestHTTPUnknownToolEnvelope(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/tools/nonsense", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env httputil.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
	assert.Equal(t, "RES_TOOL_NOT_FOUND", env.ErrorCode)
	assert.NotNil(t, env.Recovery)
}

func TestHTTPAuthFailureStatus(t *testing.T) {
	svc := newTestService(t)
	register(t, svc, "alpha")
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/tools/process_agent_update", "application/json",
		strings.NewReader(`{"agent_id":"alpha","api_key":"gk_bogus","response_text":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var env httputil.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "AUTH_FAILED", env.ErrorCode)
	// Sanitized: no internal detail beyond the message and structured fields.
	assert.NotContains(t, env.Error, "bcrypt")
}

func TestHTTPHealthz(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPListTools(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env httputil.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
}
