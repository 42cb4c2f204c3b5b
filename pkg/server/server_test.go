package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/types"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	base := t.TempDir()
	return Config{
		ToolsPath:     filepath.Join(base, "tools"),
		SkillsPath:    filepath.Join(base, "skills"),
		ArtifactsPath: filepath.Join(base, "artifacts"),
		DepsPath:      filepath.Join(base, "deps"),
		AuthToken:     "t0ken",
		RuntimeDeps:   true,
		SessionTTL:    time.Hour,
	}
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	s := New(cfg)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	server := httptest.NewServer(s.Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *httptest.Server, method, path, token, sessionID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthIsUnauthenticated(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, body := doJSON(t, server, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	uptime, ok := body["uptime_seconds"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, uptime, float64(0))
}

func TestAuthMatrix(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcg==", http.StatusUnauthorized},
		{"lowercase scheme", "bearer t0ken", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer t0ken", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, server.URL+"/info", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAuthEnabledWithoutTokenFailsClosed(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.AuthToken = ""
	server := newTestServer(t, cfg)

	resp, _ := doJSON(t, server, http.MethodGet, "/info", "", "", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAuthDisabledAllowsAnonymous(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.AuthToken = ""
	cfg.AuthDisabled = true
	server := newTestServer(t, cfg)

	resp, _ := doJSON(t, server, http.MethodGet, "/info", "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUninitializedReturns503(t *testing.T) {
	t.Parallel()
	s := New(testConfig(t))
	server := httptest.NewServer(s.Router())
	t.Cleanup(server.Close)

	resp, _ := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "", `{"code":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestExecuteKeepsSessionState(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, _ := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x = 41"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x + 1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(42), body["value"])

	// A different session does not see alpha's globals.
	resp, body = doJSON(t, server, http.MethodPost, "/execute", "t0ken", "beta", `{"code":"x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["error"], "undefined")
}

func TestExecuteAssignsSessionID(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/execute", strings.NewReader(`{"code":"1"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer t0ken")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Session-ID"))
}

func TestExecuteBodyCarriesSessionID(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", body["session_id"])
	assert.Equal(t, "alpha", resp.Header.Get("X-Session-ID"))
}

func TestInfoListsCatalogEntries(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	code := `skills.create("doubler", "def run(n):\n    return n * 2\n", description="Double a number.")`
	payload, err := json.Marshal(map[string]any{"code": code})
	require.NoError(t, err)
	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "", body["error"])

	resp, info := doJSON(t, server, http.MethodGet, "/info", "t0ken", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	skills, ok := info["skills"].([]any)
	require.True(t, ok)
	require.Len(t, skills, 1)
	assert.Equal(t, map[string]any{
		"name":        "doubler",
		"description": "Double a number.",
	}, skills[0])

	_, ok = info["tools"].([]any)
	assert.True(t, ok)
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, _ := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetClearsSession(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, _ := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x = 1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/reset", "t0ken", "alpha", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", body["status"])
	assert.Equal(t, "alpha", body["session_id"])

	resp, body = doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["error"], "undefined")
}

func TestExecuteReachesStorage(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	code := `artifacts.save("out.txt", "hello", description="Test output")
artifacts.load("out.txt")`
	payload, err := json.Marshal(map[string]any{"code": code})
	require.NoError(t, err)
	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", body["value"])

	resp, info := doJSON(t, server, http.MethodGet, "/info", "t0ken", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, info["artifacts_path"])
}

func TestInstallDepsValidatesSpecs(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, _ := doJSON(t, server, http.MethodPost, "/install_deps", "t0ken", "", `{"packages":["-e."]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, server, http.MethodPost, "/install_deps", "t0ken", "", `{"packages":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/install_deps", "t0ken", "", `{"packages":["requests"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"requests"}, body["installed"])
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.SessionTTL = time.Millisecond
	server := newTestServer(t, cfg)

	resp, _ := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x = 1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(20 * time.Millisecond)

	// Touching another session sweeps alpha's expired interpreter.
	resp, _ = doJSON(t, server, http.MethodPost, "/execute", "t0ken", "beta", `{"code":"1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "alpha", `{"code":"x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["error"], "undefined")
}

func TestResultShape(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, testConfig(t))

	resp, body := doJSON(t, server, http.MethodPost, "/execute", "t0ken", "", `{"code":"print(\"hi\")\n2 + 2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var result types.ExecutionResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, float64(4), result.Value)
	assert.Equal(t, "hi\n", result.Stdout)
	assert.True(t, result.Success())

	// error and session_id are always present in the body.
	errField, ok := body["error"]
	require.True(t, ok)
	assert.Equal(t, "", errField)
	assert.NotEmpty(t, body["session_id"])
}
