package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/cmdbroker/internal/auth"
	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func testLogger() *logging.Logger {
	return logging.Discard()
}

func testDeps() Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 5000,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, TokenTTL: 15},
		},
		Logger:  testLogger(),
		Queue:   command.NewQueue(command.NewMemoryStore()),
		Version: "test",
	}
}

// testServer creates a Server backed by an in-memory queue.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()

	deps := testDeps()
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)
	return srv
}

// withAuth enables bearer authentication.
func withAuth(d *Deps) {
	d.Security.Auth.Enabled = true
}

func mintToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateAccessToken("test-"+string(role), role, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through h. body may be nil, a string, or any value
// encoded as JSON.
func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return resp
}
