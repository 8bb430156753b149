package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studio_gateway/internal/config"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/queue"
	"studio_gateway/internal/storage"
)

const (
	testAdmin         = "admin"
	testAdminPassword = "admin123"
)

type testServer struct {
	deps    *Dependencies
	handler http.Handler
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		JWTSecret: []byte("test-secret"),
		JWTTTL:    time.Hour,
		Database: config.DatabaseConfig{
			URL: "sqlite://" + filepath.Join(t.TempDir(), "gateway.db"),
		},
		Queue: config.QueueConfig{
			Name:         "usage-test",
			BatchSize:    10,
			BatchTimeout: 20 * time.Millisecond,
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
		},
		Proxy: config.ProxyConfig{
			Timeout:        2 * time.Second,
			DefaultBaseURL: "http://127.0.0.1:1",
		},
		Admin:  config.AdminConfig{Username: testAdmin, Password: testAdminPassword},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		Upload: config.UploadConfig{MaxBytes: 4096},
		Chat:   config.ChatConfig{MaxBytes: 8 << 20},
	}
}

// newTestServer wires every dependency over a temporary sqlite database and
// an in-memory usage queue with a running worker.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := storage.NewDB(storage.DefaultDBConfig(cfg.Database.URL))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	enc, err := NewEncryption(cfg, logging.NewNop())
	require.NoError(t, err)

	q, dlq, err := queue.New(QueueConfig(cfg))
	require.NoError(t, err)

	deps := Assemble(db, enc, q, dlq, logging.NewNoopSink(), cfg)
	_, err = deps.Auth.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
	require.NoError(t, err)

	deps.UsageWorker.Start(context.Background())
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return &testServer{deps: deps, handler: NewRouter(deps)}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session struct {
		Token string `json:"token"`
	}
	decode(t, rec, &session)
	require.NotEmpty(t, session.Token)
	return session.Token
}

func (s *testServer) adminToken(t *testing.T) string {
	return s.login(t, testAdmin, testAdminPassword)
}

func (s *testServer) userToken(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "secret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return s.login(t, username, "secret")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &body)
	return body.Detail
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
