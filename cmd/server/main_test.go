package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/tickr/internal/config"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/ratelimit"
	"github.com/kuitang/tickr/internal/testdb"
	"github.com/kuitang/tickr/internal/todo"
)

func newTestRouter(t *testing.T, mcpEnabled bool, burst int) http.Handler {
	t.Helper()
	cfg := &config.Config{
		StaticDir:    t.TempDir(),
		SSEHeartbeat: time.Hour,
		MCPEnabled:   mcpEnabled,
	}
	n := notify.New(8)
	t.Cleanup(n.Close)
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{RPS: 0.001, Burst: burst})
	t.Cleanup(limiter.Stop)
	svc := todo.NewService(testdb.New(t), n)
	return newHandler(cfg, svc, n, limiter)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_HealthCarriesRequestID(t *testing.T) {
	h := newTestRouter(t, true, 10)
	rec := serve(h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestNewHandler_WritesAreRateLimitedReadsAreNot(t *testing.T) {
	h := newTestRouter(t, true, 1)

	require.Equal(t, http.StatusCreated, serve(h, http.MethodPost, "/api/lists", `{"name":"a"}`).Code)
	limited := serve(h, http.MethodPost, "/api/lists", `{"name":"b"}`)
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "1", limited.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/lists", "").Code)
	}
}

func TestNewHandler_MCPCanBeDisabled(t *testing.T) {
	enabled := newTestRouter(t, true, 10)
	require.Equal(t, http.StatusNoContent, serve(enabled, http.MethodOptions, "/mcp", "").Code)

	disabled := newTestRouter(t, false, 10)
	require.Equal(t, http.StatusNotFound, serve(disabled, http.MethodOptions, "/mcp", "").Code)
}

func TestNewHandler_ServesDocs(t *testing.T) {
	h := newTestRouter(t, false, 10)
	rec := serve(h, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/api/events")
}

func TestOpenBackupStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, closeStore, err := openBackupStore(ctx, &config.Config{NoS3: true})
	require.NoError(t, err)
	defer closeStore()

	require.NoError(t, store.PutObject(ctx, "backups/x.db", []byte("snapshot"), "application/vnd.sqlite3"))
	objects, err := store.ListObjects(ctx, "backups/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.EqualValues(t, len("snapshot"), objects[0].Size)
}
