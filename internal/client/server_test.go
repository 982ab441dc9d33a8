package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/tickr/internal/api"
	"github.com/kuitang/tickr/internal/events"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/testdb"
	"github.com/kuitang/tickr/internal/todo"
)

// testServer runs the real API and sync endpoints behind switches that
// simulate outages and slow responses.
type testServer struct {
	srv      *httptest.Server
	svc      *todo.Service
	notifier *notify.Notifier
	mux      *http.ServeMux

	down       atomic.Bool // every endpoint but health answers 503
	healthDown atomic.Bool

	mu    sync.Mutex
	hits  map[string]int
	gates map[string]chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	n := notify.New(64)
	svc := todo.NewService(testdb.New(t), n)
	mux := http.NewServeMux()
	api.NewHandler(svc, n).RegisterRoutes(mux)
	events.NewHandler(n, time.Hour).RegisterRoutes(mux)

	ts := &testServer{
		svc:      svc,
		notifier: n,
		mux:      mux,
		hits:     map[string]int{},
		gates:    map[string]chan struct{}{},
	}
	ts.srv = httptest.NewServer(ts)
	t.Cleanup(func() {
		n.Close()
		ts.srv.CloseClientConnections()
		ts.srv.Close()
	})
	return ts
}

func (ts *testServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	ts.hits[r.Method+" "+r.URL.Path]++
	gate := ts.gates[r.URL.Path]
	ts.mu.Unlock()

	unavailable := ts.down.Load()
	if r.URL.Path == "/api/health" {
		unavailable = ts.healthDown.Load()
	}
	if unavailable {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		return
	}
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	ts.mux.ServeHTTP(w, r)
}

func (ts *testServer) hitCount(key string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.hits[key]
}

// hold blocks requests to path until the returned func is called.
func (ts *testServer) hold(path string) (release func()) {
	ch := make(chan struct{})
	ts.mu.Lock()
	ts.gates[path] = ch
	ts.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			ts.mu.Lock()
			delete(ts.gates, path)
			ts.mu.Unlock()
			close(ch)
		})
	}
}

func (ts *testServer) client() *Client {
	return New(ts.srv.URL, WithRetryBackoff(time.Millisecond))
}

func (ts *testServer) mustList(t *testing.T, name string) *todo.List {
	t.Helper()
	l, err := ts.svc.CreateList(context.Background(), todo.CreateListParams{Name: name}, todo.UserInitiated)
	require.NoError(t, err)
	return l
}

func (ts *testServer) mustItem(t *testing.T, listID int64, text string) *todo.Item {
	t.Helper()
	res, err := ts.svc.CreateItem(context.Background(), listID, text, todo.UserInitiated)
	require.NoError(t, err)
	return &res.Item
}

// recorder is a Renderer that remembers what it was told.
type recorder struct {
	mu       sync.Mutex
	lists    []List
	activeID int64
	items    map[int64][]Item
	itemsLog []int64
	offline  []bool
	undo     []string
}

func newRecorder() *recorder {
	return &recorder{items: map[int64][]Item{}}
}

func (r *recorder) RenderLists(lists []List, activeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append([]List(nil), lists...)
	r.activeID = activeID
}

func (r *recorder) RenderItems(listID int64, items []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listID] = append([]Item(nil), items...)
	r.itemsLog = append(r.itemsLog, listID)
}

func (r *recorder) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, offline)
}

func (r *recorder) SetUndo(label string, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !visible {
		label = ""
	}
	r.undo = append(r.undo, label)
}

func (r *recorder) snapshot() (lists []List, activeID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]List(nil), r.lists...), r.activeID
}

func (r *recorder) itemsFor(listID int64) ([]Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items, ok := r.items[listID]
	return append([]Item(nil), items...), ok
}

func (r *recorder) renderedItemsFor(listID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.itemsLog {
		if id == listID {
			n++
		}
	}
	return n
}

func (r *recorder) offlineStates() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.offline...)
}

func (r *recorder) undoStates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.undo...)
}

func itemTexts(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Text)
	}
	return out
}
