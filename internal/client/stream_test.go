package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/tickr/internal/notify"
)

func TestStream_DeliversEventsInOrderAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if n == 1 {
			fmt.Fprint(w, ": heartbeat\n\n")
			fmt.Fprint(w, "data: {\"type\":\"lists_changed\"}\n\n")
			fmt.Fprint(w, "data: not json\n\n")
			fmt.Fprint(w, "data: {\"type\":\"items_changed\",\"list_id\":7}\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"items_changed\",\"list_id\":8}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var (
		mu       sync.Mutex
		got      []Event
		connects int
		drops    int
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewStream(srv.URL, 10*time.Millisecond).Run(ctx, StreamHandlers{
			OnConnect: func() {
				mu.Lock()
				connects++
				mu.Unlock()
			},
			OnEvent: func(ev Event) {
				mu.Lock()
				got = append(got, ev)
				mu.Unlock()
			},
			OnDisconnect: func(error) {
				mu.Lock()
				drops++
				mu.Unlock()
			},
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Event{
		{Type: EventListsChanged},
		{Type: EventItemsChanged, ListID: 7},
		{Type: EventItemsChanged, ListID: 8},
	}, got)
	require.Equal(t, 2, connects)
	require.Equal(t, 1, drops)
}

func TestStream_RejectsNonEventStream(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var connected atomic.Bool
	var drops atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewStream(srv.URL, 5*time.Millisecond).Run(ctx, StreamHandlers{
			OnConnect:    func() { connected.Store(true) },
			OnDisconnect: func(error) { drops.Add(1) },
		})
	}()

	require.Eventually(t, func() bool { return drops.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.False(t, connected.Load())
}

func TestStream_ReceivesServerBroadcasts(t *testing.T) {
	ts := newTestServer(t)

	events := make(chan Event, 8)
	connected := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewStream(ts.srv.URL, 10*time.Millisecond).Run(ctx, StreamHandlers{
			OnConnect: func() { connected <- struct{}{} },
			OnEvent:   func(ev Event) { events <- ev },
		})
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}
	require.Eventually(t, func() bool { return ts.notifier.Len() == 1 }, time.Second, 5*time.Millisecond)

	ts.notifier.Publish(notify.Items(42))
	select {
	case ev := <-events:
		require.Equal(t, Event{Type: EventItemsChanged, ListID: 42}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}
