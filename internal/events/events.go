// Package events streams change notifications to connected devices over
// Server-Sent Events and WebSocket. Payloads only say what changed; clients
// re-fetch the authoritative state themselves.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/obs"
)

// DefaultHeartbeat is how often an idle stream is pinged.
const DefaultHeartbeat = 25 * time.Second

// writeTimeout bounds a single WebSocket frame write.
const writeTimeout = 10 * time.Second

// Source hands out subscriptions. *notify.Notifier implements it.
type Source interface {
	Subscribe() *notify.Subscription
	Unsubscribe(*notify.Subscription)
}

// Handler serves the sync endpoints.
type Handler struct {
	src       Source
	heartbeat time.Duration
}

// NewHandler creates a Handler. A non-positive heartbeat uses DefaultHeartbeat.
func NewHandler(src Source, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{src: src, heartbeat: heartbeat}
}

// RegisterRoutes mounts GET /api/events and GET /api/ws.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", h.ServeSSE)
	mux.HandleFunc("GET /api/ws", h.ServeWS)
}

// frameWriter is one transport's way of emitting events and heartbeats.
type frameWriter struct {
	event func(ctx context.Context, payload []byte) error
	ping  func(ctx context.Context) error
}

// pump forwards sub's events until the connection or subscription ends, and
// returns why it stopped.
func (h *Handler) pump(ctx context.Context, sub *notify.Subscription, fw frameWriter) string {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client_gone"
		case <-sub.Done():
			if errors.Is(sub.Err(), notify.ErrOverflow) {
				return "overflow"
			}
			return "closed"
		case ev := <-sub.Events():
			payload, err := json.Marshal(ev)
			if err != nil {
				return "marshal_error"
			}
			if err := fw.event(ctx, payload); err != nil {
				return "write_error"
			}
		case <-ticker.C:
			if err := fw.ping(ctx); err != nil {
				return "heartbeat_error"
			}
		}
	}
}

// ServeSSE streams events as text/event-stream. Each event is one
// "data: <json>" frame; idle periods carry ": ping" comments.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	ctx := obs.WithConnID(r.Context(), obs.NewConnID())
	logger := obs.From(ctx).With("pkg", "events", "transport", "sse")

	sub := h.src.Subscribe()
	defer h.src.Unsubscribe(sub)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	// The stream outlives any server-wide write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("sync_stream_unsupported", "error", err)
		return
	}

	logger.Info("sync_connect")
	started := time.Now()

	write := func(frame string) error {
		if _, err := fmt.Fprint(w, frame); err != nil {
			return err
		}
		return rc.Flush()
	}
	reason := h.pump(ctx, sub, frameWriter{
		event: func(_ context.Context, payload []byte) error {
			return write("data: " + string(payload) + "\n\n")
		},
		ping: func(context.Context) error {
			return write(": ping\n\n")
		},
	})

	logger.Info("sync_disconnect",
		"reason", reason,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// ServeWS streams the same events as WebSocket text messages, with protocol
// pings as the heartbeat. Client messages are ignored.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := obs.WithConnID(r.Context(), obs.NewConnID())
	logger := obs.From(ctx).With("pkg", "events", "transport", "ws")

	// Subscribe before the handshake completes so nothing published after the
	// client sees the upgrade is missed.
	sub := h.src.Subscribe()
	defer h.src.Unsubscribe(sub)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("sync_upgrade_failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)

	logger.Info("sync_connect")
	started := time.Now()

	reason := h.pump(ctx, sub, frameWriter{
		event: func(ctx context.Context, payload []byte) error {
			ctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			return conn.Write(ctx, websocket.MessageText, payload)
		},
		ping: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			return conn.Ping(ctx)
		},
	})

	switch reason {
	case "overflow":
		_ = conn.Close(websocket.StatusTryAgainLater, "fell behind, reconnect")
	case "closed":
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}

	logger.Info("sync_disconnect",
		"reason", reason,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}
