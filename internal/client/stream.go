package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/tickr/internal/obs"
)

const (
	// DefaultReconnectDelay is the fixed wait between stream connections.
	DefaultReconnectDelay = 3 * time.Second

	maxEventLineBytes = 64 * 1024
)

// StreamHandlers are the stream's callbacks. They run on the stream goroutine.
type StreamHandlers struct {
	// OnConnect runs after every successful (re)connect.
	OnConnect func()
	// OnEvent runs for each decoded event, in server order.
	OnEvent func(Event)
	// OnDisconnect runs when a connection attempt fails or an open stream ends.
	OnDisconnect func(error)
}

// Stream consumes the server's Server-Sent Events endpoint and reconnects
// after a fixed delay whenever the connection drops.
type Stream struct {
	url        string
	httpClient *http.Client
	delay      time.Duration
}

// NewStream creates a stream for the server at baseURL. delay <= 0 uses
// DefaultReconnectDelay.
func NewStream(baseURL string, delay time.Duration) *Stream {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Stream{
		url:        strings.TrimSuffix(baseURL, "/") + "/api/events",
		httpClient: &http.Client{}, // no timeout: the response body is open-ended
		delay:      delay,
	}
}

// Run connects and reconnects until ctx is cancelled.
func (s *Stream) Run(ctx context.Context, h StreamHandlers) {
	logger := obs.From(ctx).With("pkg", "client")
	for {
		err := s.once(ctx, h)
		if ctx.Err() != nil {
			return
		}
		logger.Debug("stream_disconnected", "error", err, "retry_in", s.delay.String())
		if h.OnDisconnect != nil {
			h.OnDisconnect(err)
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// once holds one connection until it ends.
func (s *Stream) once(ctx context.Context, h StreamHandlers) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("stream: unexpected content type %q", ct)
	}

	if h.OnConnect != nil {
		h.OnConnect()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLineBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line ends an event.
			if data.Len() > 0 {
				s.dispatch(ctx, data.String(), h)
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream: closed by server")
}

func (s *Stream) dispatch(ctx context.Context, payload string, h StreamHandlers) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		obs.From(ctx).Warn("stream_bad_event", "pkg", "client", "error", err)
		return
	}
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}
