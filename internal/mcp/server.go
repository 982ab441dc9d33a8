// Package mcp exposes the todo service to agents over the Model Context
// Protocol (Streamable HTTP transport).
package mcp

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/kuitang/tickr/internal/logutil"
	"github.com/kuitang/tickr/internal/obs"
	"github.com/kuitang/tickr/internal/todo"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// maxMCPBodyBytes caps a single JSON-RPC request.
	maxMCPBodyBytes = 1 << 20

	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Server wraps the MCP server with todo handling
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

// NewServer creates a new MCP server backed by svc. Mutations made through it
// go through the same service as the REST API, so connected devices see them.
func NewServer(svc *todo.Service) *Server {
	handler := NewHandler(svc)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "tickr",
			Version: "1.0.0",
		},
		nil, // Use default options
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			// JSON responses are valid for every operation and simpler for
			// clients without SSE support.
			JSONResponse: true,

			// No per-connection state: every request stands alone and the
			// initialize handshake is optional.
			Stateless: true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// ServeHTTP implements http.Handler for Streamable HTTP transport: POST for
// client messages and DELETE to end a session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	// Handle CORS preflight
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Stateless JSON mode has no server-initiated stream to offer.
	if r.Method == http.MethodGet {
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := obs.From(r.Context()).With("pkg", "mcp")

	var reqBody []byte
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Warn("mcp_request_too_large", "limit", maxMCPBodyBytes)
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.Error("mcp_request_read_failed", "error", err)
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		reqBody = body
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	logger.Debug("mcp_request",
		"method", r.Method,
		"headers", formatMCPHeadersForLog(r.Header),
		"body", logutil.FormatBodyForLog(reqBody, mcpDebugBodyLogLimitBytes),
	)

	wrapped, rec := obs.NewResponseRecorder(w)
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			logger.Error("mcp_handler_panic", "panic", p)
			if !rec.WroteHeader() {
				http.Error(wrapped, "Internal server error", http.StatusInternalServerError)
			}
		}
	}()

	s.httpHandler.ServeHTTP(wrapped, r)

	if !rec.WroteHeader() {
		logger.Error("mcp_no_response", "method", r.Method)
		http.Error(wrapped, "MCP handler returned without writing response", http.StatusInternalServerError)
		return
	}
	if rec.StatusCode() >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed",
			"method", r.Method,
			"status", rec.StatusCode(),
		)
	}
}

// formatMCPHeadersForLog renders headers as "key=value" pairs in a stable
// order with credentials and session identifiers redacted.
func formatMCPHeadersForLog(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(headers.Values(k), ",")
		lower := strings.ToLower(k)
		switch {
		case logutil.IsSensitiveLogField(k), lower == "cookie", strings.Contains(lower, "session"):
			value = "[REDACTED]"
		case !isASCII(value):
			value = "[non-ascii]"
		}
		parts = append(parts, lower+"="+value)
	}
	return strings.Join(parts, " ")
}

// isASCII reports whether s is non-blank printable ASCII.
func isASCII(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
