// Package api exposes the todo service over JSON/HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kuitang/tickr/internal/errs"
	"github.com/kuitang/tickr/internal/logutil"
	"github.com/kuitang/tickr/internal/obs"
	"github.com/kuitang/tickr/internal/todo"
)

const (
	// maxBodyBytes caps request bodies. History restores are the largest.
	maxBodyBytes = 1 << 20

	// maxLoggedBody is how much of a rejected body ends up in the log.
	maxLoggedBody = 512
)

// SubscriberCounter reports live sync connections for the health check.
type SubscriberCounter interface {
	Len() int
}

// Handler wraps the todo service and provides HTTP handlers
type Handler struct {
	svc     *todo.Service
	subs    SubscriberCounter
	started time.Time
}

// NewHandler creates a new API handler. subs may be nil.
func NewHandler(svc *todo.Service, subs SubscriberCounter) *Handler {
	return &Handler{svc: svc, subs: subs, started: time.Now()}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lists", h.ListLists)
	mux.HandleFunc("POST /api/lists", h.CreateList)
	mux.HandleFunc("POST /api/lists/reorder", h.ReorderLists)
	mux.HandleFunc("PUT /api/lists/{id}", h.UpdateList)
	mux.HandleFunc("DELETE /api/lists/{id}", h.DeleteList)
	mux.HandleFunc("GET /api/lists/{id}/history", h.ListHistory)
	mux.HandleFunc("POST /api/lists/{id}/history", h.RestoreHistory)

	mux.HandleFunc("GET /api/lists/{id}/items", h.ListItems)
	mux.HandleFunc("POST /api/lists/{id}/items", h.CreateItem)
	mux.HandleFunc("POST /api/lists/{id}/items/reorder", h.ReorderItems)
	mux.HandleFunc("PUT /api/items/{id}", h.UpdateItem)
	mux.HandleFunc("DELETE /api/items/{id}", h.DeleteItem)

	mux.HandleFunc("GET /api/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/settings", h.UpdateSettings)

	mux.HandleFunc("GET /api/health", h.Health)
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// ListLists handles GET /api/lists
func (h *Handler) ListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.svc.Lists(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

// CreateListRequest is the body of POST /api/lists.
type CreateListRequest struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
	Undo bool   `json:"undo"`
}

// CreateList handles POST /api/lists
func (h *Handler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req CreateListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := h.svc.CreateList(r.Context(), todo.CreateListParams{Name: req.Name, Icon: req.Icon}, provenance(r, req.Undo))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// UpdateList handles PUT /api/lists/{id}
func (h *Handler) UpdateList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var params todo.UpdateListParams
	if !decodeJSON(w, r, &params) {
		return
	}
	list, err := h.svc.UpdateList(r.Context(), id, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteList handles DELETE /api/lists/{id}
func (h *Handler) DeleteList(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteList(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// ReorderListsRequest is the body of POST /api/lists/reorder.
type ReorderListsRequest struct {
	ListIDs []int64 `json:"list_ids"`
}

// ReorderLists handles POST /api/lists/reorder
func (h *Handler) ReorderLists(w http.ResponseWriter, r *http.Request) {
	var req ReorderListsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ReorderLists(r.Context(), req.ListIDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// ListHistory handles GET /api/lists/{id}/history?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed <= 0 {
			writeError(w, r, errs.Invalidf("invalid limit %q", s))
			return
		}
		limit = parsed
	}
	entries, err := h.svc.ListHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RestoreHistoryRequest is the body of POST /api/lists/{id}/history.
type RestoreHistoryRequest struct {
	Entries []todo.HistoryEntry `json:"entries"`
}

// RestoreHistoryResponse reports how many entries were written.
type RestoreHistoryResponse struct {
	Restored int `json:"restored"`
}

// RestoreHistory handles POST /api/lists/{id}/history
func (h *Handler) RestoreHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RestoreHistoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.RestoreHistory(r.Context(), id, req.Entries)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RestoreHistoryResponse{Restored: n})
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// ListItems handles GET /api/lists/{id}/items?include_completed=true
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	includeCompleted, _ := strconv.ParseBool(r.URL.Query().Get("include_completed"))
	items, err := h.svc.Items(r.Context(), id, includeCompleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateItemRequest is the body of POST /api/lists/{id}/items.
type CreateItemRequest struct {
	Text string `json:"text"`
	Undo bool   `json:"undo"`
}

// CreateItem handles POST /api/lists/{id}/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CreateItem(r.Context(), listID, req.Text, provenance(r, req.Undo))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// UpdateItemRequest is the body of PUT /api/items/{id}.
type UpdateItemRequest struct {
	todo.UpdateItemParams
	Undo bool `json:"undo"`
}

// UpdateItem handles PUT /api/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.UpdateItem(r.Context(), id, req.UpdateItemParams, provenance(r, req.Undo))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteItemRequest is the optional body of DELETE /api/items/{id}.
type DeleteItemRequest struct {
	Undo bool `json:"undo"`
}

// DeleteItem handles DELETE /api/items/{id}. Undo provenance comes from
// ?undo=true or an optional {"undo":true} body. The response carries the
// deleted item so callers can offer to recreate it.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req DeleteItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.DeleteItem(r.Context(), id, provenance(r, req.Undo))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReorderItemsRequest is the body of POST /api/lists/{id}/items/reorder.
type ReorderItemsRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

// ReorderItems handles POST /api/lists/{id}/items/reorder
func (h *Handler) ReorderItems(w http.ResponseWriter, r *http.Request) {
	listID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReorderItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ReorderItems(r.Context(), listID, req.ItemIDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// ---------------------------------------------------------------------------
// Settings and health
// ---------------------------------------------------------------------------

// GetSettings handles GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettingsRequest is the body of PUT /api/settings.
type UpdateSettingsRequest struct {
	ListSort string `json:"list_sort"`
}

// UpdateSettings handles PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.svc.UpdateSettings(r.Context(), req.ListSort)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Subscribers   int    `json:"subscribers"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Health handles GET /api/health. Clients use it as their reachability
// probe, so it touches the database but nothing else.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Settings(r.Context()); err != nil {
		writeError(w, r, errs.Wrap(errs.Unavailable, "database unavailable", err))
		return
	}
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.subs != nil {
		resp.Subscribers = h.subs.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse acknowledges mutations that have nothing else to return.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err onto a status code and a message safe to show clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(errs.CodeOf(err))
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("request_failed",
			"pkg", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: errs.MessageOf(err)})
}

// decodeJSON reads a bounded body into dst. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, errs.Invalidf("request body too large"))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		obs.From(r.Context()).Warn("bad_request_body",
			"pkg", "api",
			"path", r.URL.Path,
			"body", logutil.FormatBodyForLog(body, maxLoggedBody),
			"error", err,
		)
		writeError(w, r, errs.Invalidf("invalid JSON body"))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, errs.Invalidf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// provenance honors the undo flag from either the body or ?undo=true.
func provenance(r *http.Request, bodyUndo bool) todo.Provenance {
	queryUndo, _ := strconv.ParseBool(r.URL.Query().Get("undo"))
	return todo.ProvenanceFromUndo(bodyUndo || queryUndo)
}
