package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kuitang/tickr/internal/errs"
	"github.com/kuitang/tickr/internal/obs"
	"github.com/kuitang/tickr/internal/todo"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler implements MCP tool call handling.
type Handler struct {
	svc *todo.Service
}

// NewHandler creates a new MCP handler. svc may be nil, in which case every
// tool reports itself unavailable.
func NewHandler(svc *todo.Service) *Handler {
	return &Handler{svc: svc}
}

// toolErrorPayload is the JSON body of an IsError tool result.
type toolErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// createToolHandler returns a tool handler function for the given tool name.
// Failures become IsError results; only transport problems are returned as errors.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		if err != nil {
			level := obs.From(ctx).Info
			if errs.CodeOf(err) == errs.Internal {
				level = obs.From(ctx).Error
			}
			level("mcp_tool_failed", "pkg", "mcp", "tool", name, "code", string(errs.CodeOf(err)), "error", err)
			return newToolResultError(err), nil, nil
		}
		return result, nil, nil
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if !knownTool(name) {
		return nil, errs.NotFoundf("unknown tool: %s", name)
	}
	svc, err := h.requireService()
	if err != nil {
		return nil, err
	}

	switch name {
	case toolListLists:
		return handleListLists(ctx, svc)
	case toolListItems:
		return handleListItems(ctx, svc, arguments)
	case toolCreateList:
		return handleCreateList(ctx, svc, arguments)
	case toolCreateItem:
		return handleCreateItem(ctx, svc, arguments)
	case toolCompleteItem:
		return handleCompleteItem(ctx, svc, arguments)
	case toolEditItem:
		return handleEditItem(ctx, svc, arguments)
	case toolDeleteItem:
		return handleDeleteItem(ctx, svc, arguments)
	default:
		return handleListHistory(ctx, svc, arguments)
	}
}

func knownTool(name string) bool {
	for _, tool := range ToolDefinitions() {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func (h *Handler) requireService() (*todo.Service, error) {
	if h.svc == nil {
		return nil, errs.New(errs.FailedPrecondition, "todo tools are unavailable on this MCP endpoint")
	}
	return h.svc, nil
}

// decodeToolArgs converts loosely typed tool arguments into dst, rejecting
// unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid arguments: %v", err), err)
	}
	return nil
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultJSON renders value as the tool's text content.
func newToolResultJSON(value any) *mcp.CallToolResult {
	data := marshalAny(value)
	if data == nil {
		return newToolResultError(errs.New(errs.Internal, "failed to marshal response"))
	}
	return newToolResultText(string(data))
}

// newToolResultError creates a tool result indicating an error.
func newToolResultError(err error) *mcp.CallToolResult {
	payload := toolErrorPayload{
		Code:    string(errs.CodeOf(err)),
		Message: errs.MessageOf(err),
	}
	data := marshalAny(payload)
	if data == nil {
		data = []byte(`{"code":"internal","message":"internal error"}`)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
		IsError: true,
	}
}

// marshalAny returns indented JSON, or nil when value cannot be encoded.
func marshalAny(value any) []byte {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

func handleListLists(ctx context.Context, svc *todo.Service) (*mcp.CallToolResult, error) {
	lists, err := svc.Lists(ctx)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(lists), nil
}

type listItemsArgs struct {
	ListID           int64 `json:"list_id"`
	IncludeCompleted bool  `json:"include_completed"`
}

func handleListItems(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in listItemsArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("list_id", in.ListID); err != nil {
		return nil, err
	}
	items, err := svc.Items(ctx, in.ListID, in.IncludeCompleted)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(items), nil
}

type createListArgs struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

func handleCreateList(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in createListArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	list, err := svc.CreateList(ctx, todo.CreateListParams{Name: in.Name, Icon: in.Icon}, todo.UserInitiated)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(list), nil
}

type createItemArgs struct {
	ListID int64  `json:"list_id"`
	Text   string `json:"text"`
}

func handleCreateItem(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in createItemArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("list_id", in.ListID); err != nil {
		return nil, err
	}
	res, err := svc.CreateItem(ctx, in.ListID, in.Text, todo.UserInitiated)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(res), nil
}

type completeItemArgs struct {
	ID        int64 `json:"id"`
	Completed *bool `json:"completed,omitempty"`
}

func handleCompleteItem(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in completeItemArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("id", in.ID); err != nil {
		return nil, err
	}
	completed := true
	if in.Completed != nil {
		completed = *in.Completed
	}
	res, err := svc.UpdateItem(ctx, in.ID, todo.UpdateItemParams{Completed: &completed}, todo.UserInitiated)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(res), nil
}

type editItemArgs struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func handleEditItem(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in editItemArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("id", in.ID); err != nil {
		return nil, err
	}
	res, err := svc.UpdateItem(ctx, in.ID, todo.UpdateItemParams{Text: &in.Text}, todo.UserInitiated)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(res), nil
}

type deleteItemArgs struct {
	ID int64 `json:"id"`
}

func handleDeleteItem(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in deleteItemArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("id", in.ID); err != nil {
		return nil, err
	}
	res, err := svc.DeleteItem(ctx, in.ID, todo.UserInitiated)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(res), nil
}

type listHistoryArgs struct {
	ListID int64 `json:"list_id"`
	Limit  int   `json:"limit,omitempty"`
}

func handleListHistory(ctx context.Context, svc *todo.Service, args map[string]any) (*mcp.CallToolResult, error) {
	var in listHistoryArgs
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if err := requireID("list_id", in.ListID); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, errs.Invalidf("limit must be positive")
	}
	entries, err := svc.ListHistory(ctx, in.ListID, in.Limit)
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(entries), nil
}

func requireID(field string, id int64) error {
	if id <= 0 {
		return errs.Invalidf("%s is required", field)
	}
	return nil
}
