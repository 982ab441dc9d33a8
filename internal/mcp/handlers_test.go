package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/tickr/internal/errs"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/testdb"
	"github.com/kuitang/tickr/internal/todo"
)

func toolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "unexpected content type: %T", result.Content[0])
	return text.Text
}

func parseToolErrorPayload(t *testing.T, result *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	require.True(t, result.IsError)
	var payload toolErrorPayload
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &payload))
	return payload
}

func newTestHandler(t *testing.T) (*Handler, *todo.Service, *notify.Notifier) {
	t.Helper()
	n := notify.New(64)
	t.Cleanup(n.Close)
	svc := todo.NewService(testdb.New(t), n)
	return NewHandler(svc), svc, n
}

func callTool[T any](t *testing.T, h *Handler, name string, args map[string]any) T {
	t.Helper()
	result, err := h.HandleToolCall(context.Background(), name, args)
	require.NoError(t, err)
	require.False(t, result.IsError)
	var out T
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	return out
}

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	extra := rapid.StringMatching(`[a-z]{3,12}`).Filter(func(s string) bool { return s != "id" }).Draw(t, "extra")
	var decoded struct {
		ID int64 `json:"id"`
	}
	err := decodeToolArgs(map[string]any{"id": 1, extra: "unexpected"}, &decoded)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code: got=%q want=%q", got, errs.InvalidArgument)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func TestDecodeToolArgs_NilMapBehavesAsEmptyObject(t *testing.T) {
	t.Parallel()
	var decoded listHistoryArgs
	require.NoError(t, decodeToolArgs(nil, &decoded))
	require.Zero(t, decoded.ListID)
}

func TestDecodeToolArgs_WrongTypeIsInvalidArgument(t *testing.T) {
	t.Parallel()
	var decoded createItemArgs
	err := decodeToolArgs(map[string]any{"list_id": "seven", "text": "x"}, &decoded)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestMarshalAny_UnsupportedValueReturnsNil(t *testing.T) {
	t.Parallel()
	require.Nil(t, marshalAny(make(chan int)))
	require.JSONEq(t, `{"a":1}`, string(marshalAny(map[string]int{"a": 1})))
}

func testNewToolResultError_CarriesCodeAndMessage(t *rapid.T) {
	code := rapid.SampledFrom([]errs.Code{
		errs.InvalidArgument,
		errs.NotFound,
		errs.FailedPrecondition,
		errs.Unavailable,
	}).Draw(t, "code")
	msg := rapid.StringMatching(`[a-z ]{1,40}`).Draw(t, "msg")

	result := newToolResultError(errs.New(code, msg))
	if !result.IsError {
		t.Fatal("expected IsError result")
	}
	var payload toolErrorPayload
	text := result.Content[0].(*mcp.TextContent).Text
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("invalid payload %q: %v", text, err)
	}
	if payload.Code != string(code) || payload.Message != msg {
		t.Fatalf("payload = %+v, want code=%q message=%q", payload, code, msg)
	}
}

func TestNewToolResultError_CarriesCodeAndMessage(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testNewToolResultError_CarriesCodeAndMessage)
}

func TestNewToolResultError_HidesUntypedErrors(t *testing.T) {
	t.Parallel()
	result := newToolResultError(errors.New("disk on fire at /var/lib"))
	payload := parseToolErrorPayload(t, result)
	require.Equal(t, string(errs.Internal), payload.Code)
	require.Equal(t, "internal error", payload.Message)
}

func TestHandleToolCall_UnknownTool(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	_, err := h.HandleToolCall(context.Background(), "drop_tables", nil)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestHandleToolCall_NoServiceIsFailedPrecondition(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	for _, tool := range ToolDefinitions() {
		_, err := h.HandleToolCall(context.Background(), tool.Name, nil)
		require.Equal(t, errs.FailedPrecondition, errs.CodeOf(err), tool.Name)
	}
}

func TestCreateToolHandler_ErrorsBecomeToolResults(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	fn := h.createToolHandler(toolCreateItem)

	result, _, err := fn(context.Background(), nil, map[string]any{"list_id": 999, "text": "milk"})
	require.NoError(t, err)
	payload := parseToolErrorPayload(t, result)
	require.Equal(t, string(errs.NotFound), payload.Code)

	result, _, err = fn(context.Background(), nil, map[string]any{"text": "milk"})
	require.NoError(t, err)
	payload = parseToolErrorPayload(t, result)
	require.Equal(t, string(errs.InvalidArgument), payload.Code)
	require.Contains(t, payload.Message, "list_id")
}

func TestTools_ItemLifecycle(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)

	list := callTool[todo.List](t, h, toolCreateList, map[string]any{"name": "Groceries", "icon": "cart"})
	require.Equal(t, "Groceries", list.Name)
	require.Equal(t, "cart", list.Icon)

	created := callTool[todo.ItemResult](t, h, toolCreateItem, map[string]any{"list_id": list.ID, "text": "milk"})
	require.Equal(t, "milk", created.Item.Text)
	require.EqualValues(t, 1, created.Counts.TotalItems)

	done := callTool[todo.ItemResult](t, h, toolCompleteItem, map[string]any{"id": created.Item.ID})
	require.True(t, done.Item.Completed)
	require.EqualValues(t, 1, done.Counts.CompletedItems)

	active := callTool[[]todo.Item](t, h, toolListItems, map[string]any{"list_id": list.ID})
	require.Empty(t, active)
	all := callTool[[]todo.Item](t, h, toolListItems, map[string]any{"list_id": list.ID, "include_completed": true})
	require.Len(t, all, 1)

	undone := callTool[todo.ItemResult](t, h, toolCompleteItem, map[string]any{"id": created.Item.ID, "completed": false})
	require.False(t, undone.Item.Completed)

	edited := callTool[todo.ItemResult](t, h, toolEditItem, map[string]any{"id": created.Item.ID, "text": "oat milk"})
	require.Equal(t, "oat milk", edited.Item.Text)

	deleted := callTool[todo.ItemResult](t, h, toolDeleteItem, map[string]any{"id": created.Item.ID})
	require.Equal(t, created.Item.ID, deleted.Item.ID)
	require.EqualValues(t, 0, deleted.Counts.TotalItems)

	history := callTool[[]todo.HistoryEntry](t, h, toolListHistory, map[string]any{"list_id": list.ID})
	actions := make([]todo.Action, 0, len(history))
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []todo.Action{
		todo.ActionListCreated,
		todo.ActionItemCreated,
		todo.ActionItemCompleted,
		todo.ActionItemUncompleted,
		todo.ActionItemEdited,
		todo.ActionItemDeleted,
	}, actions)

	limited := callTool[[]todo.HistoryEntry](t, h, toolListHistory, map[string]any{"list_id": list.ID, "limit": 2})
	require.Len(t, limited, 2)
	require.Equal(t, todo.ActionItemDeleted, limited[1].Action)

	lists := callTool[[]todo.List](t, h, toolListLists, nil)
	require.Len(t, lists, 1)
}

func TestTools_MutationsPublishToSubscribers(t *testing.T) {
	t.Parallel()
	h, svc, n := newTestHandler(t)
	list, err := svc.CreateList(context.Background(), todo.CreateListParams{Name: "Work"}, todo.UserInitiated)
	require.NoError(t, err)

	sub := n.Subscribe()
	defer n.Unsubscribe(sub)

	callTool[todo.ItemResult](t, h, toolCreateItem, map[string]any{"list_id": list.ID, "text": "ship it"})

	require.Equal(t, notify.Items(list.ID), <-sub.Events())
}

func TestListHistory_NegativeLimitRejected(t *testing.T) {
	t.Parallel()
	h, _, _ := newTestHandler(t)
	_, err := h.HandleToolCall(context.Background(), toolListHistory, map[string]any{"list_id": 1, "limit": -1})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}
