package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/testdb"
	"github.com/kuitang/tickr/internal/todo"
)

type testAPI struct {
	srv      *httptest.Server
	notifier *notify.Notifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	n := notify.New(64)
	svc := todo.NewService(testdb.New(t), n)
	mux := http.NewServeMux()
	NewHandler(svc, n).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		n.Close()
	})
	return &testAPI{srv: srv, notifier: n}
}

// do sends body (marshaled unless it is already a string) and decodes the
// response into out when out is non-nil.
func (a *testAPI) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

func (a *testAPI) createList(t *testing.T, name string) todo.List {
	t.Helper()
	var l todo.List
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/lists", map[string]any{"name": name}, &l))
	return l
}

func (a *testAPI) createItem(t *testing.T, listID int64, text string, undo bool) todo.ItemResult {
	t.Helper()
	var res todo.ItemResult
	path := fmt.Sprintf("/api/lists/%d/items", listID)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, path, map[string]any{"text": text, "undo": undo}, &res))
	return res
}

func (a *testAPI) history(t *testing.T, listID int64) []todo.HistoryEntry {
	t.Helper()
	var entries []todo.HistoryEntry
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/history", listID), nil, &entries))
	return entries
}

func TestLists_CreateAndList(t *testing.T) {
	a := newTestAPI(t)

	created := a.createList(t, "Groceries")
	require.Equal(t, "Groceries", created.Name)
	require.Equal(t, todo.DefaultIcon, created.Icon)

	var lists []todo.List
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/lists", nil, &lists))
	require.Len(t, lists, 1)
	require.Equal(t, created.ID, lists[0].ID)
	require.Zero(t, lists[0].TotalItems)
}

func TestLists_EmptyCollectionIsArray(t *testing.T) {
	a := newTestAPI(t)
	var raw json.RawMessage
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/lists", nil, &raw))
	require.JSONEq(t, `[]`, string(raw))
}

func TestLists_ValidationErrors(t *testing.T) {
	a := newTestAPI(t)

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/lists", map[string]any{"name": "   "}, &e))
	require.NotEmpty(t, e.Error)

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/lists", `{"name":`, &e))
	require.Equal(t, "invalid JSON body", e.Error)

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/lists/abc", map[string]any{"name": "x"}, &e))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodPut, "/api/lists/999", map[string]any{"name": "x"}, &e))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/api/lists/999", nil, &e))
}

func TestLists_Reorder(t *testing.T) {
	a := newTestAPI(t)
	l1 := a.createList(t, "one")
	l2 := a.createList(t, "two")
	l3 := a.createList(t, "three")

	var s todo.Settings
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/settings", map[string]any{"list_sort": "custom"}, &s))
	require.Equal(t, todo.SortCustom, s.ListSort)

	var ok SuccessResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/lists/reorder",
		map[string]any{"list_ids": []int64{l3.ID, l1.ID, l2.ID}}, &ok))
	require.True(t, ok.Success)

	var lists []todo.List
	a.do(t, http.MethodGet, "/api/lists", nil, &lists)
	require.Equal(t, []int64{l3.ID, l1.ID, l2.ID}, []int64{lists[0].ID, lists[1].ID, lists[2].ID})

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/lists/reorder",
		map[string]any{"list_ids": []int64{l1.ID, l2.ID}}, &e))
}

func TestLists_UpdatePartial(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Chores")

	var updated todo.List
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, fmt.Sprintf("/api/lists/%d", l.ID),
		map[string]any{"item_sort": "created_desc"}, &updated))
	require.Equal(t, "Chores", updated.Name)
	require.Equal(t, todo.SortCreatedDesc, updated.ItemSort)

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, fmt.Sprintf("/api/lists/%d", l.ID),
		map[string]any{"item_sort": "sideways"}, &e))
}

func TestItems_CompleteRecordsHistoryAndCounts(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Groceries")
	milk := a.createItem(t, l.ID, "Milk", false)
	require.Equal(t, int64(1), milk.Counts.TotalItems)

	var res todo.ItemResult
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, fmt.Sprintf("/api/items/%d", milk.Item.ID),
		map[string]any{"completed": true}, &res))
	require.True(t, res.Item.Completed)
	require.NotNil(t, res.Item.CompletedAt)
	require.Equal(t, todo.Counts{ListID: l.ID, TotalItems: 1, CompletedItems: 1}, res.Counts)

	entries := a.history(t, l.ID)
	var itemActions []todo.Action
	for _, e := range entries {
		if e.ItemID != nil {
			itemActions = append(itemActions, e.Action)
		}
	}
	require.Equal(t, []todo.Action{todo.ActionItemCreated, todo.ActionItemCompleted}, itemActions)

	var active []todo.Item
	a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/items", l.ID), nil, &active)
	require.Empty(t, active)

	var all []todo.Item
	a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/items?include_completed=true", l.ID), nil, &all)
	require.Len(t, all, 1)
}

func TestItems_DeleteThenUndoRecreate(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Groceries")
	milk := a.createItem(t, l.ID, "Milk", false)

	var res todo.ItemResult
	a.do(t, http.MethodPut, fmt.Sprintf("/api/items/%d", milk.Item.ID), map[string]any{"completed": true}, &res)

	var deleted todo.ItemResult
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", milk.Item.ID), nil, &deleted))
	require.Equal(t, "Milk", deleted.Item.Text)
	require.Zero(t, deleted.Counts.TotalItems)

	recreated := a.createItem(t, l.ID, "Milk", true)
	require.NotEqual(t, milk.Item.ID, recreated.Item.ID)

	entries := a.history(t, l.ID)
	var item []todo.HistoryEntry
	for _, e := range entries {
		if e.Action != todo.ActionListCreated {
			item = append(item, e)
		}
	}
	require.Len(t, item, 4)
	require.Equal(t, todo.ActionItemCreated, item[3].Action)
	require.True(t, item[3].Undo)
	require.False(t, item[0].Undo)
}

func TestItems_DeleteUndoQueryParam(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Groceries")
	bread := a.createItem(t, l.ID, "Bread", true)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d?undo=true", bread.Item.ID), nil, nil))

	entries := a.history(t, l.ID)
	last := entries[len(entries)-1]
	require.Equal(t, todo.ActionItemDeleted, last.Action)
	require.True(t, last.Undo)

	var e ErrorResponse
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", bread.Item.ID), nil, &e))
}

func TestItems_DeleteUndoBody(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Groceries")
	eggs := a.createItem(t, l.ID, "Eggs", false)
	milk := a.createItem(t, l.ID, "Milk", false)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", eggs.Item.ID), map[string]any{"undo": true}, nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", milk.Item.ID), map[string]any{"undo": false}, nil))

	entries := a.history(t, l.ID)
	var deleted []todo.HistoryEntry
	for _, e := range entries {
		if e.Action == todo.ActionItemDeleted {
			deleted = append(deleted, e)
		}
	}
	require.Len(t, deleted, 2)
	require.Equal(t, "Eggs", deleted[0].ItemText)
	require.True(t, deleted[0].Undo)
	require.Equal(t, "Milk", deleted[1].ItemText)
	require.False(t, deleted[1].Undo)

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", milk.Item.ID), "{not json", &e))
}

func TestItems_UnknownListAndBlankText(t *testing.T) {
	a := newTestAPI(t)
	var e ErrorResponse
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/lists/42/items", nil, &e))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/lists/42/items", map[string]any{"text": "x"}, &e))

	l := a.createList(t, "L")
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, fmt.Sprintf("/api/lists/%d/items", l.ID), map[string]any{"text": " \t"}, &e))
}

func TestItems_Reorder(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "L")
	x := a.createItem(t, l.ID, "x", false)
	y := a.createItem(t, l.ID, "y", false)

	a.do(t, http.MethodPut, fmt.Sprintf("/api/lists/%d", l.ID), map[string]any{"item_sort": "custom"}, nil)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, fmt.Sprintf("/api/lists/%d/items/reorder", l.ID),
		map[string]any{"item_ids": []int64{y.Item.ID, x.Item.ID}}, nil))

	var items []todo.Item
	a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/items", l.ID), nil, &items)
	require.Equal(t, []string{"y", "x"}, []string{items[0].Text, items[1].Text})
}

func TestHistory_SurvivesListDeleteAndRestores(t *testing.T) {
	a := newTestAPI(t)
	l := a.createList(t, "Old")
	a.createItem(t, l.ID, "thing", false)
	before := a.history(t, l.ID)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, fmt.Sprintf("/api/lists/%d", l.ID), nil, nil))
	require.Len(t, a.history(t, l.ID), len(before))

	var e ErrorResponse
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, fmt.Sprintf("/api/lists/%d/history", l.ID),
		map[string]any{"entries": before}, &e))

	restored := a.createList(t, "Old")
	var resp RestoreHistoryResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, fmt.Sprintf("/api/lists/%d/history", restored.ID),
		map[string]any{"entries": before}, &resp))
	require.Equal(t, len(before), resp.Restored)

	var limited []todo.HistoryEntry
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/history?limit=1", restored.ID), nil, &limited))
	require.Len(t, limited, 1)
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, fmt.Sprintf("/api/lists/%d/history?limit=zero", restored.ID), nil, &e))
}

func TestSettings_GetAndValidate(t *testing.T) {
	a := newTestAPI(t)
	var s todo.Settings
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/settings", nil, &s))
	require.Equal(t, todo.SortAlphabetical, s.ListSort)

	var e ErrorResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/settings", map[string]any{"list_sort": "random"}, &e))
}

func TestMutations_BroadcastToSubscribers(t *testing.T) {
	a := newTestAPI(t)
	sub := a.notifier.Subscribe()
	defer a.notifier.Unsubscribe(sub)

	l := a.createList(t, "L")
	a.createItem(t, l.ID, "x", false)

	want := []notify.Event{notify.Lists(), notify.Items(l.ID)}
	for _, ev := range want {
		select {
		case got := <-sub.Events():
			require.Equal(t, ev, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %+v", ev)
		}
	}
}

func TestHealth_ReportsSubscribers(t *testing.T) {
	a := newTestAPI(t)
	sub := a.notifier.Subscribe()
	defer a.notifier.Unsubscribe(sub)

	var h HealthResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/health", nil, &h))
	require.Equal(t, "ok", h.Status)
	require.Equal(t, 1, h.Subscribers)
}

func TestHealth_UnavailableWhenDatabaseIsClosed(t *testing.T) {
	d := testdb.New(t)
	mux := http.NewServeMux()
	NewHandler(todo.NewService(d, nil), nil).RegisterRoutes(mux)
	require.NoError(t, d.Close())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"database unavailable"}`, rec.Body.String())
}
