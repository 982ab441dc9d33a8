package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kuitang/tickr/internal/obs"
)

const (
	// DefaultDebounce coalesces bursts of change events into one refresh.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultProbeTimeout bounds the reachability check after a failed call.
	DefaultProbeTimeout = 3 * time.Second

	historyCaptureLimit = 1000
)

// ErrNoActiveList is returned by item operations when no list is selected.
var ErrNoActiveList = errors.New("client: no list selected")

// Renderer is the UI. Its methods may be called with the App's lock held and
// must not call back into the App.
type Renderer interface {
	RenderLists(lists []List, activeID int64)
	RenderItems(listID int64, items []Item)
	SetOffline(offline bool)
	// SetUndo shows (visible) or hides the undo offer.
	SetUndo(label string, visible bool)
}

// AppOption configures an App.
type AppOption func(*App)

// WithDebounce sets the refresh debounce delay.
func WithDebounce(d time.Duration) AppOption {
	return func(a *App) { a.debounce = d }
}

// WithProbeTimeout sets the reachability probe timeout.
func WithProbeTimeout(d time.Duration) AppOption {
	return func(a *App) { a.probeTimeout = d }
}

// WithUndoWindow sets how long undo offers stay open.
func WithUndoWindow(d time.Duration) AppOption {
	return func(a *App) { a.undoWindow = d }
}

// WithReconnectDelay sets the fixed stream reconnect delay.
func WithReconnectDelay(d time.Duration) AppOption {
	return func(a *App) { a.reconnect = d }
}

// WithIncludeCompleted makes item fetches include completed items.
func WithIncludeCompleted(include bool) AppOption {
	return func(a *App) { a.includeCompleted = include }
}

// App keeps a UI in step with the server. It renders cached state first,
// refreshes in the background, follows the sync stream and tracks whether
// the server is reachable.
type App struct {
	api   *Client
	cache *Cache
	r     Renderer

	debounce         time.Duration
	probeTimeout     time.Duration
	undoWindow       time.Duration
	reconnect        time.Duration
	includeCompleted bool

	undo     *UndoManager
	listsDeb *Debouncer
	itemsDeb *Debouncer

	mu          sync.Mutex
	baseCtx     context.Context
	lists       []List
	activeID    int64
	itemsGen    uint64
	itemsCancel context.CancelFunc
	probeSeq    uint64
	offline     bool
}

// NewApp creates an App. cache may be nil for a memory-only cache.
func NewApp(api *Client, cache *Cache, r Renderer, opts ...AppOption) *App {
	if cache == nil {
		cache = NewMemoryCache()
	}
	a := &App{
		api:          api,
		cache:        cache,
		r:            r,
		debounce:     DefaultDebounce,
		probeTimeout: DefaultProbeTimeout,
		undoWindow:   DefaultUndoWindow,
		reconnect:    DefaultReconnectDelay,
		baseCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.undo = NewUndoManager(a.undoWindow, r.SetUndo)
	a.listsDeb = NewDebouncer(a.debounce, func() {
		_ = a.FetchLists(a.ctx())
	})
	a.itemsDeb = NewDebouncer(a.debounce, func() {
		if id := a.ActiveList(); id != 0 {
			_ = a.fetchItems(a.ctx(), id, false)
		}
	})
	return a
}

func (a *App) ctx() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

// ActiveList returns the selected list id, zero when none.
func (a *App) ActiveList() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeID
}

// Lists returns the lists as last rendered.
func (a *App) Lists() []List {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]List(nil), a.lists...)
}

// Offline reports whether the last reachability probe failed.
func (a *App) Offline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offline
}

// Run follows the sync stream until ctx is cancelled. Every (re)connect
// forces a full refresh to cover events missed while disconnected.
func (a *App) Run(ctx context.Context) {
	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()

	stream := NewStream(a.api.BaseURL(), a.reconnect)
	stream.Run(ctx, StreamHandlers{
		OnConnect: func() {
			obs.From(ctx).Debug("stream_connected", "pkg", "client")
			_ = a.forceRefresh(ctx)
		},
		OnEvent: a.HandleEvent,
	})
}

// Close cancels timers and any in-flight items fetch. Pending undo offers
// are dropped, which finalizes them.
func (a *App) Close() {
	a.listsDeb.Stop()
	a.itemsDeb.Stop()
	a.undo.Stop()
	a.mu.Lock()
	if a.itemsCancel != nil {
		a.itemsCancel()
	}
	a.mu.Unlock()
}

// Foreground is called when the UI becomes visible again.
func (a *App) Foreground(ctx context.Context) error {
	return a.forceRefresh(ctx)
}

func (a *App) forceRefresh(ctx context.Context) error {
	a.listsDeb.Cancel()
	a.itemsDeb.Cancel()
	return a.Refresh(ctx)
}

// Refresh reloads the lists and the active list's items.
func (a *App) Refresh(ctx context.Context) error {
	selected, err := a.fetchLists(ctx)
	if err != nil {
		return err
	}
	if id := a.ActiveList(); id != 0 && !selected {
		return a.fetchItems(ctx, id, false)
	}
	return nil
}

// HandleEvent schedules the refreshes an event calls for.
func (a *App) HandleEvent(ev Event) {
	switch ev.Type {
	case EventListsChanged:
		a.listsDeb.Trigger()
	case EventItemsChanged:
		// Counts live on the lists.
		a.listsDeb.Trigger()
		if ev.ListID != 0 && ev.ListID == a.ActiveList() {
			a.itemsDeb.Trigger()
		}
	}
}

// FetchLists renders cached lists, then replaces them with the server's.
func (a *App) FetchLists(ctx context.Context) error {
	_, err := a.fetchLists(ctx)
	return err
}

// fetchLists reports whether reconciliation selected a different list.
func (a *App) fetchLists(ctx context.Context) (bool, error) {
	if cached, _, ok := a.cache.Lists(); ok {
		a.mu.Lock()
		if a.lists == nil {
			a.lists = cached
			if a.activeID == 0 && len(cached) > 0 {
				a.activeID = cached[0].ID
			}
			a.r.RenderLists(cached, a.activeID)
			if items, _, ok := a.cache.Items(a.activeID); ok {
				a.r.RenderItems(a.activeID, items)
			}
		}
		a.mu.Unlock()
	}

	lists, err := a.api.Lists(ctx)
	if err != nil {
		return false, a.failed(ctx, err)
	}
	a.succeeded()
	if err := a.cache.PutLists(lists, time.Now()); err != nil {
		obs.From(ctx).Warn("cache_write_failed", "pkg", "client", "error", err)
	}

	if lists == nil {
		lists = []List{}
	}
	a.mu.Lock()
	prev := a.activeID
	next := reconcileActive(lists, prev)
	a.lists = lists
	a.activeID = next
	a.r.RenderLists(lists, next)
	if next == 0 && prev != 0 {
		a.r.RenderItems(0, nil)
	}
	a.mu.Unlock()

	if prev != next && prev != 0 {
		obs.From(ctx).Info("active_list_gone", "pkg", "client", "list_id", prev, "selected", next)
		if err := a.cache.DropItems(prev); err != nil {
			obs.From(ctx).Warn("cache_write_failed", "pkg", "client", "error", err)
		}
	}
	if next != prev && next != 0 {
		return true, a.SelectList(ctx, next)
	}
	return false, nil
}

// reconcileActive keeps prev when it still exists, else picks the first list.
func reconcileActive(lists []List, prev int64) int64 {
	for _, l := range lists {
		if l.ID == prev {
			return prev
		}
	}
	if len(lists) > 0 {
		return lists[0].ID
	}
	return 0
}

// SelectList makes id active, renders its cached items, then fetches fresh
// ones. A fetch still running for a previous selection is cancelled and its
// result is never rendered.
func (a *App) SelectList(ctx context.Context, id int64) error {
	return a.fetchItems(ctx, id, true)
}

func (a *App) fetchItems(ctx context.Context, id int64, selecting bool) error {
	a.mu.Lock()
	if a.itemsCancel != nil {
		a.itemsCancel()
	}
	a.itemsGen++
	gen := a.itemsGen
	fctx, cancel := context.WithCancel(ctx)
	a.itemsCancel = cancel
	if selecting {
		a.activeID = id
		a.r.RenderLists(a.lists, id)
		if cached, _, ok := a.cache.Items(id); ok {
			a.r.RenderItems(id, cached)
		}
	}
	a.mu.Unlock()
	defer cancel()

	items, err := a.api.Items(fctx, id, a.includeCompleted)
	if !a.current(gen) {
		return nil
	}
	if err != nil {
		if IsNotFound(err) {
			// Deleted on another device.
			a.succeeded()
			return a.FetchLists(ctx)
		}
		return a.failed(ctx, err)
	}
	a.succeeded()
	if err := a.cache.PutItems(id, items, time.Now()); err != nil {
		obs.From(ctx).Warn("cache_write_failed", "pkg", "client", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.itemsGen {
		return nil
	}
	if items == nil {
		items = []Item{}
	}
	a.r.RenderItems(id, items)
	return nil
}

func (a *App) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen == a.itemsGen
}

// failed applies the offline policy: a transient failure triggers a
// reachability probe and only a failed probe marks the app offline.
func (a *App) failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if !IsTransient(err) {
		// The server answered.
		a.succeeded()
		return err
	}
	a.probe(ctx)
	return err
}

func (a *App) probe(ctx context.Context) {
	a.mu.Lock()
	a.probeSeq++
	seq := a.probeSeq
	a.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	_, err := a.api.Health(pctx)
	cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	if seq != a.probeSeq {
		// A newer probe or a successful call already decided.
		return
	}
	offline := err != nil
	if offline != a.offline {
		a.offline = offline
		obs.From(ctx).Info("reachability_changed", "pkg", "client", "offline", offline)
		a.r.SetOffline(offline)
	}
}

func (a *App) succeeded() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probeSeq++
	if a.offline {
		a.offline = false
		a.r.SetOffline(false)
	}
}

// settle maps a mutation's error: a vanished target counts as done and
// triggers a refresh.
func (a *App) settle(ctx context.Context, err error) error {
	if err == nil {
		a.succeeded()
		return nil
	}
	if IsNotFound(err) {
		a.succeeded()
		obs.From(ctx).Info("mutation_target_gone", "pkg", "client", "error", err)
		_ = a.Refresh(ctx)
		return nil
	}
	return a.failed(ctx, err)
}

// applyCounts updates one list's counts in place and re-renders the lists.
func (a *App) applyCounts(ctx context.Context, c Counts) {
	a.mu.Lock()
	for i := range a.lists {
		if a.lists[i].ID == c.ListID {
			a.lists[i].TotalItems = c.TotalItems
			a.lists[i].CompletedItems = c.CompletedItems
		}
	}
	lists := append([]List(nil), a.lists...)
	a.r.RenderLists(lists, a.activeID)
	a.mu.Unlock()

	if err := a.cache.PutLists(lists, time.Now()); err != nil {
		obs.From(ctx).Warn("cache_write_failed", "pkg", "client", "error", err)
	}
}

func (a *App) afterItemChange(ctx context.Context, res *ItemResult) {
	a.applyCounts(ctx, res.Counts)
	if res.Item.ListID == a.ActiveList() {
		_ = a.fetchItems(ctx, res.Item.ListID, false)
	}
}

// CreateList creates and selects a list.
func (a *App) CreateList(ctx context.Context, name, icon string) (*List, error) {
	l, err := a.api.CreateList(ctx, name, icon, false)
	if err != nil {
		return nil, a.failed(ctx, err)
	}
	a.succeeded()
	a.mu.Lock()
	a.activeID = l.ID
	a.mu.Unlock()
	if err := a.Refresh(ctx); err != nil {
		return l, err
	}
	return l, nil
}

// RenameList changes a list's name.
func (a *App) RenameList(ctx context.Context, id int64, name string) error {
	_, err := a.api.UpdateList(ctx, id, ListUpdate{Name: &name})
	if err := a.settle(ctx, err); err != nil {
		return err
	}
	return a.FetchLists(ctx)
}

// SetItemSort changes how a list orders its items.
func (a *App) SetItemSort(ctx context.Context, id int64, itemSort string) error {
	_, err := a.api.UpdateList(ctx, id, ListUpdate{ItemSort: &itemSort})
	if err := a.settle(ctx, err); err != nil {
		return err
	}
	if id == a.ActiveList() {
		return a.fetchItems(ctx, id, false)
	}
	return nil
}

// AddItem adds an item to the active list.
func (a *App) AddItem(ctx context.Context, text string) (*Item, error) {
	listID := a.ActiveList()
	if listID == 0 {
		return nil, ErrNoActiveList
	}
	res, err := a.api.CreateItem(ctx, listID, text, false)
	if err != nil {
		return nil, a.settle(ctx, err)
	}
	a.succeeded()
	a.afterItemChange(ctx, res)
	return &res.Item, nil
}

// EditItem replaces an item's text.
func (a *App) EditItem(ctx context.Context, id int64, text string) error {
	res, err := a.api.UpdateItem(ctx, id, ItemUpdate{Text: &text}, false)
	if err != nil {
		return a.settle(ctx, err)
	}
	a.succeeded()
	a.afterItemChange(ctx, res)
	return nil
}

// SetCompleted marks an item done or active. Completing offers an undo.
func (a *App) SetCompleted(ctx context.Context, id int64, completed bool) error {
	res, err := a.api.UpdateItem(ctx, id, ItemUpdate{Completed: &completed}, false)
	if err != nil {
		return a.settle(ctx, err)
	}
	a.succeeded()
	a.afterItemChange(ctx, res)

	if completed {
		item := res.Item
		a.undo.Offer(fmt.Sprintf("Completed %q", item.Text), func(ctx context.Context) error {
			no := false
			res, err := a.api.UpdateItem(ctx, item.ID, ItemUpdate{Completed: &no}, true)
			if err != nil {
				return a.settle(ctx, err)
			}
			a.succeeded()
			a.afterItemChange(ctx, res)
			return nil
		})
	}
	return nil
}

// DeleteItem removes an item and offers to recreate it.
func (a *App) DeleteItem(ctx context.Context, id int64) error {
	res, err := a.api.DeleteItem(ctx, id, false)
	if err != nil {
		return a.settle(ctx, err)
	}
	a.succeeded()
	a.afterItemChange(ctx, res)

	item := res.Item
	a.undo.Offer(fmt.Sprintf("Deleted %q", item.Text), func(ctx context.Context) error {
		return a.recreateItem(ctx, item.ListID, item)
	})
	return nil
}

// recreateItem replays an item into listID as a new item, tagged undo.
func (a *App) recreateItem(ctx context.Context, listID int64, item Item) error {
	res, err := a.api.CreateItem(ctx, listID, item.Text, true)
	if err != nil {
		return a.settle(ctx, err)
	}
	if item.Completed {
		yes := true
		if res, err = a.api.UpdateItem(ctx, res.Item.ID, ItemUpdate{Completed: &yes}, true); err != nil {
			return a.settle(ctx, err)
		}
	}
	a.succeeded()
	a.afterItemChange(ctx, res)
	return nil
}

type listSnapshot struct {
	list    List
	items   []Item
	history []HistoryEntry
}

// DeleteList deletes a list after capturing what undo needs to rebuild it:
// its settings, every item and its history.
func (a *App) DeleteList(ctx context.Context, id int64) error {
	snap, err := a.snapshotList(ctx, id)
	if err != nil {
		return a.settle(ctx, err)
	}
	if err := a.settle(ctx, a.api.DeleteList(ctx, id)); err != nil {
		return err
	}
	if err := a.FetchLists(ctx); err != nil {
		return err
	}

	a.undo.Offer(fmt.Sprintf("Deleted list %q", snap.list.Name), func(ctx context.Context) error {
		return a.restoreList(ctx, snap)
	})
	return nil
}

func (a *App) snapshotList(ctx context.Context, id int64) (*listSnapshot, error) {
	var list *List
	for _, l := range a.Lists() {
		if l.ID == id {
			list = &l
			break
		}
	}
	if list == nil {
		lists, err := a.api.Lists(ctx)
		if err != nil {
			return nil, err
		}
		for _, l := range lists {
			if l.ID == id {
				list = &l
				break
			}
		}
		if list == nil {
			return nil, &APIError{Status: http.StatusNotFound, Message: "list not found"}
		}
	}
	items, err := a.api.Items(ctx, id, true)
	if err != nil {
		return nil, err
	}
	history, err := a.api.History(ctx, id, historyCaptureLimit)
	if err != nil {
		return nil, err
	}
	return &listSnapshot{list: *list, items: items, history: history}, nil
}

// restoreList rebuilds a deleted list under a new id.
func (a *App) restoreList(ctx context.Context, snap *listSnapshot) error {
	nl, err := a.api.CreateList(ctx, snap.list.Name, snap.list.Icon, true)
	if err != nil {
		return a.failed(ctx, err)
	}
	if snap.list.ItemSort != "" && snap.list.ItemSort != nl.ItemSort {
		itemSort := snap.list.ItemSort
		if _, err := a.api.UpdateList(ctx, nl.ID, ListUpdate{ItemSort: &itemSort}); err != nil {
			return a.failed(ctx, err)
		}
	}

	items := append([]Item(nil), snap.items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	for _, item := range items {
		res, err := a.api.CreateItem(ctx, nl.ID, item.Text, true)
		if err != nil {
			return a.failed(ctx, err)
		}
		if item.Completed {
			yes := true
			if _, err := a.api.UpdateItem(ctx, res.Item.ID, ItemUpdate{Completed: &yes}, true); err != nil {
				return a.failed(ctx, err)
			}
		}
	}
	if len(snap.history) > 0 {
		if _, err := a.api.RestoreHistory(ctx, nl.ID, snap.history); err != nil {
			return a.failed(ctx, err)
		}
	}
	a.succeeded()

	a.mu.Lock()
	a.activeID = nl.ID
	a.mu.Unlock()
	return a.Refresh(ctx)
}

// Undo replays the visible undo offer.
func (a *App) Undo(ctx context.Context) error {
	return a.undo.Undo(ctx)
}
