package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/tickr/internal/db"
	"github.com/kuitang/tickr/internal/errs"
	"github.com/kuitang/tickr/internal/logutil"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/obs"
)

const listSortKey = "list_sort"

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service owns every list, item, history and settings mutation. Each mutation
// runs in one transaction and publishes its change events after commit.
type Service struct {
	db  *db.DB
	pub notify.Publisher
	now func() time.Time

	// mu serializes writers so the counts read back inside a mutation reflect
	// exactly that mutation.
	mu sync.Mutex
}

type nopPublisher struct{}

func (nopPublisher) Publish(notify.Event) {}

// NewService creates a service over d that announces changes on pub.
func NewService(d *db.DB, pub notify.Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	s := &Service{
		db:  d,
		pub: pub,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) mutate(ctx context.Context, fn func(q *db.Queries) ([]notify.Event, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []notify.Event
	err := s.db.WithTx(ctx, func(q *db.Queries) error {
		evs, err := fn(q)
		events = evs
		return err
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.pub.Publish(ev)
	}
	return nil
}

func (s *Service) stamp() int64 {
	return unixMilli(s.now())
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// Lists returns every list ordered by the list_sort setting.
func (s *Service) Lists(ctx context.Context) ([]List, error) {
	q := s.db.Queries()
	settings, err := readSettings(ctx, q)
	if err != nil {
		return nil, err
	}
	rows, err := q.ListLists(ctx, string(settings.ListSort))
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	out := make([]List, 0, len(rows))
	for _, row := range rows {
		out = append(out, listFromRow(row))
	}
	return out, nil
}

// GetList returns one list with its counts.
func (s *Service) GetList(ctx context.Context, id int64) (*List, error) {
	row, err := getList(ctx, s.db.Queries(), id)
	if err != nil {
		return nil, err
	}
	l := listFromRow(row)
	return &l, nil
}

// CreateList appends a new list after all existing ones and records list_created.
func (s *Service) CreateList(ctx context.Context, params CreateListParams, prov Provenance) (*List, error) {
	name, err := validateText("name", params.Name)
	if err != nil {
		return nil, err
	}
	icon, err := validateIcon(params.Icon)
	if err != nil {
		return nil, err
	}

	var created List
	err = s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		row, err := insertList(ctx, q, name, icon, s.stamp(), prov)
		if err != nil {
			return nil, err
		}
		created = listFromRow(row)
		return []notify.Event{notify.Lists()}, nil
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).Info("list_created",
		"pkg", "todo",
		"list_id", created.ID,
		"provenance", prov.String(),
	)
	return &created, nil
}

func insertList(ctx context.Context, q *db.Queries, name, icon string, now int64, prov Provenance) (db.ListRow, error) {
	order, err := q.NextListSortOrder(ctx)
	if err != nil {
		return db.ListRow{}, fmt.Errorf("failed to compute sort order: %w", err)
	}
	id, err := q.InsertList(ctx, db.InsertListParams{
		Name:      name,
		Icon:      icon,
		ItemSort:  string(SortAlphabetical),
		SortOrder: order,
		CreatedAt: now,
	})
	if err != nil {
		return db.ListRow{}, fmt.Errorf("failed to create list: %w", err)
	}
	if _, err := q.InsertHistory(ctx, db.InsertHistoryParams{
		ListID:     id,
		Action:     string(ActionListCreated),
		ItemText:   name,
		Provenance: prov.String(),
		Timestamp:  now,
	}); err != nil {
		return db.ListRow{}, fmt.Errorf("failed to record history: %w", err)
	}
	return q.GetList(ctx, id)
}

// UpdateList applies a partial update. Changing item_sort announces
// items_changed for the list; changing name or icon announces lists_changed.
func (s *Service) UpdateList(ctx context.Context, id int64, params UpdateListParams) (*List, error) {
	if params.Name == nil && params.Icon == nil && params.ItemSort == nil {
		return nil, errs.Invalidf("at least one of name, icon or item_sort is required")
	}
	var (
		name, icon string
		itemSort   Sort
		err        error
	)
	if params.Name != nil {
		if name, err = validateText("name", *params.Name); err != nil {
			return nil, err
		}
	}
	if params.Icon != nil {
		if icon, err = validateIcon(*params.Icon); err != nil {
			return nil, err
		}
	}
	if params.ItemSort != nil {
		if itemSort, err = ParseSort(*params.ItemSort); err != nil {
			return nil, errs.Invalidf("invalid item_sort %q", *params.ItemSort)
		}
	}

	var updated List
	err = s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		row, err := getList(ctx, q, id)
		if err != nil {
			return nil, err
		}
		next := db.UpdateListParams{ID: id, Name: row.Name, Icon: row.Icon, ItemSort: row.ItemSort}
		if params.Name != nil {
			next.Name = name
		}
		if params.Icon != nil {
			next.Icon = icon
		}
		if params.ItemSort != nil {
			next.ItemSort = string(itemSort)
		}
		if err := q.UpdateList(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to update list: %w", err)
		}
		fresh, err := q.GetList(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read list: %w", err)
		}
		updated = listFromRow(fresh)

		var events []notify.Event
		if next.ItemSort != row.ItemSort {
			events = append(events, notify.Items(id))
		}
		if next.Name != row.Name || next.Icon != row.Icon {
			events = append(events, notify.Lists())
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteList removes a list and its items. History for the list is kept.
func (s *Service) DeleteList(ctx context.Context, id int64) error {
	err := s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		n, err := q.DeleteList(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to delete list: %w", err)
		}
		if n == 0 {
			return nil, errs.NotFoundf("list %d not found", id)
		}
		return []notify.Event{notify.Lists()}, nil
	})
	if err != nil {
		return err
	}
	obs.From(ctx).Info("list_deleted", "pkg", "todo", "list_id", id)
	return nil
}

// ReorderLists sets sort_order to each id's index. ids must name every list
// exactly once.
func (s *Service) ReorderLists(ctx context.Context, ids []int64) error {
	return s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		existing, err := q.ListIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read list ids: %w", err)
		}
		if err := validatePermutation("list", ids, existing); err != nil {
			return nil, err
		}
		for i, id := range ids {
			if err := q.SetListSortOrder(ctx, id, int64(i)); err != nil {
				return nil, fmt.Errorf("failed to reorder lists: %w", err)
			}
		}
		return []notify.Event{notify.Lists()}, nil
	})
}

// EnsureDefaultList creates a "Todos" list when the database has none.
func (s *Service) EnsureDefaultList(ctx context.Context) (bool, error) {
	created := false
	err := s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		n, err := q.CountLists(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count lists: %w", err)
		}
		if n > 0 {
			return nil, nil
		}
		if _, err := insertList(ctx, q, "Todos", "check", s.stamp(), UserInitiated); err != nil {
			return nil, err
		}
		created = true
		return []notify.Event{notify.Lists()}, nil
	})
	return created, err
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// Items returns a list's items, active first, in the list's item_sort order.
func (s *Service) Items(ctx context.Context, listID int64, includeCompleted bool) ([]Item, error) {
	q := s.db.Queries()
	list, err := getList(ctx, q, listID)
	if err != nil {
		return nil, err
	}
	rows, err := q.ListItems(ctx, listID, includeCompleted, list.ItemSort)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	out := make([]Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, itemFromRow(row))
	}
	return out, nil
}

// CreateItem adds an active item at the end of the list. Identical requests
// create distinct items; undo replays rely on that.
func (s *Service) CreateItem(ctx context.Context, listID int64, text string, prov Provenance) (*ItemResult, error) {
	text, err := validateText("text", text)
	if err != nil {
		return nil, err
	}

	var result ItemResult
	err = s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		if _, err := getList(ctx, q, listID); err != nil {
			return nil, err
		}
		pos, err := q.NextItemPosition(ctx, listID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute position: %w", err)
		}
		now := s.stamp()
		id, err := q.InsertItem(ctx, db.InsertItemParams{
			ListID:    listID,
			Text:      text,
			Position:  pos,
			CreatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create item: %w", err)
		}
		if err := recordItem(ctx, q, listID, id, ActionItemCreated, text, prov, now); err != nil {
			return nil, err
		}
		if result, err = readItemResult(ctx, q, id); err != nil {
			return nil, err
		}
		return []notify.Event{notify.Items(listID)}, nil
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).Debug("item_created",
		"pkg", "todo",
		"list_id", listID,
		"item_id", result.Item.ID,
		"provenance", prov.String(),
		"text", logutil.TruncateForLog(text, 40),
		"total_items", result.Counts.TotalItems,
	)
	return &result, nil
}

// UpdateItem applies a partial update. Each effective change records one
// history entry; values equal to the current state record nothing.
func (s *Service) UpdateItem(ctx context.Context, id int64, params UpdateItemParams, prov Provenance) (*ItemResult, error) {
	if params.Text == nil && params.Completed == nil {
		return nil, errs.Invalidf("at least one of text or completed is required")
	}
	var newText string
	if params.Text != nil {
		t, err := validateText("text", *params.Text)
		if err != nil {
			return nil, err
		}
		newText = t
	}

	var result ItemResult
	err := s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		row, err := getItem(ctx, q, id)
		if err != nil {
			return nil, err
		}
		now := s.stamp()
		next := db.UpdateItemParams{ID: id, Text: row.Text, Completed: row.Completed, CompletedAt: row.CompletedAt}
		changed := false

		if params.Text != nil && newText != row.Text {
			next.Text = newText
			changed = true
			if err := recordItem(ctx, q, row.ListID, id, ActionItemEdited, row.Text+" → "+newText, prov, now); err != nil {
				return nil, err
			}
		}
		if params.Completed != nil && *params.Completed != row.Completed {
			next.Completed = *params.Completed
			changed = true
			action := ActionItemUncompleted
			next.CompletedAt = sql.NullInt64{}
			if next.Completed {
				action = ActionItemCompleted
				next.CompletedAt = sql.NullInt64{Int64: now, Valid: true}
			}
			if err := recordItem(ctx, q, row.ListID, id, action, next.Text, prov, now); err != nil {
				return nil, err
			}
		}

		if changed {
			if err := q.UpdateItem(ctx, next); err != nil {
				return nil, fmt.Errorf("failed to update item: %w", err)
			}
		}
		if result, err = readItemResult(ctx, q, id); err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		return []notify.Event{notify.Items(row.ListID)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteItem removes an item, recording its text so undo can recreate it.
func (s *Service) DeleteItem(ctx context.Context, id int64, prov Provenance) (*ItemResult, error) {
	var result ItemResult
	err := s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		row, err := getItem(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if err := q.DeleteItem(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to delete item: %w", err)
		}
		if err := recordItem(ctx, q, row.ListID, id, ActionItemDeleted, row.Text, prov, s.stamp()); err != nil {
			return nil, err
		}
		counts, err := readCounts(ctx, q, row.ListID)
		if err != nil {
			return nil, err
		}
		result = ItemResult{Item: itemFromRow(row), Counts: counts}
		return []notify.Event{notify.Items(row.ListID)}, nil
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).Debug("item_deleted",
		"pkg", "todo",
		"list_id", result.Item.ListID,
		"item_id", id,
		"provenance", prov.String(),
	)
	return &result, nil
}

// ReorderItems sets each item's position to its index. ids must name every
// item of the list exactly once.
func (s *Service) ReorderItems(ctx context.Context, listID int64, ids []int64) error {
	return s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		if _, err := getList(ctx, q, listID); err != nil {
			return nil, err
		}
		existing, err := q.ItemIDs(ctx, listID)
		if err != nil {
			return nil, fmt.Errorf("failed to read item ids: %w", err)
		}
		if err := validatePermutation("item", ids, existing); err != nil {
			return nil, err
		}
		for i, id := range ids {
			if err := q.SetItemPosition(ctx, id, int64(i)); err != nil {
				return nil, fmt.Errorf("failed to reorder items: %w", err)
			}
		}
		return []notify.Event{notify.Items(listID)}, nil
	})
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// ListHistory returns up to limit of the newest entries for a list, oldest
// first. History of a deleted list is still readable.
func (s *Service) ListHistory(ctx context.Context, listID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	rows, err := s.db.Queries().ListHistory(ctx, listID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyFromRow(row))
	}
	return out, nil
}

// RestoreHistory re-inserts entries under listID, typically after undoing a
// list delete. Item ids are cleared because those items no longer exist.
func (s *Service) RestoreHistory(ctx context.Context, listID int64, entries []HistoryEntry) (int, error) {
	for i, e := range entries {
		if !e.Action.Valid() {
			return 0, errs.Invalidf("entry %d: unknown action %q", i, e.Action)
		}
	}

	err := s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		if _, err := getList(ctx, q, listID); err != nil {
			return nil, err
		}
		for _, e := range entries {
			ts := unixMilli(e.Timestamp)
			if e.Timestamp.IsZero() {
				ts = s.stamp()
			}
			prov := UserInitiated
			if e.Undo {
				prov = UndoReplay
			}
			if _, err := q.InsertHistory(ctx, db.InsertHistoryParams{
				ListID:     listID,
				Action:     string(e.Action),
				ItemText:   e.ItemText,
				Provenance: prov.String(),
				Timestamp:  ts,
			}); err != nil {
				return nil, fmt.Errorf("failed to restore history: %w", err)
			}
		}
		return []notify.Event{notify.Items(listID)}, nil
	})
	if err != nil {
		return 0, err
	}

	obs.From(ctx).Info("history_restored", "pkg", "todo", "list_id", listID, "entries", len(entries))
	return len(entries), nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// Settings returns the current settings.
func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	settings, err := readSettings(ctx, s.db.Queries())
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings changes list_sort and announces lists_changed.
func (s *Service) UpdateSettings(ctx context.Context, listSort string) (*Settings, error) {
	sort, err := ParseSort(listSort)
	if err != nil {
		return nil, errs.Invalidf("invalid list_sort %q", listSort)
	}
	err = s.mutate(ctx, func(q *db.Queries) ([]notify.Event, error) {
		if err := q.PutSetting(ctx, listSortKey, string(sort)); err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
		return []notify.Event{notify.Lists()}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Settings{ListSort: sort}, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func readSettings(ctx context.Context, q *db.Queries) (Settings, error) {
	v, err := q.GetSetting(ctx, listSortKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{ListSort: SortAlphabetical}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	sort, err := ParseSort(v)
	if err != nil {
		sort = SortAlphabetical
	}
	return Settings{ListSort: sort}, nil
}

func getList(ctx context.Context, q *db.Queries, id int64) (db.ListRow, error) {
	row, err := q.GetList(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ListRow{}, errs.NotFoundf("list %d not found", id)
	}
	if err != nil {
		return db.ListRow{}, fmt.Errorf("failed to read list: %w", err)
	}
	return row, nil
}

func getItem(ctx context.Context, q *db.Queries, id int64) (db.ItemRow, error) {
	row, err := q.GetItem(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ItemRow{}, errs.NotFoundf("item %d not found", id)
	}
	if err != nil {
		return db.ItemRow{}, fmt.Errorf("failed to read item: %w", err)
	}
	return row, nil
}

func readCounts(ctx context.Context, q *db.Queries, listID int64) (Counts, error) {
	total, completed, err := q.ListCounts(ctx, listID)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count items: %w", err)
	}
	return Counts{ListID: listID, TotalItems: total, CompletedItems: completed}, nil
}

func readItemResult(ctx context.Context, q *db.Queries, id int64) (ItemResult, error) {
	row, err := getItem(ctx, q, id)
	if err != nil {
		return ItemResult{}, err
	}
	counts, err := readCounts(ctx, q, row.ListID)
	if err != nil {
		return ItemResult{}, err
	}
	return ItemResult{Item: itemFromRow(row), Counts: counts}, nil
}

func recordItem(ctx context.Context, q *db.Queries, listID, itemID int64, action Action, text string, prov Provenance, now int64) error {
	_, err := q.InsertHistory(ctx, db.InsertHistoryParams{
		ListID:     listID,
		ItemID:     sql.NullInt64{Int64: itemID, Valid: true},
		Action:     string(action),
		ItemText:   text,
		Provenance: prov.String(),
		Timestamp:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

func validateText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errs.Invalidf("%s is required", field)
	}
	if len(trimmed) > MaxTextLength {
		return "", errs.Invalidf("%s exceeds %d bytes", field, MaxTextLength)
	}
	return trimmed, nil
}

func validateIcon(icon string) (string, error) {
	icon = strings.TrimSpace(icon)
	if icon == "" {
		return DefaultIcon, nil
	}
	if !iconPattern.MatchString(icon) {
		return "", errs.Invalidf("invalid icon %q", icon)
	}
	return icon, nil
}

func validatePermutation(kind string, ids, existing []int64) error {
	if len(ids) != len(existing) {
		return errs.Invalidf("expected %d %s ids, got %d", len(existing), kind, len(ids))
	}
	known := make(map[int64]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return errs.Invalidf("unknown %s id %d", kind, id)
		}
		if seen[id] {
			return errs.Invalidf("duplicate %s id %d", kind, id)
		}
		seen[id] = true
	}
	return nil
}

func listFromRow(row db.ListRow) List {
	sort, err := ParseSort(row.ItemSort)
	if err != nil {
		sort = SortAlphabetical
	}
	return List{
		ID:             row.ID,
		Name:           row.Name,
		Icon:           row.Icon,
		ItemSort:       sort,
		SortOrder:      row.SortOrder,
		CreatedAt:      fromUnixMilli(row.CreatedAt),
		TotalItems:     row.TotalItems,
		CompletedItems: row.CompletedItems,
	}
}

func itemFromRow(row db.ItemRow) Item {
	it := Item{
		ID:        row.ID,
		ListID:    row.ListID,
		Text:      row.Text,
		Completed: row.Completed,
		Position:  row.Position,
		CreatedAt: fromUnixMilli(row.CreatedAt),
	}
	if row.CompletedAt.Valid {
		t := fromUnixMilli(row.CompletedAt.Int64)
		it.CompletedAt = &t
	}
	return it
}

func historyFromRow(row db.HistoryRow) HistoryEntry {
	e := HistoryEntry{
		ID:        row.ID,
		ListID:    row.ListID,
		Action:    Action(row.Action),
		ItemText:  row.ItemText,
		Undo:      parseProvenance(row.Provenance) == UndoReplay,
		Timestamp: fromUnixMilli(row.Timestamp),
	}
	if row.ItemID.Valid {
		id := row.ItemID.Int64
		e.ItemID = &id
	}
	if row.ItemCurrentText.Valid {
		text := row.ItemCurrentText.String
		e.ItemCurrentText = &text
	}
	if row.ItemCurrentCompleted.Valid {
		done := row.ItemCurrentCompleted.Bool
		e.ItemCurrentCompleted = &done
	}
	return e
}
