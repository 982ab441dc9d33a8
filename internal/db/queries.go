package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the typed statements for the tickr schema.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// ListRow is a list with its derived counts.
type ListRow struct {
	ID             int64
	Name           string
	Icon           string
	ItemSort       string
	SortOrder      int64
	CreatedAt      int64
	TotalItems     int64
	CompletedItems int64
}

// ItemRow is one stored item.
type ItemRow struct {
	ID          int64
	ListID      int64
	Text        string
	Completed   bool
	Position    int64
	CreatedAt   int64
	CompletedAt sql.NullInt64
}

// HistoryRow is one history entry joined with the current item state.
type HistoryRow struct {
	ID                   int64
	ListID               int64
	ItemID               sql.NullInt64
	Action               string
	ItemText             string
	Provenance           string
	Timestamp            int64
	ItemCurrentText      sql.NullString
	ItemCurrentCompleted sql.NullBool
}

// Sort keys accepted by ListLists and ListItems.
var (
	listOrderClauses = map[string]string{
		"alphabetical":      "fold(l.name) ASC, l.id ASC",
		"alphabetical_desc": "fold(l.name) DESC, l.id DESC",
		"created_asc":       "l.created_at ASC, l.id ASC",
		"created_desc":      "l.created_at DESC, l.id DESC",
		"custom":            "l.sort_order ASC, l.created_at ASC, l.id ASC",
	}
	itemOrderClauses = map[string]string{
		"alphabetical":      "fold(text) ASC, id ASC",
		"alphabetical_desc": "fold(text) DESC, id DESC",
		"created_asc":       "created_at ASC, id ASC",
		"created_desc":      "created_at DESC, id DESC",
		"custom":            "position ASC, id ASC",
	}
)

const listColumns = `
    l.id, l.name, l.icon, l.item_sort, l.sort_order, l.created_at,
    COUNT(i.id) AS total_items,
    COALESCE(SUM(CASE WHEN i.completed = 1 THEN 1 ELSE 0 END), 0) AS completed_items
FROM lists l
LEFT JOIN items i ON i.list_id = l.id`

func scanList(row interface{ Scan(...any) error }) (ListRow, error) {
	var l ListRow
	err := row.Scan(&l.ID, &l.Name, &l.Icon, &l.ItemSort, &l.SortOrder, &l.CreatedAt, &l.TotalItems, &l.CompletedItems)
	return l, err
}

// ListLists returns every list with counts in the requested order.
func (q *Queries) ListLists(ctx context.Context, sortKey string) ([]ListRow, error) {
	order, ok := listOrderClauses[sortKey]
	if !ok {
		return nil, fmt.Errorf("unknown list sort %q", sortKey)
	}
	rows, err := q.db.QueryContext(ctx, "SELECT"+listColumns+" GROUP BY l.id ORDER BY "+order)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ListRow
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetList returns one list with counts, or sql.ErrNoRows.
func (q *Queries) GetList(ctx context.Context, id int64) (ListRow, error) {
	return scanList(q.db.QueryRowContext(ctx, "SELECT"+listColumns+" WHERE l.id = ? GROUP BY l.id", id))
}

// CountLists returns the number of lists.
func (q *Queries) CountLists(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lists").Scan(&n)
	return n, err
}

// ListIDs returns all list ids.
func (q *Queries) ListIDs(ctx context.Context) ([]int64, error) {
	return q.ids(ctx, "SELECT id FROM lists")
}

// NextListSortOrder returns one past the largest sort_order, 0 when empty.
func (q *Queries) NextListSortOrder(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(sort_order), -1) + 1 FROM lists").Scan(&n)
	return n, err
}

// InsertListParams holds the columns for a new list.
type InsertListParams struct {
	Name      string
	Icon      string
	ItemSort  string
	SortOrder int64
	CreatedAt int64
}

// InsertList creates a list and returns its id.
func (q *Queries) InsertList(ctx context.Context, arg InsertListParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO lists (name, icon, item_sort, sort_order, created_at) VALUES (?, ?, ?, ?, ?)",
		arg.Name, arg.Icon, arg.ItemSort, arg.SortOrder, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateListParams holds the mutable list columns.
type UpdateListParams struct {
	ID       int64
	Name     string
	Icon     string
	ItemSort string
}

// UpdateList overwrites name, icon and item_sort.
func (q *Queries) UpdateList(ctx context.Context, arg UpdateListParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE lists SET name = ?, icon = ?, item_sort = ? WHERE id = ?",
		arg.Name, arg.Icon, arg.ItemSort, arg.ID)
	return err
}

// SetListSortOrder updates one list's sort_order.
func (q *Queries) SetListSortOrder(ctx context.Context, id, sortOrder int64) error {
	_, err := q.db.ExecContext(ctx, "UPDATE lists SET sort_order = ? WHERE id = ?", sortOrder, id)
	return err
}

// DeleteList removes a list; its items go with it through the FK cascade.
func (q *Queries) DeleteList(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const itemColumns = "id, list_id, text, completed, position, created_at, completed_at"

func scanItem(row interface{ Scan(...any) error }) (ItemRow, error) {
	var it ItemRow
	err := row.Scan(&it.ID, &it.ListID, &it.Text, &it.Completed, &it.Position, &it.CreatedAt, &it.CompletedAt)
	return it, err
}

// ListItems returns a list's items, active first, each group in sortKey order.
func (q *Queries) ListItems(ctx context.Context, listID int64, includeCompleted bool, sortKey string) ([]ItemRow, error) {
	order, ok := itemOrderClauses[sortKey]
	if !ok {
		return nil, fmt.Errorf("unknown item sort %q", sortKey)
	}
	var b strings.Builder
	b.WriteString("SELECT " + itemColumns + " FROM items WHERE list_id = ?")
	if !includeCompleted {
		b.WriteString(" AND completed = 0")
	}
	b.WriteString(" ORDER BY completed ASC, " + order)

	rows, err := q.db.QueryContext(ctx, b.String(), listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetItem returns one item or sql.ErrNoRows.
func (q *Queries) GetItem(ctx context.Context, id int64) (ItemRow, error) {
	return scanItem(q.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
}

// ItemIDs returns the ids of every item in a list.
func (q *Queries) ItemIDs(ctx context.Context, listID int64) ([]int64, error) {
	return q.ids(ctx, "SELECT id FROM items WHERE list_id = ?", listID)
}

// NextItemPosition returns one past the largest position in a list.
func (q *Queries) NextItemPosition(ctx context.Context, listID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) + 1 FROM items WHERE list_id = ?", listID).Scan(&n)
	return n, err
}

// InsertItemParams holds the columns for a new item.
type InsertItemParams struct {
	ListID    int64
	Text      string
	Position  int64
	CreatedAt int64
}

// InsertItem creates an active item and returns its id.
func (q *Queries) InsertItem(ctx context.Context, arg InsertItemParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO items (list_id, text, completed, position, created_at) VALUES (?, ?, 0, ?, ?)",
		arg.ListID, arg.Text, arg.Position, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateItemParams holds the mutable item columns.
type UpdateItemParams struct {
	ID          int64
	Text        string
	Completed   bool
	CompletedAt sql.NullInt64
}

// UpdateItem overwrites text and completion state.
func (q *Queries) UpdateItem(ctx context.Context, arg UpdateItemParams) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE items SET text = ?, completed = ?, completed_at = ? WHERE id = ?",
		arg.Text, arg.Completed, arg.CompletedAt, arg.ID)
	return err
}

// SetItemPosition updates one item's position.
func (q *Queries) SetItemPosition(ctx context.Context, id, position int64) error {
	_, err := q.db.ExecContext(ctx, "UPDATE items SET position = ? WHERE id = ?", position, id)
	return err
}

// DeleteItem removes one item.
func (q *Queries) DeleteItem(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	return err
}

// ListCounts returns total and completed item counts for a list.
func (q *Queries) ListCounts(ctx context.Context, listID int64) (total, completed int64, err error) {
	err = q.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN completed = 1 THEN 1 ELSE 0 END), 0) FROM items WHERE list_id = ?",
		listID).Scan(&total, &completed)
	return total, completed, err
}

// InsertHistoryParams holds the columns for a history entry.
type InsertHistoryParams struct {
	ListID     int64
	ItemID     sql.NullInt64
	Action     string
	ItemText   string
	Provenance string
	Timestamp  int64
}

// InsertHistory appends a history entry and returns its id.
func (q *Queries) InsertHistory(ctx context.Context, arg InsertHistoryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO history (list_id, item_id, action, item_text, provenance, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		arg.ListID, arg.ItemID, arg.Action, arg.ItemText, arg.Provenance, arg.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListHistory returns the newest limit entries for a list, oldest first.
func (q *Queries) ListHistory(ctx context.Context, listID int64, limit int) ([]HistoryRow, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, list_id, item_id, action, item_text, provenance, timestamp, item_current_text, item_current_completed
FROM (
    SELECT h.id, h.list_id, h.item_id, h.action, h.item_text, h.provenance, h.timestamp,
           i.text AS item_current_text, i.completed AS item_current_completed
    FROM history h
    LEFT JOIN items i ON i.id = h.item_id
    WHERE h.list_id = ?
    ORDER BY h.timestamp DESC, h.id DESC
    LIMIT ?
)
ORDER BY timestamp ASC, id ASC`, listID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.ID, &h.ListID, &h.ItemID, &h.Action, &h.ItemText, &h.Provenance, &h.Timestamp,
			&h.ItemCurrentText, &h.ItemCurrentCompleted); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountHistory returns the number of history entries for a list.
func (q *Queries) CountHistory(ctx context.Context, listID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history WHERE list_id = ?", listID).Scan(&n)
	return n, err
}

// GetSetting returns a setting value or sql.ErrNoRows.
func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := q.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	return v, err
}

// PutSetting upserts a setting value.
func (q *Queries) PutSetting(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

func (q *Queries) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
