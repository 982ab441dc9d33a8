package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kuitang/tickr/internal/db"
	"github.com/kuitang/tickr/internal/db/testutil"
	"github.com/kuitang/tickr/internal/testdb"
	"pgregory.net/rapid"
)

func mustInsertList(t testing.TB, q *db.Queries, name string) int64 {
	t.Helper()
	ctx := context.Background()
	order, err := q.NextListSortOrder(ctx)
	if err != nil {
		t.Fatalf("NextListSortOrder: %v", err)
	}
	id, err := q.InsertList(ctx, db.InsertListParams{Name: name, Icon: "list", ItemSort: "alphabetical", SortOrder: order, CreatedAt: 1})
	if err != nil {
		t.Fatalf("InsertList: %v", err)
	}
	return id
}

func TestSchema_DefaultSettingSeeded(t *testing.T) {
	t.Parallel()
	d := testdb.New(t)
	v, err := d.Queries().GetSetting(context.Background(), "list_sort")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "alphabetical" {
		t.Fatalf("list_sort = %q, want alphabetical", v)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	d := testdb.New(t)
	for i := 0; i < 3; i++ {
		if err := d.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate run %d: %v", i, err)
		}
	}
}

func TestDeleteList_CascadesItemsKeepsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := testdb.New(t)
	q := d.Queries()

	listID := mustInsertList(t, q, "Groceries")
	itemID, err := q.InsertItem(ctx, db.InsertItemParams{ListID: listID, Text: "Milk", CreatedAt: 2})
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	if _, err := q.InsertHistory(ctx, db.InsertHistoryParams{
		ListID: listID, ItemID: sql.NullInt64{Int64: itemID, Valid: true},
		Action: "item_created", ItemText: "Milk", Provenance: "user", Timestamp: 2,
	}); err != nil {
		t.Fatalf("InsertHistory: %v", err)
	}

	n, err := q.DeleteList(ctx, listID)
	if err != nil || n != 1 {
		t.Fatalf("DeleteList = %d, %v", n, err)
	}
	if _, err := q.GetItem(ctx, itemID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("item survived list delete: %v", err)
	}
	count, err := q.CountHistory(ctx, listID)
	if err != nil {
		t.Fatalf("CountHistory: %v", err)
	}
	if count != 1 {
		t.Fatalf("history count = %d, want 1", count)
	}

	rows, err := q.ListHistory(ctx, listID, 100)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 1 || rows[0].ItemCurrentText.Valid {
		t.Fatalf("orphaned history should not join a current item: %+v", rows)
	}
}

func TestIDs_NotReusedAfterDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := testdb.New(t)
	q := d.Queries()

	listID := mustInsertList(t, q, "Todos")
	first, err := q.InsertItem(ctx, db.InsertItemParams{ListID: listID, Text: "a", CreatedAt: 1})
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	if err := q.DeleteItem(ctx, first); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	second, err := q.InsertItem(ctx, db.InsertItemParams{ListID: listID, Text: "a", CreatedAt: 1})
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
	if second == first {
		t.Fatalf("item id %d was reused", first)
	}
}

func TestListItems_FoldSortsUnicodeCaseInsensitively(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := testdb.New(t)
	q := d.Queries()

	listID := mustInsertList(t, q, "Words")
	for i, text := range []string{"zucchini", "Éclair", "éa", "Apple"} {
		if _, err := q.InsertItem(ctx, db.InsertItemParams{ListID: listID, Text: text, Position: int64(i), CreatedAt: int64(i)}); err != nil {
			t.Fatalf("InsertItem: %v", err)
		}
	}

	items, err := q.ListItems(ctx, listID, true, "alphabetical")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.Text)
	}
	// Byte order would put "Éclair" before "éa".
	if want := "Apple,zucchini,éa,Éclair"; strings.Join(got, ",") != want {
		t.Fatalf("alphabetical order = %v, want %s", got, want)
	}

	if _, err := q.ListItems(ctx, listID, true, "bogus"); err == nil {
		t.Fatalf("unknown sort key accepted")
	}
}

func TestOpen_FileWithKey(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "tickr.db")
	key := strings.Repeat("ab", db.KeyBytes)

	d, err := db.Open(path, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustInsertList(t, d.Queries(), "Encrypted")
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := db.Open(path, key)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, err := reopened.Queries().CountLists(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("CountLists after reopen = %d, %v", n, err)
	}

	if _, err := db.Open(path, "nothex"); err == nil {
		t.Fatalf("malformed key accepted")
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := testdb.New(t)

	sentinel := errors.New("boom")
	err := d.WithTx(ctx, func(q *db.Queries) error {
		mustInsertList(t, q, "Ghost")
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v", err)
	}
	n, err := d.Queries().CountLists(ctx)
	if err != nil || n != 0 {
		t.Fatalf("rolled back list persisted: count=%d err=%v", n, err)
	}
}

func testCounts_MatchItems(t *rapid.T) {
	ctx := context.Background()
	d, err := testdb.NewInMemory("")
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer d.Close()
	q := d.Queries()

	listID, err := q.InsertList(ctx, db.InsertListParams{Name: "L", Icon: "list", ItemSort: "custom", CreatedAt: 1})
	if err != nil {
		t.Fatalf("InsertList: %v", err)
	}

	total, completed := 0, 0
	n := rapid.IntRange(0, 20).Draw(t, "n")
	for i := 0; i < n; i++ {
		text := testutil.ItemText().Draw(t, "text")
		id, err := q.InsertItem(ctx, db.InsertItemParams{ListID: listID, Text: text, Position: int64(i), CreatedAt: int64(i)})
		if err != nil {
			t.Fatalf("InsertItem: %v", err)
		}
		total++
		if rapid.Bool().Draw(t, "complete") {
			if err := q.UpdateItem(ctx, db.UpdateItemParams{ID: id, Text: text, Completed: true, CompletedAt: sql.NullInt64{Int64: 9, Valid: true}}); err != nil {
				t.Fatalf("UpdateItem: %v", err)
			}
			completed++
		}
		got, err := q.GetItem(ctx, id)
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if got.Text != text {
			t.Fatalf("text round trip: got %q want %q", got.Text, text)
		}
	}

	l, err := q.GetList(ctx, listID)
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if l.TotalItems != int64(total) || l.CompletedItems != int64(completed) {
		t.Fatalf("counts = %d/%d, want %d/%d", l.CompletedItems, l.TotalItems, completed, total)
	}
	active, err := q.ListItems(ctx, listID, false, "custom")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(active) != total-completed {
		t.Fatalf("active items = %d, want %d", len(active), total-completed)
	}
}

func TestCounts_MatchItems(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCounts_MatchItems)
}

func FuzzCounts_MatchItems(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testCounts_MatchItems))
}
