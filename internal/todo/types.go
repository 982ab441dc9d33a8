package todo

import (
	"fmt"
	"regexp"
	"time"
)

// Sort orders lists (via Settings.ListSort) and items (via List.ItemSort).
type Sort string

const (
	SortAlphabetical     Sort = "alphabetical"
	SortAlphabeticalDesc Sort = "alphabetical_desc"
	SortCreatedDesc      Sort = "created_desc"
	SortCreatedAsc       Sort = "created_asc"
	SortCustom           Sort = "custom"
)

// ParseSort validates a sort key. "date" is accepted as newest first.
func ParseSort(s string) (Sort, error) {
	switch Sort(s) {
	case SortAlphabetical, SortAlphabeticalDesc, SortCreatedDesc, SortCreatedAsc, SortCustom:
		return Sort(s), nil
	case "date":
		return SortCreatedDesc, nil
	}
	return "", fmt.Errorf("unknown sort %q", s)
}

// Action is the kind of change a history entry records.
type Action string

const (
	ActionItemCreated     Action = "item_created"
	ActionItemCompleted   Action = "item_completed"
	ActionItemUncompleted Action = "item_uncompleted"
	ActionItemDeleted     Action = "item_deleted"
	ActionItemEdited      Action = "item_edited"
	ActionListCreated     Action = "list_created"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionItemCreated, ActionItemCompleted, ActionItemUncompleted,
		ActionItemDeleted, ActionItemEdited, ActionListCreated:
		return true
	}
	return false
}

// Provenance says whether a mutation came from the user or from replaying an
// undo. It only changes how the resulting history entry is tagged.
type Provenance int

const (
	UserInitiated Provenance = iota
	UndoReplay
)

// ProvenanceFromUndo maps the wire-level undo flag.
func ProvenanceFromUndo(undo bool) Provenance {
	if undo {
		return UndoReplay
	}
	return UserInitiated
}

func (p Provenance) String() string {
	if p == UndoReplay {
		return "undo"
	}
	return "user"
}

func parseProvenance(s string) Provenance {
	if s == "undo" {
		return UndoReplay
	}
	return UserInitiated
}

const (
	// DefaultIcon is used when a list is created without one.
	DefaultIcon = "list"

	// DefaultHistoryLimit caps ListHistory when no limit is given.
	DefaultHistoryLimit = 100

	// MaxHistoryLimit is the largest accepted history limit.
	MaxHistoryLimit = 1000

	// MaxTextLength bounds item text and list names, in bytes.
	MaxTextLength = 4096
)

var iconPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// List is a named collection of items with derived counts.
type List struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Icon           string    `json:"icon"`
	ItemSort       Sort      `json:"item_sort"`
	SortOrder      int64     `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
	TotalItems     int64     `json:"total_items"`
	CompletedItems int64     `json:"completed_items"`
}

// Item is one todo entry.
type Item struct {
	ID          int64      `json:"id"`
	ListID      int64      `json:"list_id"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	Position    int64      `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	ID                   int64     `json:"id"`
	ListID               int64     `json:"list_id"`
	ItemID               *int64    `json:"item_id"`
	Action               Action    `json:"action"`
	ItemText             string    `json:"item_text"`
	Undo                 bool      `json:"undo"`
	Timestamp            time.Time `json:"timestamp"`
	ItemCurrentText      *string   `json:"item_current_text,omitempty"`
	ItemCurrentCompleted *bool     `json:"item_current_completed,omitempty"`
}

// Settings is the process-wide settings singleton.
type Settings struct {
	ListSort Sort `json:"list_sort"`
}

// Counts are a list's derived item counts as of a mutation's commit.
type Counts struct {
	ListID         int64 `json:"list_id"`
	TotalItems     int64 `json:"total_items"`
	CompletedItems int64 `json:"completed_items"`
}

// ItemResult is returned by item mutations.
type ItemResult struct {
	Item   Item   `json:"item"`
	Counts Counts `json:"list_counts"`
}

// CreateListParams are the inputs to CreateList.
type CreateListParams struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// UpdateListParams is a partial update; nil fields are left alone.
type UpdateListParams struct {
	Name     *string `json:"name,omitempty"`
	Icon     *string `json:"icon,omitempty"`
	ItemSort *string `json:"item_sort,omitempty"`
}

// UpdateItemParams is a partial update; nil fields are left alone.
type UpdateItemParams struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

func unixMilli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
