package client

import "time"

// List mirrors the server's list representation.
type List struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Icon           string    `json:"icon"`
	ItemSort       string    `json:"item_sort"`
	SortOrder      int64     `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
	TotalItems     int64     `json:"total_items"`
	CompletedItems int64     `json:"completed_items"`
}

// Item mirrors the server's item representation.
type Item struct {
	ID          int64      `json:"id"`
	ListID      int64      `json:"list_id"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	Position    int64      `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HistoryEntry is one audit record of a list.
type HistoryEntry struct {
	ID                   int64     `json:"id"`
	ListID               int64     `json:"list_id"`
	ItemID               *int64    `json:"item_id"`
	Action               string    `json:"action"`
	ItemText             string    `json:"item_text"`
	Undo                 bool      `json:"undo"`
	Timestamp            time.Time `json:"timestamp"`
	ItemCurrentText      *string   `json:"item_current_text,omitempty"`
	ItemCurrentCompleted *bool     `json:"item_current_completed,omitempty"`
}

// Counts are a list's item counts after a mutation.
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

// Settings holds server-wide preferences.
type Settings struct {
	ListSort string `json:"list_sort"`
}

// Health is the reachability probe response.
type Health struct {
	Status        string `json:"status"`
	Subscribers   int    `json:"subscribers"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ListUpdate is a partial list update; nil fields are left alone.
type ListUpdate struct {
	Name     *string `json:"name,omitempty"`
	Icon     *string `json:"icon,omitempty"`
	ItemSort *string `json:"item_sort,omitempty"`
}

// ItemUpdate is a partial item update; nil fields are left alone.
type ItemUpdate struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Event kinds pushed by the sync stream.
const (
	EventListsChanged = "lists_changed"
	EventItemsChanged = "items_changed"
)

// Event is one change notification.
type Event struct {
	Type   string `json:"type"`
	ListID int64  `json:"list_id,omitempty"`
}
