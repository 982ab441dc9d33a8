package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kuitang/tickr/internal/obs"
)

// ListsEntry is the cached lists response.
type ListsEntry struct {
	Lists     []List    `json:"lists"`
	Timestamp time.Time `json:"timestamp"`
}

// ItemsEntry is one list's cached items response.
type ItemsEntry struct {
	Items     []Item    `json:"items"`
	Timestamp time.Time `json:"timestamp"`
}

type cacheFile struct {
	Lists *ListsEntry            `json:"lists,omitempty"`
	Items map[string]*ItemsEntry `json:"items,omitempty"`
}

// Cache keeps the last good server responses so a UI can render before the
// network answers. With a path it persists to a JSON file after every write.
type Cache struct {
	path string

	mu   sync.Mutex
	data cacheFile
}

// NewMemoryCache returns a cache that is never written to disk.
func NewMemoryCache() *Cache {
	return &Cache{data: cacheFile{Items: map[string]*ItemsEntry{}}}
}

// OpenCache loads the cache file at path, starting empty when it does not
// exist or cannot be parsed.
func OpenCache(path string) (*Cache, error) {
	c := NewMemoryCache()
	c.path = path

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	var data cacheFile
	if err := json.Unmarshal(b, &data); err != nil {
		obs.Pkg("client").Warn("cache_corrupt_reset", "path", path, "error", err)
		return c, nil
	}
	if data.Items == nil {
		data.Items = map[string]*ItemsEntry{}
	}
	c.data = data
	return c, nil
}

// Lists returns the cached lists and when they were fetched.
func (c *Cache) Lists() ([]List, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data.Lists == nil {
		return nil, time.Time{}, false
	}
	return append([]List(nil), c.data.Lists.Lists...), c.data.Lists.Timestamp, true
}

// PutLists replaces the cached lists.
func (c *Cache) PutLists(lists []List, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Lists = &ListsEntry{Lists: append([]List(nil), lists...), Timestamp: at}
	return c.saveLocked()
}

// Items returns a list's cached items and when they were fetched.
func (c *Cache) Items(listID int64) ([]Item, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data.Items[itemsKey(listID)]
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]Item(nil), e.Items...), e.Timestamp, true
}

// PutItems replaces a list's cached items.
func (c *Cache) PutItems(listID int64, items []Item, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Items[itemsKey(listID)] = &ItemsEntry{Items: append([]Item(nil), items...), Timestamp: at}
	return c.saveLocked()
}

// DropItems forgets a list's items, for lists that no longer exist.
func (c *Cache) DropItems(listID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data.Items[itemsKey(listID)]; !ok {
		return nil
	}
	delete(c.data.Items, itemsKey(listID))
	return c.saveLocked()
}

func itemsKey(listID int64) string {
	return strconv.FormatInt(listID, 10)
}

func (c *Cache) saveLocked() error {
	if c.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	return atomicWriteFile(dir, "cache.json.*.tmp", c.path, b, 0o600)
}

// atomicWriteFile writes via a temp file and rename so readers never see a
// partial cache.
func atomicWriteFile(dir, tmpPattern, path string, b []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, perm)
	return os.Rename(tmp, path)
}
