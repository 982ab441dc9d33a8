// Package backup periodically uploads consistent database snapshots to object
// storage and prunes old ones.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kuitang/tickr/internal/obs"
	"github.com/kuitang/tickr/internal/s3client"
)

const (
	// Prefix is the object key prefix all snapshots share.
	Prefix = "backups/"

	keyTimeLayout = "20060102T150405.000Z"
	contentType   = "application/vnd.sqlite3"
)

// Snapshotter writes a consistent copy of a database to a new file.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dest string) error
}

// Store is the subset of object storage the runner needs.
type Store interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	ListObjects(ctx context.Context, prefix string) ([]s3client.Object, error)
	DeleteObject(ctx context.Context, key string) error
}

// Runner takes snapshots on an interval and keeps the newest Retain of them.
type Runner struct {
	src      Snapshotter
	store    Store
	interval time.Duration
	retain   int
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the clock used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner. Non-positive interval or retain fall back to 6h and 14.
func New(src Snapshotter, store Store, interval time.Duration, retain int, opts ...Option) *Runner {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if retain <= 0 {
		retain = 14
	}
	r := &Runner{
		src:      src,
		store:    store,
		interval: interval,
		retain:   retain,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the object key for a snapshot taken at t. Keys sort in time order.
func Key(t time.Time) string {
	return Prefix + "tickr-" + t.UTC().Format(keyTimeLayout) + ".db"
}

// RunOnce uploads one snapshot and prunes. It returns the new object's key.
func (r *Runner) RunOnce(ctx context.Context) (string, error) {
	start := time.Now()
	logger := obs.From(ctx).With("pkg", "backup")

	dir, err := os.MkdirTemp("", "tickr-backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dest := filepath.Join(dir, "snapshot.db")
	if err := r.src.SnapshotTo(ctx, dest); err != nil {
		return "", err
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot: %w", err)
	}

	key := Key(r.now())
	if err := r.store.PutObject(ctx, key, data, contentType); err != nil {
		return "", err
	}

	pruned, err := r.prune(ctx)
	if err != nil {
		logger.Warn("backup_prune_failed", "error", err)
	}
	logger.Info("backup_uploaded",
		"key", key,
		"bytes", len(data),
		"pruned", pruned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return key, nil
}

// prune deletes all but the newest retain snapshots.
func (r *Runner) prune(ctx context.Context) (int, error) {
	objs, err := r.store.ListObjects(ctx, Prefix)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, obj := range objs {
		if strings.HasSuffix(obj.Key, ".db") {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) <= r.retain {
		return 0, nil
	}
	stale := keys[:len(keys)-r.retain]
	for i, key := range stale {
		if err := r.store.DeleteObject(ctx, key); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// Run takes a snapshot every interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) {
	logger := obs.From(ctx).With("pkg", "backup")
	logger.Info("backup_runner_started", "interval", r.interval.String(), "retain", r.retain)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("backup_runner_stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("backup_failed", "error", err)
			}
		}
	}
}
