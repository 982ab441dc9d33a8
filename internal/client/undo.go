package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultUndoWindow is how long a destructive action can be undone.
const DefaultUndoWindow = 5 * time.Second

// ErrNothingToUndo is returned by Undo when no offer is showing.
var ErrNothingToUndo = errors.New("client: nothing to undo")

type undoOffer struct {
	seq   uint64
	label string
	fn    func(ctx context.Context) error
}

// UndoManager holds at most one undo offer. A new offer replaces the visible
// one and restarts the countdown; an expired offer is dropped with no effect.
type UndoManager struct {
	window   time.Duration
	onChange func(label string, visible bool)

	mu      sync.Mutex
	seq     uint64
	current *undoOffer
	timer   *time.Timer
}

// NewUndoManager creates a manager that calls onChange whenever the offer
// appears, is replaced, expires or is used.
func NewUndoManager(window time.Duration, onChange func(label string, visible bool)) *UndoManager {
	if window <= 0 {
		window = DefaultUndoWindow
	}
	if onChange == nil {
		onChange = func(string, bool) {}
	}
	return &UndoManager{window: window, onChange: onChange}
}

// Offer shows label with fn as its undo action.
func (m *UndoManager) Offer(label string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.current = &undoOffer{seq: seq, label: label, fn: fn}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.window, func() { m.expire(seq) })
	m.mu.Unlock()

	m.onChange(label, true)
}

// Current returns the visible offer's label.
func (m *UndoManager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.label, true
}

// Undo runs the visible offer's action once.
func (m *UndoManager) Undo(ctx context.Context) error {
	m.mu.Lock()
	offer := m.current
	m.current = nil
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	if offer == nil {
		return ErrNothingToUndo
	}
	m.onChange("", false)
	return offer.fn(ctx)
}

// Stop drops any offer without running it.
func (m *UndoManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *UndoManager) expire(seq uint64) {
	m.mu.Lock()
	if m.current == nil || m.current.seq != seq {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	m.onChange("", false)
}
