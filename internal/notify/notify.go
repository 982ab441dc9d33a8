// Package notify is the in-process change hub. Mutations publish coarse
// "something changed" events; every connected sync client holds a
// Subscription and re-fetches the affected resource when one arrives.
package notify

import (
	"errors"
	"sync"

	"github.com/kuitang/tickr/internal/obs"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Kind names what changed.
type Kind string

const (
	ListsChanged Kind = "lists_changed"
	ItemsChanged Kind = "items_changed"
)

// Event is the payload delivered to subscribers and serialized onto the wire.
type Event struct {
	Type   Kind  `json:"type"`
	ListID int64 `json:"list_id,omitempty"`
}

// Lists returns a lists_changed event.
func Lists() Event {
	return Event{Type: ListsChanged}
}

// Items returns an items_changed event for one list.
func Items(listID int64) Event {
	return Event{Type: ItemsChanged, ListID: listID}
}

var (
	// ErrOverflow means the subscriber fell behind and was dropped.
	ErrOverflow = errors.New("notify: subscriber buffer overflow")
	// ErrClosed means the notifier shut down.
	ErrClosed = errors.New("notify: notifier closed")
)

// Publisher is the narrow interface mutation code depends on.
type Publisher interface {
	Publish(Event)
}

// Notifier fans events out to subscribers without ever blocking the publisher.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

// New creates a Notifier whose subscribers each queue up to buffer events.
func New(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Notifier{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscription is one subscriber's view of the event stream.
type Subscription struct {
	id     uint64
	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

// Events delivers events in publish order. It is never closed; select on Done too.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: ErrOverflow, ErrClosed, or nil
// after Unsubscribe. Only meaningful once Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Subscribe registers a new subscriber. Events published before this call are
// not replayed.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		id:     n.nextID,
		events: make(chan Event, n.buffer),
		done:   make(chan struct{}),
	}
	if n.closed {
		sub.end(ErrClosed)
		return sub
	}
	n.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	delete(n.subs, sub.id)
	n.mu.Unlock()
	sub.end(nil)
}

// Publish enqueues ev for every current subscriber. A subscriber whose buffer
// is full is disconnected rather than waited on. Publishing with no
// subscribers does nothing.
func (n *Notifier) Publish(ev Event) {
	dropped := n.publish(ev)
	for _, id := range dropped {
		obs.Pkg("notify").Warn("subscriber_dropped",
			"reason", "overflow",
			"subscriber", id,
			"buffer", n.buffer,
			"event", string(ev.Type),
		)
	}
}

// publish does the sends under the lock and returns the ids it dropped.
func (n *Notifier) publish(ev Event) []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || len(n.subs) == 0 {
		return nil
	}
	var dropped []uint64
	for id, sub := range n.subs {
		select {
		case sub.events <- ev:
		default:
			delete(n.subs, id)
			sub.end(ErrOverflow)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Len returns the number of live subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close disconnects every subscriber. Later Subscribe calls get an ended
// subscription and Publish becomes a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		sub.end(ErrClosed)
	}
}
