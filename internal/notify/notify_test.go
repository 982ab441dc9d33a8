package notify

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/tickr/internal/obs"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func isDone(sub *Subscription) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	t.Parallel()
	n := New(4)
	n.Publish(Lists())
	n.Publish(Items(7))
	if n.Len() != 0 {
		t.Fatalf("Len = %d, want 0", n.Len())
	}

	sub := n.Subscribe()
	if got := drain(sub); len(got) != 0 {
		t.Fatalf("new subscriber got replayed events: %v", got)
	}
}

func TestPublish_OverflowDropsOnlySlowSubscriber(t *testing.T) {
	t.Parallel()
	n := New(2)
	slow := n.Subscribe()
	fast := n.Subscribe()

	for i := int64(1); i <= 3; i++ {
		n.Publish(Items(i))
		if got := drain(fast); len(got) != 1 || got[0].ListID != i {
			t.Fatalf("fast subscriber got %v after publish %d", got, i)
		}
	}

	if !isDone(slow) {
		t.Fatalf("slow subscriber should have been dropped")
	}
	if !errors.Is(slow.Err(), ErrOverflow) {
		t.Fatalf("slow.Err() = %v, want ErrOverflow", slow.Err())
	}
	if isDone(fast) {
		t.Fatalf("fast subscriber was dropped")
	}
	if n.Len() != 1 {
		t.Fatalf("Len = %d, want 1", n.Len())
	}
	if got := drain(slow); len(got) != 2 {
		t.Fatalf("slow subscriber should keep its buffered events, got %v", got)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	t.Parallel()
	n := New(1)
	sub := n.Subscribe()
	n.Unsubscribe(sub)
	n.Unsubscribe(sub)
	n.Unsubscribe(nil)
	if !isDone(sub) || sub.Err() != nil {
		t.Fatalf("unsubscribed: done=%v err=%v", isDone(sub), sub.Err())
	}
	n.Publish(Lists())
	if got := drain(sub); len(got) != 0 {
		t.Fatalf("unsubscribed subscriber received %v", got)
	}
}

func TestClose_EndsEveryone(t *testing.T) {
	t.Parallel()
	n := New(1)
	a, b := n.Subscribe(), n.Subscribe()
	n.Close()
	n.Close()
	for _, sub := range []*Subscription{a, b} {
		if !errors.Is(sub.Err(), ErrClosed) {
			t.Fatalf("Err() = %v, want ErrClosed", sub.Err())
		}
	}
	late := n.Subscribe()
	if !errors.Is(late.Err(), ErrClosed) {
		t.Fatalf("late subscribe Err() = %v", late.Err())
	}
	n.Publish(Lists())
}

func TestPublish_ConcurrentPublishersNeverBlock(t *testing.T) {
	t.Parallel()
	n := New(8)
	stuck := n.Subscribe() // never drained

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				n.Publish(Items(int64(p*1000 + i)))
			}
		}(p)
	}

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("publishers blocked on a stuck subscriber")
	}
	if !errors.Is(stuck.Err(), ErrOverflow) {
		t.Fatalf("stuck subscriber not dropped: %v", stuck.Err())
	}
}

// Model-based: every live subscriber sees exactly the events published since it
// subscribed, in publish order.
func testNotifier_DeliversInOrder(t *rapid.T) {
	buffer := rapid.IntRange(1, 6).Draw(t, "buffer")
	n := New(buffer)

	type tracked struct {
		sub     *Subscription
		want    []Event
		pending int
		active  bool
	}
	var subs []*tracked

	steps := rapid.IntRange(1, 60).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		switch rapid.IntRange(0, 3).Draw(t, "op") {
		case 0:
			subs = append(subs, &tracked{sub: n.Subscribe(), active: true})
		case 1:
			var ev Event
			if rapid.Bool().Draw(t, "lists") {
				ev = Lists()
			} else {
				ev = Items(rapid.Int64Range(1, 5).Draw(t, "list_id"))
			}
			n.Publish(ev)
			for _, s := range subs {
				if !s.active {
					continue
				}
				if s.pending == buffer {
					s.active = false
					continue
				}
				s.want = append(s.want, ev)
				s.pending++
			}
		case 2:
			if len(subs) == 0 {
				continue
			}
			s := subs[rapid.IntRange(0, len(subs)-1).Draw(t, "drain")]
			got := drain(s.sub)
			if len(got) != s.pending {
				t.Fatalf("drained %d events, want %d", len(got), s.pending)
			}
			for j, ev := range got {
				if ev != s.want[j] {
					t.Fatalf("event %d = %+v, want %+v", j, ev, s.want[j])
				}
			}
			s.want = s.want[len(got):]
			s.pending = 0
		case 3:
			if len(subs) == 0 {
				continue
			}
			s := subs[rapid.IntRange(0, len(subs)-1).Draw(t, "unsub")]
			n.Unsubscribe(s.sub)
			s.active = false
		}

		live := 0
		for _, s := range subs {
			if s.active {
				live++
				if isDone(s.sub) {
					t.Fatalf("active subscriber unexpectedly ended: %v", s.sub.Err())
				}
			} else if !isDone(s.sub) {
				t.Fatalf("inactive subscriber still open")
			}
		}
		if n.Len() != live {
			t.Fatalf("Len = %d, want %d", n.Len(), live)
		}
	}
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testNotifier_DeliversInOrder)
}

func FuzzNotifier_DeliversInOrder(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testNotifier_DeliversInOrder))
}

// lockCheckingWriter calls onDrop for every dropped-subscriber log line.
type lockCheckingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onDrop func()
}

func (w *lockCheckingWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "subscriber_dropped") {
		w.onDrop()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *lockCheckingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestPublish_LogsDropsAfterReleasingLock(t *testing.T) {
	n := New(1)
	w := &lockCheckingWriter{onDrop: func() { _ = n.Len() }}
	restore := obs.SetOutputForTests(w)
	defer restore()

	a := n.Subscribe()
	b := n.Subscribe()
	n.Publish(Lists())

	published := make(chan struct{})
	go func() {
		defer close(published)
		n.Publish(Lists())
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish held the notifier lock while logging")
	}

	if !isDone(a) || !isDone(b) {
		t.Fatalf("both subscribers should have been dropped")
	}
	if got := strings.Count(w.String(), "subscriber_dropped"); got != 2 {
		t.Fatalf("logged %d drops, want 2", got)
	}
}
