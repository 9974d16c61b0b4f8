// Package notify carries best-effort lock release announcements between
// processes so blocked acquirers can retry before their backoff timers fire.
// It is an optimization only: the lock protocol stays correct with pure
// backoff, and a lost announcement merely delays a waiter until its next
// attempt.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is the pub/sub contract used to propagate release events across
// processes. Delivery is at-most-once per waiting subscriber.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// subscriberSet is the per-key channel bookkeeping shared by every Bus
// implementation. Delivery never blocks: each subscriber channel has one
// slot and further signals are dropped, since a single pending wake-up
// already carries all the information a waiter needs.
type subscriberSet struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	delivered uint64
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[string][]chan struct{})}
}

func (s *subscriberSet) add(key string) chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[key] = append(s.subs[key], ch)
	s.mu.Unlock()
	return ch
}

// remove drops ch from key's subscribers and reports whether that was the
// last one, closing ch so a ranging waiter terminates.
func (s *subscriberSet) remove(key string, ch chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.subs[key]
	for i, c := range chans {
		if c == ch {
			chans[i] = chans[len(chans)-1]
			chans = chans[:len(chans)-1]
			close(c)
			break
		}
	}
	if len(chans) == 0 {
		delete(s.subs, key)
		return true
	}
	s.subs[key] = chans
	return false
}

// notify delivers under the lock: remove closes channels while holding it,
// so sending outside would race a send against a close. The sends are
// non-blocking, so holding the mutex across them is cheap.
func (s *subscriberSet) notify(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[key] {
		select {
		case ch <- struct{}{}:
			atomic.AddUint64(&s.delivered, 1)
		default:
		}
	}
}

// Metrics reports publish and delivery counts for a Bus.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a Bus for single-process use and tests.
type InMemoryBus struct {
	set       *subscriberSet
	published uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{set: newSubscriberSet()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	atomic.AddUint64(&b.published, 1)
	b.set.notify(key)
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is
// cancelled or Unsubscribe is called, whichever comes first.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := b.set.add(key)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.set.remove(key, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.set.delivered),
	}
}
