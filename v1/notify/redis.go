package notify

import (
	"context"
	"sync"
	"sync/atomic"

	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisBus is a Bus backed by Redis pub/sub. Local subscribers are notified
// synchronously on Publish; the message payload carries the publishing
// instance's origin ID so its own copy coming back from the server is
// skipped instead of waking local waiters twice.
type RedisBus struct {
	client *redis.Client
	origin string

	mu        sync.Mutex
	remote    map[string]*redis.PubSub
	set       *subscriberSet
	published uint64
}

// NewRedisBus returns a new RedisBus using the provided client. The client's
// lifecycle stays with the caller.
func NewRedisBus(client *redis.Client) (*RedisBus, error) {
	origin, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return &RedisBus{
		client: client,
		origin: origin,
		remote: make(map[string]*redis.PubSub),
		set:    newSubscriberSet(),
	}, nil
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	b.set.notify(key)
	if err := b.client.Publish(ctx, key, b.origin).Err(); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber for a key opens
// the server-side subscription; later ones share it.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	b.mu.Lock()
	if _, ok := b.remote[key]; !ok {
		ps := b.client.Subscribe(context.Background(), key)
		// Force the SUBSCRIBE round trip so a failure surfaces here
		// rather than silently in the dispatch loop.
		if _, err := ps.Receive(ctx); err != nil {
			b.mu.Unlock()
			_ = ps.Close()
			return nil, err
		}
		b.remote[key] = ps
		go b.dispatch(ps, key)
	}
	b.mu.Unlock()

	ch := b.set.add(key)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(ps *redis.PubSub, key string) {
	for msg := range ps.Channel() {
		if msg.Payload == b.origin {
			continue // delivered locally at publish time
		}
		b.set.notify(key)
	}
}

// Unsubscribe implements Bus.Unsubscribe, closing the server-side
// subscription when the last local waiter for the key is gone.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if !b.set.remove(key, ch) {
		return nil
	}
	b.mu.Lock()
	ps := b.remote[key]
	delete(b.remote, key)
	b.mu.Unlock()
	if ps != nil {
		return ps.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.set.delivered),
	}
}
