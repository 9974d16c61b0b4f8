package notify

import (
	"context"
	"sync"
	"sync/atomic"

	uuid "github.com/hashicorp/go-uuid"
	nats "github.com/nats-io/nats.go"
)

// NATSBus is a Bus backed by NATS core pub/sub. Like RedisBus, local
// subscribers are woken at publish time and the origin ID in the payload
// suppresses the echoed copy.
type NATSBus struct {
	conn   *nats.Conn
	origin string

	mu        sync.Mutex
	remote    map[string]*nats.Subscription
	set       *subscriberSet
	published uint64
}

// NewNATSBus returns a new NATSBus using the provided connection. The
// connection's lifecycle stays with the caller.
func NewNATSBus(conn *nats.Conn) (*NATSBus, error) {
	origin, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return &NATSBus{
		conn:   conn,
		origin: origin,
		remote: make(map[string]*nats.Subscription),
		set:    newSubscriberSet(),
	}, nil
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	b.set.notify(key)
	if err := b.conn.Publish(key, []byte(b.origin)); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	b.mu.Lock()
	if _, ok := b.remote[key]; !ok {
		sub, err := b.conn.Subscribe(key, func(msg *nats.Msg) {
			if string(msg.Data) == b.origin {
				return // delivered locally at publish time
			}
			b.set.notify(key)
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.remote[key] = sub
	}
	b.mu.Unlock()

	ch := b.set.add(key)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if !b.set.remove(key, ch) {
		return nil
	}
	b.mu.Lock()
	sub := b.remote[key]
	delete(b.remote, key)
	b.mu.Unlock()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.set.delivered),
	}
}
