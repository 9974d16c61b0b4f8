package notify

import (
	"context"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
	uuid "github.com/hashicorp/go-uuid"
)

// KafkaBus is a Bus backed by Kafka, one topic per lock key. Announcements
// are tiny and frequent-ish, so the producer runs synchronously and
// consumers tail only new offsets; history is irrelevant to a waiter.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	origin   string

	mu        sync.Mutex
	remote    map[string]sarama.PartitionConsumer
	set       *subscriberSet
	published uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers. A nil
// cfg gets sarama defaults; either way Producer.Return.Successes is forced
// on, which the synchronous producer requires.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	origin, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		origin:   origin,
		remote:   make(map[string]sarama.PartitionConsumer),
		set:      newSubscriberSet(),
	}, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string) error {
	b.set.notify(key)
	msg := &sarama.ProducerMessage{Topic: key, Value: sarama.StringEncoder(b.origin)}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	b.mu.Lock()
	if _, ok := b.remote[key]; !ok {
		pc, err := b.consumer.ConsumePartition(key, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.remote[key] = pc
		go b.dispatch(pc, key)
	}
	b.mu.Unlock()

	ch := b.set.add(key)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer, key string) {
	for msg := range pc.Messages() {
		if string(msg.Value) == b.origin {
			continue // delivered locally at publish time
		}
		b.set.notify(key)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if !b.set.remove(key, ch) {
		return nil
	}
	b.mu.Lock()
	pc := b.remote[key]
	delete(b.remote, key)
	b.mu.Unlock()
	if pc != nil {
		return pc.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.set.delivered),
	}
}

// Close releases producer and consumer resources.
func (b *KafkaBus) Close() {
	_ = b.producer.Close()
	_ = b.consumer.Close()
}
