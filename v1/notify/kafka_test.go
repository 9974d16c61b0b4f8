package notify

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Kafka has no embeddable broker, so these tests run only against a real one
// named by DLOCK_TEST_KAFKA_ADDR.
func newKafkaBus(t *testing.T) *KafkaBus {
	t.Helper()
	addr := os.Getenv("DLOCK_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("DLOCK_TEST_KAFKA_ADDR not set")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	bus, err := NewKafkaBus([]string{addr}, cfg)
	if err != nil {
		t.Fatalf("new kafka bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestKafkaBusNilConfig(t *testing.T) {
	// No broker listens on port 1: the dial fails, but a nil cfg must take
	// the sarama defaults instead of panicking.
	if _, err := NewKafkaBus([]string{"127.0.0.1:1"}, nil); err == nil {
		t.Fatal("expected a connection error")
	}
}

func TestKafkaPublishSubscribe(t *testing.T) {
	bus := newKafkaBus(t)
	ctx := context.Background()
	topic := "dlock-test-" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Give the partition consumer time to attach.
	time.Sleep(2 * time.Second)

	if err := bus.Publish(ctx, topic); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("subscriber never woke")
	}
	if m := bus.Metrics(); m.Published != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}
