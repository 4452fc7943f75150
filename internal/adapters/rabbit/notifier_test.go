package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	attempts int
	keys     []string
	bodies   [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func TestNotifier_PublishesOncePerItem(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, observability.NewDiscardLogger())

	n.InventoryChanged(context.Background(), "a", "b", "a")
	n.Close()

	if len(pub.keys) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.keys))
	}
	var msg inventoryChanged
	if err := json.Unmarshal(pub.bodies[1], &msg); err != nil {
		t.Fatal(err)
	}
	if pub.keys[1] != KeyInventoryChanged || msg.ItemID != "b" {
		t.Fatalf("unexpected message %s %+v", pub.keys[1], msg)
	}
}

func TestNotifier_RetriesThenGivesUp(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	n := newNotifier(pub, observability.NewDiscardLogger(), time.Millisecond)
	n.InventoryChanged(context.Background(), "a")
	n.Close()
	if len(pub.keys) != 1 || pub.attempts != 3 {
		t.Fatalf("expected delivery on third attempt, got %d messages after %d attempts", len(pub.keys), pub.attempts)
	}

	pub = &fakePublisher{failures: 10}
	n = newNotifier(pub, observability.NewDiscardLogger(), time.Millisecond)
	n.InventoryChanged(context.Background(), "b")
	n.Close()
	if len(pub.keys) != 0 || pub.attempts != 3 {
		t.Fatalf("expected 3 failed attempts and no delivery, got %d messages after %d attempts", len(pub.keys), pub.attempts)
	}
}

func TestNotifier_DoesNotBlockCaller(t *testing.T) {
	pub := &fakePublisher{failures: 1 << 20}
	n := newNotifier(pub, observability.NewDiscardLogger(), 5*time.Millisecond)
	defer n.Close()

	start := time.Now()
	n.InventoryChanged(context.Background(), "a", "b", "c")
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("InventoryChanged blocked for %s", elapsed)
	}
}

func TestNotifier_CancelledCallerContextStillDelivers(t *testing.T) {
	pub := &fakePublisher{failures: 1}
	n := newNotifier(pub, observability.NewDiscardLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	n.InventoryChanged(ctx, "a")
	cancel()
	n.Close()

	if len(pub.keys) != 1 {
		t.Fatalf("expected delivery after caller cancelled, got %d", len(pub.keys))
	}
}

func TestNotifier_IgnoresNoticesAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, observability.NewDiscardLogger())
	n.Close()
	n.Close()

	n.InventoryChanged(context.Background(), "a")
	if pub.attempts != 0 {
		t.Fatalf("expected no publish after close, got %d", pub.attempts)
	}
}
