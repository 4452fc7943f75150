package rabbit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

const KeyInventoryChanged = "inventory.changed"

const notifyQueueSize = 256

type publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type notice struct {
	ctx    context.Context
	itemID string
	at     time.Time
}

// Notifier publishes inventory.changed messages from a single background
// worker. Callers never wait on the broker: notices are queued, retried a
// few times, then logged. A full queue drops the notice.
type Notifier struct {
	pub        publisher
	logger     observability.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan notice
	done   chan struct{}
}

func NewNotifier(pub publisher, logger observability.Logger) *Notifier {
	return newNotifier(pub, logger, 100*time.Millisecond)
}

func newNotifier(pub publisher, logger observability.Logger, backoff time.Duration) *Notifier {
	n := &Notifier{
		pub:        pub,
		logger:     logger,
		maxRetries: 3,
		backoff:    backoff,
		now:        time.Now,
		queue:      make(chan notice, notifyQueueSize),
		done:       make(chan struct{}),
	}
	go n.run()
	return n
}

type inventoryChanged struct {
	ItemID    string    `json:"item_id"`
	ChangedAt time.Time `json:"changed_at"`
}

func (n *Notifier) InventoryChanged(ctx context.Context, itemIDs ...string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	detached := context.WithoutCancel(ctx)
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		select {
		case n.queue <- notice{ctx: detached, itemID: id, at: n.now().UTC()}:
		default:
			n.logger.WithField("item_id", id).Warn("notify queue full, inventory.changed dropped")
		}
	}
}

// Close stops accepting notices and waits for queued ones to be handled.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for nt := range n.queue {
		body, err := json.Marshal(inventoryChanged{ItemID: nt.itemID, ChangedAt: nt.at})
		if err != nil {
			n.logger.WithError(err).Error("marshal inventory.changed")
			continue
		}
		msg := amqp.Publishing{
			MessageId:   uuid.New().String(),
			ContentType: "application/json",
			Body:        body,
		}
		if err := n.publishWithRetry(nt.ctx, KeyInventoryChanged, msg); err != nil {
			n.logger.WithError(err).WithField("item_id", nt.itemID).Warn("inventory.changed not delivered")
		}
	}
}

func (n *Notifier) publishWithRetry(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for i := 0; i < n.maxRetries; i++ {
		if err = n.pub.Publish(ctx, key, msg); err == nil {
			return nil
		}
		observability.RabbitPublishRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff << i):
		}
	}
	return err
}
