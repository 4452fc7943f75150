// Package outbox relays committed outbox rows to RabbitMQ.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/crdb"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ClaimUnpublished(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo      Store
	rabbitPub Broker
	logger    observability.Logger
	batchSize int
	now       func() time.Time
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, batchSize: 50, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.RelayBatch(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox relay failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("count", n).Debug("outbox rows published")
			}
		}
	}
}

// RelayBatch publishes one batch of NEW rows. Rows stay locked until the
// batch commits, so concurrent relays skip them. A row whose publish fails
// stays NEW and is retried on the next batch.
func (p *Publisher) RelayBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(ctx context.Context) error {
		published = 0
		records, err := p.repo.ClaimUnpublished(ctx, p.batchSize)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithError(err).WithField("outbox_id", rec.ID).Warn("publish outbox row")
				continue
			}
			if err := p.repo.MarkPublished(ctx, rec.ID, p.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
