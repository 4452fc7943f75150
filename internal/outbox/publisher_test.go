package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/crdb"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	records   []crdb.OutboxRecord
	published map[uuid.UUID]time.Time
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) ClaimUnpublished(_ context.Context, limit int) ([]crdb.OutboxRecord, error) {
	var out []crdb.OutboxRecord
	for _, r := range f.records {
		if _, done := f.published[r.ID]; !done && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	f.published[id] = at
	return nil
}

type fakeBroker struct {
	failFor map[string]bool
	sent    []amqp.Publishing
}

func (b *fakeBroker) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	if b.failFor[msg.MessageId] {
		return errors.New("nack")
	}
	b.sent = append(b.sent, msg)
	return nil
}

func TestRelayBatch(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{published: map[uuid.UUID]time.Time{}}
	for i := 0; i < 3; i++ {
		id := uuid.New()
		store.records = append(store.records, crdb.OutboxRecord{
			ID: id, EventType: "booking.confirmed", Payload: []byte(`{}`), CreatedAt: created, DedupeKey: id.String(),
		})
	}
	broker := &fakeBroker{failFor: map[string]bool{store.records[1].DedupeKey: true}}

	p := NewPublisher(store, broker, observability.NewDiscardLogger())
	p.now = func() time.Time { return created.Add(time.Second) }

	n, err := p.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, broker.sent, 2)
	require.Equal(t, "booking.confirmed", broker.sent[0].Type)

	delete(broker.failFor, store.records[1].DedupeKey)
	n, err = p.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, store.published, 3)

	n, err = p.RelayBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
