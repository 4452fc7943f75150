package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/redis"
)

// ErrInFlight is returned by Begin when the same key is being processed.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	redis   backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(redis backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status int
	Result []byte
}

// Get returns the stored response for key, or nil when there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "idempotency get")
	}
	if stored == nil {
		return nil, nil
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	err := i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
	return errors.Wrap(err, "idempotency set")
}

// Begin claims key for one request. The returned release must be called once
// the response is stored or abandoned.
func (i *Idempotency) Begin(ctx context.Context, key string) (release func(), err error) {
	ok, err := i.redis.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "idempotency lock")
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func() { _ = i.redis.Unlock(context.WithoutCancel(ctx), key) }, nil
}
