package events

import (
	"context"
	"errors"
	"log"
	"time"

	"predictionmarket/internal/model"
)

// retryBackoff is the pause before the single bounded retry on a transient
// broker failure.
var retryBackoff = time.Second

// RetryingPublisher wraps a Publisher with the engine's transient-failure
// policy: on ErrBrokerUnavailable, sleep once and retry once; if that also
// fails, log and drop the envelope without surfacing an error to the
// caller. The engine's state change already committed by the time any
// envelope is published, so a dropped event never causes a rollback.
type RetryingPublisher struct {
	next Publisher
}

// NewRetryingPublisher wraps next with the bounded-retry policy.
func NewRetryingPublisher(next Publisher) *RetryingPublisher {
	return &RetryingPublisher{next: next}
}

func (r *RetryingPublisher) Persist(ctx context.Context, env PersistEnvelope) error {
	return withRetry(ctx, "persist", func() error { return r.next.Persist(ctx, env) })
}

func (r *RetryingPublisher) Respond(ctx context.Context, env ResponseEnvelope) error {
	return withRetry(ctx, "respond", func() error { return r.next.Respond(ctx, env) })
}

func (r *RetryingPublisher) Broadcast(ctx context.Context, update MarketUpdate) error {
	return withRetry(ctx, "broadcast", func() error { return r.next.Broadcast(ctx, update) })
}

func withRetry(ctx context.Context, op string, send func() error) error {
	err := send()
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrBrokerUnavailable) {
		return err
	}
	log.Printf("[events] %s: broker unavailable, retrying in %s", op, retryBackoff)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := send(); err != nil {
		log.Printf("[events] %s: broker unavailable after retry, dropping event: %v", op, err)
		return nil
	}
	return nil
}
