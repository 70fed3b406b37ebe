package events

import (
	"context"

	"predictionmarket/internal/model"
)

// Publisher is the engine's sole view of its external collaborators: a
// durable queue for persistence envelopes, a client-filtered fan-out topic
// for responses, and a broadcast topic for market updates. The engine only
// requires at-least-once enqueue; it does not observe whether a consumer
// ever dequeues.
type Publisher interface {
	Persist(ctx context.Context, env PersistEnvelope) error
	Respond(ctx context.Context, env ResponseEnvelope) error
	Broadcast(ctx context.Context, update MarketUpdate) error
}

// ChannelPublisher delivers envelopes over Go channels to in-process
// collaborators (a DB-writer goroutine, a response fan-out, the ws hub).
// Each channel is buffered; a full channel stands in for a broker under
// backpressure and yields ErrBrokerUnavailable rather than blocking the
// command dispatch loop, so RetryingPublisher has something to retry.
type ChannelPublisher struct {
	persist   chan PersistEnvelope
	responses chan ResponseEnvelope
	updates   chan MarketUpdate
}

// NewChannelPublisher creates a ChannelPublisher with the given per-channel
// buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{
		persist:   make(chan PersistEnvelope, buffer),
		responses: make(chan ResponseEnvelope, buffer),
		updates:   make(chan MarketUpdate, buffer),
	}
}

func (p *ChannelPublisher) Persist(ctx context.Context, env PersistEnvelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.persist <- env:
		return nil
	default:
		return model.ErrBrokerUnavailable
	}
}

func (p *ChannelPublisher) Respond(ctx context.Context, env ResponseEnvelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.responses <- env:
		return nil
	default:
		return model.ErrBrokerUnavailable
	}
}

func (p *ChannelPublisher) Broadcast(ctx context.Context, update MarketUpdate) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.updates <- update:
		return nil
	default:
		return model.ErrBrokerUnavailable
	}
}

// Persisted exposes the persistence channel for the DB-writer collaborator.
func (p *ChannelPublisher) Persisted() <-chan PersistEnvelope { return p.persist }

// Responses exposes the response channel for the client-filtered fan-out.
func (p *ChannelPublisher) Responses() <-chan ResponseEnvelope { return p.responses }

// Updates exposes the market-updates channel for the ws hub.
func (p *ChannelPublisher) Updates() <-chan MarketUpdate { return p.updates }
