// Package dispatcher drains the inbound command queue and is the sole
// caller of mutating engine operations: it never runs two commands
// concurrently, and it turns every engine error into an Error response
// envelope rather than propagating it.
package dispatcher

import (
	"context"
	"errors"
	"log"

	"predictionmarket/internal/engine"
	"predictionmarket/internal/events"
	"predictionmarket/internal/model"
	"predictionmarket/internal/queue"
)

// Dispatcher reads Commands off a Queue and invokes the corresponding
// Manager operation.
type Dispatcher struct {
	manager *engine.Manager
	pub     events.Publisher
	queue   queue.Queue
}

// New builds a Dispatcher over manager and queue, publishing Error
// envelopes for failed commands through pub.
func New(manager *engine.Manager, pub events.Publisher, q queue.Queue) *Dispatcher {
	return &Dispatcher{manager: manager, pub: pub, queue: q}
}

// Run drains the queue until ctx is cancelled. Each command runs to
// completion before the next is popped: the dispatcher itself adds no
// concurrency beyond what Manager already serializes internally.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue.Pop():
			d.process(ctx, cmd)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, cmd queue.Command) {
	var err error
	switch cmd.Kind {
	case queue.CreateMarket:
		err = d.manager.CreateMarket(ctx, cmd.MarketID, cmd.Question, cmd.ClientID)
	case queue.CreateOrder:
		_, _, err = d.manager.PlaceOrder(ctx, cmd.UserID, cmd.MarketID, cmd.Side, cmd.Direction, cmd.Price, cmd.Quantity, cmd.ClientID)
	case queue.CancelOrder:
		err = d.manager.CancelOrder(ctx, cmd.MarketID, cmd.Side, cmd.Direction, cmd.Price, cmd.OrderID, cmd.ClientID)
	case queue.GetOpenOrders:
		_, err = d.manager.GetOpenOrders(ctx, cmd.UserID, cmd.MarketID, cmd.ClientID)
	case queue.GetDepth:
		_, err = d.manager.GetDepth(ctx, cmd.MarketID, cmd.ClientID)
	default:
		err = errors.New("unknown command kind: " + string(cmd.Kind))
	}

	if err != nil {
		log.Printf("[dispatcher] %s failed: %v", cmd.Kind, err)
		if perr := d.pub.Respond(ctx, events.ResponseEnvelope{
			Kind:     events.ErrorResponse,
			ClientID: cmd.ClientID,
			Message:  errMessage(err),
		}); perr != nil {
			log.Printf("[dispatcher] failed to publish error response: %v", perr)
		}
	}
}

func errMessage(err error) string {
	for _, known := range []error{
		model.ErrInvalidPrice, model.ErrInvalidQuantity, model.ErrInvalidSide,
		model.ErrInvalidDirection, model.ErrMarketExists, model.ErrMarketNotFound,
		model.ErrOrderNotFound, model.ErrInsufficientFunds, model.ErrInsufficientLocked,
		model.ErrBrokerUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
