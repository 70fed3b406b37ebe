// Package engine implements the matching subsystem: coupled Yes/No order
// books per market, the three-phase cross-book matcher, and the balance
// ledger, all mutated only from a single serialized command loop.
package engine

import (
	"context"
	"log"
	"time"

	"predictionmarket/internal/events"
	"predictionmarket/internal/ledger"
	"predictionmarket/internal/model"
	"predictionmarket/internal/orderbook"
)

// DefaultCommissionRate is the reference commission, charged on the payer
// of the principal on every fill.
const DefaultCommissionRate = 0.0223

// Market is one question's coupled pair of order books.
type Market struct {
	ID        string
	Question  string
	CreatedAt time.Time
	YesBook   *orderbook.OrderBook
	NoBook    *orderbook.OrderBook
}

func newMarket(id, question string) *Market {
	return &Market{
		ID:        id,
		Question:  question,
		CreatedAt: time.Now(),
		YesBook:   orderbook.New(),
		NoBook:    orderbook.New(),
	}
}

// books returns (own, counter) for a side: own is the book the order rests
// on, counter is the opposite outcome's book phases B and C walk.
func (mk *Market) books(side model.Side) (own, counter *orderbook.OrderBook) {
	if side == model.SideYes {
		return mk.YesBook, mk.NoBook
	}
	return mk.NoBook, mk.YesBook
}

// Manager owns every market, the shared ledger, and the order-id counter:
// the engine's entire mutable state. All of it is touched only from the
// single goroutine draining cmds, which is what gives the engine its
// serialization guarantee without a lock hierarchy.
type Manager struct {
	markets        map[string]*Market
	balances       *ledger.BalanceManager
	nextOrderID    uint64
	commissionRate float64
	pub            events.Publisher

	cmds chan func()
	quit chan struct{}
}

// NewManager starts a Manager with its command loop running, publishing
// through pub.
func NewManager(pub events.Publisher) *Manager {
	return newManager(pub, ledger.New())
}

// NewManagerWithBalances starts a Manager over a caller-supplied
// BalanceManager, for test harnesses that need a seeded bootstrap balance
// rather than the production (0, 0) default.
func NewManagerWithBalances(pub events.Publisher, bal *ledger.BalanceManager) *Manager {
	return newManager(pub, bal)
}

func newManager(pub events.Publisher, bal *ledger.BalanceManager) *Manager {
	m := &Manager{
		markets:        make(map[string]*Market),
		balances:       bal,
		commissionRate: DefaultCommissionRate,
		pub:            pub,
		cmds:           make(chan func()),
		quit:           make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the command loop. A command already executing runs to
// completion; commands not yet dequeued are not run.
func (m *Manager) Close() {
	close(m.quit)
}

func (m *Manager) run() {
	for {
		select {
		case fn := <-m.cmds:
			fn()
		case <-m.quit:
			return
		}
	}
}

// do serializes fn behind the single command-dispatch point: no two calls
// to do ever execute concurrently, and each runs to completion before the
// next is dequeued.
func (m *Manager) do(fn func()) {
	done := make(chan struct{})
	m.cmds <- func() {
		defer close(done)
		fn()
	}
	<-done
}

func (m *Manager) persist(ctx context.Context, env events.PersistEnvelope) {
	if err := m.pub.Persist(ctx, env); err != nil {
		log.Printf("[engine] persist %s dropped: %v", env.Kind, err)
	}
}

func (m *Manager) respond(ctx context.Context, env events.ResponseEnvelope) {
	if err := m.pub.Respond(ctx, env); err != nil {
		log.Printf("[engine] response %s dropped: %v", env.Kind, err)
	}
}

func (m *Manager) broadcast(ctx context.Context, update events.MarketUpdate) {
	if err := m.pub.Broadcast(ctx, update); err != nil {
		log.Printf("[engine] broadcast %s dropped: %v", update.Kind, err)
	}
}

// CreateMarket inserts a fresh (YesBook, NoBook) pair under market-id, or
// fails with ErrMarketExists.
func (m *Manager) CreateMarket(ctx context.Context, marketID, question, clientID string) error {
	var retErr error
	m.do(func() {
		if _, exists := m.markets[marketID]; exists {
			retErr = model.ErrMarketExists
			return
		}
		mk := newMarket(marketID, question)
		m.markets[marketID] = mk

		m.persist(ctx, events.PersistEnvelope{
			Kind:   events.SaveMarket,
			Market: &model.Market{ID: mk.ID, Question: mk.Question, CreatedAt: mk.CreatedAt},
		})
		m.respond(ctx, events.ResponseEnvelope{
			Kind: events.MarketCreated, ClientID: clientID, MarketID: marketID,
		})
	})
	return retErr
}

// PlaceOrder validates, locks, allocates an id, runs the three-phase
// matcher, rests any residual quantity, and emits the full place-order
// event sequence.
func (m *Manager) PlaceOrder(ctx context.Context, userID uint32, marketID string, side model.Side, dir model.Direction, price float64, quantity uint32, clientID string) (*model.Order, []model.Trade, error) {
	priceCents := model.PriceToCents(price)
	if !model.ValidPriceCents(priceCents) {
		return nil, nil, model.ErrInvalidPrice
	}
	if quantity == 0 {
		return nil, nil, model.ErrInvalidQuantity
	}

	var (
		order  *model.Order
		trades []model.Trade
		retErr error
	)

	m.do(func() {
		mk, ok := m.markets[marketID]
		if !ok {
			retErr = model.ErrMarketNotFound
			return
		}

		amount := price * float64(quantity)
		if dir == model.Buy {
			if err := m.balances.Check(userID, amount, m.commissionRate); err != nil {
				retErr = err
				return
			}
			if err := m.balances.Lock(userID, amount); err != nil {
				retErr = err
				return
			}
		}

		m.nextOrderID++
		o := model.NewOrder(m.nextOrderID, userID, marketID, side, dir, priceCents, quantity)

		own, counter := mk.books(side)
		emit := func(trade model.Trade, buyUser, sellUser uint32) {
			m.persist(ctx, events.PersistEnvelope{Kind: events.UpdateBalance, UserID: buyUser, Balance: balancePtr(m.balances.Get(buyUser))})
			m.persist(ctx, events.PersistEnvelope{Kind: events.UpdateBalance, UserID: sellUser, Balance: balancePtr(m.balances.Get(sellUser))})
			m.persist(ctx, events.PersistEnvelope{Kind: events.SaveTrade, Trade: &trade})
			m.respond(ctx, events.ResponseEnvelope{Kind: events.OrderMatched, ClientID: clientID, Trade: &trade})
		}

		ts, err := runMatcher(o, own, counter, m.balances, m.commissionRate, emit)
		if err != nil {
			// Ledger corruption mid-match: the command is fatal, the
			// residual quantity is not inserted on the book.
			retErr = err
			return
		}
		trades = ts

		if o.Quantity > 0 {
			o.Status = model.StatusOpen
			own.Add(o)
			m.persist(ctx, events.PersistEnvelope{Kind: events.SaveOrder, Order: o})
		} else {
			o.Status = model.StatusFilled
		}
		order = o

		m.respond(ctx, events.ResponseEnvelope{Kind: events.OrderPlaced, ClientID: clientID, Order: o})

		depth := m.depthPayload(mk)
		m.respond(ctx, events.ResponseEnvelope{Kind: events.Depth, ClientID: clientID, MarketID: marketID, Depth: &depth})

		bookBids, bookAsks := own.Depth()
		m.broadcast(ctx, events.MarketUpdate{Kind: events.UpdateDepth, MarketID: marketID, Bids: bookBids, Asks: bookAsks})

		if len(trades) > 0 {
			last := trades[len(trades)-1]
			lastPrice := model.CentsToPrice(last.PriceCents)
			m.broadcast(ctx, events.MarketUpdate{Kind: events.UpdatePrice, MarketID: marketID, Side: side, Price: &lastPrice})
			for i := range trades {
				m.broadcast(ctx, events.MarketUpdate{Kind: events.UpdateTrade, MarketID: marketID, Trade: &trades[i]})
			}
		}
	})

	return order, trades, retErr
}

// CancelOrder removes a resting order and unlocks any remaining locked
// funds for a Buy. A not-found order is a no-op on the book that still
// emits OrderCancelled.
func (m *Manager) CancelOrder(ctx context.Context, marketID string, side model.Side, dir model.Direction, price float64, orderID uint64, clientID string) error {
	priceCents := model.PriceToCents(price)
	var retErr error
	m.do(func() {
		mk, ok := m.markets[marketID]
		if !ok {
			retErr = model.ErrMarketNotFound
			return
		}
		book, _ := mk.books(side)

		removed := book.Remove(orderID)
		if removed != nil && dir == model.Buy {
			amount := model.CentsToPrice(priceCents).InexactFloat64() * float64(removed.Quantity)
			if err := m.balances.Unlock(removed.UserID, amount); err != nil {
				retErr = err
				return
			}
			m.persist(ctx, events.PersistEnvelope{Kind: events.UpdateBalance, UserID: removed.UserID, Balance: balancePtr(m.balances.Get(removed.UserID))})
		}

		m.respond(ctx, events.ResponseEnvelope{Kind: events.OrderCancelled, ClientID: clientID, OrderID: orderID, MarketID: marketID})
	})
	return retErr
}

// GetOpenOrders returns every resting order belonging to user across both
// of the market's books.
func (m *Manager) GetOpenOrders(ctx context.Context, userID uint32, marketID, clientID string) ([]model.Order, error) {
	var (
		orders []model.Order
		retErr error
	)
	m.do(func() {
		mk, ok := m.markets[marketID]
		if !ok {
			retErr = model.ErrMarketNotFound
			return
		}
		orders = append(mk.YesBook.OpenOrders(userID), mk.NoBook.OpenOrders(userID)...)
		m.respond(ctx, events.ResponseEnvelope{Kind: events.OpenOrders, ClientID: clientID, Orders: orders})
	})
	return orders, retErr
}

// GetDepth returns the four-sided depth snapshot for a market.
func (m *Manager) GetDepth(ctx context.Context, marketID, clientID string) (events.DepthPayload, error) {
	var (
		depth  events.DepthPayload
		retErr error
	)
	m.do(func() {
		mk, ok := m.markets[marketID]
		if !ok {
			retErr = model.ErrMarketNotFound
			return
		}
		depth = m.depthPayload(mk)
		m.respond(ctx, events.ResponseEnvelope{Kind: events.Depth, ClientID: clientID, MarketID: marketID, Depth: &depth})
	})
	return depth, retErr
}

func (m *Manager) depthPayload(mk *Market) events.DepthPayload {
	yesBids, yesAsks := mk.YesBook.Depth()
	noBids, noAsks := mk.NoBook.Depth()
	return events.DepthPayload{
		MarketID: mk.ID,
		YesBids:  yesBids,
		YesAsks:  yesAsks,
		NoBids:   noBids,
		NoAsks:   noAsks,
	}
}

func balancePtr(b model.Balance) *model.Balance { return &b }
