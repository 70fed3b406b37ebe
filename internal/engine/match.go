package engine

import (
	"predictionmarket/internal/ledger"
	"predictionmarket/internal/model"
	"predictionmarket/internal/orderbook"
)

// fillEmitter is invoked once per fill, immediately after the ledger
// transfer for that fill has committed, so the caller can persist and
// publish the trade before the matcher moves on to the next fill.
type fillEmitter func(trade model.Trade, buyUser, sellUser uint32)

// runMatcher executes the three-phase cross-book algorithm against a single
// incoming order, mutating own and counter in place and settling every fill
// against bal before returning the trades produced. It stops and returns the
// first ledger error it hits without consuming o.Quantity any further: that
// can only mean ledger corruption, since lock already reserved enough at
// place-order time.
func runMatcher(o *model.Order, own, counter *orderbook.OrderBook, bal *ledger.BalanceManager, rate float64, emit fillEmitter) ([]model.Trade, error) {
	var trades []model.Trade

	if err := phaseA(o, own, bal, rate, &trades, emit); err != nil {
		return trades, err
	}
	if err := phaseB(o, counter, bal, rate, &trades, emit); err != nil {
		return trades, err
	}
	if err := phaseC(o, counter, bal, rate, &trades, emit); err != nil {
		return trades, err
	}
	return trades, nil
}

func settle(bal *ledger.BalanceManager, buyUser, sellUser uint32, priceCents int, qty uint32, rate float64) error {
	amount := model.CentsToPrice(priceCents).InexactFloat64() * float64(qty)
	if err := bal.Deduct(buyUser, amount, rate); err != nil {
		return err
	}
	bal.Credit(sellUser, amount)
	return nil
}

// phaseA matches O directly against its own side's book: Buy consumes asks
// at or below P, Sell consumes bids at or above P, executing at the resting
// order's price.
func phaseA(o *model.Order, own *orderbook.OrderBook, bal *ledger.BalanceManager, rate float64, trades *[]model.Trade, emit fillEmitter) error {
	if o.Direction == model.Buy {
		for o.Quantity > 0 {
			askCents, ok := own.BestAskCents()
			if !ok || askCents > o.PriceCents {
				break
			}
			filled, restID, restUser, ok := own.ConsumeBestAsk(o.Quantity)
			if !ok {
				break
			}
			if err := settle(bal, o.UserID, restUser, askCents, filled, rate); err != nil {
				return err
			}
			trade := model.NewTrade(o.ID, restID, o.MarketID, o.Side, askCents, filled)
			*trades = append(*trades, trade)
			emit(trade, o.UserID, restUser)
			o.Quantity -= filled
		}
		return nil
	}
	for o.Quantity > 0 {
		bidCents, ok := own.BestBidCents()
		if !ok || bidCents < o.PriceCents {
			break
		}
		filled, restID, restUser, ok := own.ConsumeBestBid(o.Quantity)
		if !ok {
			break
		}
		if err := settle(bal, restUser, o.UserID, bidCents, filled, rate); err != nil {
			return err
		}
		trade := model.NewTrade(restID, o.ID, o.MarketID, o.Side, bidCents, filled)
		*trades = append(*trades, trade)
		emit(trade, restUser, o.UserID)
		o.Quantity -= filled
	}
	return nil
}

// phaseB matches O against the opposite-side book's opposite direction
// (Buy consumes counter asks, Sell consumes counter bids), thresholded by
// the complement price P̄, executing at O's own price P.
func phaseB(o *model.Order, counter *orderbook.OrderBook, bal *ledger.BalanceManager, rate float64, trades *[]model.Trade, emit fillEmitter) error {
	pBar := model.ComplementCentsOf(o.PriceCents)
	if o.Direction == model.Buy {
		for o.Quantity > 0 {
			askCents, ok := counter.BestAskCents()
			if !ok || askCents > pBar {
				break
			}
			filled, restID, restUser, ok := counter.ConsumeBestAsk(o.Quantity)
			if !ok {
				break
			}
			if err := settle(bal, o.UserID, restUser, o.PriceCents, filled, rate); err != nil {
				return err
			}
			trade := model.NewTrade(o.ID, restID, o.MarketID, o.Side, o.PriceCents, filled)
			*trades = append(*trades, trade)
			emit(trade, o.UserID, restUser)
			o.Quantity -= filled
		}
		return nil
	}
	for o.Quantity > 0 {
		bidCents, ok := counter.BestBidCents()
		if !ok || bidCents < pBar {
			break
		}
		filled, restID, restUser, ok := counter.ConsumeBestBid(o.Quantity)
		if !ok {
			break
		}
		if err := settle(bal, restUser, o.UserID, o.PriceCents, filled, rate); err != nil {
			return err
		}
		trade := model.NewTrade(restID, o.ID, o.MarketID, o.Side, o.PriceCents, filled)
		*trades = append(*trades, trade)
		emit(trade, restUser, o.UserID)
		o.Quantity -= filled
	}
	return nil
}

// phaseC matches O against the opposite-side book's same direction as O
// (the same-type cross: a Yes-Buy clears against resting No-Buy interest),
// also thresholded by P̄ and executed at P.
func phaseC(o *model.Order, counter *orderbook.OrderBook, bal *ledger.BalanceManager, rate float64, trades *[]model.Trade, emit fillEmitter) error {
	pBar := model.ComplementCentsOf(o.PriceCents)
	if o.Direction == model.Buy {
		for o.Quantity > 0 {
			bidCents, ok := counter.BestBidCents()
			if !ok || bidCents < pBar {
				break
			}
			filled, restID, restUser, ok := counter.ConsumeBestBid(o.Quantity)
			if !ok {
				break
			}
			if err := settle(bal, o.UserID, restUser, o.PriceCents, filled, rate); err != nil {
				return err
			}
			trade := model.NewTrade(o.ID, restID, o.MarketID, o.Side, o.PriceCents, filled)
			*trades = append(*trades, trade)
			emit(trade, o.UserID, restUser)
			o.Quantity -= filled
		}
		return nil
	}
	for o.Quantity > 0 {
		askCents, ok := counter.BestAskCents()
		if !ok || askCents > pBar {
			break
		}
		filled, restID, restUser, ok := counter.ConsumeBestAsk(o.Quantity)
		if !ok {
			break
		}
		if err := settle(bal, restUser, o.UserID, o.PriceCents, filled, rate); err != nil {
			return err
		}
		trade := model.NewTrade(restID, o.ID, o.MarketID, o.Side, o.PriceCents, filled)
		*trades = append(*trades, trade)
		emit(trade, restUser, o.UserID)
		o.Quantity -= filled
	}
	return nil
}
