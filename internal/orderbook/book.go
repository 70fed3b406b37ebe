// Package orderbook implements the price-indexed priority structure used on
// each side (bids, asks) of a single Yes or No book. A market owns one
// OrderBook per outcome; the matching engine walks both.
package orderbook

import (
	"container/list"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"predictionmarket/internal/model"
)

func ascending(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// entry tracks where a resting order lives so cancel can find it in O(1)
// instead of scanning every level.
type entry struct {
	direction  model.Direction
	priceCents int
	elem       *list.Element
}

// OrderBook holds one side (Yes or No) of a market: bids indexed by price
// (FIFO per level) and asks indexed by price (FIFO per level). Both trees
// are kept in ascending-cents order; BestBid reads the rightmost (highest)
// key and BestAsk the leftmost (lowest).
type OrderBook struct {
	bids  *rbt.Tree[int, *list.List]
	asks  *rbt.Tree[int, *list.List]
	index map[uint64]*entry
}

// New returns an empty order book for one side of one market.
func New() *OrderBook {
	return &OrderBook{
		bids:  rbt.NewWith[int, *list.List](ascending),
		asks:  rbt.NewWith[int, *list.List](ascending),
		index: make(map[uint64]*entry),
	}
}

func (b *OrderBook) treeFor(dir model.Direction) *rbt.Tree[int, *list.List] {
	if dir == model.Buy {
		return b.bids
	}
	return b.asks
}

// Add appends order to the tail of its (direction, price) level queue,
// FIFO within a level. A duplicate order id is ignored.
func (b *OrderBook) Add(order *model.Order) {
	if _, exists := b.index[order.ID]; exists {
		return
	}
	tree := b.treeFor(order.Direction)
	level, found := tree.Get(order.PriceCents)
	if !found {
		level = list.New()
		tree.Put(order.PriceCents, level)
	}
	elem := level.PushBack(order)
	b.index[order.ID] = &entry{direction: order.Direction, priceCents: order.PriceCents, elem: elem}
}

// Remove deletes the order with the given id from the book, pruning an
// emptied level. It reports the removed order, or nil if not found.
func (b *OrderBook) Remove(orderID uint64) *model.Order {
	e, ok := b.index[orderID]
	if !ok {
		return nil
	}
	delete(b.index, orderID)
	tree := b.treeFor(e.direction)
	level, found := tree.Get(e.priceCents)
	if !found {
		return nil
	}
	order := e.elem.Value.(*model.Order)
	level.Remove(e.elem)
	if level.Len() == 0 {
		tree.Remove(e.priceCents)
	}
	return order
}

// Size returns the number of resting orders across both sides.
func (b *OrderBook) Size() int { return len(b.index) }

// BestBidCents returns the highest resting bid price, if any.
func (b *OrderBook) BestBidCents() (int, bool) {
	if b.bids.Empty() {
		return 0, false
	}
	return b.bids.Right().Key, true
}

// BestAskCents returns the lowest resting ask price, if any.
func (b *OrderBook) BestAskCents() (int, bool) {
	if b.asks.Empty() {
		return 0, false
	}
	return b.asks.Left().Key, true
}

// PeekBestAsk returns the head order of the best ask level without
// mutating the book, or nil if asks are empty.
func (b *OrderBook) PeekBestAsk() *model.Order {
	priceCents, ok := b.BestAskCents()
	if !ok {
		return nil
	}
	level, _ := b.asks.Get(priceCents)
	return level.Front().Value.(*model.Order)
}

// PeekBestBid returns the head order of the best bid level without
// mutating the book, or nil if bids are empty.
func (b *OrderBook) PeekBestBid() *model.Order {
	priceCents, ok := b.BestBidCents()
	if !ok {
		return nil
	}
	level, _ := b.bids.Get(priceCents)
	return level.Front().Value.(*model.Order)
}

// ConsumeBestAsk fills up to maxQty against the head order of the best ask
// level, rewriting it in place with reduced quantity rather than moving it
// to the tail, and pruning the level if the order is fully consumed. It
// returns the filled quantity and the consumed order's id/user for trade
// construction; ok is false if there was nothing to consume.
func (b *OrderBook) ConsumeBestAsk(maxQty uint32) (filled uint32, orderID uint64, userID uint32, ok bool) {
	return b.consumeBest(b.asks, maxQty)
}

// ConsumeBestBid is ConsumeBestAsk's mirror for the bid side.
func (b *OrderBook) ConsumeBestBid(maxQty uint32) (filled uint32, orderID uint64, userID uint32, ok bool) {
	return b.consumeBest(b.bids, maxQty)
}

func (b *OrderBook) consumeBest(tree *rbt.Tree[int, *list.List], maxQty uint32) (filled uint32, orderID uint64, userID uint32, ok bool) {
	if tree.Empty() {
		return 0, 0, 0, false
	}
	var priceCents int
	if tree == b.asks {
		priceCents = tree.Left().Key
	} else {
		priceCents = tree.Right().Key
	}
	level, _ := tree.Get(priceCents)
	head := level.Front()
	order := head.Value.(*model.Order)

	fillQty := maxQty
	if order.Quantity < fillQty {
		fillQty = order.Quantity
	}
	order.Quantity -= fillQty
	orderID, userID = order.ID, order.UserID

	if order.Quantity == 0 {
		delete(b.index, order.ID)
		level.Remove(head)
		if level.Len() == 0 {
			tree.Remove(priceCents)
		}
	}
	return fillQty, orderID, userID, true
}

// Depth returns the aggregated quantity at every resting price level, both
// sequences in ascending-cents order; callers reverse bids for display if
// they want highest-first.
func (b *OrderBook) Depth() (bids, asks []model.PriceLevel) {
	bids = levelsOf(b.bids)
	asks = levelsOf(b.asks)
	return
}

func levelsOf(tree *rbt.Tree[int, *list.List]) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, tree.Size())
	for _, priceCents := range tree.Keys() {
		level, _ := tree.Get(priceCents)
		var qty uint32
		for e := level.Front(); e != nil; e = e.Next() {
			qty += e.Value.(*model.Order).Quantity
		}
		out = append(out, model.PriceLevel{Price: model.CentsToPrice(priceCents), Quantity: qty})
	}
	return out
}

// OpenOrders returns every resting order belonging to user across both
// sides, bids then asks, preserving within-level insertion order.
func (b *OrderBook) OpenOrders(user uint32) []model.Order {
	var out []model.Order
	collect := func(tree *rbt.Tree[int, *list.List]) {
		for _, priceCents := range tree.Keys() {
			level, _ := tree.Get(priceCents)
			for e := level.Front(); e != nil; e = e.Next() {
				order := e.Value.(*model.Order)
				if order.UserID == user {
					out = append(out, *order)
				}
			}
		}
	}
	collect(b.bids)
	collect(b.asks)
	return out
}
