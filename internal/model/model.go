// Package model holds the value types shared by the matching engine, the
// ledger, and the external collaborators (HTTP/WS front-end, DB writer).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is which outcome an order is for.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Direction is whether an order is a Buy or a Sell of its Side's shares.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// OrderStatus tracks an order through its state machine: Open -> {Filled,
// Cancelled}. Partial fills keep an order Open with decreased quantity.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// ComplementCents is C expressed in cents: a full Yes+No pair redeems for
// this many cents. C = 10.0 in the reference.
const ComplementCents = 1000

// MinPriceCents and MaxPriceCents bound the valid entry price range,
// 0.5 <= price <= 9.5.
const (
	MinPriceCents = 50
	MaxPriceCents = 950
)

// PriceToCents converts a decimal price to the integer-cent domain used for
// all book keys and comparisons, so prices never drift under float math.
func PriceToCents(price float64) int {
	return int(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// CentsToPrice converts an integer-cent price back to a 2-decimal-place
// decimal value suitable for wire encoding.
func CentsToPrice(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).DivRound(decimal.NewFromInt(100), 2)
}

// ComplementCentsOf returns C - priceCents, the complement price used by
// phases B and C of the matcher.
func ComplementCentsOf(priceCents int) int {
	return ComplementCents - priceCents
}

// ValidPriceCents reports whether a cent price falls in the valid entry
// range (0.5, 9.5) inclusive at the cent grid.
func ValidPriceCents(cents int) bool {
	return cents >= MinPriceCents && cents <= MaxPriceCents
}

// Market is created once and referenced by id for the life of the engine.
type Market struct {
	ID        string    `json:"market_id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is a resting or just-matched limit order. Quantity reflects the
// post-match remaining amount once the matcher has run.
type Order struct {
	ID         uint64          `json:"id"`
	UserID     uint32          `json:"user_id"`
	MarketID   string          `json:"market_id"`
	Side       Side            `json:"side"`
	Direction  Direction       `json:"direction"`
	PriceCents int             `json:"-"`
	Price      decimal.Decimal `json:"price"`
	Quantity   uint32          `json:"quantity"`
	Status     OrderStatus     `json:"status"`
	Timestamp  int64           `json:"timestamp"`
}

// NewOrder builds an Order with the current timestamp and derived decimal
// price, mirroring the reference constructor.
func NewOrder(id uint64, userID uint32, marketID string, side Side, dir Direction, priceCents int, quantity uint32) *Order {
	return &Order{
		ID:         id,
		UserID:     userID,
		MarketID:   marketID,
		Side:       side,
		Direction:  dir,
		PriceCents: priceCents,
		Price:      CentsToPrice(priceCents),
		Quantity:   quantity,
		Status:     StatusOpen,
		Timestamp:  time.Now().Unix(),
	}
}

// Trade is an immutable record of one fill produced by the matcher.
type Trade struct {
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	MarketID    string          `json:"market_id"`
	Side        Side            `json:"side"`
	PriceCents  int             `json:"-"`
	Price       decimal.Decimal `json:"price"`
	Quantity    uint32          `json:"quantity"`
	Timestamp   int64           `json:"timestamp"`
}

// NewTrade builds a Trade at the given cent price, stamped with the current
// time, matching the reference's per-fill trade construction.
func NewTrade(buyOrderID, sellOrderID uint64, marketID string, side Side, priceCents int, quantity uint32) Trade {
	return Trade{
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		MarketID:    marketID,
		Side:        side,
		PriceCents:  priceCents,
		Price:       CentsToPrice(priceCents),
		Quantity:    quantity,
		Timestamp:   time.Now().Unix(),
	}
}

// PriceLevel is one aggregated depth entry: a price and the summed resting
// quantity across all orders at that price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity uint32          `json:"quantity"`
}

// Balance is the (available, locked) pair tracked per user by the ledger.
type Balance struct {
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}
