// Package events defines the outbound envelope families the engine emits
// (persist, client-filtered response, broadcast market update) and the
// Publisher that delivers them to external collaborators.
package events

import (
	"github.com/shopspring/decimal"

	"predictionmarket/internal/model"
)

// PersistKind tags a PersistEnvelope's payload variant.
type PersistKind string

const (
	SaveOrder     PersistKind = "SAVE_ORDER"
	SaveTrade     PersistKind = "SAVE_TRADE"
	SaveMarket    PersistKind = "SAVE_MARKET"
	UpdateBalance PersistKind = "UPDATE_BALANCE"
)

// PersistEnvelope is pushed to the DB-writer queue.
type PersistEnvelope struct {
	Kind    PersistKind     `json:"kind"`
	Order   *model.Order    `json:"order,omitempty"`
	Trade   *model.Trade    `json:"trade,omitempty"`
	Market  *model.Market   `json:"market,omitempty"`
	UserID  uint32          `json:"user_id,omitempty"`
	Balance *model.Balance  `json:"balance,omitempty"`
}

// ResponseKind tags a ResponseEnvelope's payload variant.
type ResponseKind string

const (
	OrderPlaced    ResponseKind = "ORDER_PLACED"
	OrderMatched   ResponseKind = "ORDER_MATCHED"
	OrderCancelled ResponseKind = "ORDER_CANCELLED"
	OpenOrders     ResponseKind = "OPEN_ORDERS"
	Depth          ResponseKind = "DEPTH"
	MarketCreated  ResponseKind = "MARKET_CREATED"
	ErrorResponse  ResponseKind = "ERROR"
)

// DepthPayload is the per-market four-sided book snapshot returned by
// get-depth.
type DepthPayload struct {
	MarketID string             `json:"market_id"`
	YesBids  []model.PriceLevel `json:"yes_bids"`
	YesAsks  []model.PriceLevel `json:"yes_asks"`
	NoBids   []model.PriceLevel `json:"no_bids"`
	NoAsks   []model.PriceLevel `json:"no_asks"`
}

// ResponseEnvelope is published to the client-filtered fan-out topic.
type ResponseEnvelope struct {
	Kind     ResponseKind  `json:"kind"`
	ClientID string        `json:"client_id"`
	Order    *model.Order  `json:"order,omitempty"`
	Trade    *model.Trade  `json:"trade,omitempty"`
	OrderID  uint64        `json:"order_id,omitempty"`
	MarketID string        `json:"market_id,omitempty"`
	Orders   []model.Order `json:"orders,omitempty"`
	Depth    *DepthPayload `json:"depth,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// MarketUpdateKind tags a MarketUpdate's payload variant.
type MarketUpdateKind string

const (
	UpdateDepth MarketUpdateKind = "DEPTH"
	UpdatePrice MarketUpdateKind = "PRICE"
	UpdateTrade MarketUpdateKind = "TRADE"
)

// MarketUpdate is broadcast on the market-updates topic; unlike
// ResponseEnvelope it is not addressed to a single client.
type MarketUpdate struct {
	Kind     MarketUpdateKind `json:"kind"`
	MarketID string           `json:"market_id"`
	Side     model.Side       `json:"side,omitempty"`
	Bids     []model.PriceLevel `json:"bids,omitempty"`
	Asks     []model.PriceLevel `json:"asks,omitempty"`
	Price    *decimal.Decimal   `json:"price,omitempty"`
	Trade    *model.Trade       `json:"trade,omitempty"`
}
