package model

import "errors"

// Error kinds surfaced synchronously as the return of an engine command. A
// transport adapter converts these into Error envelopes addressed to the
// caller's client-id.
var (
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidDirection   = errors.New("invalid direction")
	ErrMarketExists       = errors.New("market already exists")
	ErrMarketNotFound     = errors.New("market not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientLocked = errors.New("insufficient locked funds")
	// ErrBrokerUnavailable is transient: the engine's state change already
	// committed, only the event fan-out failed to enqueue.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)
