// Package ledger tracks per-user (available, locked) balances and the
// lock/unlock/deduct/credit operations the matching engine performs against
// them on every place/cancel/fill.
package ledger

import (
	"fmt"
	"sync"

	"predictionmarket/internal/model"
)

// DefaultBootstrap is the (available, locked) pair a previously-unseen user
// starts with in production: zero and zero.
var DefaultBootstrap = model.Balance{Available: 0, Locked: 0}

// BalanceManager is the engine's ledger: a map of user id to (available,
// locked), created lazily on first touch.
type BalanceManager struct {
	mu       sync.Mutex
	balances map[uint32]model.Balance
	bootstrap model.Balance
}

// New returns a BalanceManager whose previously-unseen users start at (0, 0),
// the production bootstrap policy.
func New() *BalanceManager {
	return &BalanceManager{
		balances:  make(map[uint32]model.Balance),
		bootstrap: DefaultBootstrap,
	}
}

// NewWithBootstrap returns a BalanceManager that seeds unseen users with the
// given balance. Intended for test harnesses only.
func NewWithBootstrap(b model.Balance) *BalanceManager {
	return &BalanceManager{
		balances:  make(map[uint32]model.Balance),
		bootstrap: b,
	}
}

func (m *BalanceManager) entry(user uint32) model.Balance {
	if b, ok := m.balances[user]; ok {
		return b
	}
	return m.bootstrap
}

// Check succeeds iff available >= amount * (1 + rate). It does not mutate
// state; it is the pre-flight test place-order runs before locking.
func (m *BalanceManager) Check(user uint32, amount, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entry(user)
	needed := amount * (1 + rate)
	if b.Available < needed {
		return fmt.Errorf("%w: available %.2f, needed %.2f", model.ErrInsufficientFunds, b.Available, needed)
	}
	return nil
}

// Lock moves amount from available to locked, reserving it against a
// resting Buy order.
func (m *BalanceManager) Lock(user uint32, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entry(user)
	if b.Available < amount {
		return fmt.Errorf("%w: available %.2f, tried to lock %.2f", model.ErrInsufficientFunds, b.Available, amount)
	}
	b.Available -= amount
	b.Locked += amount
	m.balances[user] = b
	return nil
}

// Unlock moves amount from locked back to available.
func (m *BalanceManager) Unlock(user uint32, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entry(user)
	if b.Locked < amount {
		return fmt.Errorf("%w: locked %.2f, tried to unlock %.2f", model.ErrInsufficientLocked, b.Locked, amount)
	}
	b.Locked -= amount
	b.Available += amount
	m.balances[user] = b
	return nil
}

// Deduct pays amount plus commission (amount * rate) out of locked funds:
// it requires locked >= amount*(1+rate) and reduces locked by that full
// amount. The commission portion is the platform fee and is not returned
// to anyone; it is the only thing that breaks conservation across users.
func (m *BalanceManager) Deduct(user uint32, amount, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entry(user)
	total := amount * (1 + rate)
	if b.Locked < total {
		return fmt.Errorf("%w: locked %.2f, tried to deduct %.2f", model.ErrInsufficientLocked, b.Locked, total)
	}
	b.Locked -= total
	m.balances[user] = b
	return nil
}

// Credit adds the raw amount to available. The counterparty side of a fill
// receives amount with no commission taken.
func (m *BalanceManager) Credit(user uint32, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entry(user)
	b.Available += amount
	m.balances[user] = b
}

// Get returns the current (available, locked) pair for a user.
func (m *BalanceManager) Get(user uint32) model.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(user)
}
