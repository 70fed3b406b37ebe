// Package persistence is the DB-writer collaborator: it drains
// PersistEnvelopes and writes them to Postgres.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"predictionmarket/internal/events"
)

// Store is a thin wrapper over *sql.DB for the four tables the engine's
// persist envelopes touch: orders, trades, markets, balances.
type Store struct{ DB *sql.DB }

// Open connects to Postgres at dsn and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// Migrate applies every up migration under dir.
func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) saveMarket(ctx context.Context, env events.PersistEnvelope) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO markets (market_id, question, created_at) VALUES ($1,$2,$3)
		 ON CONFLICT (market_id) DO NOTHING`,
		env.Market.ID, env.Market.Question, env.Market.CreatedAt)
	return err
}

func (s *Store) saveOrder(ctx context.Context, env events.PersistEnvelope) error {
	o := env.Order
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, market_id, side, direction, price_cents, quantity, status, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (id) DO UPDATE SET quantity=$7, status=$8`,
		o.ID, o.UserID, o.MarketID, o.Side, o.Direction, o.PriceCents, o.Quantity, o.Status, o.Timestamp)
	return err
}

func (s *Store) saveTrade(ctx context.Context, env events.PersistEnvelope) error {
	t := env.Trade
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO trades (buy_order_id, sell_order_id, market_id, side, price_cents, quantity, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.BuyOrderID, t.SellOrderID, t.MarketID, t.Side, t.PriceCents, t.Quantity, t.Timestamp)
	return err
}

func (s *Store) updateBalance(ctx context.Context, env events.PersistEnvelope) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO balances (user_id, available, locked) VALUES ($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET available=$2, locked=$3`,
		env.UserID, env.Balance.Available, env.Balance.Locked)
	return err
}

// Apply writes one persist envelope to its table.
func (s *Store) Apply(ctx context.Context, env events.PersistEnvelope) error {
	switch env.Kind {
	case events.SaveMarket:
		return s.saveMarket(ctx, env)
	case events.SaveOrder:
		return s.saveOrder(ctx, env)
	case events.SaveTrade:
		return s.saveTrade(ctx, env)
	case events.UpdateBalance:
		return s.updateBalance(ctx, env)
	default:
		return fmt.Errorf("persistence: unknown envelope kind %q", env.Kind)
	}
}

// Run drains source until ctx is cancelled, applying every envelope in
// arrival order; a write failure is logged and the writer moves on, since
// source order (not transactional atomicity across envelopes) is the only
// guarantee the engine's publisher contract makes.
func (s *Store) Run(ctx context.Context, source <-chan events.PersistEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-source:
			if err := s.Apply(ctx, env); err != nil {
				log.Printf("[persistence] apply %s failed: %v", env.Kind, err)
			}
		}
	}
}
