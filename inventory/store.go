/*
store.go - Persistence interfaces for the inventory engine

PURPOSE:
  Defines the storage contract implemented by store/sqlite. The engine
  services (Ledger, Reservations, Auditor) are written against these
  interfaces so tests can run on an in-memory database.

TRANSACTION MODEL:
  All state-changing operations run inside Store.WithTx. The Tx passed to
  the callback sees and mutates a single database transaction; returning an
  error rolls everything back. Item rows read inside a transaction are
  stable until commit (single-writer store), which is the row-lock
  equivalent the oversell check depends on.

APPEND-ONLY ENFORCEMENT:
  The interface exposes no update or delete operation for movements.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - ledger.go: ApplyMovement, the only writer of item counters
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Reader is the read-only view shared by the Store and an open Tx.
type Reader interface {
	Item(ctx context.Context, id ItemID) (*Item, error)
	Items(ctx context.Context) ([]Item, error)

	// Movements returns an item's ledger entries in append order.
	Movements(ctx context.Context, itemID ItemID) ([]Movement, error)
	MovementsByConsumer(ctx context.Context, ref ConsumerRef) ([]Movement, error)
	MovementsInRange(ctx context.Context, itemID ItemID, from, to time.Time) ([]Movement, error)

	Reservation(ctx context.Context, id ReservationID) (*Reservation, error)
	ActiveReservations(ctx context.Context, itemID ItemID) ([]Reservation, error)
	ActiveReservationsForConsumer(ctx context.Context, ref ConsumerRef) ([]Reservation, error)
	AllActiveReservations(ctx context.Context) ([]Reservation, error)
}

// Tx is the transactional view handed to WithTx callbacks.
//
// UpdateItemCounters exists solely for ApplyMovement; no other code may call
// it. Counter changes outside a ledger append are the drift bug this engine
// was built to prevent.
type Tx interface {
	Reader

	InsertItem(ctx context.Context, item Item) error
	UpdateItemStatus(ctx context.Context, id ItemID, status ItemStatus) error
	UpdateItemCost(ctx context.Context, id ItemID, cost decimal.Decimal) error

	UpdateItemCounters(ctx context.Context, id ItemID, onHand, reserved int64) error
	InsertMovement(ctx context.Context, m Movement) error
	MovementExists(ctx context.Context, idempotencyKey string) (bool, error)

	InsertReservation(ctx context.Context, r Reservation) error
	MarkReservationReleased(ctx context.Context, id ReservationID, at time.Time) error
}

// Store is the top-level persistence interface.
type Store interface {
	Reader

	// WithTx executes fn inside a single database transaction. A non-nil
	// error from fn rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
