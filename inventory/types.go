/*
Package inventory provides the stock ledger and reservation engine.

PURPOSE:
  This package contains the core types and services for tracking physical
  stock across branch locations: per-item on-hand/reserved counters, an
  append-only movement ledger, and the reservation primitives consumed by
  case-management and purchase-order workflows.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: One stock-keeping unit at one location, with on-hand and
    reserved counters and a unit cost
  - Movement: An immutable ledger entry recording one counter change
  - Reservation: A quantity of an item earmarked for a consumer

CRITICAL INVARIANTS:
  1. 0 <= Reserved <= OnHand at all times (available never negative)
  2. Movements are append-only: no update, no delete. EVER.
  3. Every counter change originates from a Movement written in the same
     transaction - there is no other write path to OnHand/Reserved
  4. Reserved on an item equals the sum of its active reservations

SEE ALSO:
  - ledger.go: Movement append and replay verification
  - reservation.go: Reserve/Release primitives
  - audit.go: Counter-vs-reservation reconciliation
*/
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type MovementID string
type ReservationID string

// ConsumerRef identifies the entity a reservation or movement was made on
// behalf of: a funeral case ("case:<id>") or a purchase order ("po:<id>").
type ConsumerRef string

func NewItemID() ItemID               { return ItemID(uuid.NewString()) }
func NewMovementID() MovementID       { return MovementID(uuid.NewString()) }
func NewReservationID() ReservationID { return ReservationID(uuid.NewString()) }

// =============================================================================
// ITEM - Counter store row: one stock-keeping unit at one location
// =============================================================================

type ItemStatus string

const (
	ItemActive  ItemStatus = "active"
	ItemRetired ItemStatus = "retired" // Soft delete; ledger history preserved
)

type Item struct {
	ID       ItemID
	Name     string
	Model    string
	Color    string
	Location string

	// Counters. Mutated only through ApplyMovement.
	OnHand   int64
	Reserved int64

	UnitCost          decimal.Decimal
	LowStockThreshold int64
	Status            ItemStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available is the allocatable quantity: on-hand minus reserved.
func (i *Item) Available() int64 {
	return i.OnHand - i.Reserved
}

// LowStock reports whether available quantity has fallen to the threshold.
func (i *Item) LowStock() bool {
	return i.LowStockThreshold > 0 && i.Available() <= i.LowStockThreshold
}

// =============================================================================
// MOVEMENT - Immutable ledger entry
// =============================================================================

type MovementType string

const (
	MovementReservation     MovementType = "reservation"      // Reserved += delta
	MovementRelease         MovementType = "release"          // Reserved += delta (delta < 0)
	MovementPurchaseReceipt MovementType = "purchase_receipt" // OnHand += delta
	MovementAdjustment      MovementType = "adjustment"       // OnHand += delta (manual)
	MovementCorrection      MovementType = "correction"       // Reserved += delta (audited repair)
)

// AppliesToOnHand reports which counter a movement type targets:
// true for on-hand, false for reserved.
func (t MovementType) AppliesToOnHand() bool {
	return t == MovementPurchaseReceipt || t == MovementAdjustment
}

// Movement records one counter change. It carries before/after values for
// both counters so a replay can verify the full chain, not just the deltas.
type Movement struct {
	ID     MovementID
	ItemID ItemID
	Type   MovementType
	Delta  int64 // Signed; applied to the counter selected by Type

	PreviousOnHand   int64
	NewOnHand        int64
	PreviousReserved int64
	NewReserved      int64

	ConsumerRef    ConsumerRef
	Reason         string
	Actor          string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// RESERVATION - Quantity earmarked for a consumer
// =============================================================================

// Reservation links a quantity of an item to a consumer. It is never updated
// in place: corrections release the old reservation and create a new one.
// A reservation is active iff ReleasedAt is nil.
type Reservation struct {
	ID          ReservationID
	ItemID      ItemID
	Quantity    int64
	ConsumerRef ConsumerRef
	Reason      string
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

func (r *Reservation) Active() bool { return r.ReleasedAt == nil }
