/*
Package purchase provides the purchase-order lifecycle and the
goods-received (GRV) processor.

PURPOSE:
  Orders move draft -> sent -> {partial, received}, with cancellation
  allowed only while draft. Receiving goods against an order is the only
  path that increases on-hand stock from a supplier, and it runs as one
  atomic batch: stock counters, ledger movements, line received-quantities,
  and the recomputed order status commit together or not at all.

KEY CONCEPTS IN THIS FILE (types.go):
  - Order / Line: The order header and its line items
  - Status: The reified state machine (CanTransition, StatusForLines)
  - Dispatcher: The external transmission collaborator (email), invoked
    outside any database transaction

INVARIANTS:
  1. Status is a pure function of line received/ordered ratios once an
     order leaves draft; callers never set partial/received directly
  2. 0 <= QuantityReceived <= QuantityOrdered on every line
  3. Draft orders are mutable; non-draft orders are append-only on
     QuantityReceived

SEE ALSO:
  - order.go: Lifecycle operations
  - receive.go: GRV batch processing
*/
package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type LineID string

func NewOrderID() OrderID { return OrderID(uuid.NewString()) }
func NewLineID() LineID   { return LineID(uuid.NewString()) }

// =============================================================================
// STATUS - Reified state machine
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPartial   Status = "partial"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPartial, StatusReceived},
	StatusPartial: {StatusPartial, StatusReceived},
	// received and cancelled are terminal
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// Receivable reports whether goods may be received against this status.
func (s Status) Receivable() bool {
	return s == StatusSent || s == StatusPartial
}

// StatusForLines computes the post-receipt status from line ratios:
// received when every line's received equals ordered, partial otherwise.
// This is the only way partial/received are ever produced.
func StatusForLines(lines []Line) Status {
	for _, l := range lines {
		if l.QuantityReceived < l.QuantityOrdered {
			return StatusPartial
		}
	}
	return StatusReceived
}

// =============================================================================
// ORDER & LINE
// =============================================================================

type Order struct {
	ID          OrderID
	PONumber    string
	SupplierRef string
	OrderDate   time.Time
	Status      Status

	// ReceivedTotal accumulates qty x resolved unit cost across every
	// goods receipt. Reporting only; it never drives status.
	ReceivedTotal decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConsumerRef is the ledger/reservation reference for this order.
func (o *Order) ConsumerRef() inventory.ConsumerRef {
	return inventory.ConsumerRef("po:" + string(o.ID))
}

type Line struct {
	ID               LineID
	OrderID          OrderID
	ItemID           inventory.ItemID
	QuantityOrdered  int64
	QuantityReceived int64
	UnitCost         decimal.Decimal
}

// Remaining is the quantity still expected on this line.
func (l *Line) Remaining() int64 {
	return l.QuantityOrdered - l.QuantityReceived
}

// =============================================================================
// EXTERNAL COLLABORATOR
// =============================================================================

// Dispatcher transmits an order to its supplier. Implementations live
// outside this module (email, EDI); MarkSent invokes it with no database
// transaction open, and a dispatch failure leaves the order draft.
type Dispatcher interface {
	DispatchOrder(ctx context.Context, order Order, lines []Line) error
}
