/*
errors.go - Centralized error types for the inventory engine

ERROR CATEGORIES:
  1. Stock errors - A counter would violate the oversell invariant
  2. State errors - Operation attempted against an item/order in the wrong state
  3. Lookup errors - Unknown item/order/reservation reference
  4. Batch errors - One or more lines in a GRV batch invalid (whole batch rejected)

All data-integrity violations abort the enclosing transaction; the caller
receives a typed error that wraps one of the sentinels below.

SEE ALSO:
  - ledger.go, reservation.go: Produce these errors
  - purchase package: Wraps ErrInvalidState and ErrBatchValidation
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when a ledger delta would drive
	// on-hand negative, or below the reserved quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientAvailableStock is returned when a reserve request
	// exceeds available (on-hand minus reserved) quantity. Never clamped.
	ErrInsufficientAvailableStock = errors.New("insufficient available stock")

	// ErrInvalidState is returned when an operation targets an item or order
	// whose state forbids it (e.g. receiving against a draft order).
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrBatchValidation is returned when a goods-received batch contains
	// invalid lines. No line of the batch is applied.
	ErrBatchValidation = errors.New("batch validation failed")

	// ErrItemHasActiveReservations is returned when retiring an item that
	// still has open reservations.
	ErrItemHasActiveReservations = errors.New("item has active reservations")

	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicatePONumber is returned when creating an order with a PO
	// number that is already taken.
	ErrDuplicatePONumber = errors.New("duplicate purchase order number")

	// ErrItemNotFound is returned when a referenced item doesn't exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrOrderNotFound is returned when a referenced order doesn't exist.
	ErrOrderNotFound = errors.New("purchase order not found")

	// ErrReservationNotFound is returned when a referenced reservation
	// doesn't exist.
	ErrReservationNotFound = errors.New("reservation not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientAvailableStockError reports a reserve request that exceeds
// the item's available quantity.
type InsufficientAvailableStockError struct {
	ItemID    ItemID
	Available int64
	Requested int64
}

func (e *InsufficientAvailableStockError) Error() string {
	return fmt.Sprintf("insufficient available stock for %s: available %d, requested %d, shortfall %d",
		e.ItemID, e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientAvailableStockError) Unwrap() error {
	return ErrInsufficientAvailableStock
}

// InsufficientStockError reports a movement that would drive a counter
// below zero or below the reserved quantity.
type InsufficientStockError struct {
	ItemID   ItemID
	OnHand   int64
	Reserved int64
	Delta    int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: on-hand %d, reserved %d, delta %d",
		e.ItemID, e.OnHand, e.Reserved, e.Delta)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidStateError reports an operation attempted in a forbidden state.
type InvalidStateError struct {
	Ref   string // Item or order reference
	State string
	Op    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: %s is %s", e.Op, e.Ref, e.State)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// LineProblem describes one invalid line in a goods-received batch.
type LineProblem struct {
	ItemID ItemID
	Reason string
}

// BatchValidationError lists every invalid line of a rejected batch.
type BatchValidationError struct {
	OrderRef string
	Problems []LineProblem
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("batch rejected for order %s: %d invalid line(s)", e.OrderRef, len(e.Problems))
}

func (e *BatchValidationError) Unwrap() error {
	return ErrBatchValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input or
// a business-rule violation, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientAvailableStock) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrBatchValidation) ||
		errors.Is(err, ErrItemHasActiveReservations) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicatePONumber)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}
