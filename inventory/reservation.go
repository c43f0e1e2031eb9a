/*
reservation.go - Reserve/Release primitives

PURPOSE:
  Reservations earmark stock for a consumer (a funeral case or a pending
  order) without removing it from on-hand. The quantity promised across all
  active reservations can never exceed what is physically available.

ATOMICITY:
  Reserve writes three things in one transaction: the reserved counter, a
  reservation movement, and the live reservation row. A failed check leaves
  nothing behind - there is no partial reserve.

IDEMPOTENCE:
  Release is idempotent: releasing an already-released reservation is a
  success no-op. Upstream callers (case cancellation) deliver at least once
  and retry after ambiguous timeouts.

SEE ALSO:
  - ledger.go: ApplyMovement
  - audit.go: Reserved-counter vs reservation-sum reconciliation
*/
package inventory

import (
	"context"
	"fmt"
	"time"
)

// Reservations is the reservation manager.
type Reservations struct {
	store Store
}

func NewReservations(store Store) *Reservations {
	return &Reservations{store: store}
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve earmarks qty units of an item for a consumer. Fails with
// *InsufficientAvailableStockError when available stock doesn't cover the
// full quantity; it never partially reserves. Callers that retry after an
// ambiguous timeout pass an idempotencyKey: a repeat submission under the
// same key fails with ErrDuplicateIdempotencyKey rather than double-booking
// the stock.
func (s *Reservations) Reserve(ctx context.Context, itemID ItemID, qty int64, consumer ConsumerRef, reason, actor, idempotencyKey string) (*Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: reserve quantity must be positive", ErrInvalidState)
	}
	if consumer == "" {
		return nil, fmt.Errorf("%w: reserve requires a consumer reference", ErrInvalidState)
	}

	var reservation Reservation
	err := s.store.WithTx(ctx, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		if item.Status != ItemActive {
			return &InvalidStateError{Ref: string(itemID), State: string(item.Status), Op: "reserve"}
		}
		if item.Available() < qty {
			return &InsufficientAvailableStockError{
				ItemID:    itemID,
				Available: item.Available(),
				Requested: qty,
			}
		}

		now := time.Now().UTC()
		reservation = Reservation{
			ID:          NewReservationID(),
			ItemID:      itemID,
			Quantity:    qty,
			ConsumerRef: consumer,
			Reason:      reason,
			CreatedAt:   now,
		}

		if _, err := ApplyMovement(ctx, tx, Movement{
			ItemID:         itemID,
			Type:           MovementReservation,
			Delta:          qty,
			ConsumerRef:    consumer,
			Reason:         reason,
			Actor:          actor,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, reservation)
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// =============================================================================
// RELEASE
// =============================================================================

// Release returns a reservation's quantity to the available pool. Releasing
// an already-released reservation is a no-op, not an error. Releasing a
// reservation against a retired item still succeeds; the decrement is
// recorded as a correction movement so the tombstoned state stays visible
// in the audit trail.
func (s *Reservations) Release(ctx context.Context, id ReservationID, reason, actor string) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		return s.releaseInTx(ctx, tx, id, reason, actor)
	})
}

func (s *Reservations) releaseInTx(ctx context.Context, tx Tx, id ReservationID, reason, actor string) error {
	r, err := tx.Reservation(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	if !r.Active() {
		// Idempotent: already released.
		return nil
	}

	item, err := tx.Item(ctx, r.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, r.ItemID)
	}

	movementType := MovementRelease
	if item.Status != ItemActive {
		movementType = MovementCorrection
		if reason == "" {
			reason = "release against retired item"
		}
	}

	now := time.Now().UTC()
	if _, err := ApplyMovement(ctx, tx, Movement{
		ItemID:      r.ItemID,
		Type:        movementType,
		Delta:       -r.Quantity,
		ConsumerRef: r.ConsumerRef,
		Reason:      reason,
		Actor:       actor,
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	return tx.MarkReservationReleased(ctx, id, now)
}

// ReleaseAllForConsumer releases every active reservation held by a
// consumer in one transaction. Returns the number released. Used when a
// case is cancelled or completed with multiple allocated items.
func (s *Reservations) ReleaseAllForConsumer(ctx context.Context, consumer ConsumerRef, reason, actor string) (int, error) {
	released := 0
	err := s.store.WithTx(ctx, func(tx Tx) error {
		active, err := tx.ActiveReservationsForConsumer(ctx, consumer)
		if err != nil {
			return err
		}
		for _, r := range active {
			if err := s.releaseInTx(ctx, tx, r.ID, reason, actor); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// =============================================================================
// READS
// =============================================================================

// Reservation returns a reservation by ID, or ErrReservationNotFound.
func (s *Reservations) Reservation(ctx context.Context, id ReservationID) (*Reservation, error) {
	r, err := s.store.Reservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	return r, nil
}

// ActiveForItem returns an item's live reservations.
func (s *Reservations) ActiveForItem(ctx context.Context, itemID ItemID) ([]Reservation, error) {
	return s.store.ActiveReservations(ctx, itemID)
}

// ForConsumer returns a consumer's live reservations.
func (s *Reservations) ForConsumer(ctx context.Context, consumer ConsumerRef) ([]Reservation, error) {
	return s.store.ActiveReservationsForConsumer(ctx, consumer)
}
