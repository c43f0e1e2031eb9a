/*
audit.go - Reconciliation auditor

PURPOSE:
  Continuously verifies the duality between the denormalized reserved
  counter and the reservations table, and flags reservations whose consumer
  has already reached a terminal state. Audit is strictly read-only; the
  only mutation path is the explicit Repair operation, which itself writes
  an auditable correction movement.

INVARIANT CHECKED:
  For every item: Reserved == sum(quantity) over active reservations.

SEE ALSO:
  - ledger.go: Replay, the on-hand counterpart of this check
  - reservation.go: The writers being audited
*/
package inventory

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// DISCREPANCIES
// =============================================================================

type DiscrepancyKind string

const (
	// ReservedMismatch: an item's reserved counter disagrees with the sum
	// of its active reservations.
	ReservedMismatch DiscrepancyKind = "reserved_mismatch"

	// OrphanedReservation: an active reservation whose consumer is in a
	// terminal state and should have released it.
	OrphanedReservation DiscrepancyKind = "orphaned_reservation"

	// LedgerDrift: replaying an item's movements does not reproduce its
	// stored counters.
	LedgerDrift DiscrepancyKind = "ledger_drift"
)

type Discrepancy struct {
	Kind          DiscrepancyKind
	ItemID        ItemID
	ReservationID ReservationID
	ConsumerRef   ConsumerRef
	Expected      int64
	Actual        int64
	Detail        string
}

// ConsumerState reports whether a consumer reference is in a terminal
// state. The second return is false when the consumer is unknown to the
// checker (e.g. case refs when only order state is wired).
type ConsumerState interface {
	Terminal(ctx context.Context, ref ConsumerRef) (terminal bool, known bool, err error)
}

// =============================================================================
// AUDITOR
// =============================================================================

// Auditor compares the counter store against the reservation records.
// Consumers may be nil, in which case orphan detection is skipped.
type Auditor struct {
	store     Store
	ledger    *Ledger
	consumers ConsumerState
}

func NewAuditor(store Store, consumers ConsumerState) *Auditor {
	return &Auditor{store: store, ledger: NewLedger(store), consumers: consumers}
}

// Audit scans every item and active reservation and returns all detected
// discrepancies. It never mutates anything.
func (a *Auditor) Audit(ctx context.Context) ([]Discrepancy, error) {
	items, err := a.store.Items(ctx)
	if err != nil {
		return nil, err
	}

	active, err := a.store.AllActiveReservations(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[ItemID]int64)
	for _, r := range active {
		sums[r.ItemID] += r.Quantity
	}

	var found []Discrepancy
	for _, item := range items {
		if sum := sums[item.ID]; sum != item.Reserved {
			found = append(found, Discrepancy{
				Kind:     ReservedMismatch,
				ItemID:   item.ID,
				Expected: sum,
				Actual:   item.Reserved,
				Detail:   fmt.Sprintf("reserved counter %d, active reservation sum %d", item.Reserved, sum),
			})
		}

		replay, err := a.ledger.Replay(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if !replay.Consistent() {
			found = append(found, Discrepancy{
				Kind:     LedgerDrift,
				ItemID:   item.ID,
				Expected: replay.ComputedOnHand,
				Actual:   replay.StoredOnHand,
				Detail: fmt.Sprintf("replay of %d movement(s): on-hand %d/%d, reserved %d/%d, chain breaks %d",
					replay.Movements, replay.ComputedOnHand, replay.StoredOnHand,
					replay.ComputedReserved, replay.StoredReserved, len(replay.ChainBreaks)),
			})
		}
	}

	if a.consumers != nil {
		for _, r := range active {
			terminal, known, err := a.consumers.Terminal(ctx, r.ConsumerRef)
			if err != nil {
				return nil, err
			}
			if known && terminal {
				found = append(found, Discrepancy{
					Kind:          OrphanedReservation,
					ItemID:        r.ItemID,
					ReservationID: r.ID,
					ConsumerRef:   r.ConsumerRef,
					Expected:      0,
					Actual:        r.Quantity,
					Detail:        "consumer is terminal but reservation is still active",
				})
			}
		}
	}

	return found, nil
}

// =============================================================================
// REPAIR - The only sanctioned counter fix outside normal operations
// =============================================================================

// Repair realigns an item's reserved counter to the sum of its active
// reservations by writing a correction movement. Reason and actor are
// mandatory; silent auto-repair is exactly the failure mode this engine
// exists to prevent, so Repair is never run implicitly.
func (a *Auditor) Repair(ctx context.Context, itemID ItemID, reason, actor string) (Movement, error) {
	if reason == "" || actor == "" {
		return Movement{}, fmt.Errorf("%w: repair requires reason and actor", ErrInvalidState)
	}

	var applied Movement
	err := a.store.WithTx(ctx, func(tx Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		active, err := tx.ActiveReservations(ctx, itemID)
		if err != nil {
			return err
		}
		var sum int64
		for _, r := range active {
			sum += r.Quantity
		}
		if sum == item.Reserved {
			return fmt.Errorf("%w: reserved counter already matches reservations", ErrInvalidState)
		}

		applied, err = ApplyMovement(ctx, tx, Movement{
			ItemID:    itemID,
			Type:      MovementCorrection,
			Delta:     sum - item.Reserved,
			Reason:    reason,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	return applied, err
}
