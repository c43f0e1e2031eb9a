/*
ledger.go - Append-only stock movement log

PURPOSE:
  The Ledger is the immutable source of truth for all counter changes.
  Every reservation, release, goods receipt, adjustment, and correction is
  recorded here. The denormalized counters on the item row are strictly
  derived: they change only through ApplyMovement, in the same transaction
  as the movement row.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. EVER.
  2. CHAINED: Each movement records previous/new values for both counters;
     NewOnHand = PreviousOnHand + delta for on-hand movements (likewise for
     reserved), and the next movement's previous values equal this one's
     new values.
  3. REPLAYABLE: Replaying an item's movements from zero reproduces its
     current counters exactly. Replay() checks this as a first-class
     operation, not an incident-response script.

CORRECTIONS:
  Mistakes are never edited. A dedicated correction movement with a
  mandatory reason and actor realigns the counter, and both the mistake and
  the fix stay visible in the ledger.

SEE ALSO:
  - store.go: Persistence interfaces
  - reservation.go: Reserve/Release built on ApplyMovement
  - audit.go: Reconciliation against reservations
*/
package inventory

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// MOVEMENT APPLICATION - The single write path for item counters
// =============================================================================

// ApplyMovement validates and applies one counter change inside tx: it
// re-reads the item row, checks the stock invariants against current state,
// writes the updated counters, and inserts the movement row. Every mutation
// of OnHand/Reserved in this codebase goes through here.
func ApplyMovement(ctx context.Context, tx Tx, m Movement) (Movement, error) {
	item, err := tx.Item(ctx, m.ItemID)
	if err != nil {
		return Movement{}, err
	}
	if item == nil {
		return Movement{}, fmt.Errorf("%w: %s", ErrItemNotFound, m.ItemID)
	}

	if m.IdempotencyKey != "" {
		exists, err := tx.MovementExists(ctx, m.IdempotencyKey)
		if err != nil {
			return Movement{}, err
		}
		if exists {
			return Movement{}, ErrDuplicateIdempotencyKey
		}
	}

	onHand, reserved := item.OnHand, item.Reserved
	if m.Type.AppliesToOnHand() {
		onHand += m.Delta
	} else {
		reserved += m.Delta
	}

	if onHand < 0 || reserved < 0 || reserved > onHand {
		return Movement{}, &InsufficientStockError{
			ItemID:   m.ItemID,
			OnHand:   item.OnHand,
			Reserved: item.Reserved,
			Delta:    m.Delta,
		}
	}

	m.PreviousOnHand = item.OnHand
	m.NewOnHand = onHand
	m.PreviousReserved = item.Reserved
	m.NewReserved = reserved
	if m.ID == "" {
		m.ID = NewMovementID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := tx.UpdateItemCounters(ctx, m.ItemID, onHand, reserved); err != nil {
		return Movement{}, err
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger exposes item intake, manual adjustments, and the audit-trail
// queries. All writes run through Store.WithTx and ApplyMovement.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CreateItem registers a new item-location row with zero counters. Initial
// stock arrives through Adjust or a goods receipt so the ledger has a record
// of it.
func (l *Ledger) CreateItem(ctx context.Context, item Item) (*Item, error) {
	if item.ID == "" {
		item.ID = NewItemID()
	}
	if item.Status == "" {
		item.Status = ItemActive
	}
	item.OnHand = 0
	item.Reserved = 0
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	err := l.store.WithTx(ctx, func(tx Tx) error {
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Adjust applies a manual on-hand correction. Reason and actor are
// mandatory: out-of-band fixes must be auditable through the same ledger
// as everything else. A non-empty idempotencyKey makes retries safe: a
// second submission under the same key is rejected with
// ErrDuplicateIdempotencyKey instead of moving the counter twice.
func (l *Ledger) Adjust(ctx context.Context, itemID ItemID, delta int64, reason, actor, idempotencyKey string) (Movement, error) {
	if reason == "" || actor == "" {
		return Movement{}, fmt.Errorf("%w: adjustment requires reason and actor", ErrInvalidState)
	}
	if delta == 0 {
		return Movement{}, fmt.Errorf("%w: adjustment delta must be non-zero", ErrInvalidState)
	}

	var applied Movement
	err := l.store.WithTx(ctx, func(tx Tx) error {
		var err error
		applied, err = ApplyMovement(ctx, tx, Movement{
			ItemID:         itemID,
			Type:           MovementAdjustment,
			Delta:          delta,
			Reason:         reason,
			Actor:          actor,
			IdempotencyKey: idempotencyKey,
		})
		return err
	})
	return applied, err
}

// RetireItem soft-deletes an item. Rejected while the item has active
// reservations; the ledger history is preserved either way.
func (l *Ledger) RetireItem(ctx context.Context, itemID ItemID) error {
	return l.store.WithTx(ctx, func(tx Tx) error {
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
		if len(active) > 0 {
			return fmt.Errorf("%w: %s has %d open reservation(s)", ErrItemHasActiveReservations, itemID, len(active))
		}
		return tx.UpdateItemStatus(ctx, itemID, ItemRetired)
	})
}

// Item returns one item with its current counters.
func (l *Ledger) Item(ctx context.Context, itemID ItemID) (*Item, error) {
	item, err := l.store.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return item, nil
}

// Items returns every item-location row.
func (l *Ledger) Items(ctx context.Context) ([]Item, error) {
	return l.store.Items(ctx)
}

// Movements returns an item's full ledger, oldest first.
func (l *Ledger) Movements(ctx context.Context, itemID ItemID) ([]Movement, error) {
	return l.store.Movements(ctx, itemID)
}

// MovementsByConsumer returns every movement linked to a case or order.
func (l *Ledger) MovementsByConsumer(ctx context.Context, ref ConsumerRef) ([]Movement, error) {
	return l.store.MovementsByConsumer(ctx, ref)
}

// MovementsInRange returns an item's movements within [from, to].
func (l *Ledger) MovementsInRange(ctx context.Context, itemID ItemID, from, to time.Time) ([]Movement, error) {
	return l.store.MovementsInRange(ctx, itemID, from, to)
}

// =============================================================================
// REPLAY - Ledger-vs-counter consistency check
// =============================================================================

// ReplayResult is the outcome of replaying an item's movement stream.
type ReplayResult struct {
	ItemID           ItemID
	ComputedOnHand   int64
	ComputedReserved int64
	StoredOnHand     int64
	StoredReserved   int64
	Movements        int
	ChainBreaks      []MovementID // Movements whose previous values don't match the running state
}

func (r ReplayResult) Consistent() bool {
	return len(r.ChainBreaks) == 0 &&
		r.ComputedOnHand == r.StoredOnHand &&
		r.ComputedReserved == r.StoredReserved
}

// Replay recomputes an item's counters from its movement stream and
// compares them against the stored row. Any discrepancy investigation must
// be answerable from this alone.
func (l *Ledger) Replay(ctx context.Context, itemID ItemID) (ReplayResult, error) {
	item, err := l.store.Item(ctx, itemID)
	if err != nil {
		return ReplayResult{}, err
	}
	if item == nil {
		return ReplayResult{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	movements, err := l.store.Movements(ctx, itemID)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		ItemID:         itemID,
		StoredOnHand:   item.OnHand,
		StoredReserved: item.Reserved,
		Movements:      len(movements),
	}

	var onHand, reserved int64
	for _, m := range movements {
		if m.PreviousOnHand != onHand || m.PreviousReserved != reserved {
			result.ChainBreaks = append(result.ChainBreaks, m.ID)
		}
		if m.Type.AppliesToOnHand() {
			onHand += m.Delta
		} else {
			reserved += m.Delta
		}
	}
	result.ComputedOnHand = onHand
	result.ComputedReserved = reserved
	return result, nil
}
