/*
receive.go - Goods-received (GRV) batch processor

PURPOSE:
  Consumes a batch of (item, quantity, optional new cost) inputs against a
  sent or partially-received order. The whole batch commits or none of it
  does: partial application of a multi-item delivery is a correctness bug,
  not a feature.

BATCH FLOW (one transaction):
  1. Load order; must be sent or partial
  2. Validate every request line against the order lines; any violation
     rejects the whole batch with a BatchValidationError listing all
     offenders
  3. Apply lines in ascending item-ID order: on-hand increment +
     purchase_receipt movement, optional unit-cost update, line
     received-quantity increment
  4. Recompute order status from line ratios; accumulate received value

PRICE RESOLUTION:
  An explicit positive UnitCost on a request line overwrites the item's
  recorded cost; nil, zero, or negative inputs silently fall back to the
  item's current cost. The lenient fallback is deliberate and covered by
  tests.

SEE ALSO:
  - inventory/ledger.go: ApplyMovement
  - types.go: StatusForLines
*/
package purchase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
)

// ReceiveLine is one line of a goods-received batch.
type ReceiveLine struct {
	ItemID   inventory.ItemID
	Quantity int64
	// UnitCost, when positive, becomes the item's new recorded cost.
	// Nil or non-positive keeps the existing cost.
	UnitCost *decimal.Decimal
}

// ReceiveResult reports the outcome of a committed batch.
type ReceiveResult struct {
	OrderID       OrderID
	Status        Status
	LinesApplied  int
	BatchValue    decimal.Decimal // qty x resolved cost, summed over this batch
	ReceivedTotal decimal.Decimal // running total on the order after this batch
}

// Receive applies a goods-received batch against an order. Every line
// succeeds or the entire batch rolls back and the order is untouched. A
// non-empty idempotencyKey guards retries: it is recorded on the batch's
// first movement, and since the batch is all-or-nothing, resubmitting the
// same delivery note fails with ErrDuplicateIdempotencyKey before any line
// applies.
func (s *Orders) Receive(ctx context.Context, orderID OrderID, batch []ReceiveLine, actor, idempotencyKey string) (*ReceiveResult, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty goods-received batch", inventory.ErrInvalidState)
	}

	var result ReceiveResult
	err := s.store.WithOrderTx(ctx, func(tx Tx) error {
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, orderID)
		}
		if !order.Status.Receivable() {
			return &inventory.InvalidStateError{Ref: order.PONumber, State: string(order.Status), Op: "receive goods"}
		}

		// Duplicate check runs before validation: a replayed delivery note
		// is a duplicate even when its quantities no longer fit the order.
		if idempotencyKey != "" {
			exists, err := tx.MovementExists(ctx, idempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return inventory.ErrDuplicateIdempotencyKey
			}
		}

		lines, err := tx.Lines(ctx, orderID)
		if err != nil {
			return err
		}
		lineByItem := make(map[inventory.ItemID]*Line, len(lines))
		for i := range lines {
			lineByItem[lines[i].ItemID] = &lines[i]
		}

		if problems := validateBatch(batch, lineByItem); len(problems) > 0 {
			return &inventory.BatchValidationError{OrderRef: order.PONumber, Problems: problems}
		}

		// Stable lock order: overlapping concurrent batches always touch
		// item rows in the same sequence.
		sorted := make([]ReceiveLine, len(batch))
		copy(sorted, batch)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

		now := time.Now().UTC()
		batchValue := decimal.Zero
		batchKey := idempotencyKey
		for _, rl := range sorted {
			if rl.Quantity == 0 {
				continue
			}
			line := lineByItem[rl.ItemID]

			item, err := tx.Item(ctx, rl.ItemID)
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, rl.ItemID)
			}

			cost := resolveCost(rl.UnitCost, item.UnitCost)
			if rl.UnitCost != nil && rl.UnitCost.IsPositive() && !cost.Equal(item.UnitCost) {
				if err := tx.UpdateItemCost(ctx, rl.ItemID, cost); err != nil {
					return err
				}
			}

			if _, err := inventory.ApplyMovement(ctx, tx, inventory.Movement{
				ItemID:         rl.ItemID,
				Type:           inventory.MovementPurchaseReceipt,
				Delta:          rl.Quantity,
				ConsumerRef:    order.ConsumerRef(),
				Reason:         fmt.Sprintf("goods received against %s", order.PONumber),
				Actor:          actor,
				IdempotencyKey: batchKey,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
			batchKey = ""

			line.QuantityReceived += rl.Quantity
			if err := tx.UpdateLineReceived(ctx, line.ID, line.QuantityReceived); err != nil {
				return err
			}

			batchValue = batchValue.Add(cost.Mul(decimal.NewFromInt(rl.Quantity)))
			result.LinesApplied++
		}

		status := StatusForLines(lines)
		receivedTotal := order.ReceivedTotal.Add(batchValue)
		if err := tx.UpdateOrderStatus(ctx, orderID, status, receivedTotal); err != nil {
			return err
		}

		result.OrderID = orderID
		result.Status = status
		result.BatchValue = batchValue
		result.ReceivedTotal = receivedTotal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// validateBatch checks every request line before anything is applied and
// collects all problems so the caller sees the full picture at once.
func validateBatch(batch []ReceiveLine, lineByItem map[inventory.ItemID]*Line) []inventory.LineProblem {
	var problems []inventory.LineProblem
	seen := make(map[inventory.ItemID]bool, len(batch))

	for _, rl := range batch {
		if seen[rl.ItemID] {
			problems = append(problems, inventory.LineProblem{
				ItemID: rl.ItemID,
				Reason: "duplicate line for item in batch",
			})
			continue
		}
		seen[rl.ItemID] = true

		line, ok := lineByItem[rl.ItemID]
		if !ok {
			problems = append(problems, inventory.LineProblem{
				ItemID: rl.ItemID,
				Reason: "item is not on this order",
			})
			continue
		}
		if rl.Quantity < 0 {
			problems = append(problems, inventory.LineProblem{
				ItemID: rl.ItemID,
				Reason: "received quantity must not be negative",
			})
			continue
		}
		if rl.Quantity > line.Remaining() {
			problems = append(problems, inventory.LineProblem{
				ItemID: rl.ItemID,
				Reason: fmt.Sprintf("received %d exceeds remaining ordered %d", rl.Quantity, line.Remaining()),
			})
		}
	}
	return problems
}

// resolveCost implements the lenient price policy: explicit positive input
// wins, anything else keeps the current cost.
func resolveCost(requested *decimal.Decimal, current decimal.Decimal) decimal.Decimal {
	if requested != nil && requested.IsPositive() {
		return *requested
	}
	return current
}
