/*
order.go - Purchase order lifecycle operations

LIFECYCLE:
  draft -> sent -> {partial, received}
  draft -> cancelled

  Draft orders are fully mutable: the header is editable, lines can be
  added, the whole order can be deleted (cascading its lines). Once sent,
  the header freezes and lines are append-only on QuantityReceived.

TRANSMISSION:
  MarkSent runs the Dispatcher with no database transaction open, then
  commits draft -> sent. A dispatch failure leaves the order draft.

SEE ALSO:
  - receive.go: The sent|partial -> partial|received driver
  - types.go: The state machine
*/
package purchase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
)

// Orders is the purchase-order service.
type Orders struct {
	store Store
}

func NewOrders(store Store) *Orders {
	return &Orders{store: store}
}

// =============================================================================
// DRAFT OPERATIONS
// =============================================================================

// NewLine is a line item as supplied at order creation.
type NewLine struct {
	ItemID          inventory.ItemID
	QuantityOrdered int64
	UnitCost        decimal.Decimal
}

// Create opens a draft order. Lines are optional and can be added later
// while the order stays draft.
func (s *Orders) Create(ctx context.Context, poNumber, supplierRef string, orderDate time.Time, lines []NewLine) (*Order, error) {
	if poNumber == "" {
		return nil, fmt.Errorf("%w: order requires a PO number", inventory.ErrInvalidState)
	}

	now := time.Now().UTC()
	order := Order{
		ID:            NewOrderID(),
		PONumber:      poNumber,
		SupplierRef:   supplierRef,
		OrderDate:     orderDate,
		Status:        StatusDraft,
		ReceivedTotal: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.WithOrderTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, nl := range lines {
			if err := s.insertLine(ctx, tx, order.ID, nl); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Orders) insertLine(ctx context.Context, tx Tx, orderID OrderID, nl NewLine) error {
	if nl.QuantityOrdered <= 0 {
		return fmt.Errorf("%w: ordered quantity must be positive", inventory.ErrInvalidState)
	}
	if nl.UnitCost.IsNegative() {
		return fmt.Errorf("%w: unit cost must not be negative", inventory.ErrInvalidState)
	}
	item, err := tx.Item(ctx, nl.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, nl.ItemID)
	}
	return tx.InsertLine(ctx, Line{
		ID:              NewLineID(),
		OrderID:         orderID,
		ItemID:          nl.ItemID,
		QuantityOrdered: nl.QuantityOrdered,
		UnitCost:        nl.UnitCost,
	})
}

// AddLine appends a line item to a draft order.
func (s *Orders) AddLine(ctx context.Context, orderID OrderID, nl NewLine) error {
	return s.store.WithOrderTx(ctx, func(tx Tx) error {
		order, err := s.draftOrder(ctx, tx, orderID, "add line")
		if err != nil {
			return err
		}
		return s.insertLine(ctx, tx, order.ID, nl)
	})
}

// Update edits the header of a draft order.
func (s *Orders) Update(ctx context.Context, orderID OrderID, poNumber, supplierRef string, orderDate time.Time) error {
	return s.store.WithOrderTx(ctx, func(tx Tx) error {
		order, err := s.draftOrder(ctx, tx, orderID, "update order")
		if err != nil {
			return err
		}
		if poNumber != "" {
			order.PONumber = poNumber
		}
		if supplierRef != "" {
			order.SupplierRef = supplierRef
		}
		if !orderDate.IsZero() {
			order.OrderDate = orderDate
		}
		order.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrderHeader(ctx, *order)
	})
}

// Delete removes a draft order and its lines in one transaction.
func (s *Orders) Delete(ctx context.Context, orderID OrderID) error {
	return s.store.WithOrderTx(ctx, func(tx Tx) error {
		if _, err := s.draftOrder(ctx, tx, orderID, "delete order"); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, orderID)
	})
}

// Cancel cancels a draft order. Sent orders cannot be cancelled; they are
// closed by receiving or by administrative correction flows.
func (s *Orders) Cancel(ctx context.Context, orderID OrderID) error {
	return s.store.WithOrderTx(ctx, func(tx Tx) error {
		order, err := s.draftOrder(ctx, tx, orderID, "cancel order")
		if err != nil {
			return err
		}
		return tx.UpdateOrderStatus(ctx, orderID, StatusCancelled, order.ReceivedTotal)
	})
}

func (s *Orders) draftOrder(ctx context.Context, tx Tx, orderID OrderID, op string) (*Order, error) {
	order, err := tx.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, orderID)
	}
	if order.Status != StatusDraft {
		return nil, &inventory.InvalidStateError{Ref: order.PONumber, State: string(order.Status), Op: op}
	}
	return order, nil
}

// =============================================================================
// TRANSMISSION
// =============================================================================

// MarkSent transmits a draft order via the dispatcher and commits the
// draft -> sent transition. The dispatcher runs before the transaction
// opens: no lock is held across the external call, and a failed dispatch
// leaves the order draft. The status is re-checked inside the transaction
// so a concurrent MarkSent cannot double-transition.
func (s *Orders) MarkSent(ctx context.Context, orderID OrderID, dispatcher Dispatcher) error {
	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, orderID)
	}
	if order.Status != StatusDraft {
		return &inventory.InvalidStateError{Ref: order.PONumber, State: string(order.Status), Op: "send order"}
	}

	if dispatcher != nil {
		lines, err := s.store.Lines(ctx, orderID)
		if err != nil {
			return err
		}
		if err := dispatcher.DispatchOrder(ctx, *order, lines); err != nil {
			return fmt.Errorf("order transmission failed: %w", err)
		}
	}

	return s.store.WithOrderTx(ctx, func(tx Tx) error {
		current, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, orderID)
		}
		if !CanTransition(current.Status, StatusSent) {
			return &inventory.InvalidStateError{Ref: current.PONumber, State: string(current.Status), Op: "send order"}
		}
		return tx.UpdateOrderStatus(ctx, orderID, StatusSent, current.ReceivedTotal)
	})
}

// =============================================================================
// READS
// =============================================================================

// Order returns an order by ID, or inventory.ErrOrderNotFound.
func (s *Orders) Order(ctx context.Context, orderID OrderID) (*Order, error) {
	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, orderID)
	}
	return order, nil
}

// List returns all orders, newest first.
func (s *Orders) List(ctx context.Context) ([]Order, error) {
	return s.store.Orders(ctx)
}

// OrderLines returns an order's line items.
func (s *Orders) OrderLines(ctx context.Context, orderID OrderID) ([]Line, error) {
	return s.store.Lines(ctx, orderID)
}

// =============================================================================
// CONSUMER STATE - For the reconciliation auditor
// =============================================================================

// ConsumerState resolves "po:<id>" consumer references to order terminality
// for the reconciliation auditor. Other reference shapes (cases) are
// reported as unknown.
type ConsumerState struct {
	store Store
}

func NewConsumerState(store Store) *ConsumerState {
	return &ConsumerState{store: store}
}

func (c *ConsumerState) Terminal(ctx context.Context, ref inventory.ConsumerRef) (bool, bool, error) {
	const prefix = "po:"
	s := string(ref)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return false, false, nil
	}
	order, err := c.store.Order(ctx, OrderID(s[len(prefix):]))
	if err != nil {
		return false, false, err
	}
	if order == nil {
		return false, false, nil
	}
	return order.Status.Terminal(), true, nil
}
