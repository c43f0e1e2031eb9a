/*
store.go - Persistence interfaces for purchase orders

The order store extends the inventory transaction view: a goods receipt
mutates order lines, item counters, and the movement ledger inside the same
database transaction, so Tx embeds inventory.Tx.

SEE ALSO:
  - inventory/store.go: The embedded transaction contract
  - store/sqlite/orders.go: SQLite implementation
*/
package purchase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
)

// Reader is the read-only view shared by the Store and an open Tx.
type Reader interface {
	Order(ctx context.Context, id OrderID) (*Order, error)
	Orders(ctx context.Context) ([]Order, error)
	Lines(ctx context.Context, orderID OrderID) ([]Line, error)
}

// Tx is the transactional view for order mutations. It embeds the
// inventory transaction so receive batches write stock and order state
// atomically.
type Tx interface {
	inventory.Tx
	Reader

	InsertOrder(ctx context.Context, o Order) error
	UpdateOrderHeader(ctx context.Context, o Order) error
	UpdateOrderStatus(ctx context.Context, id OrderID, status Status, receivedTotal decimal.Decimal) error

	// DeleteOrder removes a draft order and cascades its lines.
	DeleteOrder(ctx context.Context, id OrderID) error

	InsertLine(ctx context.Context, l Line) error
	UpdateLineReceived(ctx context.Context, id LineID, quantityReceived int64) error
}

// Store is the top-level order persistence interface.
type Store interface {
	Reader

	// WithOrderTx executes fn inside a single database transaction
	// spanning both order and inventory state.
	WithOrderTx(ctx context.Context, fn func(tx Tx) error) error
}
