/*
orders.go - Purchase-order persistence (purchase.Store / purchase.Tx)

Order headers and line items share the transaction machinery in sqlite.go;
a goods receipt commits order rows and inventory rows in one transaction.
Draft-order deletion cascades to lines explicitly rather than relying on
the foreign-key pragma being set.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
	"github.com/morrow/inventory-engine/purchase"
)

// =============================================================================
// ORDER HEADERS
// =============================================================================

const orderColumns = `id, po_number, supplier_ref, order_date, status,
	received_total, created_at, updated_at`

func (s *Store) Order(ctx context.Context, id purchase.OrderID) (*purchase.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, id)
}

func (ts *txStore) Order(ctx context.Context, id purchase.OrderID) (*purchase.Order, error) {
	return getOrder(ctx, ts.tx, id)
}

func getOrder(ctx context.Context, q dbtx, id purchase.OrderID) (*purchase.Order, error) {
	orders, err := queryOrders(ctx, q,
		"SELECT "+orderColumns+" FROM purchase_orders WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (s *Store) Orders(ctx context.Context) ([]purchase.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOrders(ctx, s.db,
		"SELECT "+orderColumns+" FROM purchase_orders ORDER BY created_at DESC")
}

func (ts *txStore) Orders(ctx context.Context) ([]purchase.Order, error) {
	return queryOrders(ctx, ts.tx,
		"SELECT "+orderColumns+" FROM purchase_orders ORDER BY created_at DESC")
}

func queryOrders(ctx context.Context, q dbtx, query string, args ...any) ([]purchase.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []purchase.Order
	for rows.Next() {
		var (
			o                        purchase.Order
			supplier                 sql.NullString
			orderDate, receivedTotal string
			createdAt, updatedAt     string
		)
		if err := rows.Scan(&o.ID, &o.PONumber, &supplier, &orderDate,
			&o.Status, &receivedTotal, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.SupplierRef = supplier.String
		o.ReceivedTotal = mustDecimal(receivedTotal)
		o.OrderDate, _ = time.Parse(time.RFC3339, orderDate)
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (ts *txStore) InsertOrder(ctx context.Context, o purchase.Order) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO purchase_orders
		(id, po_number, supplier_ref, order_date, status, received_total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PONumber, o.SupplierRef,
		o.OrderDate.Format(time.RFC3339), o.Status, o.ReceivedTotal.String(),
		o.CreatedAt.Format(time.RFC3339), o.UpdatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err, "po_number") {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicatePONumber, o.PONumber)
	}
	return err
}

func (ts *txStore) UpdateOrderHeader(ctx context.Context, o purchase.Order) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET po_number = ?, supplier_ref = ?, order_date = ?, updated_at = ?
		WHERE id = ?`,
		o.PONumber, o.SupplierRef, o.OrderDate.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), o.ID,
	)
	if isUniqueViolation(err, "po_number") {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicatePONumber, o.PONumber)
	}
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, o.ID))
}

func (ts *txStore) UpdateOrderStatus(ctx context.Context, id purchase.OrderID, status purchase.Status, receivedTotal decimal.Decimal) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = ?, received_total = ?, updated_at = ?
		WHERE id = ?`,
		status, receivedTotal.String(),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, id))
}

func (ts *txStore) DeleteOrder(ctx context.Context, id purchase.OrderID) error {
	if _, err := ts.tx.ExecContext(ctx,
		"DELETE FROM purchase_order_items WHERE order_id = ?", id); err != nil {
		return err
	}
	res, err := ts.tx.ExecContext(ctx,
		"DELETE FROM purchase_orders WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Errorf("%w: %s", inventory.ErrOrderNotFound, id))
}

// =============================================================================
// LINE ITEMS
// =============================================================================

const lineColumns = `id, order_id, item_id, quantity_ordered, quantity_received, unit_cost`

func (s *Store) Lines(ctx context.Context, orderID purchase.OrderID) ([]purchase.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryLines(ctx, s.db, orderID)
}

func (ts *txStore) Lines(ctx context.Context, orderID purchase.OrderID) ([]purchase.Line, error) {
	return queryLines(ctx, ts.tx, orderID)
}

func queryLines(ctx context.Context, q dbtx, orderID purchase.OrderID) ([]purchase.Line, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+lineColumns+` FROM purchase_order_items
		WHERE order_id = ?
		ORDER BY item_id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []purchase.Line
	for rows.Next() {
		var (
			l        purchase.Line
			unitCost string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID,
			&l.QuantityOrdered, &l.QuantityReceived, &unitCost); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		l.UnitCost = mustDecimal(unitCost)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (ts *txStore) InsertLine(ctx context.Context, l purchase.Line) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO purchase_order_items
		(id, order_id, item_id, quantity_ordered, quantity_received, unit_cost)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrderID, l.ItemID,
		l.QuantityOrdered, l.QuantityReceived, l.UnitCost.String(),
	)
	return err
}

func (ts *txStore) UpdateLineReceived(ctx context.Context, id purchase.LineID, quantityReceived int64) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE purchase_order_items SET quantity_received = ? WHERE id = ?",
		quantityReceived, id)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Errorf("%w: order line %s", inventory.ErrOrderNotFound, id))
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
