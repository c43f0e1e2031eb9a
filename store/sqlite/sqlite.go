/*
Package sqlite provides the SQLite-backed implementation of the engine's
storage interfaces.

INTERFACES IMPLEMENTED:
  inventory.Store: Items, movements, reservations, WithTx
  purchase.Store:  Orders, line items, WithOrderTx

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE statement against stock_movements anywhere
  in this package. Corrections enter the ledger as new movement rows.

KEY TABLES:
  items:                 Counter store (on_hand, reserved, unit_cost)
  stock_movements:       Immutable ledger, ordered by seq
  reservations:          Live + released reservation rows
  purchase_orders:       Order headers and status
  purchase_order_items:  Line items (ordered/received quantities)

CONCURRENCY:
  A sync.RWMutex serializes writers; WithTx holds the write lock for the
  whole transaction, so an item row read inside a transaction cannot change
  under it before commit. That is the SELECT-FOR-UPDATE equivalent the
  oversell check relies on. CHECK constraints on the items table back the
  invariant at the schema level as well.

WAL MODE:
  Opened with WAL and foreign keys on; use ":memory:" for tests.

SEE ALSO:
  - inventory/store.go, purchase/store.go: Interface definitions
  - orders.go: Purchase-order persistence in this package
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
	"github.com/morrow/inventory-engine/purchase"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Counter store: one row per item-location
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL,
		on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
		unit_cost TEXT NOT NULL DEFAULT '0',
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (reserved <= on_hand)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_identity
		ON items(name, model, color, location);
	CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);

	-- Append-only ledger. seq gives a total order per item even when
	-- timestamps collide.
	CREATE TABLE IF NOT EXISTS stock_movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL REFERENCES items(id),
		movement_type TEXT NOT NULL,
		delta INTEGER NOT NULL,
		previous_on_hand INTEGER NOT NULL,
		new_on_hand INTEGER NOT NULL,
		previous_reserved INTEGER NOT NULL,
		new_reserved INTEGER NOT NULL,
		consumer_ref TEXT,
		reason TEXT,
		actor TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_item ON stock_movements(item_id, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_consumer
		ON stock_movements(consumer_ref) WHERE consumer_ref IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_movements_created ON stock_movements(created_at);

	-- Reservations. Active iff released_at IS NULL.
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		consumer_ref TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		released_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_item_active
		ON reservations(item_id) WHERE released_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_reservations_consumer_active
		ON reservations(consumer_ref) WHERE released_at IS NULL;

	-- Purchase orders
	CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		po_number TEXT NOT NULL UNIQUE,
		supplier_ref TEXT NOT NULL DEFAULT '',
		order_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		received_total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status ON purchase_orders(status);

	CREATE TABLE IF NOT EXISTS purchase_order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
		item_id TEXT NOT NULL REFERENCES items(id),
		quantity_ordered INTEGER NOT NULL CHECK (quantity_ordered > 0),
		quantity_received INTEGER NOT NULL DEFAULT 0
			CHECK (quantity_received >= 0 AND quantity_received <= quantity_ordered),
		unit_cost TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order ON purchase_order_items(order_id);
	CREATE INDEX IF NOT EXISTS idx_order_items_item ON purchase_order_items(item_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the common surface of *sql.DB and *sql.Tx the query helpers run
// against.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction (inventory.Store).
func (s *Store) WithTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	return s.withTx(ctx, func(ts *txStore) error { return fn(ts) })
}

// WithOrderTx executes fn within a database transaction spanning order and
// inventory state (purchase.Store).
func (s *Store) WithOrderTx(ctx context.Context, fn func(tx purchase.Tx) error) error {
	return s.withTx(ctx, func(ts *txStore) error { return fn(ts) })
}

func (s *Store) withTx(ctx context.Context, fn func(ts *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore implements inventory.Tx and purchase.Tx against an open *sql.Tx.
// The write lock is held by withTx for its whole lifetime, so the helpers
// it calls never take locks themselves.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, name, model, color, location, on_hand, reserved,
	unit_cost, low_stock_threshold, status, created_at, updated_at`

func (s *Store) Item(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, id)
}

func (ts *txStore) Item(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return getItem(ctx, ts.tx, id)
}

func getItem(ctx context.Context, q dbtx, id inventory.ItemID) (*inventory.Item, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) Items(ctx context.Context) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(ctx, s.db)
}

func (ts *txStore) Items(ctx context.Context) ([]inventory.Item, error) {
	return listItems(ctx, ts.tx)
}

func listItems(ctx context.Context, q dbtx) ([]inventory.Item, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM items ORDER BY location, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []inventory.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*inventory.Item, error) {
	var (
		item                 inventory.Item
		unitCost             string
		createdAt, updatedAt string
	)
	err := r.Scan(&item.ID, &item.Name, &item.Model, &item.Color, &item.Location,
		&item.OnHand, &item.Reserved, &unitCost, &item.LowStockThreshold,
		&item.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.UnitCost = mustDecimal(unitCost)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &item, nil
}

func (ts *txStore) InsertItem(ctx context.Context, item inventory.Item) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO items
		(id, name, model, color, location, on_hand, reserved, unit_cost,
		 low_stock_threshold, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.Model, item.Color, item.Location,
		item.OnHand, item.Reserved, item.UnitCost.String(),
		item.LowStockThreshold, item.Status,
		item.CreatedAt.Format(time.RFC3339), item.UpdatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err, "items.name") || isUniqueViolation(err, "idx_items_identity") {
		return fmt.Errorf("%w: item already exists at this location", inventory.ErrInvalidState)
	}
	return err
}

func (ts *txStore) UpdateItemStatus(ctx context.Context, id inventory.ItemID, status inventory.ItemStatus) error {
	return ts.updateItem(ctx, id, "status = ?", status)
}

func (ts *txStore) UpdateItemCost(ctx context.Context, id inventory.ItemID, cost decimal.Decimal) error {
	return ts.updateItem(ctx, id, "unit_cost = ?", cost.String())
}

// UpdateItemCounters is called only from inventory.ApplyMovement; the
// movement row is written in the same transaction.
func (ts *txStore) UpdateItemCounters(ctx context.Context, id inventory.ItemID, onHand, reserved int64) error {
	return ts.updateItem(ctx, id, "on_hand = ?, reserved = ?", onHand, reserved)
}

func (ts *txStore) updateItem(ctx context.Context, id inventory.ItemID, set string, args ...any) error {
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE items SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrItemNotFound, id)
	}
	return nil
}

// =============================================================================
// MOVEMENTS (append-only)
// =============================================================================

const movementColumns = `id, item_id, movement_type, delta, previous_on_hand,
	new_on_hand, previous_reserved, new_reserved, consumer_ref, reason, actor,
	idempotency_key, created_at`

func (ts *txStore) InsertMovement(ctx context.Context, m inventory.Movement) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO stock_movements
		(id, item_id, movement_type, delta, previous_on_hand, new_on_hand,
		 previous_reserved, new_reserved, consumer_ref, reason, actor,
		 idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ItemID, m.Type, m.Delta,
		m.PreviousOnHand, m.NewOnHand, m.PreviousReserved, m.NewReserved,
		nullString(string(m.ConsumerRef)), m.Reason, m.Actor,
		nullString(m.IdempotencyKey), m.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err, "idempotency_key") {
		return inventory.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (ts *txStore) MovementExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) Movements(ctx context.Context, itemID inventory.ItemID) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db,
		"SELECT "+movementColumns+" FROM stock_movements WHERE item_id = ? ORDER BY seq ASC", itemID)
}

func (ts *txStore) Movements(ctx context.Context, itemID inventory.ItemID) ([]inventory.Movement, error) {
	return queryMovements(ctx, ts.tx,
		"SELECT "+movementColumns+" FROM stock_movements WHERE item_id = ? ORDER BY seq ASC", itemID)
}

func (s *Store) MovementsByConsumer(ctx context.Context, ref inventory.ConsumerRef) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db,
		"SELECT "+movementColumns+" FROM stock_movements WHERE consumer_ref = ? ORDER BY seq ASC", string(ref))
}

func (ts *txStore) MovementsByConsumer(ctx context.Context, ref inventory.ConsumerRef) ([]inventory.Movement, error) {
	return queryMovements(ctx, ts.tx,
		"SELECT "+movementColumns+" FROM stock_movements WHERE consumer_ref = ? ORDER BY seq ASC", string(ref))
}

func (s *Store) MovementsInRange(ctx context.Context, itemID inventory.ItemID, from, to time.Time) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return movementsInRange(ctx, s.db, itemID, from, to)
}

func (ts *txStore) MovementsInRange(ctx context.Context, itemID inventory.ItemID, from, to time.Time) ([]inventory.Movement, error) {
	return movementsInRange(ctx, ts.tx, itemID, from, to)
}

func movementsInRange(ctx context.Context, q dbtx, itemID inventory.ItemID, from, to time.Time) ([]inventory.Movement, error) {
	return queryMovements(ctx, q, `
		SELECT `+movementColumns+` FROM stock_movements
		WHERE item_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY seq ASC`,
		itemID, from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func queryMovements(ctx context.Context, q dbtx, query string, args ...any) ([]inventory.Movement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []inventory.Movement
	for rows.Next() {
		var (
			m                    inventory.Movement
			consumerRef, idemKey sql.NullString
			reason, actor        sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Type, &m.Delta,
			&m.PreviousOnHand, &m.NewOnHand, &m.PreviousReserved, &m.NewReserved,
			&consumerRef, &reason, &actor, &idemKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.ConsumerRef = inventory.ConsumerRef(consumerRef.String)
		m.Reason = reason.String
		m.Actor = actor.String
		m.IdempotencyKey = idemKey.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, item_id, quantity, consumer_ref, reason, created_at, released_at`

func (s *Store) Reservation(ctx context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReservation(ctx, s.db, id)
}

func (ts *txStore) Reservation(ctx context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	return getReservation(ctx, ts.tx, id)
}

func getReservation(ctx context.Context, q dbtx, id inventory.ReservationID) (*inventory.Reservation, error) {
	rs, err := queryReservations(ctx, q,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

func (s *Store) ActiveReservations(ctx context.Context, itemID inventory.ItemID) ([]inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeReservations(ctx, s.db, itemID)
}

func (ts *txStore) ActiveReservations(ctx context.Context, itemID inventory.ItemID) ([]inventory.Reservation, error) {
	return activeReservations(ctx, ts.tx, itemID)
}

func activeReservations(ctx context.Context, q dbtx, itemID inventory.ItemID) ([]inventory.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE item_id = ? AND released_at IS NULL
		ORDER BY created_at ASC`, itemID)
}

func (s *Store) ActiveReservationsForConsumer(ctx context.Context, ref inventory.ConsumerRef) ([]inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeReservationsForConsumer(ctx, s.db, ref)
}

func (ts *txStore) ActiveReservationsForConsumer(ctx context.Context, ref inventory.ConsumerRef) ([]inventory.Reservation, error) {
	return activeReservationsForConsumer(ctx, ts.tx, ref)
}

func activeReservationsForConsumer(ctx context.Context, q dbtx, ref inventory.ConsumerRef) ([]inventory.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE consumer_ref = ? AND released_at IS NULL
		ORDER BY created_at ASC`, string(ref))
}

func (s *Store) AllActiveReservations(ctx context.Context) ([]inventory.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allActiveReservations(ctx, s.db)
}

func (ts *txStore) AllActiveReservations(ctx context.Context) ([]inventory.Reservation, error) {
	return allActiveReservations(ctx, ts.tx)
}

func allActiveReservations(ctx context.Context, q dbtx) ([]inventory.Reservation, error) {
	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE released_at IS NULL
		ORDER BY item_id, created_at ASC`)
}

func queryReservations(ctx context.Context, q dbtx, query string, args ...any) ([]inventory.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []inventory.Reservation
	for rows.Next() {
		var (
			r                  inventory.Reservation
			reason, releasedAt sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&r.ID, &r.ItemID, &r.Quantity, &r.ConsumerRef,
			&reason, &createdAt, &releasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.Reason = reason.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if releasedAt.Valid {
			t, _ := time.Parse(time.RFC3339, releasedAt.String)
			r.ReleasedAt = &t
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func (ts *txStore) InsertReservation(ctx context.Context, r inventory.Reservation) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, item_id, quantity, consumer_ref, reason, created_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		r.ID, r.ItemID, r.Quantity, string(r.ConsumerRef), r.Reason,
		r.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func (ts *txStore) MarkReservationReleased(ctx context.Context, id inventory.ReservationID, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE reservations SET released_at = ? WHERE id = ? AND released_at IS NULL",
		at.Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrReservationNotFound, id)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueViolation(err error, indexOrColumn string) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), indexOrColumn)
}
