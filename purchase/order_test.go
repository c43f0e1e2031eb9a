package purchase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morrow/inventory-engine/inventory"
	"github.com/morrow/inventory-engine/purchase"
	"github.com/morrow/inventory-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEngine struct {
	store        *sqlite.Store
	ledger       *inventory.Ledger
	reservations *inventory.Reservations
	orders       *purchase.Orders
}

func newTestEngine(t *testing.T) *testEngine {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &testEngine{
		store:        store,
		ledger:       inventory.NewLedger(store),
		reservations: inventory.NewReservations(store),
		orders:       purchase.NewOrders(store),
	}
}

func (e *testEngine) seedItem(t *testing.T, name string, onHand int64, cost int64) inventory.ItemID {
	t.Helper()
	ctx := context.Background()

	item, err := e.ledger.CreateItem(ctx, inventory.Item{
		Name:     name,
		Location: "warehouse-a",
		UnitCost: decimal.NewFromInt(cost),
	})
	require.NoError(t, err)
	if onHand > 0 {
		_, err = e.ledger.Adjust(ctx, item.ID, onHand, "initial stock count", "test-setup", "")
		require.NoError(t, err)
	}
	return item.ID
}

var orderDate = time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)

// recordingDispatcher captures dispatched orders; fail makes it error.
type recordingDispatcher struct {
	dispatched []purchase.OrderID
	fail       error
}

func (d *recordingDispatcher) DispatchOrder(_ context.Context, order purchase.Order, _ []purchase.Line) error {
	if d.fail != nil {
		return d.fail
	}
	d.dispatched = append(d.dispatched, order.ID)
	return nil
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to purchase.Status
		want     bool
	}{
		{purchase.StatusDraft, purchase.StatusSent, true},
		{purchase.StatusDraft, purchase.StatusCancelled, true},
		{purchase.StatusDraft, purchase.StatusReceived, false},
		{purchase.StatusSent, purchase.StatusPartial, true},
		{purchase.StatusSent, purchase.StatusReceived, true},
		{purchase.StatusSent, purchase.StatusCancelled, false},
		{purchase.StatusSent, purchase.StatusDraft, false},
		{purchase.StatusPartial, purchase.StatusPartial, true},
		{purchase.StatusPartial, purchase.StatusReceived, true},
		{purchase.StatusPartial, purchase.StatusCancelled, false},
		{purchase.StatusReceived, purchase.StatusPartial, false},
		{purchase.StatusCancelled, purchase.StatusSent, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, purchase.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStatusForLines(t *testing.T) {
	full := purchase.Line{QuantityOrdered: 5, QuantityReceived: 5}
	partial := purchase.Line{QuantityOrdered: 5, QuantityReceived: 2}
	untouched := purchase.Line{QuantityOrdered: 5, QuantityReceived: 0}

	assert.Equal(t, purchase.StatusReceived, purchase.StatusForLines([]purchase.Line{full, full}))
	assert.Equal(t, purchase.StatusPartial, purchase.StatusForLines([]purchase.Line{full, partial}))
	assert.Equal(t, purchase.StatusPartial, purchase.StatusForLines([]purchase.Line{untouched}))
}

// =============================================================================
// DRAFT OPERATIONS
// =============================================================================

func TestCreateOrder_DraftWithLines(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	casket := e.seedItem(t, "Oak Casket", 0, 900)

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, []purchase.NewLine{
		{ItemID: casket, QuantityOrdered: 5, UnitCost: decimal.NewFromInt(850)},
	})
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusDraft, order.Status)

	lines, err := e.orders.OrderLines(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(5), lines[0].QuantityOrdered)
	assert.Equal(t, int64(0), lines[0].QuantityReceived)
}

func TestCreateOrder_RequiresPONumber(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.orders.Create(context.Background(), "", "supplier-acme", orderDate, nil)
	assert.ErrorIs(t, err, inventory.ErrInvalidState)
}

func TestCreateOrder_DuplicatePONumber_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)

	_, err = e.orders.Create(ctx, "PO-2026-001", "supplier-other", orderDate, nil)
	assert.ErrorIs(t, err, inventory.ErrDuplicatePONumber)
}

func TestCreateOrder_UnknownItemOnLine_RollsBackHeader(t *testing.T) {
	// A bad line must not leave a half-created order behind.

	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, []purchase.NewLine{
		{ItemID: "no-such-item", QuantityOrdered: 5},
	})
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)

	orders, err := e.orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestAddLine_DraftOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	casket := e.seedItem(t, "Oak Casket", 0, 900)

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)

	require.NoError(t, e.orders.AddLine(ctx, order.ID, purchase.NewLine{
		ItemID: casket, QuantityOrdered: 3, UnitCost: decimal.NewFromInt(850),
	}))

	require.NoError(t, e.orders.MarkSent(ctx, order.ID, nil))

	err = e.orders.AddLine(ctx, order.ID, purchase.NewLine{
		ItemID: casket, QuantityOrdered: 1,
	})
	var stateErr *inventory.InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestUpdateAndDelete_DraftOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)

	require.NoError(t, e.orders.Update(ctx, order.ID, "PO-2026-001-R1", "supplier-beta", time.Time{}))
	updated, err := e.orders.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "PO-2026-001-R1", updated.PONumber)
	assert.Equal(t, "supplier-beta", updated.SupplierRef)

	require.NoError(t, e.orders.MarkSent(ctx, order.ID, nil))

	var stateErr *inventory.InvalidStateError
	assert.ErrorAs(t, e.orders.Update(ctx, order.ID, "PO-X", "", time.Time{}), &stateErr)
	assert.ErrorAs(t, e.orders.Delete(ctx, order.ID), &stateErr)
}

func TestCancel_DraftOnly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	draft, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)
	require.NoError(t, e.orders.Cancel(ctx, draft.ID))

	cancelled, err := e.orders.Order(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Status.Terminal())

	sent, err := e.orders.Create(ctx, "PO-2026-002", "supplier-acme", orderDate, nil)
	require.NoError(t, err)
	require.NoError(t, e.orders.MarkSent(ctx, sent.ID, nil))

	var stateErr *inventory.InvalidStateError
	assert.ErrorAs(t, e.orders.Cancel(ctx, sent.ID), &stateErr)
}

// =============================================================================
// TRANSMISSION
// =============================================================================

func TestMarkSent_DispatchesThenTransitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	casket := e.seedItem(t, "Oak Casket", 0, 900)

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, []purchase.NewLine{
		{ItemID: casket, QuantityOrdered: 5, UnitCost: decimal.NewFromInt(850)},
	})
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	require.NoError(t, e.orders.MarkSent(ctx, order.ID, dispatcher))
	assert.Equal(t, []purchase.OrderID{order.ID}, dispatcher.dispatched)

	sent, err := e.orders.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusSent, sent.Status)
}

func TestMarkSent_DispatchFailure_LeavesDraft(t *testing.T) {
	// GIVEN: A dispatcher that fails (mail server down)
	// WHEN: Sending the order
	// THEN: The error surfaces and the order stays draft for retry

	e := newTestEngine(t)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{fail: errors.New("smtp: connection refused")}
	err = e.orders.MarkSent(ctx, order.ID, dispatcher)
	require.Error(t, err)

	still, err := e.orders.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusDraft, still.Status)

	// Retry with a working dispatcher succeeds
	require.NoError(t, e.orders.MarkSent(ctx, order.ID, &recordingDispatcher{}))
}

func TestMarkSent_AlreadySent_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)
	require.NoError(t, e.orders.MarkSent(ctx, order.ID, nil))

	var stateErr *inventory.InvalidStateError
	assert.ErrorAs(t, e.orders.MarkSent(ctx, order.ID, nil), &stateErr)
}

// =============================================================================
// CONSUMER STATE
// =============================================================================

func TestConsumerState_ResolvesOrderRefs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cs := purchase.NewConsumerState(e.store)

	open, err := e.orders.Create(ctx, "PO-2026-001", "supplier-acme", orderDate, nil)
	require.NoError(t, err)
	done, err := e.orders.Create(ctx, "PO-2026-002", "supplier-acme", orderDate, nil)
	require.NoError(t, err)
	require.NoError(t, e.orders.Cancel(ctx, done.ID))

	terminal, known, err := cs.Terminal(ctx, open.ConsumerRef())
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, terminal)

	terminal, known, err = cs.Terminal(ctx, done.ConsumerRef())
	require.NoError(t, err)
	assert.True(t, known)
	assert.True(t, terminal)

	// Case refs and unknown orders are not this checker's business
	_, known, err = cs.Terminal(ctx, "case:1001")
	require.NoError(t, err)
	assert.False(t, known)

	_, known, err = cs.Terminal(ctx, "po:no-such-order")
	require.NoError(t, err)
	assert.False(t, known)
}
