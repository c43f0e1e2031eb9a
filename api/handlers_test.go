/*
handlers_test.go - End-to-end tests for the HTTP API

PURPOSE:
  Drives the full stack (router -> handlers -> services -> sqlite) through
  httptest, covering the reserve/release flow, the order lifecycle, error
  status mapping, and the audit endpoint.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/morrow/inventory-engine/purchase"
	"github.com/morrow/inventory-engine/store/sqlite"
)

// okDispatcher accepts every order.
type okDispatcher struct{}

func (okDispatcher) DispatchOrder(context.Context, purchase.Order, []purchase.Line) error {
	return nil
}

func setupTestServer(t *testing.T) *httptest.Server {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(store, okDispatcher{})
	server := httptest.NewServer(NewRouter(handler, []string{"*"}))
	t.Cleanup(server.Close)
	return server
}

// doJSON posts body (or GETs when body is nil) and decodes the response
// into out when out is non-nil. Returns the status code.
func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func createItem(t *testing.T, server *httptest.Server, name string, onHand int64) string {
	t.Helper()

	var item ItemDTO
	status := doJSON(t, http.MethodPost, server.URL+"/api/items", CreateItemRequest{
		Name:     name,
		Location: "main-showroom",
		UnitCost: "900",
	}, &item)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 creating item, got %d", status)
	}
	if onHand > 0 {
		status = doJSON(t, http.MethodPost, server.URL+"/api/items/"+item.ID+"/adjust", AdjustRequest{
			Delta:  onHand,
			Reason: "initial stock count",
			Actor:  "test-setup",
		}, nil)
		if status != http.StatusOK {
			t.Fatalf("Expected 200 adjusting item, got %d", status)
		}
	}
	return item.ID
}

// =============================================================================
// RESERVE / RELEASE FLOW
// =============================================================================

func TestAPI_ReserveReleaseFlow(t *testing.T) {
	// GIVEN: An item with 5 on hand
	// WHEN: Reserving 3, failing to reserve 3 more, releasing
	// THEN: Counters and statuses track each step

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 5)

	var reservation ReservationDTO
	status := doJSON(t, http.MethodPost, server.URL+"/api/reservations", ReserveRequest{
		ItemID:      itemID,
		Quantity:    3,
		ConsumerRef: "case:1001",
		Actor:       "director",
	}, &reservation)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 reserving, got %d", status)
	}

	var item ItemDTO
	doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID, nil, &item)
	if item.Reserved != 3 || item.Available != 2 {
		t.Errorf("Expected reserved=3 available=2, got reserved=%d available=%d", item.Reserved, item.Available)
	}

	// Overselling maps to 409
	status = doJSON(t, http.MethodPost, server.URL+"/api/reservations", ReserveRequest{
		ItemID:      itemID,
		Quantity:    3,
		ConsumerRef: "case:1002",
		Actor:       "director",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 on oversell, got %d", status)
	}

	// Release twice: both succeed, counter moves once
	for i := 0; i < 2; i++ {
		status = doJSON(t, http.MethodPost, server.URL+"/api/reservations/"+reservation.ID+"/release", ReleaseRequest{
			Reason: "case cancelled",
			Actor:  "director",
		}, nil)
		if status != http.StatusOK {
			t.Fatalf("Release attempt %d: expected 200, got %d", i+1, status)
		}
	}
	doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID, nil, &item)
	if item.Reserved != 0 {
		t.Errorf("Expected reserved=0 after release, got %d", item.Reserved)
	}
}

func TestAPI_Release_EmptyBody_OK(t *testing.T) {
	// Release is the retry-safe hook for upstream case cancellation; reason
	// and actor are optional, so a bare POST with no body must succeed.

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 5)

	var reservation ReservationDTO
	status := doJSON(t, http.MethodPost, server.URL+"/api/reservations", ReserveRequest{
		ItemID:      itemID,
		Quantity:    2,
		ConsumerRef: "case:1001",
		Actor:       "director",
	}, &reservation)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 reserving, got %d", status)
	}

	status = doJSON(t, http.MethodPost, server.URL+"/api/reservations/"+reservation.ID+"/release", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 releasing with empty body, got %d", status)
	}

	// Consumer-level release with no body is equally valid
	status = doJSON(t, http.MethodPost, server.URL+"/api/consumers/case:1001/release", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 on consumer release with empty body, got %d", status)
	}

	var item ItemDTO
	doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID, nil, &item)
	if item.Reserved != 0 {
		t.Errorf("Expected reserved=0 after releases, got %d", item.Reserved)
	}
}

func TestAPI_Reserve_DuplicateIdempotencyKey_409(t *testing.T) {
	// A retried reservation under the same key conflicts instead of
	// double-booking the stock.

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 10)

	reserve := ReserveRequest{
		ItemID:         itemID,
		Quantity:       4,
		ConsumerRef:    "case:1001",
		Actor:          "director",
		IdempotencyKey: "case:1001-commit",
	}
	if status := doJSON(t, http.MethodPost, server.URL+"/api/reservations", reserve, nil); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, server.URL+"/api/reservations", reserve, nil); status != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate idempotency key, got %d", status)
	}

	var item ItemDTO
	doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID, nil, &item)
	if item.Reserved != 4 {
		t.Errorf("Expected reserved=4 after rejected retry, got %d", item.Reserved)
	}
}

func TestAPI_UnknownItem_404(t *testing.T) {
	server := setupTestServer(t)

	status := doJSON(t, http.MethodGet, server.URL+"/api/items/no-such-item", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

func TestAPI_OrderLifecycle(t *testing.T) {
	// Full path: draft -> sent -> partial -> received, with stock following.

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 0)

	var order OrderDTO
	status := doJSON(t, http.MethodPost, server.URL+"/api/orders", CreateOrderRequest{
		PONumber:    "PO-2026-001",
		SupplierRef: "supplier-acme",
		OrderDate:   "2026-08-01",
		Lines: []NewLineRequest{
			{ItemID: itemID, QuantityOrdered: 10, UnitCost: "850"},
		},
	}, &order)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 creating order, got %d", status)
	}
	if order.Status != "draft" {
		t.Fatalf("Expected draft, got %s", order.Status)
	}

	// Receiving against a draft is a state conflict
	status = doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/receive", ReceiveRequest{
		Lines: []ReceiveLineRequest{{ItemID: itemID, Quantity: 4}},
		Actor: "warehouse-mgr",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 receiving against draft, got %d", status)
	}

	status = doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/send", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 sending order, got %d", status)
	}

	var result ReceiveResultDTO
	status = doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/receive", ReceiveRequest{
		Lines: []ReceiveLineRequest{{ItemID: itemID, Quantity: 6}},
		Actor: "warehouse-mgr",
	}, &result)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 receiving, got %d", status)
	}
	if result.Status != "partial" {
		t.Errorf("Expected partial after 6/10, got %s", result.Status)
	}

	status = doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/receive", ReceiveRequest{
		Lines: []ReceiveLineRequest{{ItemID: itemID, Quantity: 4}},
		Actor: "warehouse-mgr",
	}, &result)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 receiving remainder, got %d", status)
	}
	if result.Status != "received" {
		t.Errorf("Expected received after 10/10, got %s", result.Status)
	}

	var item ItemDTO
	doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID, nil, &item)
	if item.OnHand != 10 {
		t.Errorf("Expected on_hand=10 after full receipt, got %d", item.OnHand)
	}
}

func TestAPI_ReceiveBatchRejection_400WithProblems(t *testing.T) {
	// An over-delivered batch returns 400 and the per-line problems.

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 0)

	var order OrderDTO
	doJSON(t, http.MethodPost, server.URL+"/api/orders", CreateOrderRequest{
		PONumber:  "PO-2026-001",
		OrderDate: "2026-08-01",
		Lines:     []NewLineRequest{{ItemID: itemID, QuantityOrdered: 5}},
	}, &order)
	doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/send", nil, nil)

	var errResp ErrorResponse
	status := doJSON(t, http.MethodPost, server.URL+"/api/orders/"+order.ID+"/receive", ReceiveRequest{
		Lines: []ReceiveLineRequest{{ItemID: itemID, Quantity: 999}},
		Actor: "warehouse-mgr",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Fatalf("Expected 400 for rejected batch, got %d", status)
	}
	if errResp.Code != "batch_validation" {
		t.Errorf("Expected batch_validation code, got %q", errResp.Code)
	}
	if errResp.Details == nil {
		t.Error("Expected per-line problems in details")
	}
}

func TestAPI_DuplicatePONumber_409(t *testing.T) {
	server := setupTestServer(t)

	create := CreateOrderRequest{PONumber: "PO-2026-001", OrderDate: "2026-08-01"}
	if status := doJSON(t, http.MethodPost, server.URL+"/api/orders", create, nil); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, server.URL+"/api/orders", create, nil); status != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate PO number, got %d", status)
	}
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAPI_Audit_CleanAfterNormalOperations(t *testing.T) {
	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 5)

	doJSON(t, http.MethodPost, server.URL+"/api/reservations", ReserveRequest{
		ItemID:      itemID,
		Quantity:    2,
		ConsumerRef: "case:1001",
		Actor:       "director",
	}, nil)

	var audit struct {
		Clean         bool             `json:"clean"`
		Discrepancies []DiscrepancyDTO `json:"discrepancies"`
	}
	status := doJSON(t, http.MethodGet, server.URL+"/api/audit", nil, &audit)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if !audit.Clean {
		t.Errorf("Expected clean audit, got %d discrepancies: %+v", len(audit.Discrepancies), audit.Discrepancies)
	}

	// Repair on a healthy item is an operator mistake -> 409
	status = doJSON(t, http.MethodPost, server.URL+"/api/audit/repair", RepairRequest{
		ItemID: itemID,
		Reason: "just in case",
		Actor:  "ops",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 repairing a healthy item, got %d", status)
	}
}

// =============================================================================
// MOVEMENT HISTORY
// =============================================================================

func TestAPI_ItemMovements_TrackEveryChange(t *testing.T) {
	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 5)

	doJSON(t, http.MethodPost, server.URL+"/api/reservations", ReserveRequest{
		ItemID:      itemID,
		Quantity:    2,
		ConsumerRef: "case:1001",
		Actor:       "director",
	}, nil)

	var movements []MovementDTO
	status := doJSON(t, http.MethodGet, server.URL+"/api/items/"+itemID+"/movements", nil, &movements)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if len(movements) != 2 {
		t.Fatalf("Expected 2 movements (adjustment + reservation), got %d", len(movements))
	}
	for i := 1; i < len(movements); i++ {
		if movements[i].PreviousOnHand != movements[i-1].NewOnHand ||
			movements[i].PreviousReserved != movements[i-1].NewReserved {
			t.Errorf("Movement %d breaks the before/after chain", i)
		}
	}

	var replay struct {
		Consistent bool `json:"consistent"`
	}
	doJSON(t, http.MethodGet, server.URL+fmt.Sprintf("/api/items/%s/replay", itemID), nil, &replay)
	if !replay.Consistent {
		t.Error("Expected replay to be consistent")
	}
}

func TestAPI_ItemMovements_RangeFilter(t *testing.T) {
	// from/to query params bound the history; either side may be omitted.

	server := setupTestServer(t)
	itemID := createItem(t, server, "Oak Casket", 5)

	var movements []MovementDTO
	status := doJSON(t, http.MethodGet,
		server.URL+"/api/items/"+itemID+"/movements?from=2000-01-01T00:00:00Z", nil, &movements)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if len(movements) != 1 {
		t.Errorf("Expected the seed adjustment inside an open-ended window, got %d movements", len(movements))
	}

	status = doJSON(t, http.MethodGet,
		server.URL+"/api/items/"+itemID+"/movements?from=2100-01-01T00:00:00Z", nil, &movements)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if len(movements) != 0 {
		t.Errorf("Expected no movements in a future window, got %d", len(movements))
	}

	status = doJSON(t, http.MethodGet,
		server.URL+"/api/items/"+itemID+"/movements?from=yesterday", nil, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed from bound, got %d", status)
	}
}
