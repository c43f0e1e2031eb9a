/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the reservation and stock-ledger engine via REST. Handles HTTP
  request/response and JSON serialization, and delegates to the domain
  services.

ENDPOINTS:
  Items:
    GET    /api/items                     List items with counters
    POST   /api/items                     Register an item-location
    GET    /api/items/{id}                Current on-hand/reserved/available
    GET    /api/items/{id}/movements      Ledger history
    GET    /api/items/{id}/replay         Ledger-vs-counter replay check
    POST   /api/items/{id}/adjust         Manual adjustment
    POST   /api/items/{id}/retire         Soft delete

  Reservations:
    POST   /api/reservations              Reserve (case committed)
    GET    /api/reservations/{id}         Reservation detail
    POST   /api/reservations/{id}/release Release one reservation
    POST   /api/consumers/{ref}/release   Release all for a consumer
    GET    /api/consumers/{ref}/movements Ledger by consumer

  Purchase orders:
    GET    /api/orders                    List orders
    POST   /api/orders                    Create draft
    GET    /api/orders/{id}               Order with lines
    PUT    /api/orders/{id}               Edit header (draft only)
    DELETE /api/orders/{id}               Delete (draft only, cascades lines)
    POST   /api/orders/{id}/lines         Add line (draft only)
    POST   /api/orders/{id}/send          Transmit and mark sent
    POST   /api/orders/{id}/cancel        Cancel (draft only)
    POST   /api/orders/{id}/receive       Goods-received batch

  Audit:
    GET    /api/audit                     Reconciliation discrepancies
    POST   /api/audit/repair              Explicit counter repair

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input, rejected batches
  - 404: Unknown item/order/reservation
  - 409: Insufficient stock, forbidden state, duplicates
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/morrow/inventory-engine/inventory"
	"github.com/morrow/inventory-engine/purchase"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger       *inventory.Ledger
	Reservations *inventory.Reservations
	Orders       *purchase.Orders
	Auditor      *inventory.Auditor
	Dispatcher   purchase.Dispatcher
}

// NewHandler wires the domain services onto one store.
func NewHandler(store interface {
	inventory.Store
	purchase.Store
}, dispatcher purchase.Dispatcher) *Handler {
	return &Handler{
		Ledger:       inventory.NewLedger(store),
		Reservations: inventory.NewReservations(store),
		Orders:       purchase.NewOrders(store),
		Auditor:      inventory.NewAuditor(store, purchase.NewConsumerState(store)),
		Dispatcher:   dispatcher,
	}
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems returns all items with current counters.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Ledger.Items(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list items", err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem registers a new item-location with zero counters.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.Location == "" {
		writeError(w, http.StatusBadRequest, "name and location are required", nil)
		return
	}

	item := inventory.Item{
		Name:              req.Name,
		Model:             req.Model,
		Color:             req.Color,
		Location:          req.Location,
		LowStockThreshold: req.LowStockThreshold,
	}
	if cost := parseOptionalCost(req.UnitCost); cost != nil {
		item.UnitCost = *cost
	}

	created, err := h.Ledger.CreateItem(r.Context(), item)
	if err != nil {
		writeDomainError(w, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*created))
}

// GetItem returns one item with its counters.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Ledger.Item(r.Context(), inventory.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// GetItemMovements returns an item's ledger history, oldest first.
// Optional from/to query params (RFC3339) bound the range.
func (h *Handler) GetItemMovements(w http.ResponseWriter, r *http.Request) {
	itemID := inventory.ItemID(chi.URLParam(r, "id"))

	var (
		movements []inventory.Movement
		err       error
	)
	fromStr, toStr := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromStr != "" || toStr != "" {
		from, to, perr := parseRange(fromStr, toStr)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid from/to range (use RFC3339)", perr)
			return
		}
		movements, err = h.Ledger.MovementsInRange(r.Context(), itemID, from, to)
	} else {
		movements, err = h.Ledger.Movements(r.Context(), itemID)
	}
	if err != nil {
		writeDomainError(w, "Failed to get movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// GetItemReplay recomputes an item's counters from its ledger and reports
// whether they match the stored row.
func (h *Handler) GetItemReplay(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.Replay(r.Context(), inventory.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to replay ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":           string(result.ItemID),
		"consistent":        result.Consistent(),
		"movements":         result.Movements,
		"computed_on_hand":  result.ComputedOnHand,
		"stored_on_hand":    result.StoredOnHand,
		"computed_reserved": result.ComputedReserved,
		"stored_reserved":   result.StoredReserved,
		"chain_breaks":      len(result.ChainBreaks),
	})
}

// AdjustItem applies a manual on-hand correction.
func (h *Handler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	movement, err := h.Ledger.Adjust(r.Context(),
		inventory.ItemID(chi.URLParam(r, "id")), req.Delta, req.Reason, req.Actor, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "Failed to adjust item", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(movement))
}

// RetireItem soft-deletes an item. Rejected while reservations are open.
func (h *Handler) RetireItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RetireItem(r.Context(), inventory.ItemID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to retire item", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(inventory.ItemRetired)})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation earmarks stock for a consumer (case committed hook).
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	reservation, err := h.Reservations.Reserve(r.Context(),
		inventory.ItemID(req.ItemID), req.Quantity,
		inventory.ConsumerRef(req.ConsumerRef), req.Reason, req.Actor, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "Failed to reserve stock", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*reservation))
}

// GetReservation returns one reservation.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.Reservations.Reservation(r.Context(),
		inventory.ReservationID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// ReleaseReservation releases one reservation. Safe to retry: releasing an
// already-released reservation succeeds without changing anything. Reason
// and actor are optional, so an empty body is a valid request.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	err := h.Reservations.Release(r.Context(),
		inventory.ReservationID(chi.URLParam(r, "id")), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to release reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

// ReleaseConsumer releases every active reservation for a consumer (case
// cancelled/completed hook). An empty body is a valid request.
func (h *Handler) ReleaseConsumer(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	count, err := h.Reservations.ReleaseAllForConsumer(r.Context(),
		inventory.ConsumerRef(chi.URLParam(r, "ref")), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to release reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": count})
}

// GetConsumerMovements returns the ledger entries linked to a consumer.
func (h *Handler) GetConsumerMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Ledger.MovementsByConsumer(r.Context(),
		inventory.ConsumerRef(chi.URLParam(r, "ref")))
	if err != nil {
		writeDomainError(w, "Failed to get movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// =============================================================================
// PURCHASE ORDER HANDLERS
// =============================================================================

// ListOrders returns all orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.List(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list orders", err)
		return
	}
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOrder opens a draft order, optionally with initial lines.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	orderDate, err := parseDate(req.OrderDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order_date format (use YYYY-MM-DD)", err)
		return
	}

	lines := make([]purchase.NewLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = purchase.NewLine{
			ItemID:          inventory.ItemID(l.ItemID),
			QuantityOrdered: l.QuantityOrdered,
		}
		if cost := parseOptionalCost(l.UnitCost); cost != nil {
			lines[i].UnitCost = *cost
		}
	}

	order, err := h.Orders.Create(r.Context(), req.PONumber, req.SupplierRef, orderDate, lines)
	if err != nil {
		writeDomainError(w, "Failed to create order", err)
		return
	}
	created, err := h.Orders.OrderLines(r.Context(), order.ID)
	if err != nil {
		writeDomainError(w, "Failed to load order lines", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(*order, created))
}

// GetOrder returns an order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := purchase.OrderID(chi.URLParam(r, "id"))
	order, err := h.Orders.Order(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	lines, err := h.Orders.OrderLines(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, "Failed to get order lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order, lines))
}

// UpdateOrder edits a draft order's header.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var orderDate time.Time
	if req.OrderDate != "" {
		var err error
		orderDate, err = parseDate(req.OrderDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid order_date format (use YYYY-MM-DD)", err)
			return
		}
	}
	err := h.Orders.Update(r.Context(), purchase.OrderID(chi.URLParam(r, "id")),
		req.PONumber, req.SupplierRef, orderDate)
	if err != nil {
		writeDomainError(w, "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// DeleteOrder removes a draft order and its lines.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.Delete(r.Context(), purchase.OrderID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// AddOrderLine appends a line to a draft order.
func (h *Handler) AddOrderLine(w http.ResponseWriter, r *http.Request) {
	var req NewLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	nl := purchase.NewLine{
		ItemID:          inventory.ItemID(req.ItemID),
		QuantityOrdered: req.QuantityOrdered,
	}
	if cost := parseOptionalCost(req.UnitCost); cost != nil {
		nl.UnitCost = *cost
	}
	if err := h.Orders.AddLine(r.Context(), purchase.OrderID(chi.URLParam(r, "id")), nl); err != nil {
		writeDomainError(w, "Failed to add order line", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"added": true})
}

// SendOrder transmits a draft order and marks it sent. A dispatch failure
// leaves the order draft.
func (h *Handler) SendOrder(w http.ResponseWriter, r *http.Request) {
	err := h.Orders.MarkSent(r.Context(), purchase.OrderID(chi.URLParam(r, "id")), h.Dispatcher)
	if err != nil {
		writeDomainError(w, "Failed to send order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(purchase.StatusSent)})
}

// CancelOrder cancels a draft order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.Cancel(r.Context(), purchase.OrderID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "Failed to cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": string(purchase.StatusCancelled)})
}

// ReceiveOrder applies a goods-received batch against an order.
func (h *Handler) ReceiveOrder(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	batch := make([]purchase.ReceiveLine, len(req.Lines))
	for i, l := range req.Lines {
		batch[i] = purchase.ReceiveLine{
			ItemID:   inventory.ItemID(l.ItemID),
			Quantity: l.Quantity,
			UnitCost: parseOptionalCost(l.UnitCost),
		}
	}

	result, err := h.Orders.Receive(r.Context(), purchase.OrderID(chi.URLParam(r, "id")), batch, req.Actor, req.IdempotencyKey)
	if err != nil {
		writeDomainError(w, "Failed to receive goods", err)
		return
	}
	writeJSON(w, http.StatusOK, ReceiveResultDTO{
		OrderID:       string(result.OrderID),
		Status:        string(result.Status),
		LinesApplied:  result.LinesApplied,
		BatchValue:    result.BatchValue.String(),
		ReceivedTotal: result.ReceivedTotal.String(),
	})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// GetAudit runs the reconciliation auditor and returns its findings.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	discrepancies, err := h.Auditor.Audit(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to run audit", err)
		return
	}
	dtos := make([]DiscrepancyDTO, len(discrepancies))
	for i, d := range discrepancies {
		dtos[i] = DiscrepancyDTO{
			Kind:          string(d.Kind),
			ItemID:        string(d.ItemID),
			ReservationID: string(d.ReservationID),
			ConsumerRef:   string(d.ConsumerRef),
			Expected:      d.Expected,
			Actual:        d.Actual,
			Detail:        d.Detail,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": dtos,
		"clean":         len(dtos) == 0,
	})
}

// PostRepair realigns an item's reserved counter through an audited
// correction movement.
func (h *Handler) PostRepair(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	movement, err := h.Auditor.Repair(r.Context(), inventory.ItemID(req.ItemID), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Failed to repair counter", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(movement))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, err
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses. Batch rejections
// carry their per-line problems in the details field.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var batchErr *inventory.BatchValidationError
	if errors.As(err, &batchErr) {
		problems := make([]map[string]string, len(batchErr.Problems))
		for i, p := range batchErr.Problems {
			problems[i] = map[string]string{
				"item_id": string(p.ItemID),
				"reason":  p.Reason,
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Code:    "batch_validation",
			Details: problems,
		})
		return
	}

	switch {
	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, inventory.ErrInsufficientAvailableStock),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidState),
		errors.Is(err, inventory.ErrItemHasActiveReservations),
		errors.Is(err, inventory.ErrDuplicateIdempotencyKey),
		errors.Is(err, inventory.ErrDuplicatePONumber):
		writeError(w, http.StatusConflict, message, err)
	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
