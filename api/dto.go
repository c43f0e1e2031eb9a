/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

Validation is done in handlers; DTOs are pure data carriers. Unit costs
travel as decimal strings so clients never see float rounding.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/morrow/inventory-engine/inventory"
	"github.com/morrow/inventory-engine/purchase"
)

// =============================================================================
// ITEMS
// =============================================================================

// ItemDTO represents an item-location row with its derived quantities.
type ItemDTO struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Model             string `json:"model,omitempty"`
	Color             string `json:"color,omitempty"`
	Location          string `json:"location"`
	OnHand            int64  `json:"on_hand"`
	Reserved          int64  `json:"reserved"`
	Available         int64  `json:"available"`
	UnitCost          string `json:"unit_cost"`
	LowStockThreshold int64  `json:"low_stock_threshold"`
	LowStock          bool   `json:"low_stock"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// CreateItemRequest is the request to register an item-location.
type CreateItemRequest struct {
	Name              string `json:"name"`
	Model             string `json:"model"`
	Color             string `json:"color"`
	Location          string `json:"location"`
	UnitCost          string `json:"unit_cost"`
	LowStockThreshold int64  `json:"low_stock_threshold"`
}

// AdjustRequest is a manual on-hand adjustment. IdempotencyKey is
// optional; a repeated key is rejected instead of applied twice.
type AdjustRequest struct {
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementDTO represents one ledger entry.
type MovementDTO struct {
	ID               string `json:"id"`
	ItemID           string `json:"item_id"`
	Type             string `json:"type"`
	Delta            int64  `json:"delta"`
	PreviousOnHand   int64  `json:"previous_on_hand"`
	NewOnHand        int64  `json:"new_on_hand"`
	PreviousReserved int64  `json:"previous_reserved"`
	NewReserved      int64  `json:"new_reserved"`
	ConsumerRef      string `json:"consumer_ref,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Actor            string `json:"actor,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// ReserveRequest earmarks stock for a consumer. IdempotencyKey is
// optional; retried submissions under the same key are rejected instead
// of double-booking stock.
type ReserveRequest struct {
	ItemID         string `json:"item_id"`
	Quantity       int64  `json:"quantity"`
	ConsumerRef    string `json:"consumer_ref"`
	Reason         string `json:"reason"`
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReleaseRequest releases a reservation (or all of a consumer's).
type ReleaseRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// ReservationDTO represents a reservation row.
type ReservationDTO struct {
	ID          string  `json:"id"`
	ItemID      string  `json:"item_id"`
	Quantity    int64   `json:"quantity"`
	ConsumerRef string  `json:"consumer_ref"`
	Reason      string  `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ReleasedAt  *string `json:"released_at,omitempty"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

// NewLineRequest is one line of a draft order.
type NewLineRequest struct {
	ItemID          string `json:"item_id"`
	QuantityOrdered int64  `json:"quantity_ordered"`
	UnitCost        string `json:"unit_cost"`
}

// CreateOrderRequest opens a draft order.
type CreateOrderRequest struct {
	PONumber    string           `json:"po_number"`
	SupplierRef string           `json:"supplier_ref"`
	OrderDate   string           `json:"order_date"` // YYYY-MM-DD
	Lines       []NewLineRequest `json:"lines"`
}

// UpdateOrderRequest edits a draft order's header. Empty fields are left
// unchanged.
type UpdateOrderRequest struct {
	PONumber    string `json:"po_number"`
	SupplierRef string `json:"supplier_ref"`
	OrderDate   string `json:"order_date"`
}

// OrderDTO represents an order with its lines.
type OrderDTO struct {
	ID            string         `json:"id"`
	PONumber      string         `json:"po_number"`
	SupplierRef   string         `json:"supplier_ref,omitempty"`
	OrderDate     string         `json:"order_date"`
	Status        string         `json:"status"`
	ReceivedTotal string         `json:"received_total"`
	Lines         []OrderLineDTO `json:"lines,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
}

// OrderLineDTO represents one order line.
type OrderLineDTO struct {
	ID               string `json:"id"`
	ItemID           string `json:"item_id"`
	QuantityOrdered  int64  `json:"quantity_ordered"`
	QuantityReceived int64  `json:"quantity_received"`
	UnitCost         string `json:"unit_cost"`
}

// ReceiveLineRequest is one line of a goods-received batch. UnitCost is a
// decimal string; blank, unparseable, or non-positive values fall back to
// the item's current cost.
type ReceiveLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
	UnitCost string `json:"unit_cost,omitempty"`
}

// ReceiveRequest is a goods-received batch. IdempotencyKey is optional;
// a resubmitted delivery note under the same key is rejected whole.
type ReceiveRequest struct {
	Lines          []ReceiveLineRequest `json:"lines"`
	Actor          string               `json:"actor"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// ReceiveResultDTO reports a committed batch.
type ReceiveResultDTO struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	LinesApplied  int    `json:"lines_applied"`
	BatchValue    string `json:"batch_value"`
	ReceivedTotal string `json:"received_total"`
}

// =============================================================================
// AUDIT
// =============================================================================

// DiscrepancyDTO represents one reconciliation finding.
type DiscrepancyDTO struct {
	Kind          string `json:"kind"`
	ItemID        string `json:"item_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	ConsumerRef   string `json:"consumer_ref,omitempty"`
	Expected      int64  `json:"expected"`
	Actual        int64  `json:"actual"`
	Detail        string `json:"detail,omitempty"`
}

// RepairRequest realigns an item's reserved counter via a correction
// movement.
type RepairRequest struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toItemDTO(i inventory.Item) ItemDTO {
	return ItemDTO{
		ID:                string(i.ID),
		Name:              i.Name,
		Model:             i.Model,
		Color:             i.Color,
		Location:          i.Location,
		OnHand:            i.OnHand,
		Reserved:          i.Reserved,
		Available:         i.Available(),
		UnitCost:          i.UnitCost.String(),
		LowStockThreshold: i.LowStockThreshold,
		LowStock:          i.LowStock(),
		Status:            string(i.Status),
		CreatedAt:         i.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTO(m inventory.Movement) MovementDTO {
	return MovementDTO{
		ID:               string(m.ID),
		ItemID:           string(m.ItemID),
		Type:             string(m.Type),
		Delta:            m.Delta,
		PreviousOnHand:   m.PreviousOnHand,
		NewOnHand:        m.NewOnHand,
		PreviousReserved: m.PreviousReserved,
		NewReserved:      m.NewReserved,
		ConsumerRef:      string(m.ConsumerRef),
		Reason:           m.Reason,
		Actor:            m.Actor,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTOs(ms []inventory.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(ms))
	for i, m := range ms {
		dtos[i] = toMovementDTO(m)
	}
	return dtos
}

func toReservationDTO(r inventory.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:          string(r.ID),
		ItemID:      string(r.ItemID),
		Quantity:    r.Quantity,
		ConsumerRef: string(r.ConsumerRef),
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
	if r.ReleasedAt != nil {
		s := r.ReleasedAt.Format(time.RFC3339)
		dto.ReleasedAt = &s
	}
	return dto
}

func toOrderDTO(o purchase.Order, lines []purchase.Line) OrderDTO {
	dto := OrderDTO{
		ID:            string(o.ID),
		PONumber:      o.PONumber,
		SupplierRef:   o.SupplierRef,
		OrderDate:     o.OrderDate.Format("2006-01-02"),
		Status:        string(o.Status),
		ReceivedTotal: o.ReceivedTotal.String(),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range lines {
		dto.Lines = append(dto.Lines, OrderLineDTO{
			ID:               string(l.ID),
			ItemID:           string(l.ItemID),
			QuantityOrdered:  l.QuantityOrdered,
			QuantityReceived: l.QuantityReceived,
			UnitCost:         l.UnitCost.String(),
		})
	}
	return dto
}

// parseOptionalCost implements the lenient cost policy at the API edge:
// blank or unparseable input means "keep the current price".
func parseOptionalCost(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
