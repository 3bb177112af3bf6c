package kafka

import "time"

// EventType names an order lifecycle event on the wire.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderPaid          EventType = "order.paid"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderRefunded      EventType = "order.refunded"
)

// OrderEvent is published keyed by order id so one order's events stay ordered.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	BuyerID   string                 `json:"buyer_id"`
	Status    string                 `json:"status"`
	Total     string                 `json:"total"`
	Simulated bool                   `json:"simulated,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewOrderEvent(eventType EventType, orderID, buyerID, status, total string) OrderEvent {
	return OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		BuyerID:   buyerID,
		Status:    status,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}
}
