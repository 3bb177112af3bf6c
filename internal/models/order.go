// internal/models/order.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered, OrderStatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the order state machine allows from -> to.
// Delivered and cancelled are terminal.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Refundable states are the ones a seller can still reverse with the gateway.
func (s OrderStatus) Refundable() bool {
	return s == OrderStatusPaid || s == OrderStatusShipped
}

type ShippingAddress struct {
	Street     string `json:"street" validate:"required,max=255"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=20"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("shipping address: unsupported scan source")
	}

	return json.Unmarshal(bytes, a)
}

type Order struct {
	BaseModel
	BuyerID           uuid.UUID       `json:"buyer_id" gorm:"type:uuid;not null;index"`
	Subtotal          decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	ShippingCost      decimal.Decimal `json:"shipping_cost" gorm:"type:numeric(12,2);not null"`
	Tax               decimal.Decimal `json:"tax" gorm:"type:numeric(12,2);not null"`
	Total             decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	Status            OrderStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ShippingAddress   ShippingAddress `json:"shipping_address" gorm:"type:jsonb;not null"`
	PaymentMethod     string          `json:"payment_method" gorm:"size:50"`
	PaymentReference  string          `json:"payment_reference,omitempty" gorm:"size:255;index"`
	PaymentSimulated  bool            `json:"payment_simulated" gorm:"not null;default:false"`
	TrackingNumber    string          `json:"tracking_number,omitempty" gorm:"size:100"`
	Notes             string          `json:"notes,omitempty" gorm:"type:text"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`

	// Relationships
	Buyer *User       `json:"buyer,omitempty" gorm:"foreignKey:BuyerID;constraint:OnDelete:CASCADE"`
	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// StoreIDs returns the distinct stores whose products appear in the order.
func (o *Order) StoreIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	var ids []uuid.UUID
	for _, item := range o.Items {
		if _, ok := seen[item.StoreID]; ok {
			continue
		}
		seen[item.StoreID] = struct{}{}
		ids = append(ids, item.StoreID)
	}
	return ids
}

// OrderItem snapshots price and store at purchase time so later catalog
// edits never change what was sold.
type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_order_items_order_product"`
	ProductID   uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;uniqueIndex:idx_order_items_order_product;index"`
	StoreID     uuid.UUID       `json:"store_id" gorm:"type:uuid;not null;index"`
	ProductName string          `json:"product_name" gorm:"size:255;not null"`
	Quantity    int             `json:"quantity" gorm:"not null;check:quantity_positive,quantity > 0"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`

	Product *Product `json:"product,omitempty" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
}
