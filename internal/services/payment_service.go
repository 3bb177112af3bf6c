// internal/services/payment_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type CreatePaymentIntentRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}

type ConfirmPaymentRequest struct {
	OrderID         uuid.UUID `json:"order_id" validate:"required"`
	PaymentIntentID string    `json:"payment_intent_id" validate:"required,max=255"`
}

type ConfirmPaymentResponse struct {
	Order     *models.Order `json:"order"`
	Simulated bool          `json:"simulated"`
}

// PaymentService is the REST facing side of payments. State changes are
// delegated to OrderService so the paid transition has a single owner.
type PaymentService struct {
	db      *gorm.DB
	orders  *OrderService
	gateway *PaymentGateway
	logger  *logrus.Entry
}

func NewPaymentService(db *gorm.DB, orders *OrderService, gateway *PaymentGateway) *PaymentService {
	return &PaymentService{
		db:      db,
		orders:  orders,
		gateway: gateway,
		logger:  logrus.WithField("component", "payments"),
	}
}

// CreatePaymentIntent opens a gateway intent for a pending order and records
// its reference on the order.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, buyerID uuid.UUID, req *CreatePaymentIntentRequest) (*PaymentIntent, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", req.OrderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("order")
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if err := checkPayable(&order, buyerID); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, &order)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"payment_reference": intent.Reference,
			"payment_simulated": intent.Simulated,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, utils.NewNotEligibleError("order is no longer pending")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"reference": intent.Reference,
		"simulated": intent.Simulated,
	}).Info("Payment intent created")

	return intent, nil
}

func (s *PaymentService) ConfirmPayment(ctx context.Context, buyerID uuid.UUID, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	order, simulated, err := s.orders.ConfirmPayment(ctx, buyerID, req.OrderID, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	return &ConfirmPaymentResponse{Order: order, Simulated: simulated}, nil
}

func (s *PaymentService) Refund(ctx context.Context, actor Actor, req *RefundOrderRequest) (*RefundResult, error) {
	return s.orders.Refund(ctx, actor, req)
}

// GetPaymentHistory lists the buyer's orders that have been paid at some point.
func (s *PaymentService) GetPaymentHistory(ctx context.Context, buyerID uuid.UUID, params utils.PaginationParams) ([]models.Order, int64, error) {
	filter := OrderFilter{
		BuyerID: &buyerID,
		Statuses: []models.OrderStatus{
			models.OrderStatusPaid,
			models.OrderStatusShipped,
			models.OrderStatusDelivered,
		},
	}
	return s.orders.List(ctx, filter, params)
}
