// internal/services/order_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

const defaultPaymentMethod = "stripe"

// OrderNotifier receives lifecycle events after their transaction commits.
type OrderNotifier interface {
	OrderCreated(order *models.Order, sellerIDs []uuid.UUID)
	OrderPaid(order *models.Order, sellerIDs []uuid.UUID)
	OrderStatusChanged(order *models.Order, from models.OrderStatus)
	OrderRefunded(order *models.Order, reason string)
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

type CreateOrderRequest struct {
	Items           []ItemRequest          `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"omitempty,max=50"`
}

type UpdateOrderStatusRequest struct {
	Status         models.OrderStatus `json:"status" validate:"required,seller_status"`
	TrackingNumber string             `json:"tracking_number" validate:"omitempty,max=100"`
}

type RefundOrderRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Reason  string    `json:"reason" validate:"required,max=500"`
}

type RefundResult struct {
	Order     *models.Order `json:"order"`
	Simulated bool          `json:"simulated"`
}

// OrderFilter is shared by the page query and its count so the two always agree.
type OrderFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Statuses []models.OrderStatus
}

func (f OrderFilter) Apply(db *gorm.DB) *gorm.DB {
	if f.BuyerID != nil {
		db = db.Where("orders.buyer_id = ?", *f.BuyerID)
	}
	if f.SellerID != nil {
		sellerOrders := db.Session(&gorm.Session{NewDB: true}).
			Model(&models.OrderItem{}).
			Select("order_items.order_id").
			Joins("JOIN stores ON stores.id = order_items.store_id").
			Where("stores.user_id = ?", *f.SellerID)
		db = db.Where("orders.id IN (?)", sellerOrders)
	}
	if len(f.Statuses) > 0 {
		db = db.Where("orders.status IN ?", f.Statuses)
	}
	return db
}

type OrderService struct {
	db        *gorm.DB
	config    *config.Config
	inventory *InventoryService
	gateway   *PaymentGateway
	notifier  OrderNotifier
	metrics   *metrics.Metrics
	logger    *logrus.Entry
	now       func() time.Time
}

func NewOrderService(db *gorm.DB, cfg *config.Config, inventory *InventoryService, gateway *PaymentGateway, notifier OrderNotifier, m *metrics.Metrics) *OrderService {
	return &OrderService{
		db:        db,
		config:    cfg,
		inventory: inventory,
		gateway:   gateway,
		notifier:  notifier,
		metrics:   m,
		logger:    logrus.WithField("component", "orders"),
		now:       time.Now,
	}
}

// writeDB detaches writes from request cancellation; a started transaction
// always runs to commit or rollback.
func (s *OrderService) writeDB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(context.WithoutCancel(ctx))
}

// Create reserves stock and persists a pending order in one transaction.
func (s *OrderService) Create(ctx context.Context, buyerID uuid.UUID, req *CreateOrderRequest) (*models.Order, error) {
	method := req.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}

	var order *models.Order
	var sellerIDs []uuid.UUID

	err := s.writeDB(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := s.inventory.Reserve(tx, req.Items)
		if err != nil {
			return err
		}

		order = &models.Order{
			BuyerID:         buyerID,
			Subtotal:        reservation.Quote.Subtotal,
			ShippingCost:    reservation.Quote.Shipping,
			Tax:             reservation.Quote.Tax,
			Total:           reservation.Quote.Total,
			Status:          models.OrderStatusPending,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   method,
			Items:           reservation.OrderItems(),
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		sellerIDs, err = s.sellerUserIDs(tx, order.StoreIDs())
		return err
	})
	if err != nil {
		s.metrics.RecordOrderRejected(rejectionReason(err))
		return nil, err
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer_id": buyerID,
		"total":    order.Total.String(),
		"items":    len(order.Items),
	}).Info("Order created")

	s.notifier.OrderCreated(order, sellerIDs)
	return order, nil
}

// ConfirmPayment moves a pending order to paid once the gateway confirms the
// reference, and bumps the sales counter of every store in the order.
func (s *OrderService) ConfirmPayment(ctx context.Context, buyerID, orderID uuid.UUID, reference string) (*models.Order, bool, error) {
	var current models.Order
	if err := s.db.WithContext(ctx).First(&current, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, utils.NewNotFoundError("order")
		}
		return nil, false, fmt.Errorf("failed to load order: %w", err)
	}
	if err := checkPayable(&current, buyerID); err != nil {
		return nil, false, err
	}
	if err := checkReference(&current, reference); err != nil {
		return nil, false, err
	}

	result, err := s.gateway.Confirm(ctx, orderID, reference)
	if err != nil {
		return nil, false, err
	}
	if !result.Succeeded {
		return nil, false, utils.NewPaymentError("payment has not been completed", nil)
	}

	var order *models.Order
	var sellerIDs []uuid.UUID

	err = s.writeDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		// re-checked under the lock; a concurrent confirm loses here
		if err := checkPayable(order, buyerID); err != nil {
			return err
		}
		if err := checkReference(order, reference); err != nil {
			return err
		}

		paidAt := s.now().UTC()
		updates := map[string]interface{}{
			"status":            models.OrderStatusPaid,
			"payment_reference": reference,
			"payment_simulated": result.Simulated,
			"paid_at":           paidAt,
		}
		if err := tx.Model(order).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		order.Status = models.OrderStatusPaid
		order.PaymentReference = reference
		order.PaymentSimulated = result.Simulated
		order.PaidAt = &paidAt

		storeIDs := order.StoreIDs()
		if len(storeIDs) > 0 {
			err := tx.Model(&models.Store{}).
				Where("id IN ?", storeIDs).
				UpdateColumn("sales_count", gorm.Expr("sales_count + 1")).Error
			if err != nil {
				return fmt.Errorf("failed to update store sales: %w", err)
			}
		}

		sellerIDs, err = s.sellerUserIDs(tx, storeIDs)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.metrics.RecordOrderPaid()
	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"simulated": result.Simulated,
	}).Info("Order paid")

	s.notifier.OrderPaid(order, sellerIDs)
	return order, result.Simulated, nil
}

func checkPayable(order *models.Order, buyerID uuid.UUID) error {
	if order.BuyerID != buyerID {
		return utils.NewNotEligibleError("order does not belong to this buyer")
	}
	if order.Status != models.OrderStatusPending {
		return utils.NewNotEligibleError(fmt.Sprintf("order is %s, only pending orders can be paid", order.Status))
	}
	return nil
}

// checkReference accepts only the reference recorded by create-intent.
func checkReference(order *models.Order, reference string) error {
	if order.PaymentReference == "" {
		return utils.NewNotEligibleError("no payment intent has been created for this order")
	}
	if reference != order.PaymentReference {
		return utils.NewValidationError("payment reference does not match the order", nil)
	}
	return nil
}

// UpdateStatus applies a seller driven fulfilment transition.
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderID uuid.UUID, req *UpdateOrderStatusRequest) (*models.Order, error) {
	if req.Status == models.OrderStatusPaid || req.Status == models.OrderStatusPending {
		return nil, utils.NewNotEligibleError(fmt.Sprintf("status %s cannot be set manually", req.Status))
	}

	var order *models.Order
	var from models.OrderStatus

	err := s.writeDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOrder(tx, orderID)
		if err != nil {
			return err
		}

		owns, err := s.ownsAllStores(tx, actor, order.StoreIDs())
		if err != nil {
			return err
		}
		if !owns {
			return utils.NewAuthorizationError("order contains products from stores you do not own")
		}

		from = order.Status
		if !models.CanTransition(from, req.Status) {
			return utils.NewInvalidTransitionError(string(from), string(req.Status))
		}

		updates := map[string]interface{}{"status": req.Status}
		switch req.Status {
		case models.OrderStatusShipped:
			eta := s.now().UTC().AddDate(0, 0, s.config.Pricing.DeliveryEstimateDays)
			updates["estimated_delivery"] = eta
			order.EstimatedDelivery = &eta
			if req.TrackingNumber != "" {
				updates["tracking_number"] = req.TrackingNumber
				order.TrackingNumber = req.TrackingNumber
			}
		case models.OrderStatusCancelled:
			if err := s.inventory.Release(tx, order.Items); err != nil {
				return err
			}
		}

		if err := tx.Model(order).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		order.Status = req.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStatusChange(string(order.Status))
	s.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       order.Status,
		"actor":    actor.ID,
	}).Info("Order status updated")

	s.notifier.OrderStatusChanged(order, from)
	return order, nil
}

// Refund reverses a paid or shipped order: gateway refund, restock from the
// line item snapshots and cancellation, all under the order row lock.
func (s *OrderService) Refund(ctx context.Context, actor Actor, req *RefundOrderRequest) (*RefundResult, error) {
	var order *models.Order
	var refund PaymentResult

	err := s.writeDB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.lockOrder(tx, req.OrderID)
		if err != nil {
			return err
		}

		owns, err := s.ownsAnyStore(tx, actor, order.StoreIDs())
		if err != nil {
			return err
		}
		if !owns {
			return utils.NewAuthorizationError("you do not own any store in this order")
		}

		if !order.Status.Refundable() {
			return utils.NewNotEligibleError(fmt.Sprintf("order is %s, only paid or shipped orders can be refunded", order.Status))
		}

		refund, err = s.gateway.Refund(tx.Statement.Context, order.PaymentReference)
		if err != nil {
			return err
		}

		if err := s.inventory.Release(tx, order.Items); err != nil {
			return err
		}

		notes := "Refunded: " + req.Reason
		if err := tx.Model(order).Updates(map[string]interface{}{
			"status": models.OrderStatusCancelled,
			"notes":  notes,
		}).Error; err != nil {
			return fmt.Errorf("failed to cancel refunded order: %w", err)
		}
		order.Status = models.OrderStatusCancelled
		order.Notes = notes
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrderRefunded()
	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"actor":     actor.ID,
		"simulated": refund.Simulated,
	}).Info("Order refunded")

	s.notifier.OrderRefunded(order, req.Reason)
	return &RefundResult{Order: order, Simulated: refund.Simulated}, nil
}

// Get returns an order visible to actor: its buyer, a seller in it or an admin.
// Everyone else gets not found.
func (s *OrderService) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	db := s.db.WithContext(ctx)

	var order models.Order
	if err := db.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("order")
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if order.BuyerID == actor.ID || actor.IsAdmin() {
		return &order, nil
	}

	owns, err := s.ownsAnyStore(db, actor, order.StoreIDs())
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, utils.NewNotFoundError("order")
	}
	return &order, nil
}

func (s *OrderService) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params utils.PaginationParams) ([]models.Order, int64, error) {
	statuses, err := parseStatusFilter(params.Status)
	if err != nil {
		return nil, 0, err
	}
	return s.List(ctx, OrderFilter{BuyerID: &buyerID, Statuses: statuses}, params)
}

func (s *OrderService) ListForSeller(ctx context.Context, sellerID uuid.UUID, params utils.PaginationParams) ([]models.Order, int64, error) {
	statuses, err := parseStatusFilter(params.Status)
	if err != nil {
		return nil, 0, err
	}
	return s.List(ctx, OrderFilter{SellerID: &sellerID, Statuses: statuses}, params)
}

func (s *OrderService) List(ctx context.Context, filter OrderFilter, params utils.PaginationParams) ([]models.Order, int64, error) {
	base := func() *gorm.DB {
		return filter.Apply(s.db.WithContext(ctx).Model(&models.Order{}))
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	allowedSortFields := []string{"created_at", "total", "status"}
	query := utils.ApplySort(base(), params, "orders", allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var orders []models.Order
	if err := query.Preload("Items").Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	return orders, total, nil
}

func parseStatusFilter(raw string) ([]models.OrderStatus, error) {
	if raw == "" {
		return nil, nil
	}
	status := models.OrderStatus(raw)
	if !status.Valid() {
		return nil, utils.NewValidationError("unknown order status filter", map[string]string{"status": raw})
	}
	return []models.OrderStatus{status}, nil
}

// lockOrder reads the order row FOR UPDATE and then its line items.
func (s *OrderService) lockOrder(tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NewNotFoundError("order")
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if err := tx.Where("order_id = ?", orderID).Find(&order.Items).Error; err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return &order, nil
}

func (s *OrderService) ownsAllStores(db *gorm.DB, actor Actor, storeIDs []uuid.UUID) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	owned, err := s.countOwnedStores(db, actor.ID, storeIDs)
	return owned == int64(len(storeIDs)) && owned > 0, err
}

func (s *OrderService) ownsAnyStore(db *gorm.DB, actor Actor, storeIDs []uuid.UUID) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	owned, err := s.countOwnedStores(db, actor.ID, storeIDs)
	return owned > 0, err
}

func (s *OrderService) countOwnedStores(db *gorm.DB, userID uuid.UUID, storeIDs []uuid.UUID) (int64, error) {
	if len(storeIDs) == 0 {
		return 0, nil
	}

	var count int64
	err := db.Model(&models.Store{}).
		Where("id IN ? AND user_id = ?", storeIDs, userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to check store ownership: %w", err)
	}
	return count, nil
}

func (s *OrderService) sellerUserIDs(db *gorm.DB, storeIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(storeIDs) == 0 {
		return nil, nil
	}

	var ids []uuid.UUID
	err := db.Model(&models.Store{}).
		Where("id IN ?", storeIDs).
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sellers: %w", err)
	}
	return ids, nil
}

func rejectionReason(err error) string {
	appErr := utils.AsAppError(err)
	if appErr.Kind == utils.KindInternal {
		return "internal"
	}
	return appErr.Code
}
