// internal/services/notification_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/messaging/kafka"
	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/models"
)

// Event name used on the user's private channel for every notification.
const NotificationEvent = "notification"

const (
	NotificationNewOrder       = "new-order"
	NotificationOrderConfirmed = "order-confirmed"
	NotificationOrderPaid      = "order-paid"
	NotificationOrderStatus    = "order-status"
	NotificationOrderRefunded  = "order-refunded"
	NotificationNewMessage     = "new-message"
)

// UserChannel delivers an event to every live connection of a user and
// returns how many connections accepted it.
type UserChannel interface {
	SendToUser(userID uuid.UUID, event string, payload interface{}) int
}

type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event kafka.OrderEvent) error
}

type Notification struct {
	Type           string      `json:"type"`
	Message        string      `json:"message"`
	OrderID        *uuid.UUID  `json:"order_id,omitempty"`
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
	SenderID       *uuid.UUID  `json:"sender_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NotificationService pushes at-most-once notifications to connected users.
// Offline users simply miss them.
type NotificationService struct {
	channel   UserChannel
	publisher OrderEventPublisher
	metrics   *metrics.Metrics
	logger    *logrus.Entry

	publishTimeout time.Duration
	wg             sync.WaitGroup
}

// NewNotificationService accepts a nil publisher when no event stream is configured.
func NewNotificationService(channel UserChannel, publisher OrderEventPublisher, m *metrics.Metrics) *NotificationService {
	return &NotificationService{
		channel:        channel,
		publisher:      publisher,
		metrics:        m,
		logger:         logrus.WithField("component", "notifications"),
		publishTimeout: 5 * time.Second,
	}
}

// Notify never returns an error; delivery failures are logged.
func (s *NotificationService) Notify(userID uuid.UUID, n Notification) bool {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	delivered := false
	if s.channel != nil {
		delivered = s.channel.SendToUser(userID, NotificationEvent, n) > 0
	}
	s.metrics.RecordNotification(delivered)

	if !delivered {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"type":    n.Type,
		}).Debug("Recipient offline, notification dropped")
	}
	return delivered
}

func (s *NotificationService) NewMessage(recipientID uuid.UUID, msg *models.Message) {
	conversationID := msg.ConversationID
	senderID := msg.SenderID
	s.Notify(recipientID, Notification{
		Type:           NotificationNewMessage,
		Message:        "Nuevo mensaje",
		ConversationID: &conversationID,
		SenderID:       &senderID,
		Data:           msg,
	})
}

func (s *NotificationService) OrderCreated(order *models.Order, sellerIDs []uuid.UUID) {
	for _, sellerID := range sellerIDs {
		s.Notify(sellerID, s.orderNotification(order, NotificationNewOrder, "Tienes un nuevo pedido"))
	}
	s.publish(kafka.EventTypeOrderCreated, order, nil)
}

func (s *NotificationService) OrderPaid(order *models.Order, sellerIDs []uuid.UUID) {
	s.Notify(order.BuyerID, s.orderNotification(order, NotificationOrderConfirmed, "Tu pago fue confirmado"))
	for _, sellerID := range sellerIDs {
		s.Notify(sellerID, s.orderNotification(order, NotificationOrderPaid, "Un pedido fue pagado"))
	}
	s.publish(kafka.EventTypeOrderPaid, order, nil)
}

func (s *NotificationService) OrderStatusChanged(order *models.Order, from models.OrderStatus) {
	message := fmt.Sprintf("Tu pedido ahora está: %s", order.Status)
	s.Notify(order.BuyerID, s.orderNotification(order, NotificationOrderStatus, message))
	s.publish(kafka.EventTypeOrderStatusChanged, order, map[string]interface{}{"from": string(from)})
}

func (s *NotificationService) OrderRefunded(order *models.Order, reason string) {
	s.Notify(order.BuyerID, s.orderNotification(order, NotificationOrderRefunded, "Tu pedido fue reembolsado"))
	s.publish(kafka.EventTypeOrderRefunded, order, map[string]interface{}{"reason": reason})
}

func (s *NotificationService) orderNotification(order *models.Order, kind, message string) Notification {
	orderID := order.ID
	return Notification{
		Type:    kind,
		Message: message,
		OrderID: &orderID,
		Data: map[string]interface{}{
			"status":            order.Status,
			"total":             order.Total,
			"payment_simulated": order.PaymentSimulated,
			"tracking_number":   order.TrackingNumber,
		},
	}
}

// publish sends the event in the background so the request path never waits on Kafka.
func (s *NotificationService) publish(eventType kafka.EventType, order *models.Order, metadata map[string]interface{}) {
	if s.publisher == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID.String(), order.BuyerID.String(), string(order.Status), order.Total.String())
	event.Simulated = order.PaymentSimulated
	event.Metadata = metadata

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		defer cancel()

		if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":   event.OrderID,
				"event_type": event.EventType,
			}).Warn("Failed to publish order event")
		}
	}()
}

// Wait blocks until in-flight event publications finish.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}
