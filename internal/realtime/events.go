// internal/realtime/events.go
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/emprendedores-unidos/marketplace/internal/metrics"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/services"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

// Inbound events.
const (
	EventJoinConversation = "join-conversation"
	EventSendMessage      = "send-message"
	EventMarkRead         = "mark-messages-read"
	EventGetConversations = "get-conversations"
	EventGetMessages      = "get-messages"
	EventUserTyping       = "user-typing"
)

// Outbound events.
const (
	EventConversationCreated = "conversation-created"
	EventConversationJoined  = "conversation-joined"
	EventNewMessage          = "new-message"
	EventMessageSent         = "message-sent"
	EventMessagesMarkedRead  = "messages-marked-read"
	EventConversationsList   = "conversations-list"
	EventMessagesHistory     = "messages-history"
	EventError               = "error"
)

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type JoinConversationPayload struct {
	OtherUserID uuid.UUID `json:"other_user_id"`
}

type SendMessagePayload struct {
	RecipientID uuid.UUID          `json:"recipient_id"`
	Content     string             `json:"content"`
	Type        models.MessageType `json:"type"`
}

type ConversationPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type PagePayload struct {
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	Limit          int       `json:"limit"`
	Offset         int       `json:"offset"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsTyping       bool      `json:"is_typing"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChatStore is the persistence the realtime layer needs.
type ChatStore interface {
	JoinConversation(ctx context.Context, userID, otherID uuid.UUID) (*models.Conversation, bool, error)
	SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string, msgType models.MessageType) (*models.Message, *models.Conversation, error)
	MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error)
	ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]services.ConversationSummary, error)
	History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]models.Message, error)
	Conversation(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error)
}

type MessageNotifier interface {
	NewMessage(recipientID uuid.UUID, msg *models.Message)
}

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// EventRouter dispatches inbound frames through a single table keyed by
// event name.
type EventRouter struct {
	hub         *Hub
	chat        ChatStore
	notifier    MessageNotifier
	metrics     *metrics.Metrics
	historySize int
	logger      *logrus.Entry

	handlers map[string]eventHandler
}

func NewEventRouter(hub *Hub, chat ChatStore, notifier MessageNotifier, m *metrics.Metrics, historySize int) *EventRouter {
	r := &EventRouter{
		hub:         hub,
		chat:        chat,
		notifier:    notifier,
		metrics:     m,
		historySize: historySize,
		logger:      logrus.WithField("component", "realtime"),
	}
	r.handlers = map[string]eventHandler{
		EventJoinConversation: r.joinConversation,
		EventSendMessage:      r.sendMessage,
		EventMarkRead:         r.markRead,
		EventGetConversations: r.getConversations,
		EventGetMessages:      r.getMessages,
		EventUserTyping:       r.userTyping,
	}
	return r
}

// Dispatch handles one inbound frame. Failures are reported to the client as
// error events and never close the connection.
func (r *EventRouter) Dispatch(ctx context.Context, c *Client, frame []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		r.metrics.RecordWSEvent("invalid", "error")
		c.Emit(EventError, ErrorPayload{Message: "malformed frame", Code: "VALIDATION_ERROR"})
		return
	}

	handler, ok := r.handlers[env.Event]
	if !ok {
		r.metrics.RecordWSEvent("unknown", "error")
		c.Emit(EventError, ErrorPayload{Message: "unknown event: " + env.Event, Code: "VALIDATION_ERROR"})
		return
	}

	if err := handler(ctx, c, env.Data); err != nil {
		r.metrics.RecordWSEvent(env.Event, "error")
		c.Emit(EventError, r.errorPayload(c, env.Event, err))
		return
	}
	r.metrics.RecordWSEvent(env.Event, "ok")
}

func (r *EventRouter) errorPayload(c *Client, event string, err error) ErrorPayload {
	if appErr := utils.AsAppError(err); appErr != nil && appErr.Kind != utils.KindInternal {
		return ErrorPayload{Message: appErr.Message, Code: appErr.Code}
	}
	c.logger.WithError(err).WithField("event", event).Error("Realtime event failed")
	return ErrorPayload{Message: "internal error", Code: "INTERNAL_ERROR"}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return utils.NewValidationError("malformed payload", nil)
	}
	return nil
}

func requireID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return utils.NewValidationError(field+" is required", nil)
	}
	return nil
}

func (r *EventRouter) joinConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p JoinConversationPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireID(p.OtherUserID, "other_user_id"); err != nil {
		return err
	}

	conv, created, err := r.chat.JoinConversation(ctx, c.userID, p.OtherUserID)
	if err != nil {
		return err
	}
	r.hub.JoinRoom(c, ConversationRoom(conv.UserAID, conv.UserBID))

	event := EventConversationJoined
	if created {
		event = EventConversationCreated
	}
	c.Emit(event, conv)
	return nil
}

// sendMessage commits the message before anything is broadcast.
func (r *EventRouter) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p SendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireID(p.RecipientID, "recipient_id"); err != nil {
		return err
	}

	msg, conv, err := r.chat.SendMessage(ctx, c.userID, p.RecipientID, p.Content, p.Type)
	if err != nil {
		return err
	}

	room := ConversationRoom(conv.UserAID, conv.UserBID)
	r.hub.JoinRoom(c, room)
	r.hub.EmitToRoom(room, EventNewMessage, msg, c)
	c.Emit(EventMessageSent, msg)

	if r.notifier != nil {
		r.notifier.NewMessage(p.RecipientID, msg)
	}
	return nil
}

func (r *EventRouter) markRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ConversationPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireID(p.ConversationID, "conversation_id"); err != nil {
		return err
	}

	updated, err := r.chat.MarkRead(ctx, c.userID, p.ConversationID)
	if err != nil {
		return err
	}
	c.Emit(EventMessagesMarkedRead, map[string]interface{}{
		"conversation_id": p.ConversationID,
		"updated":         updated,
	})
	return nil
}

func (r *EventRouter) getConversations(ctx context.Context, c *Client, data json.RawMessage) error {
	var p PagePayload
	if err := decode(data, &p); err != nil {
		return err
	}

	conversations, err := r.chat.ListConversations(ctx, c.userID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	c.Emit(EventConversationsList, conversations)
	return nil
}

func (r *EventRouter) getMessages(ctx context.Context, c *Client, data json.RawMessage) error {
	var p PagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireID(p.ConversationID, "conversation_id"); err != nil {
		return err
	}
	if p.Limit <= 0 {
		p.Limit = r.historySize
	}

	messages, err := r.chat.History(ctx, c.userID, p.ConversationID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	c.Emit(EventMessagesHistory, map[string]interface{}{
		"conversation_id": p.ConversationID,
		"messages":        messages,
		"limit":           p.Limit,
		"offset":          p.Offset,
	})
	return nil
}

// userTyping goes only to the other participant's private room.
func (r *EventRouter) userTyping(ctx context.Context, c *Client, data json.RawMessage) error {
	var p TypingPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := requireID(p.ConversationID, "conversation_id"); err != nil {
		return err
	}

	conv, err := r.chat.Conversation(ctx, c.userID, p.ConversationID)
	if err != nil {
		return err
	}

	r.hub.SendToUser(conv.OtherParticipant(c.userID), EventUserTyping, map[string]interface{}{
		"conversation_id": p.ConversationID,
		"user_id":         c.userID,
		"is_typing":       p.IsTyping,
		"at":              time.Now().UTC(),
	})
	return nil
}
