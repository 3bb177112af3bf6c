// internal/services/chat_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emprendedores-unidos/marketplace/internal/database"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

const (
	maxMessageLength    = 5000
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type ParticipantSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type ConversationSummary struct {
	ID            uuid.UUID          `json:"id"`
	OtherUser     ParticipantSummary `json:"other_user"`
	LastMessage   string             `json:"last_message,omitempty"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
	UnreadCount   int64              `json:"unread_count"`
	CreatedAt     time.Time          `json:"created_at"`
}

type conversationRow struct {
	ID            uuid.UUID
	LastMessage   string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	OtherID       uuid.UUID
	OtherName     string
	UnreadCount   int64
}

// ChatService stores conversations and messages for the realtime hub.
type ChatService struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{
		db:     db,
		logger: logrus.WithField("component", "chat"),
	}
}

// JoinConversation finds or creates the conversation between userID and
// otherID. created is true only for the caller whose insert won.
func (s *ChatService) JoinConversation(ctx context.Context, userID, otherID uuid.UUID) (*models.Conversation, bool, error) {
	if userID == otherID {
		return nil, false, utils.NewValidationError("cannot start a conversation with yourself", nil)
	}

	db := s.db.WithContext(context.WithoutCancel(ctx))
	if err := s.requireActiveUser(db, otherID); err != nil {
		return nil, false, err
	}

	return s.findOrCreateConversation(db, userID, otherID)
}

func (s *ChatService) findOrCreateConversation(db *gorm.DB, userID, otherID uuid.UUID) (*models.Conversation, bool, error) {
	a, b := utils.CanonicalPair(userID, otherID)

	conv, err := s.findConversation(db, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !database.IsNotFound(err) {
		return nil, false, err
	}

	conv = &models.Conversation{UserAID: a, UserBID: b}
	if err := db.Create(conv).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// lost the race to a concurrent creator
			existing, err := s.findConversation(db, a, b)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"user_a":          a,
		"user_b":          b,
	}).Debug("Conversation created")
	return conv, true, nil
}

func (s *ChatService) findConversation(db *gorm.DB, a, b uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.Where("user_a_id = ? AND user_b_id = ?", a, b).First(&conv).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return &conv, nil
}

// SendMessage persists a message to recipientID, creating the conversation
// when needed. The message is committed before this returns.
func (s *ChatService) SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string, msgType models.MessageType) (*models.Message, *models.Conversation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, utils.NewValidationError("message content is required", nil)
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, nil, utils.NewValidationError(fmt.Sprintf("message exceeds %d characters", maxMessageLength), nil)
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, nil, utils.NewValidationError("unknown message type", map[string]string{"type": string(msgType)})
	}

	conv, _, err := s.JoinConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
	}

	err = s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		result := tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"last_message":    preview(content, msgType),
				"last_message_at": msg.CreatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update conversation: %w", result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	conv.LastMessage = preview(content, msgType)
	conv.LastMessageAt = &msg.CreatedAt
	return msg, conv, nil
}

func preview(content string, msgType models.MessageType) string {
	if msgType != models.MessageTypeText {
		return "[" + string(msgType) + "]"
	}
	if utf8.RuneCountInString(content) <= 120 {
		return content
	}
	return string([]rune(content)[:120])
}

// MarkRead flags as read every unread message in the conversation that the
// caller did not send. Repeating it is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) (int64, error) {
	db := s.db.WithContext(context.WithoutCancel(ctx))
	if _, err := s.participantConversation(db, userID, conversationID); err != nil {
		return 0, err
	}

	result := db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read = ?", conversationID, userID, false).
		UpdateColumn("read", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListConversations returns the user's conversations, most recent activity first.
func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]ConversationSummary, error) {
	limit, offset = clampPage(limit, offset)

	var rows []conversationRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id, c.last_message, c.last_message_at, c.created_at,
		       u.id AS other_id, u.name AS other_name,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> @user AND m.read = false) AS unread_count
		  FROM conversations c
		  JOIN users u ON u.id = CASE WHEN c.user_a_id = @user THEN c.user_b_id ELSE c.user_a_id END
		 WHERE c.user_a_id = @user OR c.user_b_id = @user
		 ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id
		 LIMIT @limit OFFSET @offset`,
		map[string]interface{}{"user": userID, "limit": limit, "offset": offset},
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, ConversationSummary{
			ID:            row.ID,
			OtherUser:     ParticipantSummary{ID: row.OtherID, Name: row.OtherName},
			LastMessage:   row.LastMessage,
			LastMessageAt: row.LastMessageAt,
			UnreadCount:   row.UnreadCount,
			CreatedAt:     row.CreatedAt,
		})
	}
	return summaries, nil
}

// History returns a page of messages in chronological order. Pages are cut
// from the newest end, so offset 0 is the latest page.
func (s *ChatService) History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.participantConversation(db, userID, conversationID); err != nil {
		return nil, err
	}

	limit, offset = clampPage(limit, offset)

	var messages []models.Message
	err := db.Where("conversation_id = ?", conversationID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "created_at"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Conversation returns the conversation if userID takes part in it.
func (s *ChatService) Conversation(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	return s.participantConversation(s.db.WithContext(ctx), userID, conversationID)
}

func (s *ChatService) participantConversation(db *gorm.DB, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, utils.NewNotFoundError("conversation")
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, utils.NewAuthorizationError("not a participant of this conversation")
	}
	return &conv, nil
}

func (s *ChatService) requireActiveUser(db *gorm.DB, userID uuid.UUID) error {
	var count int64
	if err := db.Model(&models.User{}).Where("id = ? AND active = ?", userID, true).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if count == 0 {
		return utils.NewNotFoundError("user")
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
