// internal/models/chat.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation rows are keyed by the canonical (lower, higher) participant pair.
type Conversation struct {
	BaseModel
	UserAID       uuid.UUID  `json:"user_a_id" gorm:"column:user_a_id;type:uuid;not null;uniqueIndex:idx_conversations_pair"`
	UserBID       uuid.UUID  `json:"user_b_id" gorm:"column:user_b_id;type:uuid;not null;uniqueIndex:idx_conversations_pair;index"`
	LastMessage   string     `json:"last_message,omitempty" gorm:"type:text"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" gorm:"index"`

	UserA *User `json:"-" gorm:"foreignKey:UserAID;constraint:OnDelete:CASCADE"`
	UserB *User `json:"-" gorm:"foreignKey:UserBID;constraint:OnDelete:CASCADE"`
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

type Message struct {
	BaseModel
	ConversationID uuid.UUID   `json:"conversation_id" gorm:"type:uuid;not null;index"`
	SenderID       uuid.UUID   `json:"sender_id" gorm:"type:uuid;not null;index"`
	Content        string      `json:"content" gorm:"type:text;not null"`
	Type           MessageType `json:"type" gorm:"type:varchar(10);not null;default:'text'"`
	Read           bool        `json:"read" gorm:"not null;default:false"`

	Conversation *Conversation `json:"-" gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	Sender       *User         `json:"-" gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
}
