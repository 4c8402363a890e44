package models

import (
	"time"
)

// Role is the speaker of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles the core produces
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DefaultSessionTitle is used until a better title is known
const DefaultSessionTitle = "New chat"

// User is the authoritative identity record
type User struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TelegramID int64     `gorm:"uniqueIndex;not null" json:"telegram_id"`
	FullName   string    `gorm:"type:varchar(255)" json:"full_name,omitempty"`
	Username   string    `gorm:"type:varchar(64)" json:"username,omitempty"`
	Allowed    bool      `gorm:"not null;default:false;index" json:"allowed"`
	CreatedAt  time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// ChatSession is one continuous conversation thread owned by a user
type ChatSession struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

// ChatMessage is one immutable turn in a session
type ChatMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;index:idx_chat_msg_session_time,priority:3" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"user_id"`
	SessionID uint64    `gorm:"not null;index:idx_chat_msg_session_time,priority:1" json:"session_id"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_msg_session_time,priority:2" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// AuthEntry maps an external chat-platform id to the internal user id
type AuthEntry struct {
	TelegramID int64  `json:"telegram_id"`
	UserID     uint64 `json:"id"`
}

// ConversationResult is what one processed turn returns to the front-end
type ConversationResult struct {
	Response           string `json:"response"`
	SessionID          uint64 `json:"session_id"`
	SessionTitle       string `json:"session_title"`
	UserMessageID      uint64 `json:"user_message_id"`
	AssistantMessageID uint64 `json:"assistant_message_id"`
}

// ApprovalEvent is emitted whenever an administrator changes a user's access
type ApprovalEvent struct {
	TelegramID int64     `json:"telegram_id"`
	UserID     uint64    `json:"user_id"`
	Allowed    bool      `json:"allowed"`
	At         time.Time `json:"at"`
}
