package domain

import "time"

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatTurn is one line of a user's conversation with the AI tutor.
type ChatTurn struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"index:idx_chat_turns_user_created,priority:1;not null" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_chat_turns_user_created,priority:2;not null" json:"created_at"`
}

// TableName keeps the original table name of the assistant history.
func (ChatTurn) TableName() string { return "ai_chat_history" }
