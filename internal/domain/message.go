package domain

import "time"

// MaxMessageLength 是消息内容的最大字符数（按 rune 计）。
const MaxMessageLength = 500

// Message is an immutable, append-only chat line in a chat or watch room.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID    uint      `gorm:"index:idx_messages_room_created,priority:1;not null" json:"room_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Content   string    `gorm:"size:2000;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2;not null" json:"created_at"`
}
