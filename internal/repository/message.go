package repository

import (
	"context"

	"studyroomix/internal/domain"
)

// MessageRepository 存储聊天/观影房间的消息，只追加。
type MessageRepository interface {
	// Create 追加一条消息。
	Create(ctx context.Context, msg *domain.Message) error

	// ListByRoom 按创建时间升序返回消息；limit <= 0 表示不限制，否则返回最近的 limit 条。
	ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error)
}
