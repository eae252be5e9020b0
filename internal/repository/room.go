package repository

import (
	"context"

	"studyroomix/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间，不存在时返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// Create 保存新房间，并回填 ID 和 CreatedAt。
	Create(ctx context.Context, room *domain.Room) error

	// List 按创建时间倒序列出房间及成员数。kind 为空时列出所有类型。
	List(ctx context.Context, kind domain.RoomKind) ([]domain.RoomSummary, error)

	// Delete 删除房间以及其成员、会话和消息（级联）。
	// 房间不存在时返回 ErrRoomNotFound。
	Delete(ctx context.Context, id uint) error
}
