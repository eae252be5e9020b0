package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"studyroomix/internal/domain"
)

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return wrapErr(fmt.Sprintf("create message in room %d", msg.RoomID), err)
	}
	return nil
}

// ListByRoom 有 limit 时倒序取最近的 limit 条再翻转，保证返回结果始终升序
func (r *GormMessageRepository) ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if limit > 0 {
		query = query.Order("created_at DESC").Order("id DESC").Limit(limit)
	} else {
		query = query.Order("created_at ASC").Order("id ASC")
	}
	if err := query.Find(&msgs).Error; err != nil {
		return nil, wrapErr(fmt.Sprintf("list messages of room %d", roomID), err)
	}
	if limit > 0 {
		reverseMessages(msgs)
	}
	return msgs, nil
}

func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
