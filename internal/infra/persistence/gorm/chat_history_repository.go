package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"studyroomix/internal/domain"
)

// GormChatHistoryRepository 是 ChatHistoryRepository 接口的 GORM 实现
type GormChatHistoryRepository struct {
	db *gorm.DB
}

func NewGormChatHistoryRepository(db *gorm.DB) *GormChatHistoryRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChatHistoryRepository")
	}
	return &GormChatHistoryRepository{db: db}
}

// SaveBatch 批量插入对话记录
func (r *GormChatHistoryRepository) SaveBatch(ctx context.Context, turns []domain.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&turns).Error; err != nil {
		return wrapErr(fmt.Sprintf("save chat batch (size %d)", len(turns)), err)
	}
	return nil
}

func (r *GormChatHistoryRepository) Recent(ctx context.Context, userID uint, limit int) ([]domain.ChatTurn, error) {
	var turns []domain.ChatTurn
	query := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&turns).Error; err != nil {
		return nil, wrapErr(fmt.Sprintf("load chat history of user %d", userID), err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
