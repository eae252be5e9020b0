package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

// GormMemberRepository 是 MemberRepository 接口的 GORM 实现
type GormMemberRepository struct {
	db *gorm.DB
}

func NewGormMemberRepository(db *gorm.DB) *GormMemberRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMemberRepository")
	}
	return &GormMemberRepository{db: db}
}

// Upsert 依赖复合主键 (room_id, user_id) 上的 ON CONFLICT DO NOTHING 实现幂等加入。
// 已存在时重新读取，让调用方拿到原始的 JoinedAt 和 CurrentSessionID。
func (r *GormMemberRepository) Upsert(ctx context.Context, member *domain.Member) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member)
	if res.Error != nil {
		return false, wrapErr(fmt.Sprintf("upsert member (room %d, user %d)", member.RoomID, member.UserID), res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	existing, err := r.Find(ctx, member.RoomID, member.UserID)
	if err != nil {
		return false, err
	}
	*member = *existing
	return false, nil
}

func (r *GormMemberRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Member, error) {
	var m domain.Member
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&m).Error
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("find member (room %d, user %d)", roomID, userID), err)
	}
	return &m, nil
}

func (r *GormMemberRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").Order("user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("list members of room %d", roomID), err)
	}
	return members, nil
}

func (r *GormMemberRepository) Delete(ctx context.Context, roomID, userID uint) error {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.Member{})
	if res.Error != nil {
		return wrapErr(fmt.Sprintf("delete member (room %d, user %d)", roomID, userID), res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrMemberNotFound
	}
	return nil
}
