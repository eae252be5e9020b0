package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, wrapErr(fmt.Sprintf("find room by id %d", id), err)
	}
	return &room, nil
}

// Create 插入新房间，GORM 回填自增 ID 与 CreatedAt
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return wrapErr(fmt.Sprintf("create room '%s'", room.Name), err)
	}
	return nil
}

type memberCount struct {
	RoomID uint
	Count  int64
}

// List 先查房间，再按 room_id 分组统计成员数，避免依赖 GROUP BY rooms.* 的方言差异
func (r *GormRoomRepository) List(ctx context.Context, kind domain.RoomKind) ([]domain.RoomSummary, error) {
	var rooms []domain.Room
	query := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if err := query.Find(&rooms).Error; err != nil {
		return nil, wrapErr("list rooms", err)
	}
	summaries := make([]domain.RoomSummary, 0, len(rooms))
	if len(rooms) == 0 {
		return summaries, nil
	}

	ids := make([]uint, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
	}
	var counts []memberCount
	err := r.db.WithContext(ctx).Model(&domain.Member{}).
		Select("room_id, COUNT(*) AS count").
		Where("room_id IN ?", ids).
		Group("room_id").
		Scan(&counts).Error
	if err != nil {
		return nil, wrapErr("count room members", err)
	}
	byRoom := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byRoom[c.RoomID] = c.Count
	}
	for _, room := range rooms {
		summaries = append(summaries, domain.RoomSummary{Room: room, MemberCount: byRoom[room.ID]})
	}
	return summaries, nil
}

// Delete 在一个事务中删除房间及其消息、会话和成员
func (r *GormRoomRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.Member{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Room{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrRoomNotFound
		}
		return nil
	})
	if errors.Is(err, repository.ErrRoomNotFound) {
		return repository.ErrRoomNotFound
	}
	return wrapErr(fmt.Sprintf("delete room %d", id), err)
}
