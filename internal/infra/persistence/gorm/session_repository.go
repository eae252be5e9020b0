package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// StartAttached 条件更新成员行（current_session_id IS NULL）并插入会话，二者在同一事务中。
func (r *GormSessionRepository) StartAttached(ctx context.Context, session *domain.Session) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Member{}).
			Where("room_id = ? AND user_id = ? AND current_session_id IS NULL", session.RoomID, session.UserID).
			Update("current_session_id", session.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&domain.Member{}).
				Where("room_id = ? AND user_id = ?", session.RoomID, session.UserID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return repository.ErrMemberNotFound
			}
			return repository.ErrConflict
		}
		return tx.Create(session).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrMemberNotFound), errors.Is(err, repository.ErrConflict):
		return err
	default:
		return wrapErr(fmt.Sprintf("start session for user %d in room %d", session.UserID, session.RoomID), err)
	}
}

// StopDetached 锁定会话行，写入最终时长和结束时间，并清除成员对它的引用。
func (r *GormSessionRepository) StopDetached(ctx context.Context, roomID, userID uint, sessionID string, duration int64, endedAt time.Time) (*domain.Session, error) {
	var stopped domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).First(&stopped).Error; err != nil {
			return err
		}
		if !stopped.Open() {
			return repository.ErrSessionNotFound
		}
		if duration > stopped.Duration {
			stopped.Duration = duration
		}
		ended := endedAt
		stopped.EndedAt = &ended
		if err := tx.Model(&domain.Session{}).Where("id = ?", sessionID).
			Updates(map[string]interface{}{"duration": stopped.Duration, "ended_at": ended}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Member{}).
			Where("room_id = ? AND user_id = ? AND current_session_id = ?", roomID, userID, sessionID).
			Update("current_session_id", nil).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, err
		}
		return nil, wrapErr(fmt.Sprintf("stop session %s", sessionID), err)
	}
	return &stopped, nil
}

// UpdateDuration 只在新值更大且会话仍打开时写入，保证时长单调不减。
func (r *GormSessionRepository) UpdateDuration(ctx context.Context, sessionID string, duration int64) (*domain.Session, error) {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND ended_at IS NULL AND duration < ?", sessionID, duration).
		Update("duration", duration).Error
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("update duration of session %s", sessionID), err)
	}
	s, err := r.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Open() {
		return nil, repository.ErrSessionNotFound
	}
	return s, nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, wrapErr(fmt.Sprintf("find session %s", id), err)
	}
	return &s, nil
}

func (r *GormSessionRepository) ListOpenByIDs(ctx context.Context, ids []string) ([]domain.Session, error) {
	var sessions []domain.Session
	if len(ids) == 0 {
		return sessions, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ? AND ended_at IS NULL", ids).
		Find(&sessions).Error
	if err != nil {
		return nil, wrapErr("list open sessions", err)
	}
	return sessions, nil
}

// CloseOrphans 结束所有未被任何成员引用的打开会话，保留其最后持久化的时长。
func (r *GormSessionRepository) CloseOrphans(ctx context.Context, endedAt time.Time) (int64, error) {
	referenced := r.db.Model(&domain.Member{}).
		Select("current_session_id").
		Where("current_session_id IS NOT NULL")
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("ended_at IS NULL AND id NOT IN (?)", referenced).
		Update("ended_at", endedAt)
	if res.Error != nil {
		return 0, wrapErr("close orphan sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// TopTotals 只统计已结束的会话，打开会话的时长仍可能增长
func (r *GormSessionRepository) TopTotals(ctx context.Context, limit int) ([]domain.StudyTotal, error) {
	totals := make([]domain.StudyTotal, 0, limit)
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Select("user_id, SUM(duration) AS total_duration").
		Where("ended_at IS NOT NULL").
		Group("user_id").
		Order("total_duration DESC").Order("user_id ASC").
		Limit(limit).
		Scan(&totals).Error
	if err != nil {
		return nil, wrapErr("sum study totals", err)
	}
	return totals, nil
}

func (r *GormSessionRepository) UserTotal(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Select("COALESCE(SUM(duration), 0)").
		Where("user_id = ? AND ended_at IS NOT NULL", userID).
		Scan(&total).Error
	if err != nil {
		return 0, wrapErr(fmt.Sprintf("sum study total of user %d", userID), err)
	}
	return total, nil
}
