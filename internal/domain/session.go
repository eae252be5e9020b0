package domain

import "time"

// Session 是某个用户的一次自习计时。
// 会话打开期间 Duration 单调不减；EndedAt 一旦设置，会话即关闭且不可变。
type Session struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	RoomID    uint       `gorm:"index;not null" json:"room_id"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	Duration  int64      `gorm:"not null;default:0" json:"duration"` // seconds
	EndedAt   *time.Time `gorm:"index" json:"ended_at"`
}

// Open reports whether the session has not been ended yet.
func (s *Session) Open() bool {
	return s != nil && s.EndedAt == nil
}

// StudyTotal 是某个用户所有已结束会话的累计时长（秒）
type StudyTotal struct {
	UserID        uint  `json:"user_id"`
	TotalDuration int64 `json:"total_duration"`
}
