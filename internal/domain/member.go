package domain

import "time"

// Member 表示某个用户在某个房间中的成员关系，(RoomID, UserID) 为复合主键。
// CurrentSessionID 为空表示该成员处于等待状态（未计时）。
type Member struct {
	RoomID           uint      `gorm:"primaryKey;autoIncrement:false" json:"room_id"`
	UserID           uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	JoinedAt         time.Time `gorm:"autoCreateTime" json:"joined_at"`
	CurrentSessionID *string   `gorm:"size:36;index" json:"current_session_id"`
}

// Active reports whether the member currently references a session.
func (m *Member) Active() bool {
	return m != nil && m.CurrentSessionID != nil && *m.CurrentSessionID != ""
}

// MemberSnapshot joins a member row with the session it references, if any.
// It is the remote input of the presence aggregator.
type MemberSnapshot struct {
	Member  Member   `json:"member"`
	Session *Session `json:"session,omitempty"`
}
