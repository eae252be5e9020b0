package domain

import "time"

// RoomKind 区分三种共享房间：聊天、自习计时、同步观影。
type RoomKind string

const (
	RoomKindChat  RoomKind = "chat"
	RoomKindStudy RoomKind = "study"
	RoomKindWatch RoomKind = "watch"
)

// Valid reports whether k is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomKindChat, RoomKindStudy, RoomKindWatch:
		return true
	}
	return false
}

// Room is a named shared context that members join.
// Visibility and password are set once at creation and never updated.
type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Kind        RoomKind  `gorm:"size:16;index;not null" json:"kind"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Description string    `gorm:"size:500" json:"description"`
	IsPrivate   bool      `gorm:"not null;default:false" json:"is_private"`
	Password    *string   `gorm:"size:191" json:"-"` // stored credential, see credential.Verifier
	VideoURL    string    `gorm:"size:2048" json:"video_url,omitempty"`
	CreatorID   uint      `gorm:"index;not null" json:"creator_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsAuthority reports whether userID may mutate the room's PlaybackState.
func (r *Room) IsAuthority(userID uint) bool {
	return r != nil && r.CreatorID == userID
}

// RoomSummary is a Room with its current member count, used by listings.
type RoomSummary struct {
	Room
	MemberCount int64 `json:"member_count"`
}
