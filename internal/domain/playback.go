package domain

import "time"

// PlaybackState is the single authoritative play/pause/position record of a watch room.
// Only the room creator writes it; UpdatedAt orders competing copies.
type PlaybackState struct {
	RoomID    uint      `json:"room_id"`
	IsPlaying bool      `json:"is_playing"`
	Position  float64   `json:"position"` // seconds
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy uint      `json:"updated_by"`
}

// PlaybackUpdate is what the authority asks to store; the store stamps the time.
type PlaybackUpdate struct {
	IsPlaying bool    `json:"is_playing"`
	Position  float64 `json:"position"`
}

// NewerThan reports whether s carries a later stamp than other.
func (s PlaybackState) NewerThan(other PlaybackState) bool {
	return s.UpdatedAt.After(other.UpdatedAt)
}
