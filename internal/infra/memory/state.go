package memory

import (
	"context"
	"time"

	"studyroomix/internal/domain"
)

// StateRepository 是 RoomStateStore 的内存实现
type StateRepository struct{ s *Store }

func (r *StateRepository) GetPlayback(ctx context.Context, roomID uint) (domain.PlaybackState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("get playback"); err != nil {
		return domain.PlaybackState{}, err
	}
	state, ok := r.s.playback[roomID]
	if !ok {
		return domain.PlaybackState{RoomID: roomID}, nil
	}
	return state, nil
}

// SetPlayback 与 Redis 实现一致：时间戳截断到微秒，并且严格递增。
func (r *StateRepository) SetPlayback(ctx context.Context, roomID uint, update domain.PlaybackUpdate, updatedBy uint, now time.Time) (domain.PlaybackState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("set playback"); err != nil {
		return domain.PlaybackState{}, err
	}
	stamp := now.UTC().Truncate(time.Microsecond)
	if prev, ok := r.s.playback[roomID]; ok && !stamp.After(prev.UpdatedAt) {
		stamp = prev.UpdatedAt.Add(time.Microsecond)
	}
	state := domain.PlaybackState{
		RoomID:    roomID,
		IsPlaying: update.IsPlaying,
		Position:  update.Position,
		UpdatedAt: stamp,
		UpdatedBy: updatedBy,
	}
	r.s.playback[roomID] = state
	return state, nil
}

func (r *StateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("cleanup room state"); err != nil {
		return err
	}
	delete(r.s.playback, roomID)
	return nil
}

func (r *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	c := r.s.counters[key]
	if !c.expiresAt.After(now) {
		c = rateCounter{expiresAt: now.Add(window)}
	}
	c.count++
	r.s.counters[key] = c
	return c.count > int64(limit), nil
}
