package repository

import (
	"context"
	"time"

	"studyroomix/internal/domain"
)

// StateRepository 定义了与房间实时状态相关的操作，通常由 Redis 实现（RoomStateStore）。
type StateRepository interface {
	// === Playback ===

	// GetPlayback 获取房间的播放状态；从未写入时返回零值状态（暂停、位置 0）。
	GetPlayback(ctx context.Context, roomID uint) (domain.PlaybackState, error)

	// SetPlayback 覆盖播放状态并原子地打上时间戳。
	// 时间戳对同一房间严格递增，即使调用方时钟回拨。
	SetPlayback(ctx context.Context, roomID uint, update domain.PlaybackUpdate, updatedBy uint, now time.Time) (domain.PlaybackState, error)

	// CleanupRoomState 清理房间相关的 key。
	CleanupRoomState(ctx context.Context, roomID uint) error

	// === Rate Limiting ===

	// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ChangeFeed 把行级变更按房间扇出给所有订阅者。
// 同一房间内的事件按发布顺序投递；跨房间不保证顺序。
type ChangeFeed interface {
	// Publish 发布一个变更事件到 event.RoomID 的频道。
	Publish(ctx context.Context, event domain.ChangeEvent) error

	// Subscribe 订阅房间频道。调用方必须调用 Subscription.Close 取消订阅。
	Subscribe(ctx context.Context, roomID uint) (Subscription, error)
}

// Subscription is one live subscription to a room's change channel.
type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan domain.ChangeEvent
	Close() error
}
