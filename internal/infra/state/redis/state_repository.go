package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

// DefaultKeyPrefix 默认 key 前缀
const DefaultKeyPrefix = "sr:"

// playback hash 字段
const (
	fieldIsPlaying = "is_playing"
	fieldPosition  = "position"
	fieldUpdatedAt = "updated_at" // unix microseconds
	fieldUpdatedBy = "updated_by"
)

// setPlaybackScript 原子地写入播放状态。
// 时间戳取 max(调用方时间, 上一个时间戳 + 1µs)，保证同一房间内严格递增。
var setPlaybackScript = redis.NewScript(`
local prev = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
local now = tonumber(ARGV[1])
if now <= prev then
  now = prev + 1
end
local stamp = string.format('%d', now)
redis.call('HSET', KEYS[1], 'is_playing', ARGV[2], 'position', ARGV[3], 'updated_at', stamp, 'updated_by', ARGV[4])
return now
`)

// rateLimitScript 递增计数，只在窗口的第一次请求时设置过期时间（固定窗口）
var rateLimitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStateRepository{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) playbackKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:playback", r.keyPrefix, roomID)
}

// wrapErr 区分服务端返回的命令错误和连接层面的故障；后者标记为可重试。
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis: %s: %w", op, err)
	}
	return fmt.Errorf("redis: %s: %w: %w", op, repository.ErrUnavailable, err)
}

// GetPlayback 读取播放状态；key 不存在时返回暂停、位置 0 的零值状态。
func (r *RedisStateRepository) GetPlayback(ctx context.Context, roomID uint) (domain.PlaybackState, error) {
	key := r.playbackKey(roomID)
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PlaybackState{}, wrapErr(fmt.Sprintf("get playback for room %d from %s", roomID, key), err)
	}
	return parsePlayback(roomID, fields)
}

func parsePlayback(roomID uint, fields map[string]string) (domain.PlaybackState, error) {
	state := domain.PlaybackState{RoomID: roomID}
	if len(fields) == 0 {
		return state, nil
	}
	state.IsPlaying = fields[fieldIsPlaying] == "1"
	if v := fields[fieldPosition]; v != "" {
		pos, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return state, fmt.Errorf("redis: parse playback position '%s' for room %d: %w", v, roomID, err)
		}
		state.Position = pos
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return state, fmt.Errorf("redis: parse playback stamp '%s' for room %d: %w", v, roomID, err)
		}
		state.UpdatedAt = time.UnixMicro(us).UTC()
	}
	if v := fields[fieldUpdatedBy]; v != "" {
		by, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return state, fmt.Errorf("redis: parse playback author '%s' for room %d: %w", v, roomID, err)
		}
		state.UpdatedBy = uint(by)
	}
	return state, nil
}

// SetPlayback 通过 Lua 脚本覆盖播放状态，返回实际写入的状态（含最终时间戳）。
func (r *RedisStateRepository) SetPlayback(ctx context.Context, roomID uint, update domain.PlaybackUpdate, updatedBy uint, now time.Time) (domain.PlaybackState, error) {
	key := r.playbackKey(roomID)
	playing := "0"
	if update.IsPlaying {
		playing = "1"
	}
	stamp, err := setPlaybackScript.Run(ctx, r.client, []string{key},
		now.UnixMicro(),
		playing,
		strconv.FormatFloat(update.Position, 'f', -1, 64),
		updatedBy,
	).Int64()
	if err != nil {
		return domain.PlaybackState{}, wrapErr(fmt.Sprintf("set playback for room %d on %s", roomID, key), err)
	}
	return domain.PlaybackState{
		RoomID:    roomID,
		IsPlaying: update.IsPlaying,
		Position:  update.Position,
		UpdatedAt: time.UnixMicro(stamp).UTC(),
		UpdatedBy: updatedBy,
	}, nil
}

// CleanupRoomState 清理房间相关的 key。
func (r *RedisStateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	key := r.playbackKey(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return wrapErr(fmt.Sprintf("cleanup state for room %d", roomID), err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.keyPrefix + "ratelimit:" + key
	count, err := rateLimitScript.Run(ctx, r.client, []string{fullKey}, window.Milliseconds()).Int64()
	if err != nil {
		return false, wrapErr(fmt.Sprintf("rate limit check on key %s", fullKey), err)
	}
	// 超过限制返回 true
	return count > int64(limit), nil
}
