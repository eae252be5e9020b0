package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomCleanup      = "room:cleanup"      // 房间删除后清理 Redis 状态
	TypeSessionReap      = "session:reap"      // 周期性关闭孤儿会话
	TypeAssistantHistory = "assistant:history" // 持久化一轮 AI 对话
)

// RoomCleanupPayload 定义了房间清理任务的数据结构
type RoomCleanupPayload struct {
	RoomID uint `json:"room_id"`
}

// AssistantHistoryPayload 是一问一答的对话记录
type AssistantHistoryPayload struct {
	UserID   uint      `json:"user_id"`
	Prompt   string    `json:"prompt"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
	Answered time.Time `json:"answered_at"`
}

// NewRoomCleanupTask 创建一个新的房间清理任务
func NewRoomCleanupTask(roomID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomCleanupPayload{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("marshal room cleanup payload: %w", err)
	}
	return asynq.NewTask(TypeRoomCleanup, payload, asynq.MaxRetry(5)), nil
}

// NewSessionReapTask 创建周期性的孤儿会话回收任务（无 payload）
func NewSessionReapTask() *asynq.Task {
	return asynq.NewTask(TypeSessionReap, nil, asynq.MaxRetry(1))
}

// NewAssistantHistoryTask 创建对话持久化任务
func NewAssistantHistoryTask(p AssistantHistoryPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal assistant history payload: %w", err)
	}
	return asynq.NewTask(TypeAssistantHistory, payload, asynq.Queue("low")), nil
}
