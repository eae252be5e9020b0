package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/repository"
	"studyroomix/internal/tasks"
)

// taskLogger 带上任务 ID、类型和重试次数
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// RoomCleanupHandler 在房间删除后清理其 Redis 状态
type RoomCleanupHandler struct {
	stateRepo repository.StateRepository
}

func NewRoomCleanupHandler(stateRepo repository.StateRepository) *RoomCleanupHandler {
	if stateRepo == nil {
		panic("StateRepository cannot be nil for RoomCleanupHandler")
	}
	return &RoomCleanupHandler{stateRepo: stateRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	var payload tasks.RoomCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RoomID == 0 {
		return fmt.Errorf("room cleanup without room id: %w", asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	if err := h.stateRepo.CleanupRoomState(ctx, payload.RoomID); err != nil {
		logCtx.WithError(err).Error("Failed to clean up room state")
		return fmt.Errorf("cleanup room %d: %w", payload.RoomID, err)
	}
	logCtx.Info("Room state cleaned up")
	return nil
}

// HistorySaver 持久化一轮 AI 对话，由 AssistantService 实现
type HistorySaver interface {
	SaveExchange(ctx context.Context, p tasks.AssistantHistoryPayload) error
}

// AssistantHistoryHandler 处理对话持久化任务
type AssistantHistoryHandler struct {
	saver HistorySaver
}

func NewAssistantHistoryHandler(saver HistorySaver) *AssistantHistoryHandler {
	if saver == nil {
		panic("HistorySaver cannot be nil for AssistantHistoryHandler")
	}
	return &AssistantHistoryHandler{saver: saver}
}

func (h *AssistantHistoryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	var payload tasks.AssistantHistoryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.saver.SaveExchange(ctx, payload); err != nil {
		logCtx.WithError(err).WithField("user_id", payload.UserID).Error("Failed to save assistant history")
		return fmt.Errorf("save assistant history for user %d: %w", payload.UserID, err)
	}
	logCtx.WithField("user_id", payload.UserID).Debug("Assistant history saved")
	return nil
}

// OrphanReaper 关闭没有成员引用的打开会话，由 StudyService 实现
type OrphanReaper interface {
	ReapOrphanSessions(ctx context.Context) (int64, error)
}

// SessionReapHandler 处理周期性的孤儿会话回收任务
type SessionReapHandler struct {
	reaper OrphanReaper
}

func NewSessionReapHandler(reaper OrphanReaper) *SessionReapHandler {
	if reaper == nil {
		panic("OrphanReaper cannot be nil for SessionReapHandler")
	}
	return &SessionReapHandler{reaper: reaper}
}

func (h *SessionReapHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	closed, err := h.reaper.ReapOrphanSessions(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Orphan session reap failed")
		return fmt.Errorf("reap orphan sessions: %w", err)
	}
	logCtx.WithField("closed", closed).Info("Periodic orphan session reap finished")
	return nil
}
