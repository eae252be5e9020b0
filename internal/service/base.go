package service

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

// TaskEnqueuer 是 asynq.Client 中服务层用到的部分。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// storeCaller 为服务提供统一的重试与变更发布。
type storeCaller struct {
	policy retry.Policy
	feed   repository.ChangeFeed
	now    func() time.Time
}

func newStoreCaller(policy retry.Policy, feed repository.ChangeFeed) storeCaller {
	if feed == nil {
		panic("ChangeFeed cannot be nil")
	}
	return storeCaller{policy: policy, feed: feed, now: time.Now}
}

func (c *storeCaller) call(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, c.policy, op)
}

// publish 在写入成功后发布变更。写入已经提交，发布失败只记录日志，订阅者会在下次快照时纠正。
func (c *storeCaller) publish(ctx context.Context, op domain.ChangeOp, table domain.ChangeTable, roomID uint, newRow, oldRow interface{}) {
	ev, err := domain.NewChangeEvent(op, table, roomID, newRow, oldRow)
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "table": table, "op": op}).WithError(err).Error("Failed to build change event")
		return
	}
	err = c.call(ctx, func(ctx context.Context) error { return c.feed.Publish(ctx, ev) })
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "table": table, "op": op}).WithError(err).Warn("Failed to publish change event")
	}
}

// SetClock 替换服务使用的时间来源，仅用于测试。
func (c *storeCaller) SetClock(now func() time.Time) { c.now = now }
