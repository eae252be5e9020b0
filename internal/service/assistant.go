package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/assistant"
	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
	"studyroomix/internal/tasks"
)

const (
	// HistoryWindow 是随提问一起发送的最近对话条数
	HistoryWindow   = 10
	maxPromptLength = 4000
)

// AssistantService 组织 AI 助教的对话：加载历史、调用生成器、异步保存这一轮对话。
type AssistantService struct {
	historyRepo repository.ChatHistoryRepository
	generator   assistant.Generator // 为 nil 时助教不可用
	enqueuer    TaskEnqueuer        // 为 nil 时同步保存历史
	policy      retry.Policy
	now         func() time.Time
}

func NewAssistantService(historyRepo repository.ChatHistoryRepository, generator assistant.Generator, enqueuer TaskEnqueuer, policy retry.Policy) *AssistantService {
	if historyRepo == nil {
		panic("ChatHistoryRepository cannot be nil for AssistantService")
	}
	return &AssistantService{
		historyRepo: historyRepo,
		generator:   generator,
		enqueuer:    enqueuer,
		policy:      policy,
		now:         time.Now,
	}
}

// Ask 把提问连同最近的对话历史发给生成器。流式回复会被透传，
// 流正常结束后保存完整回答；流出错时不保存。
func (s *AssistantService) Ask(ctx context.Context, userID uint, prompt string, stream bool) (assistant.Reply, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "operation": "Ask", "stream": stream})
	if s.generator == nil {
		return assistant.Reply{}, ErrAssistantUnavailable
	}
	prompt = strings.TrimSpace(prompt)
	if n := utf8.RuneCountInString(prompt); n == 0 || n > maxPromptLength {
		return assistant.Reply{}, fmt.Errorf("%w: prompt must be 1-%d characters", ErrInvalidPrompt, maxPromptLength)
	}

	var history []domain.ChatTurn
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		history, err = s.historyRepo.Recent(ctx, userID, HistoryWindow)
		return err
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to load chat history, asking without context")
		history = nil
	}

	askedAt := s.now().UTC()
	reply, err := s.generator.Generate(ctx, assistant.Request{Prompt: prompt, History: history, Stream: stream})
	if err != nil {
		logCtx.WithError(err).Error("Assistant generation failed")
		return assistant.Reply{}, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	switch reply.Kind {
	case assistant.KindComplete:
		s.record(context.WithoutCancel(ctx), userID, prompt, reply.Text, askedAt)
		return reply, nil
	case assistant.KindStream:
		return assistant.Stream(s.tee(ctx, userID, prompt, askedAt, reply.Fragments)), nil
	default:
		return assistant.Reply{}, fmt.Errorf("%w: unknown reply kind %d", ErrInternalServer, reply.Kind)
	}
}

// tee 转发片段并累积文本，流结束后保存这一轮对话。
func (s *AssistantService) tee(ctx context.Context, userID uint, prompt string, askedAt time.Time, in <-chan assistant.Fragment) <-chan assistant.Fragment {
	out := make(chan assistant.Fragment)
	go func() {
		defer close(out)
		var answer strings.Builder
		for f := range in {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if f.Err != nil {
				return
			}
			answer.WriteString(f.Text)
		}
		s.record(context.WithoutCancel(ctx), userID, prompt, answer.String(), askedAt)
	}()
	return out
}

func (s *AssistantService) record(ctx context.Context, userID uint, prompt, answer string, askedAt time.Time) {
	logCtx := logrus.WithField("user_id", userID)
	payload := tasks.AssistantHistoryPayload{
		UserID:   userID,
		Prompt:   prompt,
		Answer:   answer,
		AskedAt:  askedAt,
		Answered: s.now().UTC(),
	}
	if s.enqueuer != nil {
		task, err := tasks.NewAssistantHistoryTask(payload)
		if err == nil {
			if _, err = s.enqueuer.EnqueueContext(ctx, task); err == nil {
				return
			}
		}
		logCtx.WithError(err).Warn("Failed to enqueue assistant history, saving inline")
	}
	if err := s.SaveExchange(ctx, payload); err != nil {
		logCtx.WithError(err).Error("Failed to save assistant history")
	}
}

// SaveExchange 把一问一答写入历史，由 worker 或同步路径调用。
func (s *AssistantService) SaveExchange(ctx context.Context, p tasks.AssistantHistoryPayload) error {
	answered := p.Answered
	if !answered.After(p.AskedAt) {
		answered = p.AskedAt.Add(time.Millisecond)
	}
	turns := []domain.ChatTurn{
		{ID: uuid.NewString(), UserID: p.UserID, Role: domain.ChatRoleUser, Content: p.Prompt, CreatedAt: p.AskedAt},
		{ID: uuid.NewString(), UserID: p.UserID, Role: domain.ChatRoleAssistant, Content: p.Answer, CreatedAt: answered},
	}
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.historyRepo.SaveBatch(ctx, turns)
	})
	return mapRepoError(err, nil)
}

// History 返回用户最近的对话
func (s *AssistantService) History(ctx context.Context, userID uint, limit int) ([]domain.ChatTurn, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var turns []domain.ChatTurn
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		turns, err = s.historyRepo.Recent(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, nil)
	}
	return turns, nil
}

// SetClock 替换时间来源，仅用于测试。
func (s *AssistantService) SetClock(now func() time.Time) { s.now = now }
