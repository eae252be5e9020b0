package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/assistant"
	"studyroomix/internal/domain"
	"studyroomix/internal/infra/memory"
	"studyroomix/internal/service"
	"studyroomix/internal/tasks"
)

// fakeGenerator 按预设返回回复，并记录收到的请求
type fakeGenerator struct {
	mu        sync.Mutex
	requests  []assistant.Request
	answer    string
	fragments []string
	streamErr error
	err       error
}

func (g *fakeGenerator) Generate(ctx context.Context, req assistant.Request) (assistant.Reply, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.err != nil {
		return assistant.Reply{}, g.err
	}
	if !req.Stream {
		return assistant.Complete(g.answer), nil
	}
	ch := make(chan assistant.Fragment, len(g.fragments)+1)
	for _, f := range g.fragments {
		ch <- assistant.Fragment{Text: f}
	}
	if g.streamErr != nil {
		ch <- assistant.Fragment{Err: g.streamErr}
	}
	close(ch)
	return assistant.Stream(ch), nil
}

func (g *fakeGenerator) lastRequest() assistant.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func newAssistant(t *testing.T, gen assistant.Generator, enq service.TaskEnqueuer) (*service.AssistantService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := service.NewAssistantService(store.ChatHistory(), gen, enq, fastPolicy())
	svc.SetClock(steppingClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)))
	return svc, store
}

func TestAsk_CompleteReplyIsRecorded(t *testing.T) {
	gen := &fakeGenerator{answer: "42"}
	svc, _ := newAssistant(t, gen, nil)
	ctx := context.Background()

	reply, err := svc.Ask(ctx, userA, " what is the answer? ", false)
	require.NoError(t, err)
	assert.Equal(t, assistant.KindComplete, reply.Kind)
	assert.Equal(t, "42", reply.Text)
	assert.Equal(t, "what is the answer?", gen.lastRequest().Prompt)

	turns, err := svc.History(ctx, userA, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.ChatRoleUser, turns[0].Role)
	assert.Equal(t, domain.ChatRoleAssistant, turns[1].Role)
	assert.Equal(t, "42", turns[1].Content)
	assert.True(t, turns[1].CreatedAt.After(turns[0].CreatedAt))
}

func TestAsk_StreamIsForwardedAndRecorded(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Hel", "lo"}}
	svc, _ := newAssistant(t, gen, nil)
	ctx := context.Background()

	reply, err := svc.Ask(ctx, userA, "greet me", true)
	require.NoError(t, err)
	require.Equal(t, assistant.KindStream, reply.Kind)
	text, err := assistant.Collect(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	// 历史在流关闭之后才写入
	assert.Eventually(t, func() bool {
		turns, err := svc.History(ctx, userA, 0)
		return err == nil && len(turns) == 2 && turns[1].Content == "Hello"
	}, time.Second, 5*time.Millisecond)
}

func TestAsk_BrokenStreamIsNotRecorded(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"par"}, streamErr: errors.New("connection reset")}
	svc, _ := newAssistant(t, gen, nil)
	ctx := context.Background()

	reply, err := svc.Ask(ctx, userA, "explain", true)
	require.NoError(t, err)
	text, err := assistant.Collect(ctx, reply)
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, "par", text)

	time.Sleep(20 * time.Millisecond)
	turns, err := svc.History(ctx, userA, 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAsk_Rejections(t *testing.T) {
	ctx := context.Background()

	svc, _ := newAssistant(t, nil, nil)
	_, err := svc.Ask(ctx, userA, "hi", false)
	assert.ErrorIs(t, err, service.ErrAssistantUnavailable)

	svc, _ = newAssistant(t, &fakeGenerator{}, nil)
	_, err = svc.Ask(ctx, userA, "   ", false)
	assert.ErrorIs(t, err, service.ErrInvalidPrompt)

	svc, _ = newAssistant(t, &fakeGenerator{err: errors.New("quota")}, nil)
	_, err = svc.Ask(ctx, userA, "hi", false)
	assert.ErrorIs(t, err, service.ErrAssistantUnavailable)
}

func TestAsk_SendsHistoryWindow(t *testing.T) {
	gen := &fakeGenerator{answer: "ok"}
	svc, _ := newAssistant(t, gen, nil)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := svc.Ask(ctx, userA, fmt.Sprintf("q%d", i), false)
		require.NoError(t, err)
	}
	_, err := svc.Ask(ctx, userA, "latest", false)
	require.NoError(t, err)

	history := gen.lastRequest().History
	require.Len(t, history, service.HistoryWindow)
	assert.Equal(t, "q3", history[0].Content)
	assert.Equal(t, "ok", history[len(history)-1].Content)

	// 其他用户的历史不受影响
	_, err = svc.Ask(ctx, userB, "mine", false)
	require.NoError(t, err)
	assert.Empty(t, gen.lastRequest().History)
}

func TestAsk_EnqueuesHistoryTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc, _ := newAssistant(t, &fakeGenerator{answer: "ok"}, enq)
	ctx := context.Background()

	_, err := svc.Ask(ctx, userA, "hi", false)
	require.NoError(t, err)
	assert.Equal(t, []string{tasks.TypeAssistantHistory}, enq.types())

	turns, err := svc.History(ctx, userA, 0)
	require.NoError(t, err)
	assert.Empty(t, turns, "history is written by the worker")
}

func TestSaveExchange_OrdersTurns(t *testing.T) {
	svc, _ := newAssistant(t, &fakeGenerator{}, nil)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, svc.SaveExchange(ctx, tasks.AssistantHistoryPayload{
		UserID: userA, Prompt: "p", Answer: "a", AskedAt: at, Answered: at,
	}))
	turns, err := svc.History(ctx, userA, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "p", turns[0].Content)
	assert.Equal(t, "a", turns[1].Content)
}
