package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/credential"
	"studyroomix/internal/domain"
	"studyroomix/internal/infra/memory"
	"studyroomix/internal/retry"
	"studyroomix/internal/service"
)

// 测试中的固定用户
const (
	userA uint = 1
	userB uint = 2
	userC uint = 3
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

type fixture struct {
	store    *memory.Store
	feed     *memory.ChangeFeed
	rooms    *service.RoomService
	study    *service.StudyService
	playback *service.PlaybackService
	messages *service.MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	feed := memory.NewChangeFeed()
	verifier, err := credential.New(credential.ModePlain)
	require.NoError(t, err)
	return &fixture{
		store:    store,
		feed:     feed,
		rooms:    service.NewRoomService(store.Rooms(), store.Members(), store.Sessions(), store.State(), feed, verifier, nil, fastPolicy()),
		study:    service.NewStudyService(store.Rooms(), store.Members(), store.Sessions(), feed, fastPolicy()),
		playback: service.NewPlaybackService(store.Rooms(), store.State(), feed, fastPolicy()),
		messages: service.NewMessageService(store.Rooms(), store.Members(), store.Messages(), feed, fastPolicy()),
	}
}

func (f *fixture) createRoom(t *testing.T, creator uint, in service.CreateRoomInput) *domain.Room {
	t.Helper()
	if in.Name == "" {
		in.Name = "room"
	}
	if in.Kind == domain.RoomKindWatch && in.VideoURL == "" {
		in.VideoURL = "https://example.com/video.mp4"
	}
	room, err := f.rooms.CreateRoom(context.Background(), creator, in)
	require.NoError(t, err)
	return room
}

func (f *fixture) memberCount(t *testing.T, roomID uint) int {
	t.Helper()
	members, err := f.store.Members().ListByRoom(context.Background(), roomID)
	require.NoError(t, err)
	return len(members)
}

// fakeEnqueuer 记录入队的任务
type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (e *fakeEnqueuer) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tasks))
	for i, task := range e.tasks {
		out[i] = task.Type()
	}
	return out
}

// steppingClock 每次调用前进一秒
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}
