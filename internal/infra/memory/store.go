// Package memory 提供所有存储接口的进程内实现，用于单机运行（DB_DRIVER=memory）和行为测试。
// 所有表共用一把锁，因此每个操作天然是原子的。
package memory

import (
	"fmt"
	"sync"
	"time"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

type memberKey struct {
	roomID uint
	userID uint
}

type rateCounter struct {
	count     int64
	expiresAt time.Time
}

// Store 持有所有内存表
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	nextRoomID uint
	rooms      map[uint]domain.Room
	members    map[memberKey]domain.Member
	sessions   map[string]domain.Session
	messages   []domain.Message
	turns      []domain.ChatTurn
	playback   map[uint]domain.PlaybackState
	counters   map[string]rateCounter

	failures int // 剩余需要注入的故障次数
}

// Option 配置 Store
type Option func(*Store)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		rooms:    make(map[uint]domain.Room),
		members:  make(map[memberKey]domain.Member),
		sessions: make(map[string]domain.Session),
		playback: make(map[uint]domain.PlaybackState),
		counters: make(map[string]rateCounter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext 让接下来的 n 次存储调用返回 repository.ErrUnavailable。
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// fault 必须在持有写锁时调用
func (s *Store) fault(op string) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("memory: %s: %w", op, repository.ErrUnavailable)
	}
	return nil
}

func (s *Store) Rooms() *RoomRepository             { return &RoomRepository{s: s} }
func (s *Store) Members() *MemberRepository         { return &MemberRepository{s: s} }
func (s *Store) Sessions() *SessionRepository       { return &SessionRepository{s: s} }
func (s *Store) Messages() *MessageRepository       { return &MessageRepository{s: s} }
func (s *Store) ChatHistory() *ChatHistoryRepository { return &ChatHistoryRepository{s: s} }
func (s *Store) State() *StateRepository            { return &StateRepository{s: s} }

var (
	_ repository.RoomRepository        = (*RoomRepository)(nil)
	_ repository.MemberRepository      = (*MemberRepository)(nil)
	_ repository.SessionRepository     = (*SessionRepository)(nil)
	_ repository.MessageRepository     = (*MessageRepository)(nil)
	_ repository.ChatHistoryRepository = (*ChatHistoryRepository)(nil)
	_ repository.StateRepository       = (*StateRepository)(nil)
)
