package memory

import (
	"context"
	"sync"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

// ChangeFeed 是进程内的房间广播。每个订阅有无界队列，发布方永远不会被慢消费者阻塞。
type ChangeFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[uint]map[int]*subscription
}

var _ repository.ChangeFeed = (*ChangeFeed)(nil)

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[uint]map[int]*subscription)}
}

func (f *ChangeFeed) Publish(ctx context.Context, event domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs[event.RoomID] {
		sub.enqueue(event)
	}
	return nil
}

func (f *ChangeFeed) Subscribe(ctx context.Context, roomID uint) (repository.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &subscription{
		events: make(chan domain.ChangeEvent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	id := f.nextID
	sub.unsubscribe = func() {
		f.mu.Lock()
		delete(f.subs[roomID], id)
		if len(f.subs[roomID]) == 0 {
			delete(f.subs, roomID)
		}
		f.mu.Unlock()
	}
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[int]*subscription)
	}
	f.subs[roomID][id] = sub
	go sub.pump()
	return sub, nil
}

// Subscribers 返回房间当前的订阅数
func (f *ChangeFeed) Subscribers(roomID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[roomID])
}

type subscription struct {
	mu          sync.Mutex
	queue       []domain.ChangeEvent
	events      chan domain.ChangeEvent
	wake        chan struct{}
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *subscription) enqueue(ev domain.ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.unsubscribe()
		close(s.done)
	})
	return nil
}
