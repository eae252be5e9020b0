package memory

import (
	"context"
	"sort"

	"studyroomix/internal/domain"
)

type MessageRepository struct{ s *Store }

func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("create message"); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.s.now().UTC()
	}
	r.s.messages = append(r.s.messages, *msg)
	return nil
}

func (r *MessageRepository) ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("list messages"); err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0)
	for _, m := range r.s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	// 插入顺序作为同一时间戳下的次序
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
