package memory

import (
	"context"
	"sort"

	"studyroomix/internal/domain"
)

type ChatHistoryRepository struct{ s *Store }

func (r *ChatHistoryRepository) SaveBatch(ctx context.Context, turns []domain.ChatTurn) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("save chat batch"); err != nil {
		return err
	}
	r.s.turns = append(r.s.turns, turns...)
	return nil
}

func (r *ChatHistoryRepository) Recent(ctx context.Context, userID uint, limit int) ([]domain.ChatTurn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("load chat history"); err != nil {
		return nil, err
	}
	out := make([]domain.ChatTurn, 0)
	for _, t := range r.s.turns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
