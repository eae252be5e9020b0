package memory

import (
	"context"
	"sort"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

type RoomRepository struct{ s *Store }

func (r *RoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("find room"); err != nil {
		return nil, err
	}
	room, ok := r.s.rooms[id]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return &room, nil
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("create room"); err != nil {
		return err
	}
	r.s.nextRoomID++
	room.ID = r.s.nextRoomID
	if room.CreatedAt.IsZero() {
		room.CreatedAt = r.s.now().UTC()
	}
	r.s.rooms[room.ID] = *room
	return nil
}

func (r *RoomRepository) List(ctx context.Context, kind domain.RoomKind) ([]domain.RoomSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("list rooms"); err != nil {
		return nil, err
	}
	counts := make(map[uint]int64)
	for k := range r.s.members {
		counts[k.roomID]++
	}
	out := make([]domain.RoomSummary, 0, len(r.s.rooms))
	for _, room := range r.s.rooms {
		if kind != "" && room.Kind != kind {
			continue
		}
		out = append(out, domain.RoomSummary{Room: room, MemberCount: counts[room.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *RoomRepository) Delete(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("delete room"); err != nil {
		return err
	}
	if _, ok := r.s.rooms[id]; !ok {
		return repository.ErrRoomNotFound
	}
	delete(r.s.rooms, id)
	for k := range r.s.members {
		if k.roomID == id {
			delete(r.s.members, k)
		}
	}
	for sid, sess := range r.s.sessions {
		if sess.RoomID == id {
			delete(r.s.sessions, sid)
		}
	}
	kept := r.s.messages[:0]
	for _, m := range r.s.messages {
		if m.RoomID != id {
			kept = append(kept, m)
		}
	}
	r.s.messages = kept
	return nil
}
