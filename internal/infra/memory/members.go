package memory

import (
	"context"
	"sort"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

type MemberRepository struct{ s *Store }

func (r *MemberRepository) Upsert(ctx context.Context, member *domain.Member) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("upsert member"); err != nil {
		return false, err
	}
	key := memberKey{member.RoomID, member.UserID}
	if existing, ok := r.s.members[key]; ok {
		*member = copyMember(existing)
		return false, nil
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = r.s.now().UTC()
	}
	r.s.members[key] = copyMember(*member)
	return true, nil
}

func (r *MemberRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("find member"); err != nil {
		return nil, err
	}
	m, ok := r.s.members[memberKey{roomID, userID}]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	m = copyMember(m)
	return &m, nil
}

func (r *MemberRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("list members"); err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0)
	for k, m := range r.s.members {
		if k.roomID == roomID {
			out = append(out, copyMember(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (r *MemberRepository) Delete(ctx context.Context, roomID, userID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("delete member"); err != nil {
		return err
	}
	key := memberKey{roomID, userID}
	if _, ok := r.s.members[key]; !ok {
		return repository.ErrMemberNotFound
	}
	delete(r.s.members, key)
	return nil
}

// copyMember 避免调用方通过 CurrentSessionID 指针修改内部状态
func copyMember(m domain.Member) domain.Member {
	if m.CurrentSessionID != nil {
		id := *m.CurrentSessionID
		m.CurrentSessionID = &id
	}
	return m
}
