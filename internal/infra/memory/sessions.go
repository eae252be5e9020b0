package memory

import (
	"context"
	"sort"
	"time"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

type SessionRepository struct{ s *Store }

func (r *SessionRepository) StartAttached(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("start session"); err != nil {
		return err
	}
	key := memberKey{session.RoomID, session.UserID}
	m, ok := r.s.members[key]
	if !ok {
		return repository.ErrMemberNotFound
	}
	if m.Active() {
		return repository.ErrConflict
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.s.now().UTC()
	}
	r.s.sessions[session.ID] = copySession(*session)
	id := session.ID
	m.CurrentSessionID = &id
	r.s.members[key] = m
	return nil
}

func (r *SessionRepository) StopDetached(ctx context.Context, roomID, userID uint, sessionID string, duration int64, endedAt time.Time) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("stop session"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[sessionID]
	if !ok || !sess.Open() {
		return nil, repository.ErrSessionNotFound
	}
	if duration > sess.Duration {
		sess.Duration = duration
	}
	ended := endedAt
	sess.EndedAt = &ended
	r.s.sessions[sessionID] = sess

	key := memberKey{roomID, userID}
	if m, ok := r.s.members[key]; ok && m.CurrentSessionID != nil && *m.CurrentSessionID == sessionID {
		m.CurrentSessionID = nil
		r.s.members[key] = m
	}
	out := copySession(sess)
	return &out, nil
}

func (r *SessionRepository) UpdateDuration(ctx context.Context, sessionID string, duration int64) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("update session duration"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[sessionID]
	if !ok || !sess.Open() {
		return nil, repository.ErrSessionNotFound
	}
	if duration > sess.Duration {
		sess.Duration = duration
		r.s.sessions[sessionID] = sess
	}
	out := copySession(sess)
	return &out, nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("find session"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	out := copySession(sess)
	return &out, nil
}

func (r *SessionRepository) ListOpenByIDs(ctx context.Context, ids []string) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("list open sessions"); err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := r.s.sessions[id]; ok && sess.Open() {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

func (r *SessionRepository) CloseOrphans(ctx context.Context, endedAt time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("close orphan sessions"); err != nil {
		return 0, err
	}
	referenced := make(map[string]bool)
	for _, m := range r.s.members {
		if m.CurrentSessionID != nil {
			referenced[*m.CurrentSessionID] = true
		}
	}
	var closed int64
	for id, sess := range r.s.sessions {
		if sess.Open() && !referenced[id] {
			ended := endedAt
			sess.EndedAt = &ended
			r.s.sessions[id] = sess
			closed++
		}
	}
	return closed, nil
}

func (r *SessionRepository) TopTotals(ctx context.Context, limit int) ([]domain.StudyTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("sum study totals"); err != nil {
		return nil, err
	}
	byUser := make(map[uint]int64)
	for _, sess := range r.s.sessions {
		if !sess.Open() {
			byUser[sess.UserID] += sess.Duration
		}
	}
	totals := make([]domain.StudyTotal, 0, len(byUser))
	for userID, total := range byUser {
		totals = append(totals, domain.StudyTotal{UserID: userID, TotalDuration: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].TotalDuration != totals[j].TotalDuration {
			return totals[i].TotalDuration > totals[j].TotalDuration
		}
		return totals[i].UserID < totals[j].UserID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func (r *SessionRepository) UserTotal(ctx context.Context, userID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("sum study total"); err != nil {
		return 0, err
	}
	var total int64
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && !sess.Open() {
			total += sess.Duration
		}
	}
	return total, nil
}

func copySession(s domain.Session) domain.Session {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}
