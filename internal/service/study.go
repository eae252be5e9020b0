package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

// StudyService 管理自习房间的计时会话。
type StudyService struct {
	storeCaller
	roomRepo    repository.RoomRepository
	memberRepo  repository.MemberRepository
	sessionRepo repository.SessionRepository
}

func NewStudyService(
	roomRepo repository.RoomRepository,
	memberRepo repository.MemberRepository,
	sessionRepo repository.SessionRepository,
	feed repository.ChangeFeed,
	policy retry.Policy,
) *StudyService {
	if roomRepo == nil || memberRepo == nil || sessionRepo == nil {
		panic("repositories cannot be nil for StudyService")
	}
	return &StudyService{
		storeCaller: newStoreCaller(policy, feed),
		roomRepo:    roomRepo,
		memberRepo:  memberRepo,
		sessionRepo: sessionRepo,
	}
}

func (s *StudyService) findStudyRoom(ctx context.Context, roomID uint) (*domain.Room, error) {
	var room *domain.Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.roomRepo.FindByID(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if room.Kind != domain.RoomKindStudy {
		return nil, ErrWrongRoomKind
	}
	return room, nil
}

func (s *StudyService) findMember(ctx context.Context, roomID, userID uint) (*domain.Member, error) {
	var member *domain.Member
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		member, err = s.memberRepo.Find(ctx, roomID, userID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrNotMember)
	}
	return member, nil
}

// StartSession 创建时长为 0 的会话并条件地挂到成员记录上。
func (s *StudyService) StartSession(ctx context.Context, roomID, userID uint) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "StartSession"})
	if _, err := s.findStudyRoom(ctx, roomID); err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomID:    roomID,
		CreatedAt: s.now().UTC(),
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.sessionRepo.StartAttached(ctx, session)
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConflict):
		logCtx.Warn("Start rejected: member already has an open session")
		return nil, ErrAlreadyActive
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrNotMember
	default:
		logCtx.WithError(err).Error("Failed to start session")
		return nil, mapRepoError(err, nil)
	}

	id := session.ID
	s.publish(ctx, domain.OpInsert, domain.TableSessions, roomID, session, nil)
	s.publish(ctx, domain.OpUpdate, domain.TableMembers, roomID,
		domain.Member{RoomID: roomID, UserID: userID, CurrentSessionID: &id}, nil)
	logCtx.WithField("session_id", session.ID).Info("Study session started")
	return session, nil
}

// StopSession 写入最终时长并结束会话。没有打开的会话时为空操作，返回 (nil, nil)。
func (s *StudyService) StopSession(ctx context.Context, roomID, userID uint, duration int64) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "StopSession"})
	member, err := s.findMember(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return nil, nil
		}
		return nil, err
	}
	if !member.Active() {
		return nil, nil
	}
	if duration < 0 {
		duration = 0
	}

	sessionID := *member.CurrentSessionID
	var stopped *domain.Session
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		stopped, err = s.sessionRepo.StopDetached(ctx, roomID, userID, sessionID, duration, s.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		logCtx.WithError(err).Error("Failed to stop session")
		return nil, mapRepoError(err, nil)
	}

	member.CurrentSessionID = nil
	s.publish(ctx, domain.OpUpdate, domain.TableSessions, roomID, stopped, nil)
	s.publish(ctx, domain.OpUpdate, domain.TableMembers, roomID, member, nil)
	logCtx.WithFields(logrus.Fields{"session_id": sessionID, "duration": stopped.Duration}).Info("Study session stopped")
	return stopped, nil
}

// FlushSession 持久化打开会话的当前时长但不结束它。时长只增不减。
func (s *StudyService) FlushSession(ctx context.Context, roomID, userID uint, duration int64) (*domain.Session, error) {
	member, err := s.findMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !member.Active() {
		return nil, ErrSessionNotFound
	}
	var updated *domain.Session
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.sessionRepo.UpdateDuration(ctx, *member.CurrentSessionID, duration)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrSessionNotFound)
	}
	s.publish(ctx, domain.OpUpdate, domain.TableSessions, roomID, updated, nil)
	return updated, nil
}

// MemberSnapshots 返回房间成员及其打开的会话，是在线状态聚合的远端输入。
func (s *StudyService) MemberSnapshots(ctx context.Context, roomID uint) ([]domain.MemberSnapshot, error) {
	var members []domain.Member
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		members, err = s.memberRepo.ListByRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, nil)
	}

	ids := make([]string, 0, len(members))
	for i := range members {
		if members[i].Active() {
			ids = append(ids, *members[i].CurrentSessionID)
		}
	}
	var sessions []domain.Session
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		sessions, err = s.sessionRepo.ListOpenByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, nil)
	}
	byID := make(map[string]domain.Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}

	snapshots := make([]domain.MemberSnapshot, 0, len(members))
	for _, m := range members {
		snap := domain.MemberSnapshot{Member: m}
		if m.Active() {
			if sess, ok := byID[*m.CurrentSessionID]; ok {
				sess := sess
				snap.Session = &sess
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// ReapOrphanSessions 结束所有没有成员引用的打开会话。
func (s *StudyService) ReapOrphanSessions(ctx context.Context) (int64, error) {
	var closed int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		closed, err = s.sessionRepo.CloseOrphans(ctx, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, mapRepoError(err, nil)
	}
	if closed > 0 {
		logrus.WithField("closed", closed).Info("Closed orphan study sessions")
	}
	return closed, nil
}

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// Leaderboard 按已结束会话的累计时长排名，limit 不合法时取默认值，超过上限时截断
func (s *StudyService) Leaderboard(ctx context.Context, limit int) ([]domain.StudyTotal, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	var totals []domain.StudyTotal
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		totals, err = s.sessionRepo.TopTotals(ctx, limit)
		return err
	})
	if err != nil {
		logrus.WithField("limit", limit).WithError(err).Error("Leaderboard: repository error")
		return nil, mapRepoError(err, nil)
	}
	return totals, nil
}

// UserTotal 返回用户已结束会话的累计时长；正在计时的会话不计入
func (s *StudyService) UserTotal(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		total, err = s.sessionRepo.UserTotal(ctx, userID)
		return err
	})
	if err != nil {
		return 0, mapRepoError(err, nil)
	}
	return total, nil
}
