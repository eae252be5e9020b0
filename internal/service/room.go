package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"studyroomix/internal/credential"
	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
	"studyroomix/internal/tasks"
)

const (
	maxRoomNameLength        = 100
	maxRoomDescriptionLength = 500
)

// CreateRoomInput 是创建房间的参数
type CreateRoomInput struct {
	Kind        domain.RoomKind
	Name        string
	Description string
	IsPrivate   bool
	Password    string
	VideoURL    string
}

// RoomService 负责房间管理相关的业务逻辑。
type RoomService struct {
	storeCaller
	roomRepo    repository.RoomRepository
	memberRepo  repository.MemberRepository
	sessionRepo repository.SessionRepository
	stateRepo   repository.StateRepository
	verifier    credential.Verifier
	enqueuer    TaskEnqueuer // 为 nil 时同步清理
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	roomRepo repository.RoomRepository,
	memberRepo repository.MemberRepository,
	sessionRepo repository.SessionRepository,
	stateRepo repository.StateRepository,
	feed repository.ChangeFeed,
	verifier credential.Verifier,
	enqueuer TaskEnqueuer,
	policy retry.Policy,
) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if memberRepo == nil {
		panic("MemberRepository cannot be nil for RoomService")
	}
	if sessionRepo == nil {
		panic("SessionRepository cannot be nil for RoomService")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for RoomService")
	}
	if verifier == nil {
		panic("credential.Verifier cannot be nil for RoomService")
	}
	return &RoomService{
		storeCaller: newStoreCaller(policy, feed),
		roomRepo:    roomRepo,
		memberRepo:  memberRepo,
		sessionRepo: sessionRepo,
		stateRepo:   stateRepo,
		verifier:    verifier,
		enqueuer:    enqueuer,
	}
}

func validateRoomInput(in *CreateRoomInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.VideoURL = strings.TrimSpace(in.VideoURL)

	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRoom, in.Kind)
	}
	if n := utf8.RuneCountInString(in.Name); n == 0 || n > maxRoomNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidRoom, maxRoomNameLength)
	}
	if utf8.RuneCountInString(in.Description) > maxRoomDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRoom, maxRoomDescriptionLength)
	}
	if in.IsPrivate && in.Password == "" {
		return fmt.Errorf("%w: private rooms require a password", ErrInvalidRoom)
	}
	if in.Kind == domain.RoomKindWatch {
		u, err := url.Parse(in.VideoURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: watch rooms require an http(s) video url", ErrInvalidRoom)
		}
	} else {
		in.VideoURL = ""
	}
	return nil
}

// CreateRoom 创建一个新房间，创建者自动加入。
func (s *RoomService) CreateRoom(ctx context.Context, creatorID uint, in CreateRoomInput) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"creator_id": creatorID, "operation": "CreateRoom"})
	if err := validateRoomInput(&in); err != nil {
		return nil, err
	}

	room := &domain.Room{
		Kind:        in.Kind,
		Name:        in.Name,
		Description: in.Description,
		IsPrivate:   in.IsPrivate,
		VideoURL:    in.VideoURL,
		CreatorID:   creatorID,
	}
	if in.IsPrivate {
		stored, err := s.verifier.Prepare(in.Password)
		if err != nil {
			logCtx.WithError(err).Error("Failed to prepare room credential")
			return nil, ErrInternalServer
		}
		room.Password = &stored
	}

	// 房间 ID 由存储分配；重试前清零，避免把失败尝试的回填值带入下一次插入
	err := s.call(ctx, func(ctx context.Context) error {
		room.ID = 0
		return s.roomRepo.Create(ctx, room)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, mapRepoError(err, nil)
	}
	logCtx = logCtx.WithField("room_id", room.ID)
	s.publish(ctx, domain.OpInsert, domain.TableRooms, room.ID, room, nil)

	member := &domain.Member{RoomID: room.ID, UserID: creatorID}
	var created bool
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.memberRepo.Upsert(ctx, member)
		return err
	})
	if err != nil {
		// 房间已创建，创建者稍后仍可通过 JoinRoom 加入
		logCtx.WithError(err).Warn("Room created but creator auto-join failed")
	} else if created {
		s.publish(ctx, domain.OpInsert, domain.TableMembers, room.ID, member, nil)
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// FindRoomByID 查找房间
func (s *RoomService) FindRoomByID(ctx context.Context, roomID uint) (*domain.Room, error) {
	var room *domain.Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.roomRepo.FindByID(ctx, roomID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithField("room_id", roomID).WithError(err).Error("FindRoomByID: repository error")
		}
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	return room, nil
}

// AuthorizeRead 查找房间并校验读取权限：私有房间只有创建者和成员可以读取消息、成员和播放状态
func (s *RoomService) AuthorizeRead(ctx context.Context, roomID, userID uint) (*domain.Room, error) {
	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsPrivate || room.IsAuthority(userID) {
		return room, nil
	}
	err = s.call(ctx, func(ctx context.Context) error {
		_, err := s.memberRepo.Find(ctx, roomID, userID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).WithError(err).Error("AuthorizeRead: repository error")
		}
		return nil, mapRepoError(err, ErrNotMember)
	}
	return room, nil
}

// ListRooms 列出房间（最新的在前），kind 为空时列出全部类型。
func (s *RoomService) ListRooms(ctx context.Context, kind domain.RoomKind) ([]domain.RoomSummary, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRoom, kind)
	}
	var rooms []domain.RoomSummary
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		rooms, err = s.roomRepo.List(ctx, kind)
		return err
	})
	if err != nil {
		logrus.WithField("kind", kind).WithError(err).Error("ListRooms: repository error")
		return nil, mapRepoError(err, nil)
	}
	return rooms, nil
}

// JoinRoom 校验凭据并幂等地加入房间。私有房间凭据不匹配时不会写入成员记录。
func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID uint, password string) (*domain.Room, *domain.Member, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "JoinRoom"})

	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.IsPrivate && !room.IsAuthority(userID) {
		stored := ""
		if room.Password != nil {
			stored = *room.Password
		}
		if stored == "" || !s.verifier.Verify(stored, password) {
			logCtx.Warn("Join rejected: credential mismatch")
			return nil, nil, ErrInvalidCredential
		}
	}

	member := &domain.Member{RoomID: roomID, UserID: userID}
	var created bool
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.memberRepo.Upsert(ctx, member)
		return err
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to upsert member")
		return nil, nil, mapRepoError(err, nil)
	}
	if created {
		s.publish(ctx, domain.OpInsert, domain.TableMembers, roomID, member, nil)
		logCtx.Info("User joined room")
	} else {
		logCtx.Debug("User already a member, join is a no-op")
	}
	return room, member, nil
}

// LeaveRoom 先结束成员打开的会话，再删除成员记录。不是成员时为空操作。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "LeaveRoom"})

	var member *domain.Member
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		member, err = s.memberRepo.Find(ctx, roomID, userID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return mapRepoError(err, nil)
	}

	if member.Active() {
		sessionID := *member.CurrentSessionID
		var stopped *domain.Session
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			// 时长保持最后一次持久化的值
			stopped, err = s.sessionRepo.StopDetached(ctx, roomID, userID, sessionID, 0, s.now().UTC())
			return err
		})
		switch {
		case err == nil:
			s.publish(ctx, domain.OpUpdate, domain.TableSessions, roomID, stopped, nil)
		case errors.Is(err, repository.ErrNotFound):
			// 已被其他连接结束
		default:
			logCtx.WithError(err).Error("Failed to close open session before leaving")
			return mapRepoError(err, nil)
		}
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.memberRepo.Delete(ctx, roomID, userID)
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Error("Failed to delete member")
		return mapRepoError(err, nil)
	}
	if err == nil {
		member.CurrentSessionID = nil
		s.publish(ctx, domain.OpDelete, domain.TableMembers, roomID, nil, member)
	}
	logCtx.Info("User left room")
	return nil
}

// ListMembers 返回房间成员（按加入时间排序）。
func (s *RoomService) ListMembers(ctx context.Context, roomID uint) ([]domain.Member, error) {
	if _, err := s.FindRoomByID(ctx, roomID); err != nil {
		return nil, err
	}
	var members []domain.Member
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		members, err = s.memberRepo.ListByRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, nil)
	}
	return members, nil
}

// DeleteRoom 只允许创建者删除房间；成员、会话、消息级联删除，Redis 状态异步清理。
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, userID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "DeleteRoom"})

	room, err := s.FindRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsAuthority(userID) {
		logCtx.Warn("Delete rejected: caller is not the creator")
		return ErrNotAuthorized
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.roomRepo.Delete(ctx, roomID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to delete room")
		return mapRepoError(err, nil)
	}
	s.publish(ctx, domain.OpDelete, domain.TableRooms, roomID, nil, room)
	s.scheduleStateCleanup(ctx, roomID)

	logCtx.Info("Room deleted")
	return nil
}

func (s *RoomService) scheduleStateCleanup(ctx context.Context, roomID uint) {
	logCtx := logrus.WithField("room_id", roomID)
	if s.enqueuer != nil {
		task, err := tasks.NewRoomCleanupTask(roomID)
		if err == nil {
			if _, err = s.enqueuer.EnqueueContext(ctx, task); err == nil {
				logCtx.Debug("Room cleanup task enqueued")
				return
			}
		}
		logCtx.WithError(err).Warn("Failed to enqueue room cleanup, cleaning up inline")
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.stateRepo.CleanupRoomState(ctx, roomID)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to clean up room state")
	}
}
