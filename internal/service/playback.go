package service

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

// PlaybackService 是观影房间播放状态的写入边界：只有创建者可以写。
type PlaybackService struct {
	storeCaller
	roomRepo  repository.RoomRepository
	stateRepo repository.StateRepository
}

func NewPlaybackService(roomRepo repository.RoomRepository, stateRepo repository.StateRepository, feed repository.ChangeFeed, policy retry.Policy) *PlaybackService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for PlaybackService")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for PlaybackService")
	}
	return &PlaybackService{
		storeCaller: newStoreCaller(policy, feed),
		roomRepo:    roomRepo,
		stateRepo:   stateRepo,
	}
}

func (s *PlaybackService) findWatchRoom(ctx context.Context, roomID uint) (*domain.Room, error) {
	var room *domain.Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.roomRepo.FindByID(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if room.Kind != domain.RoomKindWatch {
		return nil, ErrWrongRoomKind
	}
	return room, nil
}

// SetPlaybackState 覆盖播放状态并由存储打上严格递增的时间戳。非创建者的写入被拒绝，存储不变。
func (s *PlaybackService) SetPlaybackState(ctx context.Context, roomID, userID uint, update domain.PlaybackUpdate) (domain.PlaybackState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "SetPlaybackState"})

	if math.IsNaN(update.Position) || math.IsInf(update.Position, 0) || update.Position < 0 {
		return domain.PlaybackState{}, fmt.Errorf("%w: position must be a non-negative number", ErrInvalidPlayback)
	}
	room, err := s.findWatchRoom(ctx, roomID)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	if !room.IsAuthority(userID) {
		logCtx.Warn("Playback write rejected: caller is not the room authority")
		return domain.PlaybackState{}, ErrNotAuthorized
	}

	var state domain.PlaybackState
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		state, err = s.stateRepo.SetPlayback(ctx, roomID, update, userID, s.now())
		return err
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to write playback state")
		return domain.PlaybackState{}, mapRepoError(err, nil)
	}

	s.publish(ctx, domain.OpUpdate, domain.TablePlayback, roomID, state, nil)
	logCtx.WithFields(logrus.Fields{"is_playing": state.IsPlaying, "position": state.Position}).Debug("Playback state updated")
	return state, nil
}

// GetPlaybackState 读取当前播放状态
func (s *PlaybackService) GetPlaybackState(ctx context.Context, roomID uint) (domain.PlaybackState, error) {
	if _, err := s.findWatchRoom(ctx, roomID); err != nil {
		return domain.PlaybackState{}, err
	}
	var state domain.PlaybackState
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		state, err = s.stateRepo.GetPlayback(ctx, roomID)
		return err
	})
	if err != nil {
		return domain.PlaybackState{}, mapRepoError(err, nil)
	}
	return state, nil
}
