package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

// MessageService 处理聊天和观影房间的消息。
type MessageService struct {
	storeCaller
	roomRepo    repository.RoomRepository
	memberRepo  repository.MemberRepository
	messageRepo repository.MessageRepository
}

func NewMessageService(
	roomRepo repository.RoomRepository,
	memberRepo repository.MemberRepository,
	messageRepo repository.MessageRepository,
	feed repository.ChangeFeed,
	policy retry.Policy,
) *MessageService {
	if roomRepo == nil || memberRepo == nil || messageRepo == nil {
		panic("repositories cannot be nil for MessageService")
	}
	return &MessageService{
		storeCaller: newStoreCaller(policy, feed),
		roomRepo:    roomRepo,
		memberRepo:  memberRepo,
		messageRepo: messageRepo,
	}
}

func (s *MessageService) findMessagingRoom(ctx context.Context, roomID uint) (*domain.Room, error) {
	var room *domain.Room
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.roomRepo.FindByID(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	if room.Kind == domain.RoomKindStudy {
		return nil, ErrWrongRoomKind
	}
	return room, nil
}

// SendMessage 追加一条消息；发送者必须是房间成员。
func (s *MessageService) SendMessage(ctx context.Context, roomID, userID uint, content string) (*domain.Message, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "operation": "SendMessage"})

	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > domain.MaxMessageLength {
		return nil, fmt.Errorf("%w: content must be 1-%d characters", ErrInvalidMessage, domain.MaxMessageLength)
	}
	if _, err := s.findMessagingRoom(ctx, roomID); err != nil {
		return nil, err
	}
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.memberRepo.Find(ctx, roomID, userID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, ErrNotMember)
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.messageRepo.Create(ctx, msg)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to save message")
		return nil, mapRepoError(err, nil)
	}
	s.publish(ctx, domain.OpInsert, domain.TableMessages, roomID, msg, nil)
	return msg, nil
}

// ListMessages 按时间升序返回消息；limit > 0 时只返回最近的 limit 条。
func (s *MessageService) ListMessages(ctx context.Context, roomID uint, limit int) ([]domain.Message, error) {
	if _, err := s.findMessagingRoom(ctx, roomID); err != nil {
		return nil, err
	}
	var msgs []domain.Message
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.messageRepo.ListByRoom(ctx, roomID, limit)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, nil)
	}
	return msgs, nil
}
