package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/domain"
	"studyroomix/internal/infra/memory"
	"studyroomix/internal/repository"
	"studyroomix/internal/repository/mocks"
	"studyroomix/internal/service"
)

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, userA, service.CreateRoomInput{Kind: domain.RoomKindChat})

	msg, err := f.messages.SendMessage(ctx, room.ID, userA, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	_, err = f.messages.SendMessage(ctx, room.ID, userB, "hi")
	assert.ErrorIs(t, err, service.ErrNotMember)

	_, err = f.messages.SendMessage(ctx, room.ID, userA, "   ")
	assert.ErrorIs(t, err, service.ErrInvalidMessage)

	_, err = f.messages.SendMessage(ctx, room.ID, userA, strings.Repeat("字", domain.MaxMessageLength+1))
	assert.ErrorIs(t, err, service.ErrInvalidMessage)

	_, err = f.messages.SendMessage(ctx, room.ID, userA, strings.Repeat("字", domain.MaxMessageLength))
	assert.NoError(t, err)

	study := f.createRoom(t, userA, service.CreateRoomInput{Kind: domain.RoomKindStudy})
	_, err = f.messages.SendMessage(ctx, study.ID, userA, "hi")
	assert.ErrorIs(t, err, service.ErrWrongRoomKind)
}

func TestListMessages_Ascending(t *testing.T) {
	f := newFixture(t)
	f.messages.SetClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	room := f.createRoom(t, userA, service.CreateRoomInput{Kind: domain.RoomKindWatch})

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.messages.SendMessage(ctx, room.ID, userA, text)
		require.NoError(t, err)
	}
	msgs, err := f.messages.ListMessages(ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)

	last, err := f.messages.ListMessages(ctx, room.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
}

func TestSendMessage_RetriesMembershipLookup(t *testing.T) {
	store := memory.NewStore()
	feed := memory.NewChangeFeed()
	memberRepo := mocks.NewMemberRepository(t)
	svc := service.NewMessageService(store.Rooms(), memberRepo, store.Messages(), feed, fastPolicy())
	ctx := context.Background()

	room := &domain.Room{Kind: domain.RoomKindChat, Name: "c", CreatorID: userA}
	require.NoError(t, store.Rooms().Create(ctx, room))

	memberRepo.On("Find", mock.Anything, room.ID, userA).Return(nil, repository.ErrUnavailable).Once()
	memberRepo.On("Find", mock.Anything, room.ID, userA).Return(&domain.Member{RoomID: room.ID, UserID: userA}, nil).Once()

	msg, err := svc.SendMessage(ctx, room.ID, userA, "hi")
	require.NoError(t, err)
	assert.Equal(t, room.ID, msg.RoomID)
}
