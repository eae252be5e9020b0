package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/domain"
	"studyroomix/internal/repository"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestMemberUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	members := s.Members()

	first := &domain.Member{RoomID: 1, UserID: 2}
	created, err := members.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &domain.Member{RoomID: 1, UserID: 2}
	created, err = members.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.JoinedAt, second.JoinedAt)

	list, err := members.ListByRoom(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStartAttached_ConditionalOnEmptyReference(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, err := s.Members().Upsert(ctx, &domain.Member{RoomID: 1, UserID: 2})
	require.NoError(t, err)

	require.NoError(t, s.Sessions().StartAttached(ctx, &domain.Session{ID: "s1", RoomID: 1, UserID: 2}))
	err = s.Sessions().StartAttached(ctx, &domain.Session{ID: "s2", RoomID: 1, UserID: 2})
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = s.Sessions().FindByID(ctx, "s2")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound, "rejected session must not be written")

	err = s.Sessions().StartAttached(ctx, &domain.Session{ID: "s3", RoomID: 9, UserID: 2})
	assert.ErrorIs(t, err, repository.ErrMemberNotFound)
}

func TestStopDetached_ClearsReferenceAndKeepsMaxDuration(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, _ = s.Members().Upsert(ctx, &domain.Member{RoomID: 1, UserID: 2})
	require.NoError(t, s.Sessions().StartAttached(ctx, &domain.Session{ID: "s1", RoomID: 1, UserID: 2}))

	_, err := s.Sessions().UpdateDuration(ctx, "s1", 30)
	require.NoError(t, err)
	sess, err := s.Sessions().UpdateDuration(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sess.Duration, "duration never decreases")

	stopped, err := s.Sessions().StopDetached(ctx, 1, 2, "s1", 65, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(65), stopped.Duration)
	assert.False(t, stopped.Open())

	m, err := s.Members().Find(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, m.Active())

	_, err = s.Sessions().StopDetached(ctx, 1, 2, "s1", 70, time.Now())
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestCloseOrphans(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, _ = s.Members().Upsert(ctx, &domain.Member{RoomID: 1, UserID: 2})
	_, _ = s.Members().Upsert(ctx, &domain.Member{RoomID: 1, UserID: 3})
	require.NoError(t, s.Sessions().StartAttached(ctx, &domain.Session{ID: "a", RoomID: 1, UserID: 2}))
	require.NoError(t, s.Sessions().StartAttached(ctx, &domain.Session{ID: "b", RoomID: 1, UserID: 3}))
	require.NoError(t, s.Members().Delete(ctx, 1, 3))

	n, err := s.Sessions().CloseOrphans(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	open, err := s.Sessions().ListOpenByIDs(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a", open[0].ID)
}

func TestRoomDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	room := &domain.Room{Kind: domain.RoomKindChat, Name: "r", CreatorID: 1}
	require.NoError(t, s.Rooms().Create(ctx, room))
	_, _ = s.Members().Upsert(ctx, &domain.Member{RoomID: room.ID, UserID: 1})
	require.NoError(t, s.Messages().Create(ctx, &domain.Message{ID: "m", RoomID: room.ID, UserID: 1, Content: "hi"}))

	require.NoError(t, s.Rooms().Delete(ctx, room.ID))
	_, err := s.Rooms().FindByID(ctx, room.ID)
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
	msgs, err := s.Messages().ListByRoom(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, s.Rooms().Delete(ctx, room.ID), repository.ErrRoomNotFound)
}

func TestMessagesListAscendingWithLimit(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Messages().Create(ctx, &domain.Message{
			ID: id, RoomID: 1, Content: id, CreatedAt: base.Add(time.Duration([]int{3, 1, 2}[i]) * time.Second),
		}))
	}
	all, err := s.Messages().ListByRoom(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	last, err := s.Messages().ListByRoom(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, []string{last[0].ID, last[1].ID})
}

func TestSetPlaybackStampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(now)))
	a, err := s.State().SetPlayback(ctx, 1, domain.PlaybackUpdate{IsPlaying: true}, 1, now)
	require.NoError(t, err)
	b, err := s.State().SetPlayback(ctx, 1, domain.PlaybackUpdate{}, 1, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, b.NewerThan(a))
}

func TestFailNextInjectsTransientErrors(t *testing.T) {
	s := NewStore()
	s.FailNext(1)
	_, err := s.Rooms().FindByID(context.Background(), 1)
	assert.True(t, errors.Is(err, repository.ErrUnavailable))
	_, err = s.Rooms().FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrRoomNotFound)
}

func TestChangeFeedFanOut(t *testing.T) {
	ctx := context.Background()
	feed := NewChangeFeed()
	a, err := feed.Subscribe(ctx, 1)
	require.NoError(t, err)
	b, err := feed.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer b.Close()

	ev := domain.ChangeEvent{Op: domain.OpInsert, Table: domain.TableMessages, RoomID: 1}
	require.NoError(t, feed.Publish(ctx, ev))
	require.NoError(t, feed.Publish(ctx, domain.ChangeEvent{Op: domain.OpInsert, Table: domain.TableMessages, RoomID: 2}))

	for _, sub := range []repository.Subscription{a, b} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, uint(1), got.RoomID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	require.NoError(t, a.Close())
	assert.Equal(t, 1, feed.Subscribers(1))
}

func TestCheckRateLimit_WindowIsFixed(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	check := func() bool {
		exceeded, err := store.State().CheckRateLimit(ctx, "user:7", 2, time.Minute)
		require.NoError(t, err)
		return exceeded
	}

	assert.False(t, check())
	now = now.Add(50 * time.Second)
	assert.False(t, check())
	assert.True(t, check(), "third request inside the first window")
	now = now.Add(50 * time.Second)

	assert.False(t, check())
	assert.False(t, check())
	assert.True(t, check())
}
