package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/domain"
	"studyroomix/internal/service"
)

func setupStudyRoom(t *testing.T, f *fixture) *domain.Room {
	t.Helper()
	room := f.createRoom(t, userA, service.CreateRoomInput{Kind: domain.RoomKindStudy})
	_, _, err := f.rooms.JoinRoom(context.Background(), room.ID, userB, "")
	require.NoError(t, err)
	return room
}

func TestStudySession_StopScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)

	sess, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)
	assert.Zero(t, sess.Duration)

	stopped, err := f.study.StopSession(ctx, room.ID, userB, 65)
	require.NoError(t, err)
	require.NotNil(t, stopped)
	assert.Equal(t, int64(65), stopped.Duration)
	assert.NotNil(t, stopped.EndedAt)

	member, err := f.store.Members().Find(ctx, room.ID, userB)
	require.NoError(t, err)
	assert.Nil(t, member.CurrentSessionID)
}

func TestStartSession_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)

	_, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)
	_, err = f.study.StartSession(ctx, room.ID, userB)
	assert.ErrorIs(t, err, service.ErrAlreadyActive)

	_, err = f.study.StartSession(ctx, room.ID, userC)
	assert.ErrorIs(t, err, service.ErrNotMember)

	chat := f.createRoom(t, userA, service.CreateRoomInput{Kind: domain.RoomKindChat})
	_, err = f.study.StartSession(ctx, chat.ID, userA)
	assert.ErrorIs(t, err, service.ErrWrongRoomKind)

	_, err = f.study.StartSession(ctx, 999, userA)
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestStopSession_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)

	stopped, err := f.study.StopSession(ctx, room.ID, userB, 10)
	assert.NoError(t, err)
	assert.Nil(t, stopped)

	_, err = f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)
	_, err = f.study.StopSession(ctx, room.ID, userB, 10)
	require.NoError(t, err)
	stopped, err = f.study.StopSession(ctx, room.ID, userB, 20)
	assert.NoError(t, err)
	assert.Nil(t, stopped)
}

func TestFlushSession_IsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)
	_, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)

	s, err := f.study.FlushSession(ctx, room.ID, userB, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), s.Duration)
	s, err = f.study.FlushSession(ctx, room.ID, userB, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(30), s.Duration)

	stopped, err := f.study.StopSession(ctx, room.ID, userB, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(30), stopped.Duration, "a stop never lowers a flushed duration")
}

func TestMemberSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)
	sess, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)

	snaps, err := f.study.MemberSnapshots(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byUser := map[uint]domain.MemberSnapshot{}
	for _, s := range snaps {
		byUser[s.Member.UserID] = s
	}
	assert.Nil(t, byUser[userA].Session)
	require.NotNil(t, byUser[userB].Session)
	assert.Equal(t, sess.ID, byUser[userB].Session.ID)

	empty, err := f.study.MemberSnapshots(ctx, 12345)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStartSession_PublishesChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)
	sub, err := f.feed.Subscribe(ctx, room.ID)
	require.NoError(t, err)
	defer sub.Close()

	sess, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)

	var got []domain.ChangeTable
	for len(got) < 2 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.Table)
			if ev.Table == domain.TableMembers {
				var m domain.Member
				require.NoError(t, ev.DecodeNew(&m))
				require.NotNil(t, m.CurrentSessionID)
				assert.Equal(t, sess.ID, *m.CurrentSessionID)
			}
		case <-time.After(time.Second):
			t.Fatal("expected change events")
		}
	}
	assert.Equal(t, []domain.ChangeTable{domain.TableSessions, domain.TableMembers}, got)
}

func TestReapOrphanSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)
	sess, err := f.study.StartSession(ctx, room.ID, userB)
	require.NoError(t, err)

	// 成员记录被直接删除，会话成为孤儿
	require.NoError(t, f.store.Members().Delete(ctx, room.ID, userB))

	n, err := f.study.ReapOrphanSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	closed, err := f.store.Sessions().FindByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, closed.Open())
}

func TestLeaderboard_SumsClosedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := setupStudyRoom(t, f)
	_, _, err := f.rooms.JoinRoom(ctx, room.ID, userC, "")
	require.NoError(t, err)

	study := func(user uint, seconds int64) {
		_, err := f.study.StartSession(ctx, room.ID, user)
		require.NoError(t, err)
		_, err = f.study.StopSession(ctx, room.ID, user, seconds)
		require.NoError(t, err)
	}
	study(userB, 30)
	study(userB, 45)
	study(userC, 60)
	study(userA, 60)

	// 打开的会话不计入
	_, err = f.study.StartSession(ctx, room.ID, userC)
	require.NoError(t, err)
	_, err = f.study.FlushSession(ctx, room.ID, userC, 500)
	require.NoError(t, err)

	board, err := f.study.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.StudyTotal{
		{UserID: userB, TotalDuration: 75},
		{UserID: userA, TotalDuration: 60},
		{UserID: userC, TotalDuration: 60},
	}, board)

	top, err := f.study.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, userB, top[0].UserID)

	total, err := f.study.UserTotal(ctx, userC)
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
	total, err = f.study.UserTotal(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLeaderboard_StoreOutage(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(10)
	defer f.store.FailNext(0)
	_, err := f.study.Leaderboard(context.Background(), 5)
	assert.ErrorIs(t, err, service.ErrOperationFailed)
}
