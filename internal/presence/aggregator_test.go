package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestView_EmptyRoom(t *testing.T) {
	a := NewAggregator(1)
	a.Reset(nil, t0)
	assert.Empty(t, a.View())
}

func TestReset_EstimatesRemoteElapsed(t *testing.T) {
	a := NewAggregator(1)
	a.Reset([]domain.MemberSnapshot{
		{Member: domain.Member{RoomID: 7, UserID: 1, JoinedAt: t0}},
		{
			Member:  domain.Member{RoomID: 7, UserID: 2, JoinedAt: t0.Add(time.Second), CurrentSessionID: strPtr("s2")},
			Session: &domain.Session{ID: "s2", UserID: 2, RoomID: 7, CreatedAt: t0.Add(-1500 * time.Millisecond)},
		},
		{Member: domain.Member{RoomID: 7, UserID: 3, JoinedAt: t0.Add(time.Second)}},
	}, t0.Add(40*time.Second))

	view := a.View()
	require.Len(t, view, 3)
	assert.Equal(t, uint(1), view[0].UserID)
	assert.True(t, view[0].Local)
	assert.Equal(t, StatusWaiting, view[0].Status)

	assert.Equal(t, uint(2), view[1].UserID)
	assert.Equal(t, StatusTiming, view[1].Status)
	assert.Equal(t, int64(41), view[1].Elapsed, "floor(41.5s)")

	assert.Equal(t, uint(3), view[2].UserID)
	assert.Equal(t, StatusWaiting, view[2].Status)
	assert.Zero(t, view[2].Elapsed)
}

func TestTick_AdvancesRemoteAndSnapshotResets(t *testing.T) {
	a := NewAggregator(1)
	sess := domain.Session{ID: "s2", UserID: 2, RoomID: 7, CreatedAt: t0}
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2, JoinedAt: t0})
	a.ApplySession(sess, t0.Add(10*time.Second))
	for i := 0; i < 5; i++ {
		a.Tick()
	}
	assert.Equal(t, int64(15), a.View()[0].Elapsed)

	// 较新的快照覆盖本地递增的估算
	a.ApplySession(sess, t0.Add(12*time.Second))
	assert.Equal(t, int64(12), a.View()[0].Elapsed)
}

func TestApplySession_EndedSessionIsSticky(t *testing.T) {
	a := NewAggregator(1)
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2, JoinedAt: t0})
	open := domain.Session{ID: "s2", UserID: 2, RoomID: 7, CreatedAt: t0}
	ended := open
	endedAt := t0.Add(time.Minute)
	ended.EndedAt = &endedAt

	a.ApplySession(ended, t0.Add(time.Minute))
	a.ApplySession(open, t0.Add(time.Minute))
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2, CurrentSessionID: strPtr("s2")})

	e := a.View()[0]
	assert.Equal(t, StatusWaiting, e.Status)
	assert.Zero(t, e.Elapsed)
	assert.Equal(t, t0, e.JoinedAt, "a member update without join time keeps the known one")
}

func TestUpsertMember_SessionBeforeMemberUpdate(t *testing.T) {
	a := NewAggregator(1)
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2, JoinedAt: t0})
	a.ApplySession(domain.Session{ID: "s2", UserID: 2, RoomID: 7, CreatedAt: t0}, t0.Add(3*time.Second))
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2, CurrentSessionID: strPtr("s2")})
	assert.Equal(t, int64(3), a.View()[0].Elapsed)

	a.UpsertMember(domain.Member{RoomID: 7, UserID: 2})
	assert.Equal(t, StatusWaiting, a.View()[0].Status)

	a.RemoveMember(2)
	assert.Empty(t, a.View())
}

func TestLocalEntryUsesLocalTicks(t *testing.T) {
	a := NewAggregator(1)
	a.UpsertMember(domain.Member{RoomID: 7, UserID: 1, JoinedAt: t0})
	// 远端事件不会改变本地用户的状态
	a.ApplySession(domain.Session{ID: "s1", UserID: 1, RoomID: 7, CreatedAt: t0.Add(-time.Hour)}, t0)
	a.SetLocal("s1", 7)
	a.Tick()

	e := a.View()[0]
	assert.True(t, e.Local)
	assert.Equal(t, StatusTiming, e.Status)
	assert.Equal(t, int64(7), e.Elapsed)

	a.SetLocal("", 0)
	assert.Equal(t, StatusWaiting, a.View()[0].Status)
}
