// Package presence 合并房间成员的计时状态：本地用户以本地计数为准，远端成员按会话开始时间估算。
package presence

import (
	"math"
	"sort"
	"time"

	"studyroomix/internal/domain"
)

// Status 是成员在房间中的状态
type Status string

const (
	StatusTiming  Status = "timing"
	StatusWaiting Status = "waiting"
)

// Entry 是合并视图中的一行
type Entry struct {
	UserID    uint      `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
	Status    Status    `json:"status"`
	Elapsed   int64     `json:"elapsed"` // seconds
	SessionID string    `json:"session_id,omitempty"`
	Local     bool      `json:"local"`
}

// Aggregator 不是并发安全的，调用方负责串行访问。
type Aggregator struct {
	localUserID uint
	entries     map[uint]*Entry
	// ended 记录已经结束的会话，迟到的打开事件不会让成员重新计时
	ended map[string]struct{}

	localSessionID string
	localTicks     int64
}

func NewAggregator(localUserID uint) *Aggregator {
	return &Aggregator{
		localUserID: localUserID,
		entries:     make(map[uint]*Entry),
		ended:       make(map[string]struct{}),
	}
}

// estimate 返回 floor(now - start) 秒，不小于 0
func estimate(start, now time.Time) int64 {
	d := now.Sub(start).Seconds()
	if d <= 0 {
		return 0
	}
	return int64(math.Floor(d))
}

// Reset 用一份新的成员快照替换全部远端状态。
func (a *Aggregator) Reset(snapshots []domain.MemberSnapshot, now time.Time) {
	a.entries = make(map[uint]*Entry, len(snapshots))
	for _, snap := range snapshots {
		e := &Entry{UserID: snap.Member.UserID, JoinedAt: snap.Member.JoinedAt, Status: StatusWaiting}
		if snap.Session.Open() {
			if _, done := a.ended[snap.Session.ID]; !done {
				e.Status = StatusTiming
				e.SessionID = snap.Session.ID
				e.Elapsed = estimate(snap.Session.CreatedAt, now)
			}
		}
		a.entries[e.UserID] = e
	}
}

// UpsertMember 应用一条成员插入或更新。
func (a *Aggregator) UpsertMember(m domain.Member) {
	e, ok := a.entries[m.UserID]
	if !ok {
		e = &Entry{UserID: m.UserID, JoinedAt: m.JoinedAt, Status: StatusWaiting}
		a.entries[m.UserID] = e
	} else if !m.JoinedAt.IsZero() {
		e.JoinedAt = m.JoinedAt
	}
	if m.UserID == a.localUserID {
		return
	}

	switch {
	case !m.Active():
		e.Status, e.Elapsed, e.SessionID = StatusWaiting, 0, ""
	case *m.CurrentSessionID == e.SessionID:
	default:
		if _, done := a.ended[*m.CurrentSessionID]; done {
			e.Status, e.Elapsed, e.SessionID = StatusWaiting, 0, ""
			return
		}
		// 会话事件可能还没到，先从 0 开始计时
		e.Status, e.Elapsed, e.SessionID = StatusTiming, 0, *m.CurrentSessionID
	}
}

// RemoveMember 删除成员
func (a *Aggregator) RemoveMember(userID uint) {
	delete(a.entries, userID)
}

// ApplySession 用一条远端会话记录刷新估算。本地用户的会话由 SetLocal 驱动。
func (a *Aggregator) ApplySession(s domain.Session, now time.Time) {
	if s.UserID == a.localUserID {
		return
	}
	if !s.Open() {
		a.ended[s.ID] = struct{}{}
		if e, ok := a.entries[s.UserID]; ok && e.SessionID == s.ID {
			e.Status, e.Elapsed, e.SessionID = StatusWaiting, 0, ""
		}
		return
	}
	if _, done := a.ended[s.ID]; done {
		return
	}
	e, ok := a.entries[s.UserID]
	if !ok {
		e = &Entry{UserID: s.UserID, JoinedAt: s.CreatedAt}
		a.entries[s.UserID] = e
	}
	e.Status = StatusTiming
	e.SessionID = s.ID
	e.Elapsed = estimate(s.CreatedAt, now)
}

// SetLocal 设置本地用户的会话与计数；sessionID 为空表示未计时。
func (a *Aggregator) SetLocal(sessionID string, ticks int64) {
	a.localSessionID = sessionID
	a.localTicks = ticks
}

// Tick 让所有计时中的远端成员前进一秒
func (a *Aggregator) Tick() {
	for _, e := range a.entries {
		if e.UserID != a.localUserID && e.Status == StatusTiming {
			e.Elapsed++
		}
	}
}

// View 返回按加入时间、用户 ID 排序的合并视图。
func (a *Aggregator) View() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		entry := *e
		if entry.UserID == a.localUserID {
			entry.Local = true
			entry.Status, entry.Elapsed, entry.SessionID = StatusWaiting, 0, ""
			if a.localSessionID != "" {
				entry.Status, entry.Elapsed, entry.SessionID = StatusTiming, a.localTicks, a.localSessionID
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
