// Package coordinator 为一个客户端维护房间的本地视图：本地计时会话、播放状态和成员在线情况，
// 并把远端变更合并进来。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/presence"
	"studyroomix/internal/service"
)

// DefaultFlushEvery 是打开的会话每隔多少个 tick 持久化一次时长
const DefaultFlushEvery = 30

var (
	ErrNotJoined = errors.New("coordinator: room not joined")
	ErrClosed    = errors.New("coordinator: closed")
)

// RoomAPI 是协调器用到的房间操作
type RoomAPI interface {
	JoinRoom(ctx context.Context, roomID, userID uint, password string) (*domain.Room, *domain.Member, error)
}

type StudyAPI interface {
	StartSession(ctx context.Context, roomID, userID uint) (*domain.Session, error)
	StopSession(ctx context.Context, roomID, userID uint, duration int64) (*domain.Session, error)
	FlushSession(ctx context.Context, roomID, userID uint, duration int64) (*domain.Session, error)
	MemberSnapshots(ctx context.Context, roomID uint) ([]domain.MemberSnapshot, error)
}

type PlaybackAPI interface {
	SetPlaybackState(ctx context.Context, roomID, userID uint, update domain.PlaybackUpdate) (domain.PlaybackState, error)
	GetPlaybackState(ctx context.Context, roomID uint) (domain.PlaybackState, error)
}

type MessageAPI interface {
	SendMessage(ctx context.Context, roomID, userID uint, content string) (*domain.Message, error)
}

// Services 汇集写入边界上的服务
type Services struct {
	Rooms    RoomAPI
	Study    StudyAPI
	Playback PlaybackAPI
	Messages MessageAPI
}

// Update 描述一次远端变更对本地视图的影响
type Update struct {
	Presence   bool
	Playback   *domain.PlaybackState
	Message    *domain.Message
	RoomClosed bool
}

// Changed reports whether the view needs to be pushed again.
func (u Update) Changed() bool {
	return u.Presence || u.Playback != nil || u.Message != nil || u.RoomClosed
}

// LocalSession 是本地用户正在进行的会话
type LocalSession struct {
	domain.Session
	Elapsed int64 `json:"elapsed"`
}

// View 是推送给客户端的合并视图
type View struct {
	Room         *domain.Room          `json:"room"`
	Members      []presence.Entry      `json:"members"`
	Playback     *domain.PlaybackState `json:"playback,omitempty"`
	LocalSession *LocalSession         `json:"local_session,omitempty"`
	Closed       bool                  `json:"closed"`
}

type Option func(*Coordinator)

// WithFlushEvery 设置周期持久化的间隔，n <= 0 关闭周期持久化。
func WithFlushEvery(n int64) Option {
	return func(c *Coordinator) { c.flushEvery = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator 由单个客户端连接独占；所有方法并发安全，I/O 不在锁内进行。
type Coordinator struct {
	svc        Services
	roomID     uint
	userID     uint
	flushEvery int64
	now        func() time.Time

	mu          sync.Mutex
	room        *domain.Room
	joined      bool
	closed      bool
	session     *domain.Session
	ticks       int64
	playback    domain.PlaybackState
	hasPlayback bool
	presence    *presence.Aggregator
	// remoteSeq 在每条成员或会话变更后递增，Resync 用它判断快照是否已过期
	remoteSeq uint64
}

func New(roomID, userID uint, svc Services, opts ...Option) *Coordinator {
	if svc.Rooms == nil || svc.Study == nil || svc.Playback == nil || svc.Messages == nil {
		panic("services cannot be nil for Coordinator")
	}
	c := &Coordinator{
		svc:        svc,
		roomID:     roomID,
		userID:     userID,
		flushEvery: DefaultFlushEvery,
		now:        time.Now,
		presence:   presence.NewAggregator(userID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) RoomID() uint { return c.roomID }
func (c *Coordinator) UserID() uint { return c.userID }

func (c *Coordinator) logCtx(op string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"room_id": c.roomID, "user_id": c.userID, "operation": op})
}

// Join 加入房间并加载成员快照；观影房间还会加载播放状态。
// 如果成员已经引用一个打开的会话（例如另一个连接开启的），本地会以已持久化的时长接管它。
func (c *Coordinator) Join(ctx context.Context, credential string) (View, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return View{}, ErrClosed
	}

	room, _, err := c.svc.Rooms.JoinRoom(ctx, c.roomID, c.userID, credential)
	if err != nil {
		return View{}, err
	}
	snapshots, err := c.svc.Study.MemberSnapshots(ctx, c.roomID)
	if err != nil {
		return View{}, err
	}
	var pb domain.PlaybackState
	if room.Kind == domain.RoomKindWatch {
		if pb, err = c.svc.Playback.GetPlaybackState(ctx, c.roomID); err != nil {
			return View{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
	c.joined = true
	c.presence.Reset(snapshots, c.now())
	c.session, c.ticks = nil, 0
	for _, snap := range snapshots {
		if snap.Member.UserID == c.userID && snap.Session.Open() {
			sess := *snap.Session
			c.session, c.ticks = &sess, sess.Duration
		}
	}
	c.syncLocal()
	if room.Kind == domain.RoomKindWatch {
		c.applyPlayback(pb)
	}
	c.logCtx("Join").WithField("members", len(snapshots)).Info("Coordinator joined room")
	return c.viewLocked(), nil
}

func (c *Coordinator) ready() error {
	if c.closed {
		return ErrClosed
	}
	if !c.joined {
		return ErrNotJoined
	}
	return nil
}

func (c *Coordinator) syncLocal() {
	if c.session == nil {
		c.presence.SetLocal("", 0)
		return
	}
	c.presence.SetLocal(c.session.ID, c.ticks)
}

// StartLocalSession 开始本地计时。失败时本地状态不变。
func (c *Coordinator) StartLocalSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.room.Kind != domain.RoomKindStudy {
		c.mu.Unlock()
		return nil, service.ErrWrongRoomKind
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil, service.ErrAlreadyActive
	}
	c.mu.Unlock()

	sess, err := c.svc.Study.StartSession(ctx, c.roomID, c.userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session, c.ticks = sess, 0
	c.syncLocal()
	return sess, nil
}

// StopLocalSession 以本地 tick 数作为时长结束会话；没有打开的会话时为空操作。
func (c *Coordinator) StopLocalSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.session == nil {
		c.mu.Unlock()
		return nil, nil
	}
	sessionID, ticks := c.session.ID, c.ticks
	c.mu.Unlock()

	stopped, err := c.svc.Study.StopSession(ctx, c.roomID, c.userID, ticks)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.ID == sessionID {
		c.session, c.ticks = nil, 0
		c.syncLocal()
	}
	return stopped, nil
}

// SetPlaybackState 只允许房间创建者调用；写入由服务再次校验。
func (c *Coordinator) SetPlaybackState(ctx context.Context, update domain.PlaybackUpdate) (domain.PlaybackState, error) {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return domain.PlaybackState{}, err
	}
	room := c.room
	c.mu.Unlock()
	if room.Kind != domain.RoomKindWatch {
		return domain.PlaybackState{}, service.ErrWrongRoomKind
	}
	if !room.IsAuthority(c.userID) {
		return domain.PlaybackState{}, service.ErrNotAuthorized
	}

	state, err := c.svc.Playback.SetPlaybackState(ctx, c.roomID, c.userID, update)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyPlayback(state)
	return c.playback, nil
}

// SendMessage 在房间中发送消息
func (c *Coordinator) SendMessage(ctx context.Context, content string) (*domain.Message, error) {
	c.mu.Lock()
	err := c.ready()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.svc.Messages.SendMessage(ctx, c.roomID, c.userID, content)
}

// applyPlayback 应用不早于当前状态的播放记录，返回是否被应用。时间戳相同的记录会被重复应用。
func (c *Coordinator) applyPlayback(state domain.PlaybackState) bool {
	if c.hasPlayback && c.playback.NewerThan(state) {
		return false
	}
	c.playback, c.hasPlayback = state, true
	return true
}

// OnRemoteChange 把一条远端变更合并进本地视图。
func (c *Coordinator) OnRemoteChange(ev domain.ChangeEvent) (Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.RoomID != c.roomID || c.closed || !c.joined {
		return Update{}, nil
	}

	switch ev.Table {
	case domain.TableRooms:
		if ev.Op != domain.OpDelete {
			return Update{}, nil
		}
		c.closed = true
		c.session, c.ticks = nil, 0
		c.syncLocal()
		c.logCtx("OnRemoteChange").Info("Room deleted, coordinator closed")
		return Update{RoomClosed: true}, nil

	case domain.TableMembers:
		c.remoteSeq++
		var m domain.Member
		if ev.Op == domain.OpDelete {
			if err := ev.DecodeOld(&m); err != nil {
				return Update{}, fmt.Errorf("decode member: %w", err)
			}
			c.presence.RemoveMember(m.UserID)
			return Update{Presence: true}, nil
		}
		if err := ev.DecodeNew(&m); err != nil {
			return Update{}, fmt.Errorf("decode member: %w", err)
		}
		c.presence.UpsertMember(m)
		return Update{Presence: true}, nil

	case domain.TableSessions:
		c.remoteSeq++
		var s domain.Session
		if err := ev.DecodeNew(&s); err != nil {
			return Update{}, fmt.Errorf("decode session: %w", err)
		}
		if s.UserID == c.userID {
			// 本地会话只因自己的结束记录而结束
			if !s.Open() && c.session != nil && c.session.ID == s.ID {
				c.session, c.ticks = nil, 0
				c.syncLocal()
				return Update{Presence: true}, nil
			}
			return Update{}, nil
		}
		c.presence.ApplySession(s, c.now())
		return Update{Presence: true}, nil

	case domain.TablePlayback:
		var state domain.PlaybackState
		if err := ev.DecodeNew(&state); err != nil {
			return Update{}, fmt.Errorf("decode playback: %w", err)
		}
		if !c.applyPlayback(state) {
			c.logCtx("OnRemoteChange").Debug("Discarded stale playback state")
			return Update{}, nil
		}
		pb := c.playback
		return Update{Playback: &pb}, nil

	case domain.TableMessages:
		if ev.Op != domain.OpInsert {
			return Update{}, nil
		}
		var msg domain.Message
		if err := ev.DecodeNew(&msg); err != nil {
			return Update{}, fmt.Errorf("decode message: %w", err)
		}
		return Update{Message: &msg}, nil
	}
	return Update{}, nil
}

// Advance 推进一秒：本地会话计数加一，远端估算加一。
// 到了持久化间隔时返回 due=true 和应写入的时长，由调用方决定在哪个 goroutine 调用 Flush。
func (c *Coordinator) Advance() (duration int64, due bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready() != nil {
		return 0, false
	}
	if c.session != nil {
		c.ticks++
		duration = c.ticks
		due = c.flushEvery > 0 && duration%c.flushEvery == 0
	}
	c.syncLocal()
	c.presence.Tick()
	return duration, due
}

// Flush 把打开会话的时长写入存储，存储端保证时长只增不减。
func (c *Coordinator) Flush(ctx context.Context, duration int64) error {
	if _, err := c.svc.Study.FlushSession(ctx, c.roomID, c.userID, duration); err != nil {
		c.logCtx("Flush").WithError(err).Warn("Failed to flush session duration")
		return err
	}
	return nil
}

// Tick 是 Advance 加上同步的 Flush
func (c *Coordinator) Tick(ctx context.Context) {
	if duration, due := c.Advance(); due {
		_ = c.Flush(ctx, duration)
	}
}

// Resync 重新读取成员快照和播放状态，补上 Join 之后、开始接收变更之前错过的记录。
// 播放状态同样经过时间戳检查；读取期间收到成员或会话变更时重读一次快照。
func (c *Coordinator) Resync(ctx context.Context) (View, error) {
	const maxAttempts = 3
	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		if err := c.ready(); err != nil {
			c.mu.Unlock()
			return View{}, err
		}
		kind, seq := c.room.Kind, c.remoteSeq
		c.mu.Unlock()

		snapshots, err := c.svc.Study.MemberSnapshots(ctx, c.roomID)
		if err != nil {
			return View{}, err
		}
		var pb domain.PlaybackState
		if kind == domain.RoomKindWatch {
			if pb, err = c.svc.Playback.GetPlaybackState(ctx, c.roomID); err != nil {
				return View{}, err
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return View{}, ErrClosed
		}
		if c.remoteSeq != seq && attempt < maxAttempts {
			c.mu.Unlock()
			continue
		}
		c.presence.Reset(snapshots, c.now())
		c.syncLocal()
		if kind == domain.RoomKindWatch {
			c.applyPlayback(pb)
		}
		v := c.viewLocked()
		c.mu.Unlock()
		return v, nil
	}
}

// Elapsed 返回本地会话的 tick 数
func (c *Coordinator) Elapsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// View 返回当前合并视图
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) viewLocked() View {
	v := View{Room: c.room, Members: c.presence.View(), Closed: c.closed}
	if c.hasPlayback {
		pb := c.playback
		v.Playback = &pb
	}
	if c.session != nil {
		v.LocalSession = &LocalSession{Session: *c.session, Elapsed: c.ticks}
	}
	return v
}

// Close 结束协调器并同步地以本地 tick 数结束打开的会话。重复调用是安全的。
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess, ticks := c.session, c.ticks
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if _, err := c.svc.Study.StopSession(ctx, c.roomID, c.userID, ticks); err != nil {
		c.logCtx("Close").WithError(err).Error("Failed to stop session on close")
		return err
	}
	c.mu.Lock()
	c.session, c.ticks = nil, 0
	c.syncLocal()
	c.mu.Unlock()
	return nil
}
