package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 本地计时的节拍
	tickPeriod = time.Second

	// Maximum message size allowed from peer. 一条聊天消息最多 500 个字符。
	maxMessageSize = 4096

	// 断开连接时结束会话的超时
	closeTimeout = 10 * time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Hub 维护按房间组织的客户端集合。房间的第一个客户端到来时订阅该房间的变更频道，
// 最后一个离开时取消订阅；收到的每条变更交给房间内每个客户端的协调器。
type Hub struct {
	messageChan chan HubMessage

	// map[roomID]map[*Client]bool
	rooms   map[uint]map[*Client]bool
	roomsMu sync.RWMutex

	// 只在 Run 的 goroutine 中访问
	subs map[uint]repository.Subscription

	feed   repository.ChangeFeed
	policy retry.Policy
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(feed repository.ChangeFeed, policy retry.Policy) *Hub {
	if feed == nil {
		panic("ChangeFeed cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[uint]map[*Client]bool),
		subs:        make(map[uint]repository.Subscription),
		feed:        feed,
		policy:      policy,
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。ctx 结束时退出并取消所有订阅。
func (h *Hub) Run(ctx context.Context) {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	defer func() {
		for roomID, sub := range h.subs {
			_ = sub.Close()
			delete(h.subs, roomID)
		}
		log.Info("Hub is shutting down...")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(ctx, msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// registerClient 处理客户端注册逻辑
func (h *Hub) registerClient(ctx context.Context, client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": client.UserID(),
		"action":  "registerClient",
	})

	if _, ok := h.subs[roomID]; !ok {
		var sub repository.Subscription
		err := retry.Do(ctx, h.policy, func(ctx context.Context) error {
			var err error
			sub, err = h.feed.Subscribe(ctx, roomID)
			return err
		})
		if err != nil {
			logCtx.WithError(err).Error("Failed to subscribe to room changes")
			client.sendEnvelope(Envelope{Type: EvtError, Error: "live updates unavailable"})
		} else {
			h.subs[roomID] = sub
			go h.dispatch(roomID, sub)
			logCtx.Info("Subscribed to room change feed")
		}
	}

	h.roomsMu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
		logCtx.Info("Client list created for new room")
	}
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	client.pushView()
	// Join 的快照早于订阅和注册，注册后重读一次
	go client.resync(ctx)
}

// unregisterClient 处理客户端注销逻辑，并在后台以本地计数结束客户端打开的会话。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": client.UserID(),
		"action":  "unregisterClient",
	})

	h.roomsMu.Lock()
	roomClients, roomExists := h.rooms[roomID]
	_, clientExists := roomClients[client]
	if clientExists {
		delete(roomClients, client)
		client.closeSend()
	}
	empty := roomExists && len(roomClients) == 0
	if empty {
		delete(h.rooms, roomID)
	}
	h.roomsMu.Unlock()

	if !clientExists {
		logCtx.Warn("Client not found in room during unregister")
		return
	}
	if empty {
		if sub, ok := h.subs[roomID]; ok {
			_ = sub.Close()
			delete(h.subs, roomID)
		}
		logCtx.Info("Room empty, unsubscribed from change feed")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := client.coord.Close(ctx); err != nil {
			logCtx.WithError(err).Error("Failed to close coordinator")
		}
	}()
	logCtx.Info("Client unregistered from Hub")
}

// dispatch 把房间的变更逐条交给房间内的每个客户端，直到订阅结束。
func (h *Hub) dispatch(roomID uint, sub repository.Subscription) {
	for ev := range sub.Events() {
		h.roomsMu.RLock()
		clients := make([]*Client, 0, len(h.rooms[roomID]))
		for client := range h.rooms[roomID] {
			clients = append(clients, client)
		}
		h.roomsMu.RUnlock()

		for _, client := range clients {
			client.deliver(ev)
		}
	}
	logrus.WithField("room_id", roomID).Debug("Room dispatch loop exited")
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列已满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ClientCount 返回房间当前的客户端数量
func (h *Hub) ClientCount(roomID uint) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// GetActiveRoomIDs 返回当前有客户端连接的房间
func (h *Hub) GetActiveRoomIDs() []uint {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	ids := make([]uint, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll 关闭所有连接并同步结束每个客户端打开的会话，用于优雅退出。
func (h *Hub) CloseAll(ctx context.Context) {
	h.roomsMu.RLock()
	clients := make([]*Client, 0)
	for _, roomClients := range h.rooms {
		for client := range roomClients {
			clients = append(clients, client)
		}
	}
	h.roomsMu.RUnlock()

	for _, client := range clients {
		client.CloseConn()
		if err := client.coord.Close(ctx); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": client.RoomID(), "user_id": client.UserID()}).
				WithError(err).Error("Failed to close coordinator on shutdown")
		}
	}
	logrus.WithField("clients", len(clients)).Info("Hub closed all clients")
}
