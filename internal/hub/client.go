package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/coordinator"
	"studyroomix/internal/domain"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端，独占一个房间协调器。
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	coord *coordinator.Coordinator
	send  chan []byte

	sendMu     sync.Mutex
	sendClosed bool

	// 同一时间最多一个后台持久化
	flushing atomic.Bool
}

// NewClient 创建一个新的 Client 实例。coord 必须已经加入房间。
func NewClient(hub *Hub, conn *websocket.Conn, coord *coordinator.Coordinator) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		coord: coord,
		send:  make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) RoomID() uint { return c.coord.RoomID() }
func (c *Client) UserID() uint { return c.coord.UserID() }
func (c *Client) CloseConn()   { _ = c.conn.Close() }

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"user_id": c.UserID(), "room_id": c.RoomID()})
}

// trySend 非阻塞地把消息放入发送队列，队列已满或已关闭时丢弃。
func (c *Client) trySend(message []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- message:
	default:
		c.logCtx().Warn("Client send channel full, message dropped")
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) sendEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to marshal outgoing message")
		return
	}
	c.trySend(data)
}

func (c *Client) pushView() {
	c.sendEnvelope(Envelope{Type: EvtView, Data: c.coord.View()})
}

// resync 在注册完成后重新读取房间状态并推送视图，补上注册前错过的变更。
func (c *Client) resync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if _, err := c.coord.Resync(ctx); err != nil {
		if !errors.Is(err, coordinator.ErrClosed) {
			c.logCtx().WithError(err).Warn("Failed to resync room state after register")
		}
		return
	}
	c.pushView()
}

// flushAsync 在后台持久化会话时长，存储变慢时不阻塞写循环。上一次还没完成时跳过本次。
func (c *Client) flushAsync(duration int64) {
	if !c.flushing.CompareAndSwap(false, true) {
		c.logCtx().WithField("duration", duration).Debug("Previous flush still running, skipped")
		return
	}
	go func() {
		defer c.flushing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = c.coord.Flush(ctx, duration)
	}()
}

// deliver 把一条远端变更交给协调器，并推送受影响的部分。
func (c *Client) deliver(ev domain.ChangeEvent) {
	up, err := c.coord.OnRemoteChange(ev)
	if err != nil {
		c.logCtx().WithError(err).Warn("Failed to apply remote change")
		return
	}
	switch {
	case up.RoomClosed:
		c.sendEnvelope(Envelope{Type: EvtRoomClosed})
		c.closeSend()
	case up.Message != nil:
		c.sendEnvelope(Envelope{Type: EvtMessage, Data: up.Message})
	case up.Playback != nil:
		c.sendEnvelope(Envelope{Type: EvtPlayback, Data: up.Playback})
	case up.Presence:
		c.pushView()
	}
}

// handleCommand 执行一条客户端命令，并把结果回给发送者。
func (c *Client) handleCommand(ctx context.Context, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.sendEnvelope(Envelope{Type: EvtError, Error: "malformed command"})
		return
	}
	logCtx := c.logCtx().WithField("command", cmd.Type)

	var data interface{}
	var err error
	switch cmd.Type {
	case CmdStartSession:
		data, err = c.coord.StartLocalSession(ctx)
	case CmdStopSession:
		data, err = c.coord.StopLocalSession(ctx)
	case CmdSetPlayback:
		var update domain.PlaybackUpdate
		if err = json.Unmarshal(cmd.Payload, &update); err == nil {
			data, err = c.coord.SetPlaybackState(ctx, update)
		} else {
			err = fmt.Errorf("malformed payload: %w", err)
		}
	case CmdSendMessage:
		var payload SendMessagePayload
		if err = json.Unmarshal(cmd.Payload, &payload); err == nil {
			data, err = c.coord.SendMessage(ctx, payload.Content)
		} else {
			err = fmt.Errorf("malformed payload: %w", err)
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if err != nil {
		logCtx.WithError(err).Debug("Command failed")
		c.sendEnvelope(Envelope{Type: EvtError, RequestID: cmd.ID, Error: err.Error()})
		return
	}
	c.sendEnvelope(Envelope{Type: EvtAck, RequestID: cmd.ID, Data: data})
	if cmd.Type == CmdStartSession || cmd.Type == CmdStopSession {
		c.pushView()
	}
}

// ReadPump 读取客户端命令并按到达顺序执行。退出时请求 Hub 注销此客户端。
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.messageChan <- HubMessage{Type: "unregister", Client: c}:
		case <-time.After(1 * time.Second):
			c.logCtx().Warn("Timeout sending unregister message to Hub channel")
		}
		c.CloseConn()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.handleCommand(context.Background(), message)
	}
}

// WritePump 把发送队列写到连接上，定期发送 Ping，并每秒推进一次本地计时。
func (c *Client) WritePump() {
	pingTicker := time.NewTicker(pingPeriod)
	tick := time.NewTicker(tickPeriod)
	defer func() {
		pingTicker.Stop()
		tick.Stop()
		c.CloseConn()
		c.logCtx().Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-tick.C:
			if duration, due := c.coord.Advance(); due {
				c.flushAsync(duration)
			}
			c.pushView()

		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}
