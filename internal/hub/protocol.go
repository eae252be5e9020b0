package hub

import (
	"encoding/json"
)

// 客户端发来的命令类型
const (
	CmdStartSession = "start_session"
	CmdStopSession  = "stop_session"
	CmdSetPlayback  = "set_playback"
	CmdSendMessage  = "send_message"
)

// 推送给客户端的消息类型
const (
	EvtView       = "view"
	EvtPlayback   = "playback"
	EvtMessage    = "message"
	EvtRoomClosed = "room_closed"
	EvtAck        = "ack"
	EvtError      = "error"
)

// Command 是客户端通过 WebSocket 发送的一条命令。
// set_playback 的 Payload 是 domain.PlaybackUpdate，send_message 的是 SendMessagePayload。
type Command struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
}

// Envelope 是服务端推送的消息
type Envelope struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}
