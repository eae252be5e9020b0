package websocket

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/coordinator"
	httpHandler "studyroomix/internal/handler/http"
	"studyroomix/internal/hub"
	"studyroomix/internal/middleware"
)

// WebSocketHandler 负责加入房间、升级连接并把客户端注册到 Hub
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	services coordinator.Services
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空或 "*" 时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, services coordinator.Services, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h, services: services}
}

// HandleConnection 处理 /ws/rooms/:roomId?password= 请求。
// 加入失败时以普通 HTTP 错误返回，此时连接尚未升级。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID64, err := strconv.ParseUint(c.Param("roomId"), 10, 32)
	if err != nil || roomID64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID format"})
		return
	}
	roomID := uint(roomID64)
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	coord := coordinator.New(roomID, userID, h.services)
	if _, err := coord.Join(c.Request.Context(), c.Query("password")); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Join failed")
		httpHandler.HandleServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写出了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, coord)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		_ = coord.Close(context.Background())
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}
