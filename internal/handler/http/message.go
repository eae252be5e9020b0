package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroomix/internal/service"
)

type MessageHandler struct {
	roomService    *service.RoomService
	messageService *service.MessageService
}

func NewMessageHandler(roomService *service.RoomService, messageService *service.MessageService) *MessageHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for MessageHandler")
	}
	if messageService == nil {
		panic("MessageService cannot be nil for MessageHandler")
	}
	return &MessageHandler{roomService: roomService, messageService: messageService}
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ListMessages 按时间升序返回消息，?limit= 只取最近的若干条
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	if _, err := h.roomService.AuthorizeRead(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	msgs, err := h.messageService.ListMessages(c.Request.Context(), roomID, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: content is required")
		return
	}
	msg, err := h.messageService.SendMessage(c.Request.Context(), roomID, userID, req.Content)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, msg)
}
