package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyroomix/internal/domain"
	"studyroomix/internal/service"
)

type PlaybackHandler struct {
	roomService     *service.RoomService
	playbackService *service.PlaybackService
}

func NewPlaybackHandler(roomService *service.RoomService, playbackService *service.PlaybackService) *PlaybackHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for PlaybackHandler")
	}
	if playbackService == nil {
		panic("PlaybackService cannot be nil for PlaybackHandler")
	}
	return &PlaybackHandler{roomService: roomService, playbackService: playbackService}
}

// GetPlayback 私有房间只对成员可见
func (h *PlaybackHandler) GetPlayback(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if _, err := h.roomService.AuthorizeRead(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	state, err := h.playbackService.GetPlaybackState(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, state)
}

// SetPlayback 覆盖播放状态，只有房间创建者可以调用
func (h *PlaybackHandler) SetPlayback(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req domain.PlaybackUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}
	state, err := h.playbackService.SetPlaybackState(c.Request.Context(), roomID, userID, req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, state)
}
