package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/domain"
	"studyroomix/internal/presence"
	"studyroomix/internal/service"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService  *service.RoomService
	studyService *service.StudyService
}

func NewRoomHandler(roomService *service.RoomService, studyService *service.StudyService) *RoomHandler {
	if roomService == nil || studyService == nil {
		panic("services cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService, studyService: studyService}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Kind        domain.RoomKind `json:"kind" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	IsPrivate   bool            `json:"is_private"`
	Password    string          `json:"password"`
	VideoURL    string          `json:"video_url"`
}

// CreateRoom 处理创建新房间的请求，创建者自动加入
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), userID, service.CreateRoomInput{
		Kind:        req.Kind,
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		Password:    req.Password,
		VideoURL:    req.VideoURL,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": room.ID}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, room)
}

// ListRooms 列出房间，可按 ?kind= 过滤
func (h *RoomHandler) ListRooms(c *gin.Context) {
	kind := domain.RoomKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "Invalid room kind")
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), kind)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := h.roomService.FindRoomByID(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, room)
}

// JoinRoomRequest 定义加入房间请求的结构体，公开房间不需要密码
type JoinRoomRequest struct {
	Password string `json:"password"`
}

// JoinRoom 处理用户加入房间的请求，重复加入是幂等的
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
			return
		}
	}

	room, member, err := h.roomService.JoinRoom(c.Request.Context(), roomID, userID, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room": room, "member": member})
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if err := h.roomService.LeaveRoom(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteRoom 只有创建者可以删除房间
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID, userID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers 返回房间成员的在线快照，计时中的成员带有估算的已用时长
func (h *RoomHandler) ListMembers(c *gin.Context) {
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
	snapshots, err := h.studyService.MemberSnapshots(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	// HTTP 读取没有本地计数，调用者自己也按远端估算
	agg := presence.NewAggregator(0)
	agg.Reset(snapshots, time.Now())
	members := agg.View()
	for i := range members {
		members[i].Local = members[i].UserID == userID
	}
	SuccessResponse(c, http.StatusOK, gin.H{"members": members})
}
