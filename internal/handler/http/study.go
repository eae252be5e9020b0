package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroomix/internal/service"
)

type StudyHandler struct {
	studyService *service.StudyService
}

func NewStudyHandler(studyService *service.StudyService) *StudyHandler {
	if studyService == nil {
		panic("StudyService cannot be nil for StudyHandler")
	}
	return &StudyHandler{studyService: studyService}
}

// Leaderboard 返回累计自习时长排行，?limit= 默认 10，最多 100
func (h *StudyHandler) Leaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	totals, err := h.studyService.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"leaderboard": totals})
}

// MyTotal 返回当前用户的累计时长
func (h *StudyHandler) MyTotal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	total, err := h.studyService.UserTotal(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"user_id": userID, "total_duration": total})
}
