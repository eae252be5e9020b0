package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/assistant"
	"studyroomix/internal/service"
)

type AssistantHandler struct {
	assistantService *service.AssistantService
}

func NewAssistantHandler(assistantService *service.AssistantService) *AssistantHandler {
	if assistantService == nil {
		panic("AssistantService cannot be nil for AssistantHandler")
	}
	return &AssistantHandler{assistantService: assistantService}
}

type ChatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Stream bool   `json:"stream"`
}

// Chat 向 AI 助教提问。stream 为 true 时以 SSE 推送片段：
// "message" 事件携带文本，"error" 表示异常结束，"done" 表示回答完成。
func (h *AssistantHandler) Chat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: prompt is required")
		return
	}

	reply, err := h.assistantService.Ask(c.Request.Context(), userID, req.Prompt, req.Stream)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	switch reply.Kind {
	case assistant.KindComplete:
		SuccessResponse(c, http.StatusOK, gin.H{"answer": reply.Text})
	case assistant.KindStream:
		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case f, ok := <-reply.Fragments:
				if !ok {
					c.SSEvent("done", "")
					return false
				}
				if f.Err != nil {
					logrus.WithField("user_id", userID).WithError(f.Err).Warn("Assistant stream ended with error")
					c.SSEvent("error", "answer interrupted")
					return false
				}
				c.SSEvent("message", f.Text)
				return true
			}
		})
	}
}

// History 返回用户最近的对话，?limit= 默认 50
func (h *AssistantHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	turns, err := h.assistantService.History(c.Request.Context(), userID, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"history": turns})
}
