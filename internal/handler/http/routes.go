package http

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册 REST 路由。api 组应该已经挂上认证中间件。
func RegisterRoutes(api *gin.RouterGroup, rooms *RoomHandler, messages *MessageHandler, playback *PlaybackHandler, study *StudyHandler, assistant *AssistantHandler) {
	roomRoutes := api.Group("/rooms")
	{
		roomRoutes.POST("", rooms.CreateRoom)
		roomRoutes.GET("", rooms.ListRooms)
		roomRoutes.GET("/:roomId", rooms.GetRoom)
		roomRoutes.DELETE("/:roomId", rooms.DeleteRoom)
		roomRoutes.POST("/:roomId/join", rooms.JoinRoom)
		roomRoutes.POST("/:roomId/leave", rooms.LeaveRoom)
		roomRoutes.GET("/:roomId/members", rooms.ListMembers)

		roomRoutes.GET("/:roomId/messages", messages.ListMessages)
		roomRoutes.POST("/:roomId/messages", messages.SendMessage)

		roomRoutes.GET("/:roomId/playback", playback.GetPlayback)
		roomRoutes.PUT("/:roomId/playback", playback.SetPlayback)
	}
	studyRoutes := api.Group("/study")
	{
		studyRoutes.GET("/leaderboard", study.Leaderboard)
		studyRoutes.GET("/me", study.MyTotal)
	}
	assistantRoutes := api.Group("/assistant")
	{
		assistantRoutes.POST("/chat", assistant.Chat)
		assistantRoutes.GET("/history", assistant.History)
	}
}
