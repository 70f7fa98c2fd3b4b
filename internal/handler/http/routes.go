package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册房间 API。ticket 为票据校验中间件，ws 为 WebSocket 升级处理器 (可以为 nil)。
func RegisterRoutes(router gin.IRouter, rooms *RoomHandler, session *SessionHandler, ticket gin.HandlerFunc, ws gin.HandlerFunc) {
	api := router.Group("/api")
	{
		api.POST("/rooms", rooms.CreateRoom)
		api.GET("/rooms/:code", rooms.RoomExists)
		api.POST("/rooms/:code/join", rooms.JoinRoom)
	}

	member := api.Group("/rooms/:code").Use(ticket)
	{
		member.GET("/snapshot", rooms.GetSnapshot)
		member.POST("/leave", rooms.LeaveRoom)
		member.POST("/remote/pass", session.PassRemote)
		member.POST("/remote/take-back", session.TakeBackRemote)
		member.POST("/playback/url", session.UpdateVideoURL)
		member.POST("/playback/state", session.UpdatePlayState)
		member.POST("/chat", session.SendChat)
		member.POST("/reactions", session.SendReaction)
	}

	if ws != nil {
		router.GET("/ws/rooms/:code", ticket, ws)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
}
