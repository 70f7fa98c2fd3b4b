package websocket

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"movienights/internal/hub"
	"movienights/internal/middleware"
	"movienights/internal/service"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	hub         *hub.Hub
	roomService *service.RoomService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。allowedOrigin 为空或 "*" 时允许所有来源。
func NewWebSocketHandler(hub *hub.Hub, roomService *service.RoomService, allowedOrigin string) *WebSocketHandler {
	if hub == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         hub,
		roomService: roomService,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 格式: /ws/rooms/{code}?ticket=...，票据由 Ticket 中间件校验
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	code := c.GetString(middleware.ContextRoomCode)
	participantID := c.GetString(middleware.ContextParticipantID)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": participantID})

	room, err := h.roomService.GetRoom(c.Request.Context(), code)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Room lookup failed")
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrRoomNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrStoreUnavailable):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if !room.HasParticipant(participantID) {
		logCtx.Warn("WS Handler: Ticket holder is no longer a participant")
		c.JSON(http.StatusForbidden, gin.H{"error": service.ErrNotMember.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, code, participantID)
	// 先注册再启动读写，ReadPump 退出时的注销总在注册之后
	if err := h.hub.Register(c.Request.Context(), client); err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to register client")
		_ = conn.Close()
		return
	}
	h.hub.Touch(client)
	client.Run()
	logCtx.Info("WS Handler: Client registered, pumps started")
}
