package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/dto"
	"movienights/internal/service"
)

// RoomHandler 封装了房间生命周期和成员进出相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService     *service.RoomService
	presenceService *service.PresenceService
	tickets         *service.TicketService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService, presenceService *service.PresenceService, tickets *service.TicketService) *RoomHandler {
	return &RoomHandler{roomService: roomService, presenceService: presenceService, tickets: tickets}
}

// EnterRoomRequest 创建或加入房间的请求体。participant_id 为空时由服务端分配。
type EnterRoomRequest struct {
	ParticipantID string `json:"participant_id" binding:"omitempty,max=64"`
	Name          string `json:"name" binding:"required"`
}

// EnterRoomResponse 创建或加入房间成功的响应
type EnterRoomResponse struct {
	ParticipantID string          `json:"participant_id"`
	Ticket        string          `json:"ticket"`
	Snapshot      dto.SnapshotDTO `json:"snapshot"`
}

func (r *EnterRoomRequest) participantID() string {
	if r.ParticipantID == "" {
		return uuid.NewString()
	}
	return r.ParticipantID
}

// CreateRoom 处理创建新房间的请求，调用者成为房主和遥控器持有者
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req EnterRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	participantID := req.participantID()
	logCtx := logrus.WithField("participant_id", participantID)

	room, err := h.roomService.CreateRoom(c.Request.Context(), participantID, req.Name)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}
	h.respondWithTicket(c, http.StatusCreated, room, participantID)
}

// RoomExists 纯存在性探测，无副作用
func (h *RoomHandler) RoomExists(c *gin.Context) {
	exists, err := h.roomService.RoomExists(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"exists": exists})
}

// JoinRoom 处理加入房间的请求。重复加入是幂等的。
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req EnterRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	participantID := req.participantID()
	logCtx := logrus.WithFields(logrus.Fields{"participant_id": participantID, "room_code": c.Param("code")})

	room, err := h.presenceService.JoinRoom(c.Request.Context(), c.Param("code"), participantID, req.Name)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room via service")
		HandleServiceError(c, err)
		return
	}
	h.respondWithTicket(c, http.StatusOK, room, participantID)
}

func (h *RoomHandler) respondWithTicket(c *gin.Context, status int, room *domain.Room, participantID string) {
	ticket, err := h.tickets.Issue(room.Code, participantID, room.ParticipantName(participantID))
	if err != nil {
		logrus.WithError(err).WithField("room_code", room.Code).Error("Failed to issue participant ticket")
		HandleServiceError(c, service.ErrInternalServer)
		return
	}
	SuccessResponse(c, status, EnterRoomResponse{
		ParticipantID: participantID,
		Ticket:        ticket,
		Snapshot:      dto.NewSnapshot(room),
	})
}

// LeaveRoom 离开房间。最后一人离开时房间被删除。
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	code, participantID := participantFromContext(c)
	room, err := h.presenceService.LeaveRoom(c.Request.Context(), code, participantID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SnapshotResponse(c, http.StatusOK, room)
}

// GetSnapshot 返回当前房间快照，同时刷新调用者心跳
func (h *RoomHandler) GetSnapshot(c *gin.Context) {
	code, participantID := participantFromContext(c)
	room, err := h.roomService.GetRoom(c.Request.Context(), code)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if !room.HasParticipant(participantID) {
		HandleServiceError(c, service.ErrNotMember)
		return
	}
	h.presenceService.Touch(c.Request.Context(), code, participantID)
	SnapshotResponse(c, http.StatusOK, room)
}
