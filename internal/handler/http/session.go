package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"movienights/internal/service"
)

// SessionHandler 处理房间内的交互：遥控器、播放状态、聊天和表情
type SessionHandler struct {
	controller *service.ControllerService
	playback   *service.PlaybackService
	events     *service.EventLogService
}

func NewSessionHandler(controller *service.ControllerService, playback *service.PlaybackService, events *service.EventLogService) *SessionHandler {
	return &SessionHandler{controller: controller, playback: playback, events: events}
}

type PassRemoteRequest struct {
	TargetID string `json:"target_id" binding:"required"`
}

type VideoURLRequest struct {
	URL string `json:"url"`
}

type PlayStateRequest struct {
	IsPlaying *bool `json:"is_playing" binding:"required"`
}

type ChatRequest struct {
	Text string `json:"text" binding:"required"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

func (h *SessionHandler) PassRemote(c *gin.Context) {
	var req PassRemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code, participantID := participantFromContext(c)
	room, err := h.controller.PassRemote(c.Request.Context(), code, participantID, req.TargetID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SnapshotResponse(c, http.StatusOK, room)
}

func (h *SessionHandler) TakeBackRemote(c *gin.Context) {
	code, participantID := participantFromContext(c)
	room, err := h.controller.TakeBackRemote(c.Request.Context(), code, participantID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SnapshotResponse(c, http.StatusOK, room)
}

func (h *SessionHandler) UpdateVideoURL(c *gin.Context) {
	var req VideoURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code, participantID := participantFromContext(c)
	room, err := h.playback.UpdateVideoURL(c.Request.Context(), code, participantID, req.URL)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SnapshotResponse(c, http.StatusOK, room)
}

func (h *SessionHandler) UpdatePlayState(c *gin.Context) {
	var req PlayStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code, participantID := participantFromContext(c)
	room, err := h.playback.UpdatePlayState(c.Request.Context(), code, participantID, *req.IsPlaying)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SnapshotResponse(c, http.StatusOK, room)
}

func (h *SessionHandler) SendChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code, participantID := participantFromContext(c)
	event, err := h.events.SendChatMessage(c.Request.Context(), code, participantID, req.Text)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, event)
}

func (h *SessionHandler) SendReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code, participantID := participantFromContext(c)
	event, err := h.events.SendReaction(c.Request.Context(), code, participantID, req.Emoji)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, event)
}
