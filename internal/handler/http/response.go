package http

import (
	"github.com/gin-gonic/gin"

	"movienights/internal/domain"
	"movienights/internal/dto"
	"movienights/internal/middleware"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// SnapshotResponse 返回房间快照。房间已删除时 (最后一人离开) 只返回 deleted 标记。
func SnapshotResponse(c *gin.Context, code int, room *domain.Room) {
	if room == nil {
		c.JSON(code, gin.H{"deleted": true})
		return
	}
	c.JSON(code, dto.NewSnapshot(room))
}

// participantFromContext 读取 Ticket 中间件写入的身份
func participantFromContext(c *gin.Context) (code, participantID string) {
	return c.GetString(middleware.ContextRoomCode), c.GetString(middleware.ContextParticipantID)
}
