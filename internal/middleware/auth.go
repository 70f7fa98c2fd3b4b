package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/service"
)

// Context keys set by Ticket
const (
	ContextParticipantID   = "participant_id"
	ContextRoomCode        = "room_code"
	ContextParticipantName = "participant_name"
)

// TicketParser 校验参与者票据
type TicketParser interface {
	Parse(token string) (*service.TicketClaims, error)
}

// ErrMissingTicket 表示请求中没有票据
var ErrMissingTicket = errors.New("missing participant ticket")

// Ticket 返回一个 Gin 中间件，校验 Bearer 票据 (WebSocket 请求可用 ?ticket= 查询参数)，
// 并要求票据中的房间码与路由参数 :code 一致。
func Ticket(parser TicketParser) gin.HandlerFunc {
	if parser == nil {
		panic("TicketParser cannot be nil for Ticket middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractTicket(c)
		if err != nil {
			logrus.WithError(err).Warn("Ticket middleware: Missing or malformed ticket")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Participant ticket is required"})
			return
		}

		claims, err := parser.Parse(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Ticket middleware: Invalid ticket")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired ticket"})
			return
		}

		if code := c.Param("code"); code != "" && domain.NormalizeRoomCode(code) != claims.RoomCode {
			logrus.WithFields(logrus.Fields{"ticket_room": claims.RoomCode, "route_room": code}).Warn("Ticket middleware: Ticket issued for another room")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Ticket does not belong to this room"})
			return
		}

		c.Set(ContextParticipantID, claims.ParticipantID)
		c.Set(ContextRoomCode, claims.RoomCode)
		c.Set(ContextParticipantName, claims.Name)
		logrus.WithFields(logrus.Fields{"participant_id": claims.ParticipantID, "room_code": claims.RoomCode}).Debug("Ticket middleware: Participant authenticated")

		c.Next()
	}
}

// extractTicket 从 Authorization 头或 ticket 查询参数中提取票据
func extractTicket(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errors.New("malformed Authorization header")
		}
		return parts[1], nil
	}
	if ticket := c.Query("ticket"); ticket != "" {
		return ticket, nil
	}
	return "", ErrMissingTicket
}
