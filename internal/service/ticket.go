package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TicketClaims 绑定一次加入房间时的参与者身份。票据只会在提供了正确房间码后签发。
type TicketClaims struct {
	ParticipantID string `json:"participant_id"`
	RoomCode      string `json:"room_code"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// TicketService 签发和校验参与者票据 (HS256 JWT)。
type TicketService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTicketService(secret string, expiryHours int) (*TicketService, error) {
	if secret == "" {
		return nil, errors.New("ticket secret cannot be empty")
	}
	if expiryHours <= 0 {
		expiryHours = 24
	}
	return &TicketService{secret: []byte(secret), expiry: time.Duration(expiryHours) * time.Hour, now: time.Now}, nil
}

// Issue 为参与者签发票据
func (s *TicketService) Issue(roomCode, participantID, name string) (string, error) {
	now := s.now()
	claims := TicketClaims{
		ParticipantID: participantID,
		RoomCode:      roomCode,
		Name:          name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			Subject:   participantID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, nil
}

// Parse 校验票据签名和有效期
func (s *TicketService) Parse(tokenStr string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.ParticipantID == "" || claims.RoomCode == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
