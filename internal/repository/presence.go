package repository

import (
	"context"
	"time"
)

// PresenceRepository 记录参与者的心跳，用于检测断线。
type PresenceRepository interface {
	// Touch 刷新参与者心跳，ttl 后过期。
	Touch(ctx context.Context, code, participantID string, ttl time.Duration) error

	// Alive 返回给定参与者中心跳仍有效的集合。
	Alive(ctx context.Context, code string, participantIDs []string) (map[string]bool, error)

	// Forget 删除参与者心跳 (离开房间时调用)。
	Forget(ctx context.Context, code, participantID string) error
}
