package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"movienights/internal/repository"
)

// PresenceRepository 用带 TTL 的 key 记录参与者心跳
type PresenceRepository struct {
	client    *redis.Client
	keyPrefix string
}

func NewPresenceRepository(client *redis.Client, keyPrefix string) *PresenceRepository {
	if client == nil {
		panic("redis client cannot be nil for PresenceRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "mn:"
	}
	return &PresenceRepository{client: client, keyPrefix: keyPrefix}
}

func (p *PresenceRepository) presenceKey(code, participantID string) string {
	return fmt.Sprintf("%spresence:%s:%s", p.keyPrefix, code, participantID)
}

func (p *PresenceRepository) Touch(ctx context.Context, code, participantID string, ttl time.Duration) error {
	key := p.presenceKey(code, participantID)
	if err := p.client.Set(ctx, key, time.Now().UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to touch presence %s: %w: %w", key, repository.ErrUnavailable, err)
	}
	return nil
}

func (p *PresenceRepository) Alive(ctx context.Context, code string, participantIDs []string) (map[string]bool, error) {
	alive := make(map[string]bool, len(participantIDs))
	if len(participantIDs) == 0 {
		return alive, nil
	}
	pipe := p.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(participantIDs))
	for _, id := range participantIDs {
		cmds[id] = pipe.Exists(ctx, p.presenceKey(code, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: presence pipeline failed for room %s: %w: %w", code, repository.ErrUnavailable, err)
	}
	for id, cmd := range cmds {
		if cmd.Val() > 0 {
			alive[id] = true
		}
	}
	return alive, nil
}

func (p *PresenceRepository) Forget(ctx context.Context, code, participantID string) error {
	if err := p.client.Del(ctx, p.presenceKey(code, participantID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to forget presence: %w: %w", repository.ErrUnavailable, err)
	}
	return nil
}
