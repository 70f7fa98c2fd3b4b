package memorystate

import (
	"context"
	"sync"
	"time"
)

// PresenceRepository 是内存版心跳记录。
type PresenceRepository struct {
	mu      sync.Mutex
	now     func() time.Time
	expires map[string]time.Time
}

func NewPresenceRepository() *PresenceRepository {
	return NewPresenceRepositoryWithClock(time.Now)
}

// NewPresenceRepositoryWithClock 使用指定时钟判断过期
func NewPresenceRepositoryWithClock(now func() time.Time) *PresenceRepository {
	return &PresenceRepository{now: now, expires: make(map[string]time.Time)}
}

func presenceKey(code, participantID string) string { return code + "/" + participantID }

func (p *PresenceRepository) Touch(ctx context.Context, code, participantID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expires[presenceKey(code, participantID)] = p.now().Add(ttl)
	return nil
}

func (p *PresenceRepository) Alive(ctx context.Context, code string, participantIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	alive := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		if exp, ok := p.expires[presenceKey(code, id)]; ok && now.Before(exp) {
			alive[id] = true
		}
	}
	return alive, nil
}

func (p *PresenceRepository) Forget(ctx context.Context, code, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.expires, presenceKey(code, participantID))
	return nil
}
