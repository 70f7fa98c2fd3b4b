package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// PresenceRepository 是 repository.PresenceRepository 的 testify mock
type PresenceRepository struct {
	mock.Mock
}

func (m *PresenceRepository) Touch(ctx context.Context, code, participantID string, ttl time.Duration) error {
	args := m.Called(ctx, code, participantID, ttl)
	return args.Error(0)
}

func (m *PresenceRepository) Alive(ctx context.Context, code string, participantIDs []string) (map[string]bool, error) {
	args := m.Called(ctx, code, participantIDs)
	alive, _ := args.Get(0).(map[string]bool)
	return alive, args.Error(1)
}

func (m *PresenceRepository) Forget(ctx context.Context, code, participantID string) error {
	args := m.Called(ctx, code, participantID)
	return args.Error(0)
}
