package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"movienights/internal/domain"
)

// RoomArchiveRepository 是 repository.RoomArchiveRepository 的 testify mock
type RoomArchiveRepository struct {
	mock.Mock
}

func (m *RoomArchiveRepository) RecordOpened(ctx context.Context, archive *domain.RoomArchive) error {
	args := m.Called(ctx, archive)
	return args.Error(0)
}

func (m *RoomArchiveRepository) RecordClosed(ctx context.Context, code string, closedAt time.Time, peak int) error {
	args := m.Called(ctx, code, closedAt, peak)
	return args.Error(0)
}
