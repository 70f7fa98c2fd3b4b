package repository

import (
	"context"
	"time"

	"movienights/internal/domain"
)

// RoomArchiveRepository 持久化房间生命周期记录。
type RoomArchiveRepository interface {
	// RecordOpened 记录房间创建。
	RecordOpened(ctx context.Context, archive *domain.RoomArchive) error

	// RecordClosed 标记最近一条未关闭的同码记录为已关闭。
	// 找不到记录时返回 ErrArchiveNotFound。
	RecordClosed(ctx context.Context, code string, closedAt time.Time, peak int) error
}
