package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

// GormRoomArchiveRepository 是 RoomArchiveRepository 接口的 GORM 实现
type GormRoomArchiveRepository struct {
	db *gorm.DB
}

// NewGormRoomArchiveRepository 创建 GormRoomArchiveRepository 实例
func NewGormRoomArchiveRepository(db *gorm.DB) *GormRoomArchiveRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomArchiveRepository")
	}
	return &GormRoomArchiveRepository{db: db}
}

// RecordOpened 插入一条新的归档记录，(code, opened_at) 唯一
func (r *GormRoomArchiveRepository) RecordOpened(ctx context.Context, archive *domain.RoomArchive) error {
	if err := r.db.WithContext(ctx).Create(archive).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: record opening of room %s: %w", archive.Code, err)
	}
	return nil
}

// RecordClosed 关闭该房间码最近一条尚未关闭的记录
func (r *GormRoomArchiveRepository) RecordClosed(ctx context.Context, code string, closedAt time.Time, peak int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var archive domain.RoomArchive
		err := tx.Where("code = ? AND closed_at IS NULL", code).Order("opened_at DESC").First(&archive).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrArchiveNotFound
			}
			return fmt.Errorf("gorm: find open archive for room %s: %w", code, err)
		}

		updates := map[string]interface{}{"closed_at": closedAt}
		if peak > archive.PeakParticipants {
			updates["peak_participants"] = peak
		}
		if err := tx.Model(&archive).Updates(updates).Error; err != nil {
			return fmt.Errorf("gorm: close archive %d for room %s: %w", archive.ID, code, err)
		}
		return nil
	})
}
