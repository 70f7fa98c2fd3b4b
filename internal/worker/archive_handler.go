package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
	"movienights/internal/tasks"
)

// RoomArchiveHandler 处理房间归档任务
type RoomArchiveHandler struct {
	archiveRepo repository.RoomArchiveRepository
}

// NewRoomArchiveHandler 创建 Handler 实例
func NewRoomArchiveHandler(archiveRepo repository.RoomArchiveRepository) *RoomArchiveHandler {
	if archiveRepo == nil {
		panic("RoomArchiveRepository cannot be nil for RoomArchiveHandler")
	}
	return &RoomArchiveHandler{archiveRepo: archiveRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	var payload tasks.RoomArchivePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_code": payload.Code, "archive_event": payload.Event})

	switch payload.Event {
	case tasks.ArchiveOpened:
		opened := payload.At
		err := h.archiveRepo.RecordOpened(ctx, &domain.RoomArchive{
			Code:             payload.Code,
			HostID:           payload.HostID,
			HostName:         payload.HostName,
			OpenedAt:         opened,
			PeakParticipants: payload.PeakParticipants,
		})
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 重试导致的重复写入
			logCtx.Info("Archive record already exists, skipping")
			return nil
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to record room opening")
			return fmt.Errorf("failed to record opening of room %s: %w", payload.Code, err)
		}

	case tasks.ArchiveClosed:
		err := h.archiveRepo.RecordClosed(ctx, payload.Code, payload.At, payload.PeakParticipants)
		if errors.Is(err, repository.ErrArchiveNotFound) {
			// 可能 opened 任务还未处理，交给 asynq 重试
			logCtx.Warn("No open archive record found yet")
			return fmt.Errorf("no open archive record for room %s: %w", payload.Code, err)
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to record room closing")
			return fmt.Errorf("failed to record closing of room %s: %w", payload.Code, err)
		}

	default:
		logCtx.Errorf("Unknown archive event: %q", payload.Event)
		return fmt.Errorf("unknown archive event %q: %w", payload.Event, asynq.SkipRetry)
	}

	logCtx.Info("Room archive task processed successfully")
	return nil
}
