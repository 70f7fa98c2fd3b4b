package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// StaleSweeper 清理心跳过期的成员
type StaleSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// PresenceSweepHandler 处理周期性的断线成员清理任务
type PresenceSweepHandler struct {
	sweeper StaleSweeper
	timeout time.Duration
}

func NewPresenceSweepHandler(sweeper StaleSweeper) *PresenceSweepHandler {
	if sweeper == nil {
		panic("StaleSweeper cannot be nil for PresenceSweepHandler")
	}
	return &PresenceSweepHandler{sweeper: sweeper, timeout: 30 * time.Second}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *PresenceSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Debug("Processing periodic presence sweep task...")

	sweepCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	removed, err := h.sweeper.SweepStale(sweepCtx)
	if err != nil {
		logCtx.WithError(err).Error("Presence sweep failed")
		return fmt.Errorf("presence sweep failed: %w", err)
	}
	if removed > 0 {
		logCtx.WithField("removed", removed).Info("Stale participants removed")
	}
	return nil
}
