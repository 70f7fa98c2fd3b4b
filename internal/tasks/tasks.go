package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
)

// 定义任务类型常量
const (
	TypeRoomArchive   = "room:archive"   // 房间生命周期归档
	TypePresenceSweep = "presence:sweep" // 周期性清理断线成员
)

// ArchiveEvent 归档任务对应的生命周期事件
type ArchiveEvent string

const (
	ArchiveOpened ArchiveEvent = "opened"
	ArchiveClosed ArchiveEvent = "closed"
)

// RoomArchivePayload 定义了归档任务的数据结构
type RoomArchivePayload struct {
	Event            ArchiveEvent `json:"event"`
	Code             string       `json:"code"`
	HostID           string       `json:"host_id,omitempty"`
	HostName         string       `json:"host_name,omitempty"`
	At               time.Time    `json:"at"`
	PeakParticipants int          `json:"peak_participants"`
}

// NewRoomArchiveTask 创建一个归档任务
func NewRoomArchiveTask(payload RoomArchivePayload) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal archive payload: %w", err)
	}
	return asynq.NewTask(TypeRoomArchive, payloadBytes, asynq.MaxRetry(5), asynq.Queue("low")), nil
}

// NewPresenceSweepTask 创建周期性清理任务，payload 为空
func NewPresenceSweepTask() *asynq.Task {
	return asynq.NewTask(TypePresenceSweep, nil, asynq.MaxRetry(0))
}

// TaskEnqueuer 是 asynq.Client 中投递任务的部分
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ArchiveNotifier 把房间的创建和关闭投递为归档任务。
// 投递失败只记录日志，不影响房间操作本身。
type ArchiveNotifier struct {
	client TaskEnqueuer
}

func NewArchiveNotifier(client TaskEnqueuer) *ArchiveNotifier {
	if client == nil {
		panic("TaskEnqueuer cannot be nil for ArchiveNotifier")
	}
	return &ArchiveNotifier{client: client}
}

func (n *ArchiveNotifier) RoomOpened(ctx context.Context, room *domain.Room) {
	n.enqueue(ctx, RoomArchivePayload{
		Event:            ArchiveOpened,
		Code:             room.Code,
		HostID:           room.HostID,
		HostName:         room.ParticipantName(room.HostID),
		At:               time.UnixMilli(room.CreatedAt),
		PeakParticipants: room.PeakParticipants,
	})
}

func (n *ArchiveNotifier) RoomClosed(ctx context.Context, code string, closedAt time.Time, peak int) {
	n.enqueue(ctx, RoomArchivePayload{
		Event:            ArchiveClosed,
		Code:             code,
		At:               closedAt,
		PeakParticipants: peak,
	})
}

func (n *ArchiveNotifier) enqueue(ctx context.Context, payload RoomArchivePayload) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": payload.Code, "archive_event": payload.Event})
	task, err := NewRoomArchiveTask(payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build archive task")
		return
	}
	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to enqueue archive task")
		return
	}
	logCtx.WithField("task_id", info.ID).Debug("Archive task enqueued")
}
