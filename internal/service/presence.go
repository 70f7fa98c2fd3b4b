package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

const DefaultPresenceTTL = 90 * time.Second

// PresenceService 负责加入/离开、按稳定身份幂等重入，以及离开时的遥控器重新分配。
type PresenceService struct {
	store    repository.RoomStore
	presence repository.PresenceRepository
	rooms    *RoomService
	writer   eventWriter
	ttl      time.Duration
	now      func() time.Time
}

// NewPresenceService 创建实例。presence 为 nil 时不记录心跳，也不会清理断线成员。
func NewPresenceService(store repository.RoomStore, presence repository.PresenceRepository, rooms *RoomService, eventLimit int, ttl time.Duration) *PresenceService {
	if store == nil || rooms == nil {
		panic("RoomStore and RoomService must be non-nil for PresenceService")
	}
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &PresenceService{
		store:    store,
		presence: presence,
		rooms:    rooms,
		writer:   eventWriter{now: time.Now, limit: eventLimit},
		ttl:      ttl,
		now:      time.Now,
	}
}

// JoinRoom 加入房间。已是成员时只刷新名字和加入时间，不产生重复条目。
func (s *PresenceService) JoinRoom(ctx context.Context, code, participantID, name string) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	if !domain.ValidRoomCode(code) {
		return nil, ErrRoomNotFound
	}
	name, ok := domain.NormalizeName(name)
	if !ok {
		return nil, ErrInvalidName
	}
	if participantID == "" {
		return nil, ErrNotMember
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": participantID})

	rejoin := false
	room, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		now := s.now().UnixMilli()
		if p, ok := room.Participants[participantID]; ok {
			rejoin = true
			p.Name = name
			p.JoinedAt = now
			return repository.CommitSave, nil
		}
		rejoin = false
		room.Participants[participantID] = &domain.Participant{
			ID:       participantID,
			Name:     name,
			IsHost:   participantID == room.HostID,
			JoinedAt: now,
		}
		if n := len(room.Participants); n > room.PeakParticipants {
			room.PeakParticipants = n
		}
		s.writer.system(room, fmt.Sprintf("%s joined", name))
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to join room")
		return nil, mapRepoError(err)
	}
	s.Touch(ctx, code, participantID)
	logCtx.WithField("rejoin", rejoin).Info("Participant joined room")
	return room, nil
}

// LeaveRoom 移除成员。成员移除、遥控器重新分配和系统事件在同一次原子更新中完成；
// 最后一人离开时房间在同一步骤中被删除，此时返回 (nil, nil)。
// 对非成员调用是幂等的空操作。
func (s *PresenceService) LeaveRoom(ctx context.Context, code, participantID string) (*domain.Room, error) {
	room, _, err := s.leave(ctx, code, participantID, nil)
	return room, err
}

// leave 在一个 mutation 内移除成员。keep 返回 true 时放弃移除，
// 第二个返回值表示成员是否真的被移除。
func (s *PresenceService) leave(ctx context.Context, code, participantID string, keep func(*domain.Participant) bool) (*domain.Room, bool, error) {
	code = domain.NormalizeRoomCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": participantID})

	var peak int
	departed := false
	room, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		departed = false
		p, ok := room.Participants[participantID]
		if !ok || (keep != nil && keep(p)) {
			return repository.CommitNone, nil
		}
		departed = true
		delete(room.Participants, participantID)
		if len(room.Participants) == 0 {
			peak = room.PeakParticipants
			return repository.CommitDelete, nil
		}

		s.writer.system(room, fmt.Sprintf("%s left", p.Name))
		if room.ControllerID == participantID {
			room.ControllerID = reassignOnDeparture(room)
			s.writer.system(room, fmt.Sprintf("%s now has the remote", room.ParticipantName(room.ControllerID)))
		}
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to leave room")
		return nil, false, mapRepoError(err)
	}
	if !departed {
		return room, false, nil
	}

	if s.presence != nil {
		if err := s.presence.Forget(ctx, code, participantID); err != nil {
			logCtx.WithError(err).Warn("Failed to clear presence heartbeat")
		}
	}
	if room == nil {
		s.rooms.roomClosed(ctx, code, peak)
		logCtx.Info("Last participant left, room deleted")
		return nil, true, nil
	}
	logCtx.WithField("controller_id", room.ControllerID).Info("Participant left room")
	return room, true, nil
}

// Touch 刷新心跳，失败只记录日志
func (s *PresenceService) Touch(ctx context.Context, code, participantID string) {
	if s.presence == nil {
		return
	}
	code = domain.NormalizeRoomCode(code)
	if err := s.presence.Touch(ctx, code, participantID, s.ttl); err != nil {
		logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": participantID}).WithError(err).Warn("Failed to touch presence")
	}
}

// SweepStale 移除心跳已过期的成员，返回被移除的人数。
// 在 TTL 内刚加入的成员不会被清理。
func (s *PresenceService) SweepStale(ctx context.Context) (int, error) {
	if s.presence == nil {
		return 0, nil
	}
	codes, err := s.store.LiveCodes(ctx)
	if err != nil {
		return 0, mapRepoError(err)
	}

	removed := 0
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	for _, code := range codes {
		logCtx := logrus.WithField("room_code", code)
		room, err := s.store.Get(ctx, code)
		if err != nil {
			logCtx.WithError(err).Debug("Sweep: room vanished or unreadable, skipping")
			continue
		}
		ids := make([]string, 0, len(room.Participants))
		for id := range room.Participants {
			ids = append(ids, id)
		}
		alive, err := s.presence.Alive(ctx, code, ids)
		if err != nil {
			logCtx.WithError(err).Warn("Sweep: failed to read presence")
			continue
		}
		for _, p := range room.ParticipantList() {
			if alive[p.ID] || p.JoinedAt > cutoff {
				continue
			}
			// 读取心跳之后成员可能重新加入，在 mutation 内按最新的 joinedAt 再判断一次
			_, departed, err := s.leave(ctx, code, p.ID, func(current *domain.Participant) bool {
				return current.JoinedAt > cutoff
			})
			if err != nil {
				logCtx.WithError(err).WithField("participant_id", p.ID).Warn("Sweep: failed to remove stale participant")
				continue
			}
			if departed {
				removed++
			} else {
				logCtx.WithField("participant_id", p.ID).Debug("Sweep: participant rejoined, kept")
			}
		}
	}
	return removed, nil
}
