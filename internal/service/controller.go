package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

// ControllerService 维护 "任意时刻恰好一个遥控器持有者" 的不变式。
type ControllerService struct {
	store  repository.RoomStore
	writer eventWriter
}

func NewControllerService(store repository.RoomStore, eventLimit int) *ControllerService {
	if store == nil {
		panic("RoomStore cannot be nil for ControllerService")
	}
	return &ControllerService{store: store, writer: eventWriter{now: time.Now, limit: eventLimit}}
}

// PassRemote 当前持有者把遥控器交给另一位成员。
func (s *ControllerService) PassRemote(ctx context.Context, code, callerID, targetID string) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": callerID, "target_id": targetID})

	room, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		if room.ControllerID != callerID {
			return repository.CommitNone, ErrNotController
		}
		if !room.HasParticipant(targetID) {
			return repository.CommitNone, ErrTargetNotMember
		}
		if targetID == callerID {
			return repository.CommitNone, nil
		}
		room.ControllerID = targetID
		s.writer.system(room, fmt.Sprintf("%s passed the remote to %s", room.ParticipantName(callerID), room.ParticipantName(targetID)))
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("PassRemote rejected")
		return nil, mapRepoError(err)
	}
	logCtx.Info("Remote passed")
	return room, nil
}

// TakeBackRemote 房主无条件收回遥控器。已离开的房主不再拥有该权限。
func (s *ControllerService) TakeBackRemote(ctx context.Context, code, callerID string) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": callerID})

	room, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		if room.HostID != callerID || !room.HasParticipant(callerID) {
			return repository.CommitNone, ErrNotHost
		}
		room.ControllerID = room.HostID
		s.writer.system(room, fmt.Sprintf("%s took back the remote", room.ParticipantName(callerID)))
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("TakeBackRemote rejected")
		return nil, mapRepoError(err)
	}
	logCtx.Info("Remote taken back by host")
	return room, nil
}

// reassignOnDeparture 在成员移除之后调用 (同一个 mutation 内)。
// 房主在场时交给房主，否则交给最早加入的成员；房间已空时返回空字符串。
func reassignOnDeparture(room *domain.Room) string {
	if room.HasParticipant(room.ControllerID) {
		return room.ControllerID
	}
	if room.HasParticipant(room.HostID) {
		return room.HostID
	}
	list := room.ParticipantList()
	if len(list) == 0 {
		return ""
	}
	return list[0].ID
}
