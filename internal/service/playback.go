package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

// PlaybackService 同步共享的播放状态 (contentUrl / isPlaying)。
// 写入为后写者胜出。调用者必须是房间成员；默认不在服务端校验遥控器持有者，由客户端在写入前检查。
type PlaybackService struct {
	store           repository.RoomStore
	enforceControls bool
}

// NewPlaybackService 创建实例。enforceControls 为 true 时拒绝非持有者的写入。
func NewPlaybackService(store repository.RoomStore, enforceControls bool) *PlaybackService {
	if store == nil {
		panic("RoomStore cannot be nil for PlaybackService")
	}
	return &PlaybackService{store: store, enforceControls: enforceControls}
}

// UpdateVideoURL 写入 contentUrl，内容不做解析或校验
func (s *PlaybackService) UpdateVideoURL(ctx context.Context, code, callerID, url string) (*domain.Room, error) {
	return s.write(ctx, code, callerID, "UpdateVideoURL", func(room *domain.Room) {
		room.ContentURL = url
	})
}

// UpdatePlayState 写入播放/暂停状态
func (s *PlaybackService) UpdatePlayState(ctx context.Context, code, callerID string, isPlaying bool) (*domain.Room, error) {
	return s.write(ctx, code, callerID, "UpdatePlayState", func(room *domain.Room) {
		room.IsPlaying = isPlaying
	})
}

func (s *PlaybackService) write(ctx context.Context, code, callerID, op string, apply func(*domain.Room)) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "participant_id": callerID, "operation": op})

	room, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		if !room.HasParticipant(callerID) {
			return repository.CommitNone, ErrNotMember
		}
		if s.enforceControls && room.ControllerID != callerID {
			return repository.CommitNone, ErrNotController
		}
		apply(room)
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Playback write failed")
		return nil, mapRepoError(err)
	}
	if room.ControllerID != callerID {
		// 信任边界：记录非持有者的写入，便于审计
		logCtx.WithField("controller_id", room.ControllerID).Warn("Playback written by a participant without the remote")
	} else {
		logCtx.Debug("Playback state updated")
	}
	return room, nil
}
