package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

const maxCodeAttempts = 10

// LifecycleNotifier 接收房间创建/关闭通知 (例如投递归档任务)。实现必须是尽力而为的。
type LifecycleNotifier interface {
	RoomOpened(ctx context.Context, room *domain.Room)
	RoomClosed(ctx context.Context, code string, closedAt time.Time, peak int)
}

type noopNotifier struct{}

func (noopNotifier) RoomOpened(context.Context, *domain.Room)           {}
func (noopNotifier) RoomClosed(context.Context, string, time.Time, int) {}

// RoomService 负责房间生命周期：房间码生成、创建、存在性检查和删除。
type RoomService struct {
	store    repository.RoomStore
	notifier LifecycleNotifier
	writer   eventWriter
	now      func() time.Time
	codeGen  func() (string, error)
}

// NewRoomService 创建 RoomService 实例。notifier 可以为 nil。
func NewRoomService(store repository.RoomStore, notifier LifecycleNotifier, eventLimit int) *RoomService {
	if store == nil {
		panic("RoomStore cannot be nil for RoomService")
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &RoomService{
		store:    store,
		notifier: notifier,
		writer:   eventWriter{now: time.Now, limit: eventLimit},
		now:      time.Now,
		codeGen:  GenerateRoomCode,
	}
}

// GenerateRoomCode 生成 6 位大写字母数字房间码。使用前必须检查是否已存在。
func GenerateRoomCode() (string, error) {
	b := make([]byte, domain.RoomCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = domain.RoomCodeAlphabet[int(b[i])%len(domain.RoomCodeAlphabet)]
	}
	return string(b), nil
}

// CreateRoom 生成唯一房间码并创建房间。房间码冲突时内部重试，不向调用者暴露。
func (s *RoomService) CreateRoom(ctx context.Context, hostID, hostName string) (*domain.Room, error) {
	logCtx := logrus.WithField("host_id", hostID)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.codeGen()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate room code")
			return nil, ErrInternalServer
		}

		exists, err := s.store.Exists(ctx, code)
		if err != nil {
			logCtx.WithError(err).WithField("room_code", code).Error("Store error checking room code uniqueness")
			return nil, mapRepoError(err)
		}
		if exists {
			logCtx.WithField("room_code", code).Warnf("Generated room code already exists, retrying (attempt %d)...", attempt+1)
			continue
		}

		room, err := s.CreateRoomWithCode(ctx, code, hostID, hostName)
		if errors.Is(err, ErrRoomCreationConflict) {
			// Exists 和 Create 之间被其他客户端抢占
			logCtx.WithField("room_code", code).Warnf("Room code taken concurrently, retrying (attempt %d)...", attempt+1)
			continue
		}
		return room, err
	}
	logCtx.Errorf("Failed to generate a unique room code after %d attempts", maxCodeAttempts)
	return nil, ErrInternalServer
}

// CreateRoomWithCode 用指定房间码创建房间，房主同时是遥控器持有者。
func (s *RoomService) CreateRoomWithCode(ctx context.Context, code, hostID, hostName string) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	if !domain.ValidRoomCode(code) {
		return nil, ErrInvalidRoomCode
	}
	hostName, ok := domain.NormalizeName(hostName)
	if !ok {
		return nil, ErrInvalidName
	}
	if hostID == "" {
		return nil, ErrNotMember
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "host_id": hostID})

	room := domain.NewRoom(code, hostID, hostName, s.now().UnixMilli())
	s.writer.system(room, fmt.Sprintf("%s created the room", hostName))

	if err := s.store.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrRoomCreationConflict
		}
		logCtx.WithError(err).Error("Failed to create room in store")
		return nil, mapRepoError(err)
	}
	s.notifier.RoomOpened(ctx, room)
	logCtx.Info("Room created successfully")
	return room, nil
}

// RoomExists 纯存在性检查
func (s *RoomService) RoomExists(ctx context.Context, code string) (bool, error) {
	code = domain.NormalizeRoomCode(code)
	if !domain.ValidRoomCode(code) {
		return false, nil
	}
	exists, err := s.store.Exists(ctx, code)
	if err != nil {
		logrus.WithField("room_code", code).WithError(err).Error("RoomExists: store error")
		return false, mapRepoError(err)
	}
	return exists, nil
}

// GetRoom 获取房间快照
func (s *RoomService) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeRoomCode(code)
	if !domain.ValidRoomCode(code) {
		return nil, ErrInvalidRoomCode
	}
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return room, nil
}

// DeleteRoom 删除房间文档，所有订阅者收到 Gone。
// 正常流程中由 PresenceService 在最后一人离开时以原子方式完成删除。
func (s *RoomService) DeleteRoom(ctx context.Context, code string) error {
	code = domain.NormalizeRoomCode(code)
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.store.Remove(ctx, code); err != nil {
		return mapRepoError(err)
	}
	s.roomClosed(ctx, code, room.PeakParticipants)
	return nil
}

func (s *RoomService) roomClosed(ctx context.Context, code string, peak int) {
	s.notifier.RoomClosed(ctx, code, s.now(), peak)
	logrus.WithField("room_code", code).Info("Room deleted")
}
