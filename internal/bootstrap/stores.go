package bootstrap

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"movienights/internal/client"
	"movienights/internal/infra/setup"
	memorystate "movienights/internal/infra/state/memory"
	redisstate "movienights/internal/infra/state/redis"
	"movienights/internal/repository"
	"movienights/internal/service"
)

// Stores 房间文档存储和心跳存储
type Stores struct {
	Rooms    repository.RoomStore
	Presence repository.PresenceRepository
	Redis    *redis.Client // memory 后端时为 nil
}

// OpenStores 按 STORE_BACKEND 创建存储
func OpenStores(cfg *Config) (*Stores, error) {
	if cfg.StoreBackend == BackendMemory {
		return &Stores{
			Rooms:    memorystate.NewRoomStore(),
			Presence: memorystate.NewPresenceRepository(),
		}, nil
	}
	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	return &Stores{
		Rooms:    redisstate.NewRoomStore(redisClient, cfg.KeyPrefix),
		Presence: redisstate.NewPresenceRepository(redisClient, cfg.KeyPrefix),
		Redis:    redisClient,
	}, nil
}

// Close 关闭 Redis 连接
func (s *Stores) Close() error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}

// Services 所有领域服务
type Services struct {
	Rooms      *service.RoomService
	Presence   *service.PresenceService
	Controller *service.ControllerService
	Playback   *service.PlaybackService
	Events     *service.EventLogService
}

// NewServices 组装领域服务。notifier 可以为 nil。
func NewServices(cfg *Config, stores *Stores, notifier service.LifecycleNotifier) *Services {
	rooms := service.NewRoomService(stores.Rooms, notifier, cfg.EventLogLimit)
	return &Services{
		Rooms:      rooms,
		Presence:   service.NewPresenceService(stores.Rooms, stores.Presence, rooms, cfg.EventLogLimit, cfg.PresenceTTL),
		Controller: service.NewControllerService(stores.Rooms, cfg.EventLogLimit),
		Playback:   service.NewPlaybackService(stores.Rooms, cfg.EnforceControllerWrites),
		Events:     service.NewEventLogService(stores.Rooms, cfg.EventLogLimit),
	}
}

// ClientBackend 供直接连接共享存储的客户端会话使用
func (s *Services) ClientBackend(stores *Stores) client.Backend {
	return client.Backend{
		Store:      stores.Rooms,
		Rooms:      s.Rooms,
		Presence:   s.Presence,
		Controller: s.Controller,
		Playback:   s.Playback,
		Events:     s.Events,
	}
}
