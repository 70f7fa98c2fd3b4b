package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

const (
	// 乐观事务冲突时的最大尝试次数，ctx 先结束时提前放弃
	maxTxAttempts = 100
	txBackoffBase = 2 * time.Millisecond
	txBackoffMax  = 100 * time.Millisecond

	msgChanged = "changed"
	msgGone    = "gone"
)

// RoomStore 是 repository.RoomStore 的 Redis 实现。
// 每个房间存为一个 JSON 文档，修改通过 WATCH/MULTI 乐观事务完成，
// 变更通知在同一个 MULTI 中发布到房间频道。
type RoomStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRoomStore 创建 RoomStore 实例
func NewRoomStore(client *redis.Client, keyPrefix string) *RoomStore {
	if client == nil {
		panic("redis client cannot be nil for RoomStore")
	}
	if keyPrefix == "" {
		keyPrefix = "mn:" // 默认前缀 "mn:" (movie nights)
	}
	return &RoomStore{client: client, keyPrefix: keyPrefix}
}

// --- Key Generation Helpers ---
func (r *RoomStore) roomKey(code string) string {
	return fmt.Sprintf("%sroom:%s", r.keyPrefix, code)
}

func (r *RoomStore) roomChannel(code string) string {
	return fmt.Sprintf("%sroom:%s:pubsub", r.keyPrefix, code)
}

func (r *RoomStore) liveRoomsKey() string {
	return r.keyPrefix + "rooms:live"
}

func unavailable(op, code string, err error) error {
	return fmt.Errorf("redis: %s room %s: %w: %w", op, code, repository.ErrUnavailable, err)
}

func decodeRoom(data []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room document: %w", err)
	}
	room.EnsureMaps()
	return &room, nil
}

// Create 写入新房间文档，同时登记到存活房间集合
func (r *RoomStore) Create(ctx context.Context, room *domain.Room) error {
	key := r.roomKey(room.Code)
	payload, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room %s: %w", room.Code, err)
	}

	taken := false
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if taken = n > 0; taken {
			return repository.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.liveRoomsKey(), room.Code)
			pipe.Publish(ctx, r.roomChannel(room.Code), msgChanged)
			return nil
		})
		return err
	}

	err = r.watch(ctx, key, txf)
	if taken {
		return repository.ErrAlreadyExists
	}
	if err == nil || errors.Is(err, repository.ErrConflict) {
		return err
	}
	return unavailable("create", room.Code, err)
}

// Exists 检查房间文档是否存在
func (r *RoomStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := r.client.Exists(ctx, r.roomKey(code)).Result()
	if err != nil {
		return false, unavailable("check", code, err)
	}
	return n > 0, nil
}

// Get 读取房间文档
func (r *RoomStore) Get(ctx context.Context, code string) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, unavailable("get", code, err)
	}
	return decodeRoom(data)
}

// Update 以乐观事务执行读-改-写，冲突时重新读取并重放 mutation
func (r *RoomStore) Update(ctx context.Context, code string, mutate repository.Mutation) (*domain.Room, error) {
	key := r.roomKey(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "RoomStore.Update"})

	var result *domain.Room
	var mutationErr error

	txf := func(tx *redis.Tx) error {
		mutationErr = nil
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				mutationErr = repository.ErrRoomNotFound
				return mutationErr
			}
			return err
		}
		room, err := decodeRoom(data)
		if err != nil {
			return err
		}

		commit, err := mutate(room)
		if err != nil {
			mutationErr = err
			return err
		}

		switch commit {
		case repository.CommitNone:
			result = room
			return nil
		case repository.CommitDelete:
			result = nil
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, r.liveRoomsKey(), code)
				pipe.Publish(ctx, r.roomChannel(code), msgGone)
				return nil
			})
			return err
		default:
			payload, err := json.Marshal(room)
			if err != nil {
				return fmt.Errorf("redis: failed to marshal room %s: %w", code, err)
			}
			result = room
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				pipe.Publish(ctx, r.roomChannel(code), msgChanged)
				return nil
			})
			return err
		}
	}

	err := r.watch(ctx, key, txf)
	switch {
	case mutationErr != nil:
		return nil, mutationErr
	case errors.Is(err, repository.ErrConflict):
		logCtx.WithError(err).Warn("Update gave up on a contended room")
		return nil, err
	case err != nil:
		return nil, unavailable("update", code, err)
	}
	return result, nil
}

// watch 执行 WATCH 乐观事务。冲突时按指数退避加随机抖动重试，
// 直到成功、ctx 结束或达到 maxTxAttempts，放弃时返回 repository.ErrConflict。
func (r *RoomStore) watch(ctx context.Context, key string, txf func(*redis.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err != nil && attempt > 1 && ctx.Err() != nil {
			// 重试过程中 ctx 结束，根因仍是写入冲突。txf 自身的业务错误由调用方先行判断
			return fmt.Errorf("redis: %s: %w: %w", key, repository.ErrConflict, ctx.Err())
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if attempt >= maxTxAttempts {
			return fmt.Errorf("redis: %s: %w after %d attempts", key, repository.ErrConflict, attempt)
		}
		timer := time.NewTimer(txBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: %s: %w: %w", key, repository.ErrConflict, ctx.Err())
		case <-timer.C:
		}
	}
}

// txBackoff 返回 [0, min(base*2^attempt, max)] 内的随机等待时间
func txBackoff(attempt int) time.Duration {
	d := txBackoffBase << min(attempt, 10)
	if d > txBackoffMax {
		d = txBackoffMax
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Remove 删除房间文档并通知订阅者
func (r *RoomStore) Remove(ctx context.Context, code string) error {
	key := r.roomKey(code)
	pipe := r.client.TxPipeline()
	delCmd := pipe.Del(ctx, key)
	pipe.SRem(ctx, r.liveRoomsKey(), code)
	pipe.Publish(ctx, r.roomChannel(code), msgGone)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("remove", code, err)
	}
	if delCmd.Val() == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// LiveCodes 返回存活房间集合
func (r *RoomStore) LiveCodes(ctx context.Context) ([]string, error) {
	codes, err := r.client.SMembers(ctx, r.liveRoomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list live rooms: %w: %w", repository.ErrUnavailable, err)
	}
	sort.Strings(codes)
	return codes, nil
}

// --- Subscription ---

type roomSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func (s *roomSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

// Subscribe 订阅房间频道。先确认订阅再读取当前文档，避免漏掉两者之间的变更。
func (r *RoomStore) Subscribe(ctx context.Context, code string, handler repository.ChangeHandler) (repository.Subscription, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "operation": "RoomStore.Subscribe"})

	pubsub := r.client.Subscribe(ctx, r.roomChannel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", code, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &roomSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	var goneSent bool
	deliver := func(change repository.Change) {
		if sub.closed.Load() || goneSent {
			return
		}
		if change.Gone {
			goneSent = true
		}
		handler(change)
	}

	room, err := r.Get(ctx, code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		deliver(repository.Change{Gone: true})
		_ = sub.Close()
		close(sub.done)
		return sub, nil
	case err != nil:
		_ = sub.Close()
		close(sub.done)
		return nil, err
	}
	deliver(repository.Change{Room: room})

	messages := pubsub.Channel()
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload == msgGone {
					deliver(repository.Change{Gone: true})
					_ = sub.Close()
					return
				}
				room, err := r.Get(subCtx, code)
				if errors.Is(err, repository.ErrNotFound) {
					deliver(repository.Change{Gone: true})
					_ = sub.Close()
					return
				}
				if err != nil {
					if subCtx.Err() == nil {
						logCtx.WithError(err).Warn("Failed to read room after change notification")
					}
					continue
				}
				deliver(repository.Change{Room: room})
			}
		}
	}()
	return sub, nil
}
