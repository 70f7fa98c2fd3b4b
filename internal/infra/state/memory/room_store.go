package memorystate

import (
	"context"
	"sort"
	"sync"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

// RoomStore 是 repository.RoomStore 的进程内实现，用于单节点部署和测试。
// 通知在调用方 goroutine 中同步投递，处理函数不能同步调用 Update/Create/Remove 或 Subscription.Close。
type RoomStore struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex // 保证每个订阅者按提交顺序收到通知
	rooms      map[string]*domain.Room
	listeners  map[string]map[*subscription]struct{}
}

// NewRoomStore 创建空的内存存储
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:     make(map[string]*domain.Room),
		listeners: make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	store   *RoomStore
	code    string
	handler repository.ChangeHandler
	once    sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		if subs, ok := s.store.listeners[s.code]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.store.listeners, s.code)
			}
		}
	})
	return nil
}

type delivery struct {
	subs   []*subscription
	change repository.Change
}

// 调用时必须持有 mu；返回后 mu 已释放，通知投递完成
func (s *RoomStore) unlockAndDeliver(d delivery) {
	s.dispatchMu.Lock()
	s.mu.Unlock()
	defer s.dispatchMu.Unlock()
	for _, sub := range d.subs {
		change := d.change
		if change.Room != nil {
			change.Room = change.Room.Clone()
		}
		sub.handler(change)
	}
}

func (s *RoomStore) snapshotListeners(code string) []*subscription {
	subs := make([]*subscription, 0, len(s.listeners[code]))
	for sub := range s.listeners[code] {
		subs = append(subs, sub)
	}
	return subs
}

func (s *RoomStore) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.rooms[room.Code]; ok {
		s.mu.Unlock()
		return repository.ErrAlreadyExists
	}
	stored := room.Clone()
	stored.EnsureMaps()
	s.rooms[room.Code] = stored
	s.unlockAndDeliver(delivery{subs: s.snapshotListeners(room.Code), change: repository.Change{Room: stored}})
	return nil
}

func (s *RoomStore) Exists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[code]
	return ok, nil
}

func (s *RoomStore) Get(ctx context.Context, code string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *RoomStore) Update(ctx context.Context, code string, mutate repository.Mutation) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	current, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return nil, repository.ErrRoomNotFound
	}
	working := current.Clone()
	commit, err := mutate(working)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	switch commit {
	case repository.CommitNone:
		s.mu.Unlock()
		return current.Clone(), nil
	case repository.CommitDelete:
		delete(s.rooms, code)
		subs := s.snapshotListeners(code)
		delete(s.listeners, code)
		s.unlockAndDeliver(delivery{subs: subs, change: repository.Change{Gone: true}})
		return nil, nil
	default:
		s.rooms[code] = working
		s.unlockAndDeliver(delivery{subs: s.snapshotListeners(code), change: repository.Change{Room: working}})
		return working.Clone(), nil
	}
}

func (s *RoomStore) Remove(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.rooms[code]; !ok {
		s.mu.Unlock()
		return repository.ErrRoomNotFound
	}
	delete(s.rooms, code)
	subs := s.snapshotListeners(code)
	delete(s.listeners, code)
	s.unlockAndDeliver(delivery{subs: subs, change: repository.Change{Gone: true}})
	return nil
}

func (s *RoomStore) Subscribe(ctx context.Context, code string, handler repository.ChangeHandler) (repository.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{store: s, code: code, handler: handler}
	s.mu.Lock()
	room, ok := s.rooms[code]
	if !ok {
		s.unlockAndDeliver(delivery{subs: []*subscription{sub}, change: repository.Change{Gone: true}})
		return sub, nil
	}
	if s.listeners[code] == nil {
		s.listeners[code] = make(map[*subscription]struct{})
	}
	s.listeners[code][sub] = struct{}{}
	s.unlockAndDeliver(delivery{subs: []*subscription{sub}, change: repository.Change{Room: room}})
	return sub, nil
}

func (s *RoomStore) LiveCodes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]string, 0, len(s.rooms))
	for code := range s.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
