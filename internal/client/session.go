// Package client 实现单个参与者在一个房间内的会话：进出房间、订阅快照，
// 以及在写入播放状态之前检查自己是否持有遥控器。
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
	"movienights/internal/service"
)

var (
	// ErrNoRemote 本地检查：当前参与者不持有遥控器
	ErrNoRemote = errors.New("you do not have the remote")
	// ErrNotInRoom 会话不在任何房间中
	ErrNotInRoom = errors.New("session is not in a room")
)

// State 会话所处的界面状态
type State int

const (
	StateLobby State = iota
	StateInRoom
)

func (s State) String() string {
	if s == StateInRoom {
		return "room"
	}
	return "lobby"
}

// Backend 会话依赖的服务
type Backend struct {
	Store      repository.RoomStore
	Rooms      *service.RoomService
	Presence   *service.PresenceService
	Controller *service.ControllerService
	Playback   *service.PlaybackService
	Events     *service.EventLogService
}

// Option 配置 Session
type Option func(*Session)

// OnChange 每次收到新快照时调用
func OnChange(fn func(room *domain.Room)) Option {
	return func(s *Session) { s.onChange = fn }
}

// OnLobby 房间被删除、会话回到大厅时调用
func OnLobby(fn func()) Option {
	return func(s *Session) { s.onLobby = fn }
}

// Session 同一时刻最多持有一个房间订阅。
// 回调在存储层投递通知的 goroutine 中执行，不能在回调里同步调用会话的写操作。
type Session struct {
	backend  Backend
	identity domain.Identity
	onChange func(*domain.Room)
	onLobby  func()

	mu    sync.Mutex
	state State
	code  string
	room  *domain.Room
	sub   repository.Subscription
	gen   uint64 // 订阅代数，旧订阅的通知会被丢弃
}

func NewSession(backend Backend, identity domain.Identity, opts ...Option) *Session {
	s := &Session{backend: backend, identity: identity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) logCtx() *logrus.Entry {
	s.mu.Lock()
	code := s.code
	s.mu.Unlock()
	return logrus.WithFields(logrus.Fields{"participant_id": s.identity.ParticipantID, "room_code": code})
}

// Create 创建房间并进入，返回房间码
func (s *Session) Create(ctx context.Context) (string, error) {
	room, err := s.backend.Rooms.CreateRoom(ctx, s.identity.ParticipantID, s.identity.DisplayName)
	if err != nil {
		return "", err
	}
	if err := s.subscribe(ctx, room.Code); err != nil {
		return "", err
	}
	return room.Code, nil
}

// Join 加入房间，房间码不区分大小写
func (s *Session) Join(ctx context.Context, code string) error {
	code = domain.NormalizeRoomCode(code)
	room, err := s.backend.Presence.JoinRoom(ctx, code, s.identity.ParticipantID, s.identity.DisplayName)
	if err != nil {
		return err
	}
	return s.subscribe(ctx, room.Code)
}

// Leave 离开当前房间并回到大厅
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	code, sub := s.code, s.sub
	s.gen++
	s.state, s.code, s.room, s.sub = StateLobby, "", nil, nil
	s.mu.Unlock()

	if code == "" {
		return ErrNotInRoom
	}
	if sub != nil {
		_ = sub.Close()
	}
	_, err := s.backend.Presence.LeaveRoom(ctx, code, s.identity.ParticipantID)
	return err
}

// subscribe 关闭旧订阅后订阅新房间
func (s *Session) subscribe(ctx context.Context, code string) error {
	s.mu.Lock()
	previous := s.sub
	s.gen++
	gen := s.gen
	s.code, s.sub = code, nil
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	sub, err := s.backend.Store.Subscribe(ctx, code, func(change repository.Change) {
		s.handle(gen, change)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Session) handle(gen uint64, change repository.Change) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if change.Gone {
		s.gen++
		s.state, s.code, s.room, s.sub = StateLobby, "", nil, nil
		cb := s.onLobby
		s.mu.Unlock()
		logrus.WithField("participant_id", s.identity.ParticipantID).Info("Room gone, returning to lobby")
		if cb != nil {
			cb()
		}
		return
	}
	s.room = change.Room
	s.state = StateInRoom
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(change.Room.Clone())
	}
}

// current 返回当前房间码和快照
func (s *Session) current() (string, *domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom || s.room == nil {
		return "", nil, ErrNotInRoom
	}
	return s.code, s.room, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room 返回最近一次快照的副本
func (s *Session) Room() *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone()
}

// Events 返回按顺序排好的事件日志
func (s *Session) Events() []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	return domain.Materialize(s.room.Clone().Events)
}

func (s *Session) HasRemote() bool {
	_, room, err := s.current()
	return err == nil && room.ControllerID == s.identity.ParticipantID
}

func (s *Session) IsHost() bool {
	_, room, err := s.current()
	return err == nil && room.HostID == s.identity.ParticipantID
}

// SetVideoURL 只有遥控器持有者可以调用
func (s *Session) SetVideoURL(ctx context.Context, url string) error {
	code, room, err := s.current()
	if err != nil {
		return err
	}
	if room.ControllerID != s.identity.ParticipantID {
		return ErrNoRemote
	}
	_, err = s.backend.Playback.UpdateVideoURL(ctx, code, s.identity.ParticipantID, url)
	return err
}

// SetPlaying 只有遥控器持有者可以调用
func (s *Session) SetPlaying(ctx context.Context, playing bool) error {
	code, room, err := s.current()
	if err != nil {
		return err
	}
	if room.ControllerID != s.identity.ParticipantID {
		return ErrNoRemote
	}
	_, err = s.backend.Playback.UpdatePlayState(ctx, code, s.identity.ParticipantID, playing)
	return err
}

func (s *Session) PassRemote(ctx context.Context, targetID string) error {
	code, _, err := s.current()
	if err != nil {
		return err
	}
	_, err = s.backend.Controller.PassRemote(ctx, code, s.identity.ParticipantID, targetID)
	return err
}

func (s *Session) TakeBack(ctx context.Context) error {
	code, _, err := s.current()
	if err != nil {
		return err
	}
	_, err = s.backend.Controller.TakeBackRemote(ctx, code, s.identity.ParticipantID)
	return err
}

func (s *Session) Chat(ctx context.Context, text string) error {
	code, _, err := s.current()
	if err != nil {
		return err
	}
	_, err = s.backend.Events.SendChatMessage(ctx, code, s.identity.ParticipantID, text)
	return err
}

func (s *Session) React(ctx context.Context, emoji string) error {
	code, _, err := s.current()
	if err != nil {
		return err
	}
	_, err = s.backend.Events.SendReaction(ctx, code, s.identity.ParticipantID, emoji)
	return err
}
