package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"movienights/internal/dto"
	"movienights/internal/repository"
	"movienights/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 2048

	// 处理单条入站命令的超时
	commandTimeout = 5 * time.Second
)

// Services 是 Hub 分派入站命令时依赖的服务
type Services struct {
	Presence   *service.PresenceService
	Events     *service.EventLogService
	Controller *service.ControllerService
	Playback   *service.PlaybackService
}

// roomChannel 是一个房间在本节点上的所有连接和唯一的存储订阅
type roomChannel struct {
	code    string
	mu      sync.Mutex
	clients map[*Client]struct{}
	sub     repository.Subscription
	last    []byte // 最近一次快照，供后加入的连接立即使用
	done    bool   // 已收到 Gone 或已无连接
}

// Hub 维护活跃客户端集合，并把房间文档的变更扇出给它们
type Hub struct {
	store    repository.RoomStore
	services Services

	// map[roomCode]*roomChannel
	rooms   map[string]*roomChannel
	roomsMu sync.Mutex

	goneMsg []byte
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(store repository.RoomStore, services Services) *Hub {
	if store == nil {
		panic("RoomStore cannot be nil for Hub")
	}
	if services.Presence == nil || services.Events == nil || services.Controller == nil || services.Playback == nil {
		panic("all services must be non-nil for Hub")
	}
	goneMsg, _ := json.Marshal(dto.RoomGoneDTO{Type: dto.TypeRoomGone})
	return &Hub{
		store:    store,
		services: services,
		rooms:    make(map[string]*roomChannel),
		goneMsg:  goneMsg,
	}
}

// Register 将客户端挂到房间上。房间的第一个连接会建立存储订阅，
// 之后的连接直接收到最近一次快照。
func (h *Hub) Register(ctx context.Context, client *Client) error {
	if client == nil {
		return errors.New("hub: cannot register a nil client")
	}
	code := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code":      code,
		"participant_id": client.ParticipantID(),
		"action":         "registerClient",
	})

	h.roomsMu.Lock()
	rc, existed := h.rooms[code]
	if existed {
		rc.mu.Lock()
		if rc.done {
			// roomGone 已开始拆除但尚未移出 map，换一个新的 roomChannel 重新订阅
			existed = false
		} else {
			rc.clients[client] = struct{}{}
			if rc.last != nil {
				client.enqueue(rc.last)
			}
		}
		rc.mu.Unlock()
	}
	if !existed {
		rc = &roomChannel{code: code, clients: map[*Client]struct{}{client: {}}}
		h.rooms[code] = rc
		logCtx.Info("Client list created for new room")
	}
	h.roomsMu.Unlock()

	if existed {
		logCtx.Info("Client registered to Hub")
		return nil
	}

	sub, err := h.store.Subscribe(ctx, code, func(change repository.Change) {
		h.deliver(rc, change)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to subscribe to room store")
		h.detach(rc)
		return err
	}

	rc.mu.Lock()
	if rc.done {
		rc.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	rc.sub = sub
	rc.mu.Unlock()
	logCtx.Info("Client registered to Hub, room subscription opened")
	return nil
}

// Unregister 移除客户端。房间的最后一个连接离开时关闭存储订阅。
// 断开连接不等于离开房间，成员资格由心跳清理负责。
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}
	code := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code":      code,
		"participant_id": client.ParticipantID(),
		"action":         "unregisterClient",
	})

	var sub repository.Subscription
	h.roomsMu.Lock()
	if rc, ok := h.rooms[code]; ok {
		rc.mu.Lock()
		delete(rc.clients, client)
		if len(rc.clients) == 0 {
			rc.done = true
			sub, rc.sub = rc.sub, nil
			delete(h.rooms, code)
			logCtx.Info("Room empty, removed from Hub")
		}
		rc.mu.Unlock()
	}
	h.roomsMu.Unlock()

	client.closeSend()
	if sub != nil {
		if err := sub.Close(); err != nil {
			logCtx.WithError(err).Warn("Failed to close room subscription")
		}
	}
	logCtx.Info("Client unregistered from Hub")
}

// deliver 处理存储订阅的通知。调用方可能是存储层的 goroutine，也可能是 Update 的调用者。
func (h *Hub) deliver(rc *roomChannel, change repository.Change) {
	if change.Gone {
		h.roomGone(rc)
		return
	}
	msg, err := json.Marshal(dto.NewSnapshot(change.Room))
	if err != nil {
		logrus.WithField("room_code", rc.code).WithError(err).Error("Failed to marshal snapshot message")
		return
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.done {
		return
	}
	rc.last = msg
	for client := range rc.clients {
		client.enqueue(msg)
	}
}

// roomGone 向每个连接发送一次 room_gone 并关闭它们
func (h *Hub) roomGone(rc *roomChannel) {
	rc.mu.Lock()
	if rc.done {
		rc.mu.Unlock()
		return
	}
	rc.done = true
	clients := rc.clients
	rc.clients = make(map[*Client]struct{})
	sub := rc.sub
	rc.sub = nil
	rc.mu.Unlock()

	h.roomsMu.Lock()
	if h.rooms[rc.code] == rc {
		delete(h.rooms, rc.code)
	}
	h.roomsMu.Unlock()

	for client := range clients {
		client.enqueue(h.goneMsg)
		client.closeSend()
	}
	if sub != nil {
		// 当前处于存储层的投递过程中，不能同步关闭订阅
		go func() { _ = sub.Close() }()
	}
	logrus.WithFields(logrus.Fields{"room_code": rc.code, "client_count": len(clients)}).Info("Room gone, clients closed")
}

// detach 在订阅失败时拆除房间记录并关闭已挂上的连接
func (h *Hub) detach(rc *roomChannel) {
	h.roomsMu.Lock()
	if h.rooms[rc.code] == rc {
		delete(h.rooms, rc.code)
	}
	h.roomsMu.Unlock()

	rc.mu.Lock()
	rc.done = true
	clients := rc.clients
	rc.clients = make(map[*Client]struct{})
	rc.mu.Unlock()
	for client := range clients {
		client.closeSend()
	}
}

// Touch 刷新连接对应参与者的心跳
func (h *Hub) Touch(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	h.services.Presence.Touch(ctx, client.RoomCode(), client.ParticipantID())
}

// HandleMessage 解析并分派一条入站命令。失败时只给发送者回错误消息，
// 成功的结果通过订阅快照到达所有连接。
func (h *Hub) HandleMessage(client *Client, raw []byte) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code":      client.RoomCode(),
		"participant_id": client.ParticipantID(),
		"operation":      "handleClientMessage",
	})
	h.Touch(client)

	var msg dto.IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logCtx.WithError(err).Debug("Invalid message payload")
		h.sendError(client, "invalid message payload")
		return
	}
	if err := binding.Validator.ValidateStruct(&msg); err != nil {
		logCtx.WithError(err).Debugf("Unknown message type: %s", msg.Type)
		h.sendError(client, "unknown message type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	code, pid := client.RoomCode(), client.ParticipantID()

	var err error
	switch msg.Type {
	case "chat":
		_, err = h.services.Events.SendChatMessage(ctx, code, pid, msg.Text)
	case "reaction":
		_, err = h.services.Events.SendReaction(ctx, code, pid, msg.Emoji)
	case "play":
		if msg.IsPlaying == nil {
			err = service.ErrInvalidMessage
			break
		}
		_, err = h.services.Playback.UpdatePlayState(ctx, code, pid, *msg.IsPlaying)
	case "url":
		_, err = h.services.Playback.UpdateVideoURL(ctx, code, pid, msg.URL)
	case "pass_remote":
		_, err = h.services.Controller.PassRemote(ctx, code, pid, msg.TargetID)
	case "take_back":
		_, err = h.services.Controller.TakeBackRemote(ctx, code, pid)
	}
	if err != nil {
		logCtx.WithError(err).WithField("message_type", msg.Type).Info("Client command rejected")
		h.sendError(client, err.Error())
	}
}

func (h *Hub) sendError(client *Client, message string) {
	payload, err := json.Marshal(dto.ErrorDTO{Type: dto.TypeError, Message: message})
	if err != nil {
		return
	}
	client.enqueue(payload)
}

// RoomCount 返回本节点上有连接的房间数
func (h *Hub) RoomCount() int {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	return len(h.rooms)
}

// Shutdown 关闭所有连接和订阅
func (h *Hub) Shutdown() {
	h.roomsMu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*roomChannel)
	h.roomsMu.Unlock()

	for _, rc := range rooms {
		rc.mu.Lock()
		rc.done = true
		clients := rc.clients
		rc.clients = make(map[*Client]struct{})
		sub := rc.sub
		rc.sub = nil
		rc.mu.Unlock()
		for client := range clients {
			client.closeSend()
		}
		if sub != nil {
			_ = sub.Close()
		}
	}
	logrus.WithField("room_count", len(rooms)).Info("Hub shut down")
}
