package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
	"movienights/internal/repository"
)

const (
	DefaultEventLogLimit = 500
	MaxChatLength        = 500
	MaxEmojiLength       = 16
)

// eventWriter 在 mutation 内部为事件分配 id、序号和时间戳。
type eventWriter struct {
	now   func() time.Time
	limit int
}

func (w eventWriter) append(room *domain.Room, ev *domain.Event) *domain.Event {
	room.EnsureMaps()
	ts := w.now().UnixMilli()
	if ts < room.LastEventAt {
		ts = room.LastEventAt
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = ts
	ev.Sequence = room.NextSequence
	room.NextSequence++
	room.LastEventAt = ts
	room.Events[ev.ID] = ev

	if w.limit > 0 && len(room.Events) > w.limit {
		ordered := domain.Materialize(room.Events)
		for _, old := range ordered[:len(ordered)-w.limit] {
			delete(room.Events, old.ID)
		}
	}
	return ev
}

func (w eventWriter) system(room *domain.Room, text string) *domain.Event {
	return w.append(room, &domain.Event{Type: domain.EventSystem, Text: text})
}

// EventLogService 负责房间事件日志 (聊天、表情、系统消息) 的追加。
type EventLogService struct {
	store  repository.RoomStore
	writer eventWriter
}

// NewEventLogService 创建 EventLogService 实例。limit <= 0 表示不限制日志长度。
func NewEventLogService(store repository.RoomStore, limit int) *EventLogService {
	if store == nil {
		panic("RoomStore cannot be nil for EventLogService")
	}
	return &EventLogService{store: store, writer: eventWriter{now: time.Now, limit: limit}}
}

// Append 将事件写入房间日志。chat/reaction 事件的发送者必须是成员，显示名取自房间文档。
func (s *EventLogService) Append(ctx context.Context, code string, ev domain.Event) (*domain.Event, error) {
	code = domain.NormalizeRoomCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "event_type": ev.Type, "participant_id": ev.UserID})

	var written *domain.Event
	_, err := s.store.Update(ctx, code, func(room *domain.Room) (repository.Commit, error) {
		if ev.Type != domain.EventSystem {
			p, ok := room.Participants[ev.UserID]
			if !ok {
				return repository.CommitNone, ErrNotMember
			}
			ev.UserName = p.Name
		}
		e := ev
		written = s.writer.append(room, &e)
		return repository.CommitSave, nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Failed to append event")
		return nil, mapRepoError(err)
	}
	logCtx.WithField("sequence", written.Sequence).Debug("Event appended")
	return written, nil
}

// SendChatMessage 发送一条聊天消息
func (s *EventLogService) SendChatMessage(ctx context.Context, code, userID, text string) (*domain.Event, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n == 0 || n > MaxChatLength {
		return nil, ErrInvalidMessage
	}
	return s.Append(ctx, code, domain.Event{Type: domain.EventChat, UserID: userID, Text: text})
}

// SendReaction 发送一个表情反应
func (s *EventLogService) SendReaction(ctx context.Context, code, userID, emoji string) (*domain.Event, error) {
	emoji = strings.TrimSpace(emoji)
	if n := utf8.RuneCountInString(emoji); n == 0 || n > MaxEmojiLength {
		return nil, ErrInvalidMessage
	}
	return s.Append(ctx, code, domain.Event{Type: domain.EventReaction, UserID: userID, Emoji: emoji})
}
