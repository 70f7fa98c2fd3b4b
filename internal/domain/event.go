package domain

import "sort"

// EventType 事件日志中的事件类型
type EventType string

const (
	EventSystem   EventType = "system"
	EventChat     EventType = "chat"
	EventReaction EventType = "reaction"
)

// Event 是房间事件日志中的一条记录 (system / chat / reaction 的联合体)。
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Text      string    `json:"text,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	Timestamp int64     `json:"timestamp"` // Unix 毫秒
	Sequence  int64     `json:"sequence"`
}

// Materialize 将无序存储的事件集合按 (timestamp, sequence) 升序排列。
// 存储的迭代顺序不可信，客户端每次收到快照都应重新排序。
func Materialize(events map[string]*Event) []*Event {
	list := make([]*Event, 0, len(events))
	for _, e := range events {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		return eventLess(list[i], list[j])
	})
	return list
}

func eventLess(a, b *Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ID < b.ID
}
