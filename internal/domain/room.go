package domain

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// RoomCodeLength 房间码固定长度
	RoomCodeLength = 6
	// RoomCodeAlphabet 房间码字符集 (大写字母 + 数字)
	RoomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	MaxNameLength = 20
)

// Room 是一个观影房间的共享文档。所有参与者通过对它的原子更新进行协作。
type Room struct {
	Code         string                  `json:"code"`
	HostID       string                  `json:"hostId"`
	ControllerID string                  `json:"controllerId"`
	ContentURL   string                  `json:"contentUrl,omitempty"`
	IsPlaying    bool                    `json:"isPlaying"`
	Participants map[string]*Participant `json:"participants"`
	Events       map[string]*Event       `json:"events"`
	// NextSequence 下一个事件的序号，在同一次原子更新中递增
	NextSequence int64 `json:"nextSequence"`
	// LastEventAt 最近一条事件的时间戳，新事件的时间戳不会早于它
	LastEventAt int64 `json:"lastEventAt"`
	CreatedAt   int64 `json:"createdAt"`
	// PeakParticipants 房间生命周期内的最大在线人数，仅用于归档
	PeakParticipants int `json:"peakParticipants"`
}

// Participant 表示房间内的一个参与者。
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"` // Unix 毫秒
}

// NewRoom 创建一个只包含房主的新房间，房主同时是遥控器持有者。
func NewRoom(code, hostID, hostName string, now int64) *Room {
	return &Room{
		Code:         code,
		HostID:       hostID,
		ControllerID: hostID,
		Participants: map[string]*Participant{
			hostID: {ID: hostID, Name: hostName, IsHost: true, JoinedAt: now},
		},
		Events:           make(map[string]*Event),
		CreatedAt:        now,
		PeakParticipants: 1,
	}
}

// NormalizeRoomCode 去除空白并转为大写。
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode 检查房间码格式 (6 位大写字母数字)。
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, c) {
			return false
		}
	}
	return true
}

// NormalizeName 去除首尾空白，返回名字是否合法 (1-20 个字符)。
func NormalizeName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n >= 1 && n <= MaxNameLength
}

// HasParticipant 判断 id 是否为当前成员。
func (r *Room) HasParticipant(id string) bool {
	_, ok := r.Participants[id]
	return ok
}

// ParticipantName 返回成员的显示名，不存在时返回空字符串。
func (r *Room) ParticipantName(id string) string {
	if p, ok := r.Participants[id]; ok {
		return p.Name
	}
	return ""
}

// ParticipantList 按 (joinedAt, id) 排序返回成员列表，用于恢复加入顺序。
func (r *Room) ParticipantList() []*Participant {
	list := make([]*Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt != list[j].JoinedAt {
			return list[i].JoinedAt < list[j].JoinedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Clone 深拷贝房间文档，订阅者拿到的快照互不影响。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Participants = make(map[string]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		pc := *p
		c.Participants[id] = &pc
	}
	c.Events = make(map[string]*Event, len(r.Events))
	for id, e := range r.Events {
		ec := *e
		c.Events[id] = &ec
	}
	return &c
}

// EnsureMaps 初始化反序列化后可能为 nil 的 map。
func (r *Room) EnsureMaps() {
	if r.Participants == nil {
		r.Participants = make(map[string]*Participant)
	}
	if r.Events == nil {
		r.Events = make(map[string]*Event)
	}
}
