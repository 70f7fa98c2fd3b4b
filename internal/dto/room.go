package dto

import "movienights/internal/domain"

// 消息类型
const (
	TypeSnapshot = "snapshot"
	TypeRoomGone = "room_gone"
	TypeError    = "error"
)

// ParticipantView 是发送给客户端的成员信息
type ParticipantView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"`
}

// RoomView 房间文档中除事件日志外的部分，成员按加入顺序排列
type RoomView struct {
	Code         string            `json:"code"`
	HostID       string            `json:"hostId"`
	ControllerID string            `json:"controllerId"`
	ContentURL   string            `json:"contentUrl,omitempty"`
	IsPlaying    bool              `json:"isPlaying"`
	Participants []ParticipantView `json:"participants"`
}

// SnapshotDTO 表示一次完整的房间快照，事件已按 (timestamp, sequence) 排好序
type SnapshotDTO struct {
	Type   string          `json:"type"`
	Room   RoomView        `json:"room"`
	Events []*domain.Event `json:"events"`
}

// NewSnapshot 从房间文档构造快照
func NewSnapshot(room *domain.Room) SnapshotDTO {
	list := room.ParticipantList()
	view := RoomView{
		Code:         room.Code,
		HostID:       room.HostID,
		ControllerID: room.ControllerID,
		ContentURL:   room.ContentURL,
		IsPlaying:    room.IsPlaying,
		Participants: make([]ParticipantView, 0, len(list)),
	}
	for _, p := range list {
		view.Participants = append(view.Participants, ParticipantView{ID: p.ID, Name: p.Name, IsHost: p.IsHost, JoinedAt: p.JoinedAt})
	}
	return SnapshotDTO{Type: TypeSnapshot, Room: view, Events: domain.Materialize(room.Events)}
}

// RoomGoneDTO 房间已删除的终止信号
type RoomGoneDTO struct {
	Type string `json:"type"`
}

// ErrorDTO 表示发送给客户端的错误消息数据结构
type ErrorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IncomingMessage 表示从客户端 WebSocket 消息中接收的命令
type IncomingMessage struct {
	Type      string `json:"type" binding:"required,oneof=chat reaction play url pass_remote take_back"`
	Text      string `json:"text,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	URL       string `json:"url,omitempty"`
	IsPlaying *bool  `json:"isPlaying,omitempty"`
	TargetID  string `json:"targetId,omitempty"`
}
