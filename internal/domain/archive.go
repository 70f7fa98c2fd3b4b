package domain

import "time"

// RoomArchive 记录一个房间的生命周期元数据 (不包含聊天内容)。
type RoomArchive struct {
	ID               uint       `gorm:"primaryKey"`
	Code             string     `gorm:"size:6;not null;uniqueIndex:idx_code_opened"`
	HostID           string     `gorm:"size:64;not null"`
	HostName         string     `gorm:"size:64"`
	OpenedAt         time.Time  `gorm:"not null;uniqueIndex:idx_code_opened"`
	ClosedAt         *time.Time `gorm:"index"`
	PeakParticipants int        `gorm:"not null;default:1"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}
