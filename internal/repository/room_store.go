package repository

import (
	"context"

	"movienights/internal/domain"
)

// Commit 是 Mutation 返回的提交决定。
type Commit int

const (
	// CommitSave 保存修改后的文档
	CommitSave Commit = iota
	// CommitDelete 在同一原子步骤中删除整个文档
	CommitDelete
	// CommitNone 不写入任何内容
	CommitNone
)

// Mutation 在一次原子更新中修改房间文档。
// 返回错误时整个更新被放弃，错误原样返回给调用者。
type Mutation func(room *domain.Room) (Commit, error)

// Change 是订阅者收到的通知：要么是完整快照，要么是终止的 Gone 信号。
type Change struct {
	Room *domain.Room
	Gone bool
}

// ChangeHandler 处理订阅通知。
type ChangeHandler func(Change)

// Subscription 是订阅句柄，Close 后不再收到通知并释放底层连接。
type Subscription interface {
	Close() error
}

// RoomStore 定义了共享房间文档的存储操作。
type RoomStore interface {
	// Create 写入新房间；如果房间码已被占用返回 ErrAlreadyExists。
	Create(ctx context.Context, room *domain.Room) error

	// Exists 纯存在性检查，无副作用。
	Exists(ctx context.Context, code string) (bool, error)

	// Get 获取当前文档；不存在时返回 ErrNotFound。
	Get(ctx context.Context, code string) (*domain.Room, error)

	// Update 原子地执行读-改-写。返回提交后的文档；CommitDelete 时返回 nil。
	Update(ctx context.Context, code string, mutate Mutation) (*domain.Room, error)

	// Remove 删除文档，订阅者会收到 Gone。
	Remove(ctx context.Context, code string) error

	// Subscribe 注册监听器。先投递当前快照；房间不存在或被删除时投递一次 Gone。
	Subscribe(ctx context.Context, code string, handler ChangeHandler) (Subscription, error)

	// LiveCodes 返回所有存活房间的房间码。
	LiveCodes(ctx context.Context) ([]string, error)
}
