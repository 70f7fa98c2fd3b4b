package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrAlreadyExists 表示创建时目标路径已存在
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrDuplicateEntry 表示违反唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrUnavailable 表示后端存储不可用 (网络或服务故障)
	ErrUnavailable = errors.New("repository: store unavailable")
	// ErrConflict 表示并发写入冲突，重试次数或时间用尽
	ErrConflict = errors.New("repository: write conflict")
)

var (
	ErrRoomNotFound    = ErrNotFound
	ErrArchiveNotFound = ErrNotFound
)
