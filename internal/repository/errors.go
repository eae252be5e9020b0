package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrConflict 表示条件更新的前置条件不成立（例如成员已引用一个会话）
	ErrConflict = errors.New("repository: conditional update conflict")
	// ErrUnavailable 表示后端暂时不可用，调用方可以重试
	ErrUnavailable = errors.New("repository: store unavailable")
)

// 特定资源的错误
var (
	ErrRoomNotFound    = ErrNotFound
	ErrMemberNotFound  = ErrNotFound
	ErrSessionNotFound = ErrNotFound
)
