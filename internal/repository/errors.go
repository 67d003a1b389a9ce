package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrStateConflict 表示条件更新没有命中任何行 (状态已被并发修改或不满足前置条件)
	ErrStateConflict = errors.New("repository: state conflict")
	// ErrCapacity 表示项目下的非终止会话数已达到上限
	ErrCapacity = errors.New("repository: capacity reached")
)

// 特定资源的错误 (基于通用错误)
var (
	ErrUserNotFound        = ErrNotFound
	ErrSessionNotFound     = ErrNotFound
	ErrParticipantNotFound = ErrNotFound
	ErrProjectNotFound     = ErrNotFound
	ErrJoinRequestNotFound = ErrNotFound
)
