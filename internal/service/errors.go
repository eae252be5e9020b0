package service

import (
	"errors"
	"fmt"

	"studyroomix/internal/repository"
	"studyroomix/internal/retry"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotMember         = errors.New("user is not a member of the room")
	ErrInvalidCredential = errors.New("invalid room credential")
	ErrNotAuthorized     = errors.New("not authorized for this operation")
	ErrAlreadyActive     = errors.New("member already has an open session")
	ErrWrongRoomKind     = errors.New("operation not supported by this room kind")
	ErrStoreUnavailable  = errors.New("store temporarily unavailable")
	ErrOperationFailed   = errors.New("operation failed after retries")
	ErrInternalServer    = errors.New("internal server error")

	// 校验错误
	ErrInvalidRoom     = errors.New("invalid room data")
	ErrInvalidMessage  = errors.New("invalid message content")
	ErrInvalidPlayback = errors.New("invalid playback state")
	ErrInvalidPrompt   = errors.New("invalid assistant prompt")

	ErrAssistantUnavailable = errors.New("assistant is not available")
)

// mapRepoError 将仓库层/重试层的错误映射到服务层定义的错误。
// notFound 指定 repository.ErrNotFound 在当前上下文中的含义。
func mapRepoError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, retry.ErrExhausted):
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	case errors.Is(err, repository.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case notFound != nil && errors.Is(err, repository.ErrNotFound):
		return notFound
	default:
		return fmt.Errorf("%w: %v", ErrInternalServer, err)
	}
}
