package service

import (
	"errors"

	"movienights/internal/repository"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomCreationConflict = errors.New("room code already in use")
	ErrInvalidRoomCode      = errors.New("invalid room code")
	ErrInvalidName          = errors.New("display name must be 1-20 characters")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrNotMember            = errors.New("participant is not in the room")
	ErrNotController        = errors.New("participant does not hold the remote")
	ErrTargetNotMember      = errors.New("target participant is not in the room")
	ErrNotHost              = errors.New("only the host can take back the remote")
	ErrInvalidTicket        = errors.New("invalid or expired ticket")
	ErrStoreUnavailable     = errors.New("room store unavailable")
	ErrWriteConflict        = errors.New("room is busy, please retry")
	ErrInternalServer       = errors.New("internal server error")
)

// 业务错误原样透传，不做映射
var businessErrors = []error{
	ErrRoomNotFound, ErrRoomCreationConflict, ErrInvalidRoomCode, ErrInvalidName,
	ErrInvalidMessage, ErrNotMember, ErrNotController, ErrTargetNotMember, ErrNotHost,
}

// mapRepoError 将仓库层的错误映射到服务层定义的错误。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrAlreadyExists):
		return ErrRoomCreationConflict
	case errors.Is(err, repository.ErrConflict):
		return ErrWriteConflict
	case errors.Is(err, repository.ErrUnavailable):
		return ErrStoreUnavailable
	}
	return ErrInternalServer
}
