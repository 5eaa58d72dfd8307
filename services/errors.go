// services/errors.go
package services

import "errors"

// 错误定义. Wrapped with context via %w; compare with errors.Is.
var (
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrGameNotFound        = errors.New("game not found")
	ErrNotAPlayer          = errors.New("not a player")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrUnknownPlayer       = errors.New("unknown player")
	ErrDeadPlayer          = errors.New("dead player")
	ErrSelfVote            = errors.New("self vote")
	ErrNoVote              = errors.New("no vote")
	ErrInsufficientPlayers = errors.New("insufficient players")
	ErrInvalidConfig       = errors.New("invalid server config")
	ErrStoreTimeout        = errors.New("store timeout")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Errors lists every sentinel, for transports that carry errors as text.
var Errors = []error{
	ErrConflict,
	ErrInvalidState,
	ErrGameNotFound,
	ErrNotAPlayer,
	ErrAlreadyJoined,
	ErrUnknownPlayer,
	ErrDeadPlayer,
	ErrSelfVote,
	ErrNoVote,
	ErrInsufficientPlayers,
	ErrInvalidConfig,
	ErrStoreTimeout,
	ErrStoreUnavailable,
}
