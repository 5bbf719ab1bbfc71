package dispatch

import (
	"errors"

	"github.com/jcoop32/applied/database/tasks"
)

var (
	// ErrNoCapacity means the local worker pool has no free slot.
	ErrNoCapacity = errors.New("local worker pool is saturated")
	// ErrTargetUnreachable means a requested execution target is missing
	// its prerequisites (endpoint, credentials). Dispatch fails fast
	// instead of silently running somewhere else.
	ErrTargetUnreachable = errors.New("execution target is not reachable")
	// ErrConflictingTaskActive re-exports the store conflict error.
	ErrConflictingTaskActive = tasks.ErrConflictingTaskActive
	// ErrInvalidRequest covers malformed dispatch requests.
	ErrInvalidRequest = errors.New("invalid task request")
)
