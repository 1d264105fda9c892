package queue

import "errors"

var (
	// ErrNotFound indicates the item id is unknown.
	ErrNotFound = errors.New("queue item not found")
	// ErrDuplicateSource indicates an equivalent non-terminal item already exists.
	ErrDuplicateSource = errors.New("source already queued")
	// ErrAlreadyClaimed indicates another worker holds the item.
	ErrAlreadyClaimed = errors.New("queue item already claimed")
	// ErrInvalidTransition indicates a status change along an edge the state
	// machine does not define. The stored state is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
)
