package chat

import "errors"

// Validation errors: rejected before any store or network side effect.
var (
	ErrEmptyMessage = errors.New("chat: empty message content")
	ErrNoUser       = errors.New("chat: no authenticated user")
	ErrNoRoom       = errors.New("chat: no active room")
)
