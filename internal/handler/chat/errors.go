package chat

import "errors"

var (
	errMessageEmpty   = errors.New("message cannot be empty")
	errMessageTooLong = errors.New("message is too long")
	errMessageSpam    = errors.New("invalid message format")
	errBadSessionID   = errors.New("invalid session ID format")
)
