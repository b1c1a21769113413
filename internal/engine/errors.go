package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnreachable reports a transport failure or timeout talking to the
	// scan engine or the feed.
	ErrEngineUnreachable = errors.New("engine unreachable")
	// ErrProtocol reports a response that does not have the expected shape.
	ErrProtocol = errors.New("engine protocol error")
)

// StatusError is returned when the remote side answers with a non-2xx status.
// It matches ErrProtocol.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrProtocol }
