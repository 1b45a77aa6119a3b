package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost is matched by every *ConnectionLostError
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrClosed is returned by sends on a closed session
	ErrClosed = errors.New("session: closed")
)

// ConnectionLostError is the failure delivered to every request that was
// pending when the connection went away. Reason is what the transport (or a
// fatal protocol error) reported, and may be nil.
type ConnectionLostError struct {
	Reason  error
	Pending int // requests failed together with this one
}

func (e *ConnectionLostError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("session: connection lost: %v", e.Reason)
	}
	return "session: connection lost"
}

// Unwrap returns the reason so errors.Is can match it
func (e *ConnectionLostError) Unwrap() error {
	return e.Reason
}

// Is makes errors.Is(err, ErrConnectionLost) succeed
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}
