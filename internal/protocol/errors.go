package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader is matched by every *HeaderError
	ErrMalformedHeader = errors.New("protocol: malformed header")

	// ErrPayloadTooLarge is returned when a header declares a payload above
	// the decoder limit
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// HeaderError reports an inbound header whose magic is neither "\0REQ" nor
// "\0RES". The connection cannot be resynchronised after one.
type HeaderError struct {
	Magic [MagicSize]byte
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("protocol: malformed header: unknown magic %q", e.Magic[:])
}

// Is makes errors.Is(err, ErrMalformedHeader) succeed
func (e *HeaderError) Is(target error) bool {
	return target == ErrMalformedHeader
}

// IsFatal reports whether err leaves the byte stream unusable, in which case
// the connection must be torn down rather than retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedHeader) || errors.Is(err, ErrPayloadTooLarge)
}
