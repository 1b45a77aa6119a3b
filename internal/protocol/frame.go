package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Wire header layout
const (
	HeaderSize = 12 // magic(4) + command(4) + length(4)
	MagicSize  = 4
	commandOff = 4
	lengthOff  = 8
	MaxPayload = math.MaxUint32
)

// Magic tags that open every header
var (
	MagicRequest  = [MagicSize]byte{0, 'R', 'E', 'Q'}
	MagicResponse = [MagicSize]byte{0, 'R', 'E', 'S'}
)

// Kind tells which side of the connection produced a frame
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
)

// String returns the wire tag without the leading NUL
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQ"
	case KindResponse:
		return "RES"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Magic returns the four header bytes for the kind
func (k Kind) Magic() [MagicSize]byte {
	if k == KindResponse {
		return MagicResponse
	}
	return MagicRequest
}

// Frame is one complete wire unit
type Frame struct {
	Kind    Kind
	Command Command
	Payload []byte
}

// String returns a debug representation of the frame
func (f Frame) String() string {
	return fmt.Sprintf("Frame{kind=%s, command=%s, length=%d}", f.Kind, f.Command, len(f.Payload))
}

// Args splits the payload into at most n NUL-separated arguments
func (f Frame) Args(n int) [][]byte {
	return SplitArgs(f.Payload, n)
}

// AppendHeader appends a request header for command and a payload of length n.
// It panics when n does not fit the 32-bit length field.
func AppendHeader(dst []byte, cmd Command, n int) []byte {
	return appendHeader(dst, KindRequest, cmd, n)
}

func appendHeader(dst []byte, kind Kind, cmd Command, n int) []byte {
	if n < 0 || uint64(n) > MaxPayload {
		panic(fmt.Sprintf("protocol: payload length %d does not fit in a uint32", n))
	}
	magic := kind.Magic()
	dst = append(dst, magic[:]...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(cmd))
	dst = binary.BigEndian.AppendUint32(dst, uint32(n))
	return dst
}

// Encode builds a complete request frame:
//
//	"\0REQ" | command (uint32 BE) | len(payload) (uint32 BE) | payload
//
// There is no error return; a payload of 4 GiB or more is a programming error
// and panics.
func Encode(cmd Command, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, cmd, len(payload))
	return append(buf, payload...)
}

// EncodeFrame encodes f using its own kind. Servers and test peers use this
// to build "\0RES" frames.
func EncodeFrame(f Frame) []byte {
	kind := f.Kind
	if kind == 0 {
		kind = KindRequest
	}
	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = appendHeader(buf, kind, f.Command, len(f.Payload))
	return append(buf, f.Payload...)
}

// Decoder extracts frames from an accumulating buffer. It keeps no state of
// its own; the caller owns the buffer and passes the remainder back in.
type Decoder struct {
	// MaxPayload rejects headers that declare a longer payload.
	// Zero means no limit beyond the 32-bit length field.
	MaxPayload uint32
}

// Decode consumes every complete frame at the front of buf and returns them
// along with the unconsumed tail. The tail aliases buf.
//
// When a header carries an unknown magic the frames decoded before it are
// still returned, rest holds the bytes from the bad header onward, and err
// is a *HeaderError matching ErrMalformedHeader.
func (d Decoder) Decode(buf []byte) (frames []Frame, rest []byte, err error) {
	rest = buf
	for len(rest) >= HeaderSize {
		kind, ok := kindOf(rest[:MagicSize])
		if !ok {
			var magic [MagicSize]byte
			copy(magic[:], rest[:MagicSize])
			return frames, rest, &HeaderError{Magic: magic}
		}

		length := binary.BigEndian.Uint32(rest[lengthOff:HeaderSize])
		if d.MaxPayload > 0 && length > d.MaxPayload {
			return frames, rest, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, d.MaxPayload)
		}

		end := uint64(HeaderSize) + uint64(length)
		if uint64(len(rest)) < end {
			break
		}

		payload := make([]byte, length)
		copy(payload, rest[HeaderSize:end])
		frames = append(frames, Frame{
			Kind:    kind,
			Command: Command(binary.BigEndian.Uint32(rest[commandOff:lengthOff])),
			Payload: payload,
		})
		rest = rest[end:]
	}
	return frames, rest, nil
}

// Decode runs an unlimited Decoder over buf
func Decode(buf []byte) ([]Frame, []byte, error) {
	return Decoder{}.Decode(buf)
}

func kindOf(magic []byte) (Kind, bool) {
	switch {
	case bytes.Equal(magic, MagicRequest[:]):
		return KindRequest, true
	case bytes.Equal(magic, MagicResponse[:]):
		return KindResponse, true
	default:
		return 0, false
	}
}
