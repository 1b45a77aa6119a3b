// Package protocol implements the binary wire format spoken between job-queue
// clients, workers and job servers.
//
// # Frame Format
//
// Every frame is a fixed 12-byte header followed by an opaque payload:
//
//		+--------+---------+--------+------------+
//		| MAGIC  | COMMAND | LENGTH |  PAYLOAD   |
//		+--------+---------+--------+------------+
//		|   4    |    4    |   4    | Var(LENGTH)|
//		+--------+---------+--------+------------+
//
//	  - MAGIC: "\0REQ" for frames sent to a server, "\0RES" for frames sent by one
//	  - COMMAND: command code, big-endian uint32
//	  - LENGTH: payload length in bytes, big-endian uint32
//
// # Streaming Decode
//
// Transports hand over bytes in chunks of arbitrary size. Decode consumes the
// complete frames at the front of a buffer and returns the unconsumed tail,
// which the caller prepends to the next chunk:
//
//	buf = append(buf, chunk...)
//	frames, buf, err = protocol.Decode(buf)
//
// A frame is only returned once its whole payload is present. The decoder
// keeps no state between calls.
//
// # Error Handling
//
// An unknown magic yields a *HeaderError (errors.Is ErrMalformedHeader). The
// stream cannot be resynchronised afterwards, so IsFatal reports true and the
// caller must close the connection.
//
// # Commands
//
// Command carries the code table with protocol names. Classifier separates
// server push notifications (WORK_COMPLETE, NOOP, ...) from replies to
// pending requests; DefaultUnsolicited is the usual split.
package protocol
