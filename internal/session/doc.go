// Package session holds the protocol state of a single job-server connection.
//
// A Session owns the decode buffer, the queue of requests awaiting replies and
// the set of observers for server push notifications. It never reads from the
// network: the owner writes inbound bytes into Feed and the session writes
// outbound frames to its Transport.
//
// # Correlation
//
// Replies resolve pending requests strictly first-in first-out, whatever
// their command code. A reply that is not a known answer to the oldest
// request still resolves it; the mismatch is logged and counted in Stats.
// A reply with nothing pending is dropped.
//
// # Lifecycle
//
//	Active --Feed(malformed header)--> Closed   (transport closed once)
//	Active --ConnectionLost(reason)--> Closed   (pending fail with reason)
//	Active --Close()-----------------> Closed   (reason ErrClosed)
//
// Once Closed, sends return ErrClosed, Feed ignores its input and handlers
// receive nothing further.
//
// # Concurrency
//
// Session has no locking. Send, Feed and ConnectionLost must be called from
// one goroutine at a time; internal/client provides that serialisation.
// Completions may be waited on from any goroutine.
package session
