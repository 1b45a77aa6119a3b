package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// Transport is the outbound half of a connection. The session writes to it
// and closes it; inbound bytes arrive through Session.Feed.
type Transport interface {
	Write(p []byte) error
	WriteMany(bufs [][]byte) error
	Close() error
}

// State is the session lifecycle state
type State int

const (
	Active State = iota
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options tunes a Session. The zero value uses the default unsolicited
// command set and no payload limit.
type Options struct {
	// Classifier decides which inbound commands are push notifications
	Classifier protocol.Classifier

	// MaxPayload rejects inbound frames declaring a longer payload
	MaxPayload uint32

	// OnFault is called for every unsolicited handler that panics
	OnFault func(*HandlerFault)
}

// Session is the protocol state of one connection. It is not safe for
// concurrent use; callers serialise Send, Feed and ConnectionLost.
type Session struct {
	transport  Transport
	classifier protocol.Classifier
	decoder    protocol.Decoder
	onFault    func(*HandlerFault)

	state    State
	err      error
	buf      []byte
	pending  PendingQueue
	registry Registry
	stats    statsCollector

	transportClosed bool
}

// New creates an Active session writing to t
func New(t Transport, opts Options) *Session {
	if t == nil {
		panic("session: nil transport")
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = protocol.DefaultUnsolicited()
	}
	return &Session{
		transport:  t,
		classifier: classifier,
		decoder:    protocol.Decoder{MaxPayload: opts.MaxPayload},
		onFault:    opts.OnFault,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state
}

// Err returns the reason the session closed, or nil while Active
func (s *Session) Err() error {
	return s.err
}

// Pending returns the number of requests awaiting a reply
func (s *Session) Pending() int {
	return s.pending.Len()
}

// Handlers returns the number of registered unsolicited handlers
func (s *Session) Handlers() int {
	return s.registry.Len()
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

// Send writes a request and returns the completion its reply resolves.
// Nothing is queued when the write fails.
func (s *Session) Send(cmd protocol.Command, payload []byte) (*Completion, error) {
	if err := s.write(cmd, payload); err != nil {
		return nil, err
	}
	s.stats.recordEnqueued()
	return s.pending.Enqueue(cmd), nil
}

// SendRaw writes a request without tracking a reply. Use it for commands
// the server never answers directly.
func (s *Session) SendRaw(cmd protocol.Command, payload []byte) error {
	return s.write(cmd, payload)
}

// SleepNotice tells the server the caller is about to sleep. PRE_SLEEP has no
// direct reply; the server later wakes the caller with an unsolicited NOOP.
func (s *Session) SleepNotice() error {
	return s.SendRaw(protocol.PreSleep, nil)
}

// Echo sends ECHO_REQ carrying protocol.EchoProbe(). The completion resolves
// with the server's ECHO_RES.
func (s *Session) Echo() (*Completion, error) {
	return s.Send(protocol.EchoReq, protocol.EchoProbe())
}

func (s *Session) write(cmd protocol.Command, payload []byte) error {
	if s.state == Closed {
		if s.err != nil {
			return fmt.Errorf("%w: %w", ErrClosed, s.err)
		}
		return ErrClosed
	}

	header := protocol.AppendHeader(make([]byte, 0, protocol.HeaderSize), cmd, len(payload))
	bufs := [][]byte{header}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	if err := s.transport.WriteMany(bufs); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}

	s.stats.recordSent(protocol.HeaderSize + len(payload))
	if logging.DebugEnabled() {
		logging.LogFrame("sent", protocol.KindRequest.String(), cmd.String(), payload)
	}
	return nil
}

// RegisterUnsolicited adds h to the push notification observers. It reports
// false when h was already registered.
func (s *Session) RegisterUnsolicited(h Handler) bool {
	return s.registry.Register(h)
}

// UnregisterUnsolicited removes h. It reports false when h was not registered.
// Handlers can be removed after the session closes.
func (s *Session) UnregisterUnsolicited(h Handler) bool {
	return s.registry.Unregister(h)
}

// Feed hands inbound bytes to the session. Every complete frame is
// dispatched before Feed returns; a trailing partial frame is kept for the
// next call. A malformed header closes the session and the transport.
func (s *Session) Feed(data []byte) {
	if s.state == Closed {
		return
	}
	s.stats.recordBytesIn(len(data))
	s.buf = append(s.buf, data...)

	frames, rest, err := s.decoder.Decode(s.buf)
	for _, f := range frames {
		if s.state == Closed {
			return
		}
		s.dispatch(f)
	}
	if s.state == Closed {
		return
	}

	if err != nil {
		logging.Error("Fatal protocol error",
			zap.Error(err),
			zap.String("buffered", logging.Hex(rest)))
		s.shutdown(err)
		return
	}

	if len(rest) == 0 {
		s.buf = s.buf[:0]
	} else {
		s.buf = append(s.buf[:0], rest...)
	}
}

func (s *Session) dispatch(f protocol.Frame) {
	s.stats.recordFrameIn()
	if logging.DebugEnabled() {
		logging.LogFrame("received", f.Kind.String(), f.Command.String(), f.Payload)
	}

	if s.classifier.IsUnsolicited(f.Command) {
		faults := s.registry.Dispatch(f.Command, f.Payload, s.reportFault)
		s.stats.recordUnsolicited(faults)
		return
	}

	request, ok := s.pending.ResolveOldest(f.Command, f.Payload)
	if !ok {
		s.stats.recordUnmatched()
		logging.Debug("Dropping response with no pending request",
			zap.Stringer("command", f.Command),
			zap.Int("payload_len", len(f.Payload)))
		return
	}
	s.stats.recordMatched()

	if !protocol.IsExpectedReply(request, f.Command) {
		s.stats.recordMismatched()
		logging.Warn("Response command does not answer oldest request",
			zap.Stringer("request", request),
			zap.Stringer("response", f.Command))
	}
}

func (s *Session) reportFault(fault *HandlerFault) {
	logging.Error("Unsolicited handler panicked",
		zap.Stringer("command", fault.Command),
		zap.Any("panic", fault.Value),
		zap.ByteString("stack", fault.Stack))
	if s.onFault != nil {
		s.onFault(fault)
	}
}

// ConnectionLost closes the session and fails every pending request with a
// *ConnectionLostError wrapping reason. Calls after the first are ignored.
// Registered handlers are kept but receive nothing further.
func (s *Session) ConnectionLost(reason error) {
	if s.state == Closed {
		return
	}
	s.close(reason)
}

// Close shuts the session down from the caller's side: pending requests fail
// with ErrClosed as the reason and the transport is closed once.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	return s.shutdown(ErrClosed)
}

func (s *Session) shutdown(reason error) error {
	s.close(reason)
	if s.transportClosed {
		return nil
	}
	s.transportClosed = true
	return s.transport.Close()
}

func (s *Session) close(reason error) {
	s.state = Closed
	s.buf = nil

	n := s.pending.Len()
	s.err = &ConnectionLostError{Reason: reason, Pending: n}
	failed := s.pending.FailAll(s.err)
	s.stats.recordFailed(failed)

	if failed > 0 {
		logging.Warn("Failing pending requests",
			zap.Int("pending", failed),
			zap.NamedError("reason", reason))
	} else {
		logging.Debug("Session closed", zap.NamedError("reason", reason))
	}
}
