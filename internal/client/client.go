package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
	"github.com/wdatlassian/twisted-gears/internal/session"
)

const (
	// DefaultDialTimeout applies when Options.DialTimeout is zero
	DefaultDialTimeout = 10 * time.Second
)

var (
	// ErrEchoMismatch is returned by Echo when the server answers with
	// anything other than ECHO_RES carrying the probe
	ErrEchoMismatch = errors.New("client: echo reply does not match probe")

	// ErrUnexpectedReply is returned when a request is answered with a
	// command that is not a valid reply to it
	ErrUnexpectedReply = errors.New("client: unexpected reply")

	errPeerClosed = errors.New("closed by peer")
)

// ServerError is an ERROR frame sent in reply to a request
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Options configures a Client
type Options struct {
	// TLS enables TLS for Dial. DialWebSocket uses it for wss:// URLs.
	TLS *tls.Config

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds Send and Echo when the context has no deadline
	RequestTimeout time.Duration

	// Classifier overrides the default push notification commands
	Classifier protocol.Classifier

	// MaxPayload limits inbound payloads; zero means unlimited
	MaxPayload uint32

	OnFault func(*session.HandlerFault)
}

// Client drives one session over a live connection. It is safe for
// concurrent use.
//
// Unsolicited handlers run on the read goroutine while the client lock is
// held, so they must not call back into the Client.
type Client struct {
	opts Options
	link link
	addr string

	mu   sync.Mutex
	sess *session.Session

	done chan struct{}
	err  error
}

// Dial connects to a job server over TCP, or TLS when opts.TLS is set
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if opts.TLS != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: opts.TLS}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return New(conn, opts), nil
}

// DialWebSocket connects to a job server through a WebSocket endpoint
// (ws:// or wss://). Frames travel in binary messages.
func DialWebSocket(ctx context.Context, url string, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: timeout,
		TLSClientConfig:  opts.TLS,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket %s: %w", url, err)
	}

	return start(newWSLink(conn, opts.WriteTimeout), opts), nil
}

// New runs a client over an established connection. The client owns conn
// from then on.
func New(conn net.Conn, opts Options) *Client {
	return start(newStreamLink(conn, opts.WriteTimeout), opts)
}

func start(l link, opts Options) *Client {
	c := &Client{
		opts: opts,
		link: l,
		addr: l.remoteAddr(),
		done: make(chan struct{}),
	}
	c.sess = session.New(l, session.Options{
		Classifier: opts.Classifier,
		MaxPayload: opts.MaxPayload,
		OnFault:    opts.OnFault,
	})

	logging.LogConnection(c.addr, "connected")
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer func() {
		_ = c.link.Close()
		logging.LogConnection(c.addr, "closed")
	}()

	for {
		chunk, err := c.link.read()
		if len(chunk) > 0 {
			c.mu.Lock()
			c.sess.Feed(chunk)
			c.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errPeerClosed) {
				logging.Info("Connection closed by server", zap.String("remote_addr", c.addr))
			} else {
				logging.Debug("Read loop stopped",
					zap.String("remote_addr", c.addr),
					zap.Error(err))
			}

			c.mu.Lock()
			c.sess.ConnectionLost(err)
			c.err = c.sess.Err()
			c.mu.Unlock()
			return
		}
	}
}

// RemoteAddr returns the server address
func (c *Client) RemoteAddr() string {
	return c.addr
}

// Done is closed once the connection is gone and every pending request has
// failed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended. It is nil until Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Stats returns the session counters
func (c *Client) Stats() session.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Stats()
}

// Pending returns the number of requests awaiting a reply
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Pending()
}

// SendAsync writes a request and returns its completion without waiting
func (c *Client) SendAsync(cmd protocol.Command, payload []byte) (*session.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Send(cmd, payload)
}

// Send writes a request and waits for its reply. An ERROR reply is returned
// as a *ServerError.
func (c *Client) Send(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Frame, error) {
	comp, err := c.SendAsync(cmd, payload)
	if err != nil {
		return protocol.Frame{}, err
	}
	return c.wait(ctx, comp)
}

// Expect sends a request and checks that the reply is one of want
func (c *Client) Expect(ctx context.Context, cmd protocol.Command, payload []byte, want ...protocol.Command) (protocol.Frame, error) {
	f, err := c.Send(ctx, cmd, payload)
	if err != nil {
		return f, err
	}
	for _, w := range want {
		if f.Command == w {
			return f, nil
		}
	}
	return f, fmt.Errorf("%w: %s answered with %s", ErrUnexpectedReply, cmd, f.Command)
}

// SendRaw writes a request whose reply, if any, is not tracked
func (c *Client) SendRaw(cmd protocol.Command, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SendRaw(cmd, payload)
}

// SleepNotice sends PRE_SLEEP. The server answers later with an unsolicited
// NOOP when work arrives.
func (c *Client) SleepNotice() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SleepNotice()
}

// Echo performs a liveness round trip and returns how long it took
func (c *Client) Echo(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	c.mu.Lock()
	comp, err := c.sess.Echo()
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	f, err := c.wait(ctx, comp)
	if err != nil {
		return 0, err
	}
	if f.Command != protocol.EchoRes || !protocol.IsEchoProbe(f.Payload) {
		return 0, fmt.Errorf("%w: got %s %q", ErrEchoMismatch, f.Command, f.Payload)
	}
	return time.Since(start), nil
}

// Register adds an unsolicited handler. See Client for handler rules.
func (c *Client) Register(h session.Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.RegisterUnsolicited(h)
}

// Unregister removes an unsolicited handler
func (c *Client) Unregister(h session.Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.UnregisterUnsolicited(h)
}

// Close fails pending requests, closes the connection and waits for the read
// loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	err := c.sess.Close()
	c.mu.Unlock()

	<-c.done
	return err
}

func (c *Client) wait(ctx context.Context, comp *session.Completion) (protocol.Frame, error) {
	if c.opts.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
			defer cancel()
		}
	}

	f, err := comp.Wait(ctx)
	if err != nil {
		return f, err
	}
	if f.Command == protocol.Error {
		return f, parseServerError(f.Payload)
	}
	return f, nil
}

func parseServerError(payload []byte) *ServerError {
	args := protocol.SplitArgs(payload, 2)
	e := &ServerError{Code: string(args[0])}
	if len(args) > 1 {
		e.Message = string(args[1])
	}
	return e
}
