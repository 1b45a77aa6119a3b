package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Size of the read buffer for stream connections
	readBufferSize = 32 * 1024

	// Time allowed for the WebSocket close handshake
	closeWait = time.Second
)

// link is a transport the client can both write to and read from
type link interface {
	Write(p []byte) error
	WriteMany(bufs [][]byte) error
	Close() error

	// read returns the next chunk of inbound bytes. The slice is only valid
	// until the following call.
	read() ([]byte, error)
	remoteAddr() string
}

// streamLink carries frames over a byte stream (TCP or TLS)
type streamLink struct {
	conn         net.Conn
	writeTimeout time.Duration
	buf          []byte
	closeOnce    sync.Once
	closeErr     error
}

func newStreamLink(conn net.Conn, writeTimeout time.Duration) *streamLink {
	return &streamLink{
		conn:         conn,
		writeTimeout: writeTimeout,
		buf:          make([]byte, readBufferSize),
	}
}

func (l *streamLink) Write(p []byte) error {
	return l.WriteMany([][]byte{p})
}

func (l *streamLink) WriteMany(bufs [][]byte) error {
	if l.writeTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
			return err
		}
	}
	nb := net.Buffers(bufs)
	_, err := nb.WriteTo(l.conn)
	return err
}

func (l *streamLink) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func (l *streamLink) read() ([]byte, error) {
	n, err := l.conn.Read(l.buf)
	return l.buf[:n], err
}

func (l *streamLink) remoteAddr() string {
	return l.conn.RemoteAddr().String()
}

// wsLink carries frames inside binary WebSocket messages. Each outbound
// frame is one message; inbound messages are treated as a byte stream, so a
// frame may span messages.
type wsLink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSLink(conn *websocket.Conn, writeTimeout time.Duration) *wsLink {
	return &wsLink{conn: conn, writeTimeout: writeTimeout}
}

func (l *wsLink) Write(p []byte) error {
	return l.WriteMany([][]byte{p})
}

func (l *wsLink) WriteMany(bufs [][]byte) error {
	if l.writeTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
			return err
		}
	}
	w, err := l.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		if _, err := w.Write(b); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

func (l *wsLink) Close() error {
	l.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func (l *wsLink) read() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
			return nil, errPeerClosed
		}
		return nil, err
	}
	return data, nil
}

func (l *wsLink) remoteAddr() string {
	return l.conn.RemoteAddr().String()
}
