package session

import (
	"context"
	"errors"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// ErrNotReady is returned by Completion.Result before the completion resolves
var ErrNotReady = errors.New("session: completion not resolved")

// Completion is the single-fulfillment result of a sent request. It resolves
// exactly once, with the reply frame or with a connection failure.
type Completion struct {
	request  protocol.Command
	done     chan struct{}
	reply    protocol.Frame
	err      error
	resolved bool
}

func newCompletion(request protocol.Command) *Completion {
	return &Completion{
		request: request,
		done:    make(chan struct{}),
	}
}

// Request returns the command that created the completion
func (c *Completion) Request() protocol.Command {
	return c.request
}

// Done is closed once the completion resolves
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome without blocking. It returns ErrNotReady until
// Done is closed.
func (c *Completion) Result() (protocol.Frame, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	default:
		return protocol.Frame{}, ErrNotReady
	}
}

// Wait blocks until the completion resolves or ctx ends. Giving up on a
// completion does not remove it from the session queue; the next reply still
// resolves it.
func (c *Completion) Wait(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

// fulfill resolves with a reply. Later calls are ignored and return false.
func (c *Completion) fulfill(reply protocol.Frame) bool {
	if c.resolved {
		return false
	}
	c.resolved = true
	c.reply = reply
	close(c.done)
	return true
}

// fail resolves with an error. Later calls are ignored and return false.
func (c *Completion) fail(err error) bool {
	if c.resolved {
		return false
	}
	c.resolved = true
	c.err = err
	close(c.done)
	return true
}

// PendingQueue holds outstanding requests in send order
type PendingQueue struct {
	items []*Completion
	head  int
}

// Len returns the number of outstanding requests
func (q *PendingQueue) Len() int {
	return len(q.items) - q.head
}

// Enqueue appends a request and returns its completion
func (q *PendingQueue) Enqueue(request protocol.Command) *Completion {
	c := newCompletion(request)
	q.items = append(q.items, c)
	return c
}

// ResolveOldest pops the oldest request and fulfills it with the reply.
// Matching is first-in first-out and ignores the reply's command code; the
// popped request's command is returned so callers can detect mismatches.
// ok is false when nothing was pending.
func (q *PendingQueue) ResolveOldest(cmd protocol.Command, payload []byte) (request protocol.Command, ok bool) {
	c := q.pop()
	if c == nil {
		return 0, false
	}
	c.fulfill(protocol.Frame{Kind: protocol.KindResponse, Command: cmd, Payload: payload})
	return c.request, true
}

// FailAll fails every outstanding request with err and empties the queue.
// It returns how many requests were failed.
func (q *PendingQueue) FailAll(err error) int {
	n := 0
	for c := q.pop(); c != nil; c = q.pop() {
		c.fail(err)
		n++
	}
	q.items = nil
	q.head = 0
	return n
}

func (q *PendingQueue) pop() *Completion {
	if q.head >= len(q.items) {
		return nil
	}
	c := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 32 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return c
}
