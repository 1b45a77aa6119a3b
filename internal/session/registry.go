package session

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// Handler observes unsolicited frames. Handlers are compared by identity, so
// implementations must be comparable; pointer receivers are the usual choice.
// Handlers run on the goroutine feeding the session and must not block.
type Handler interface {
	HandleUnsolicited(cmd protocol.Command, payload []byte)
}

type funcHandler struct {
	fn func(protocol.Command, []byte)
}

func (h *funcHandler) HandleUnsolicited(cmd protocol.Command, payload []byte) {
	h.fn(cmd, payload)
}

// HandlerFunc wraps fn in a Handler with its own identity. Keep the returned
// value to unregister it later; wrapping the same fn twice gives two handlers.
func HandlerFunc(fn func(cmd protocol.Command, payload []byte)) Handler {
	return &funcHandler{fn: fn}
}

// HandlerFault records a handler that panicked during dispatch
type HandlerFault struct {
	Command protocol.Command
	Value   any
	Stack   []byte
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("session: unsolicited handler panicked on %s: %v", f.Command, f.Value)
}

// Unwrap exposes the panic value when it is an error
func (f *HandlerFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// Registry is the de-duplicated set of unsolicited handlers
type Registry struct {
	handlers []Handler
}

// Register adds h unless it is already present. It reports whether h was added.
// It panics if h is nil or not comparable.
func (r *Registry) Register(h Handler) bool {
	mustBeComparable(h)
	if r.indexOf(h) >= 0 {
		return false
	}
	r.handlers = append(r.handlers, h)
	return true
}

// Unregister removes h if present and reports whether it was.
func (r *Registry) Unregister(h Handler) bool {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return false
	}
	i := r.indexOf(h)
	if i < 0 {
		return false
	}
	r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
	return true
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	return len(r.handlers)
}

// Dispatch calls every registered handler in registration order. Handlers
// registered during dispatch wait for the next frame; handlers unregistered
// during dispatch are not called. A panicking handler is recovered and
// reported through onFault; the remaining handlers still run. It returns the
// number of faults.
func (r *Registry) Dispatch(cmd protocol.Command, payload []byte, onFault func(*HandlerFault)) int {
	if len(r.handlers) == 0 {
		return 0
	}
	snapshot := make([]Handler, len(r.handlers))
	copy(snapshot, r.handlers)

	faults := 0
	for _, h := range snapshot {
		if r.indexOf(h) < 0 {
			continue
		}
		if fault := invoke(h, cmd, payload); fault != nil {
			faults++
			if onFault != nil {
				onFault(fault)
			}
		}
	}
	return faults
}

func invoke(h Handler, cmd protocol.Command, payload []byte) (fault *HandlerFault) {
	defer func() {
		if v := recover(); v != nil {
			fault = &HandlerFault{Command: cmd, Value: v, Stack: debug.Stack()}
		}
	}()
	h.HandleUnsolicited(cmd, payload)
	return nil
}

func (r *Registry) indexOf(h Handler) int {
	for i, existing := range r.handlers {
		if existing == h {
			return i
		}
	}
	return -1
}

func mustBeComparable(h Handler) {
	if h == nil {
		panic("session: nil unsolicited handler")
	}
	if !reflect.TypeOf(h).Comparable() {
		panic(fmt.Sprintf("session: handler type %T is not comparable; use a pointer or HandlerFunc", h))
	}
}
