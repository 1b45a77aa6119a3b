package gearman

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
	"github.com/wdatlassian/twisted-gears/internal/session"
)

// Assignment is a job handed to a worker by JOB_ASSIGN or JOB_ASSIGN_UNIQ
type Assignment struct {
	Handle   string
	Function string
	Unique   string
	Data     []byte
}

// JobFunc runs one assignment. A non-nil error is reported as WORK_EXCEPTION
// carrying the error text.
type JobFunc func(ctx context.Context, job *Assignment) ([]byte, error)

// Worker grabs jobs and reports their results
type Worker struct {
	conn *client.Client
	wake chan struct{}
	noop session.Handler
}

// NewWorker prepares conn for worker use. NOOP wake-ups are watched from
// here on.
func NewWorker(conn *client.Client) *Worker {
	w := &Worker{conn: conn, wake: make(chan struct{}, 1)}
	w.noop = session.HandlerFunc(func(cmd protocol.Command, _ []byte) {
		if cmd != protocol.Noop {
			return
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
	conn.Register(w.noop)
	return w
}

// Conn returns the underlying connection
func (w *Worker) Conn() *client.Client {
	return w.conn
}

// CanDo announces that the worker handles function
func (w *Worker) CanDo(function string) error {
	return w.conn.SendRaw(protocol.CanDo, []byte(function))
}

// CanDoTimeout announces function with a server-side time limit per job
func (w *Worker) CanDoTimeout(function string, seconds uint32) error {
	return w.conn.SendRaw(protocol.CanDoTimeout, protocol.BuildCanDoTimeout(function, seconds))
}

// CantDo withdraws function
func (w *Worker) CantDo(function string) error {
	return w.conn.SendRaw(protocol.CantDo, []byte(function))
}

// ResetAbilities withdraws every function
func (w *Worker) ResetAbilities() error {
	return w.conn.SendRaw(protocol.ResetAbilities, nil)
}

// SetClientID names the worker in server admin output
func (w *Worker) SetClientID(id string) error {
	return w.conn.SendRaw(protocol.SetClientID, []byte(id))
}

// GrabJob asks for work. It returns nil without error when the server has
// nothing queued.
func (w *Worker) GrabJob(ctx context.Context) (*Assignment, error) {
	f, err := w.conn.Expect(ctx, protocol.GrabJob, nil, protocol.JobAssign, protocol.NoJob)
	if err != nil {
		return nil, err
	}
	if f.Command == protocol.NoJob {
		return nil, nil
	}
	return parseAssignment(f)
}

// GrabJobUnique is GrabJob with the client's unique id included
func (w *Worker) GrabJobUnique(ctx context.Context) (*Assignment, error) {
	f, err := w.conn.Expect(ctx, protocol.GrabJobUniq, nil, protocol.JobAssignUniq, protocol.NoJob)
	if err != nil {
		return nil, err
	}
	if f.Command == protocol.NoJob {
		return nil, nil
	}
	return parseAssignment(f)
}

// Sleep sends PRE_SLEEP and blocks until the server wakes the worker with
// NOOP, ctx ends or the connection drops.
func (w *Worker) Sleep(ctx context.Context) error {
	select {
	case <-w.wake:
	default:
	}

	if err := w.conn.SleepNotice(); err != nil {
		return err
	}

	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.conn.Done():
		return w.conn.Err()
	}
}

// Complete reports a successful job with its result
func (w *Worker) Complete(handle string, data []byte) error {
	return w.conn.SendRaw(protocol.WorkComplete, protocol.BuildWorkResult(handle, data))
}

// Fail reports a failed job
func (w *Worker) Fail(handle string) error {
	return w.conn.SendRaw(protocol.WorkFail, []byte(handle))
}

// Exception reports a failed job with details
func (w *Worker) Exception(handle string, data []byte) error {
	return w.conn.SendRaw(protocol.WorkException, protocol.BuildWorkResult(handle, data))
}

// Status reports progress as numerator out of denominator
func (w *Worker) Status(handle string, numerator, denominator uint64) error {
	return w.conn.SendRaw(protocol.WorkStatus, protocol.BuildWorkStatus(handle, numerator, denominator))
}

// Data sends a partial result
func (w *Worker) Data(handle string, data []byte) error {
	return w.conn.SendRaw(protocol.WorkData, protocol.BuildWorkResult(handle, data))
}

// Warning sends a warning for a running job
func (w *Worker) Warning(handle string, data []byte) error {
	return w.conn.SendRaw(protocol.WorkWarning, protocol.BuildWorkResult(handle, data))
}

// Run registers every function in funcs and processes jobs until ctx ends
// or the connection drops. Jobs run one at a time.
func (w *Worker) Run(ctx context.Context, funcs map[string]JobFunc) error {
	if len(funcs) == 0 {
		return errors.New("no functions to run")
	}
	for name := range funcs {
		if err := w.CanDo(name); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := w.GrabJob(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			if err := w.Sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if err := w.runJob(ctx, funcs, job); err != nil {
			return err
		}
	}
}

func (w *Worker) runJob(ctx context.Context, funcs map[string]JobFunc, job *Assignment) error {
	fn, ok := funcs[job.Function]
	if !ok {
		logging.Warn("Assigned unregistered function",
			zap.String("function", job.Function),
			zap.String("handle", job.Handle))
		return w.Fail(job.Handle)
	}

	result, err := fn(ctx, job)
	if err != nil {
		logging.Info("Job failed",
			zap.String("function", job.Function),
			zap.String("handle", job.Handle),
			zap.Error(err))
		return w.Exception(job.Handle, []byte(err.Error()))
	}
	return w.Complete(job.Handle, result)
}

// Close stops watching for NOOP. The connection stays open.
func (w *Worker) Close() {
	w.conn.Unregister(w.noop)
}

func parseAssignment(f protocol.Frame) (*Assignment, error) {
	if f.Command == protocol.JobAssignUniq {
		args := protocol.SplitArgs(f.Payload, 4)
		if len(args) != 4 {
			return nil, fmt.Errorf("malformed %s payload %q", f.Command, f.Payload)
		}
		return &Assignment{
			Handle:   string(args[0]),
			Function: string(args[1]),
			Unique:   string(args[2]),
			Data:     args[3],
		}, nil
	}

	args := protocol.SplitArgs(f.Payload, 3)
	if len(args) != 3 {
		return nil, fmt.Errorf("malformed %s payload %q", f.Command, f.Payload)
	}
	return &Assignment{
		Handle:   string(args[0]),
		Function: string(args[1]),
		Data:     args[2],
	}, nil
}
