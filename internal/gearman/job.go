package gearman

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/wdatlassian/twisted-gears/internal/logging"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

const (
	// updateBuffer is how many notifications a Job holds for a slow reader
	updateBuffer = 64

	// maxOrphans bounds notifications kept for handles not yet claimed
	maxOrphans = 256

	// maxFinished is how many finished handles are remembered so late
	// notifications for them are dropped instead of buffered
	maxFinished = 256
)

// Update is one progress notification for a submitted job
type Update struct {
	Command protocol.Command

	// Data is the payload after the handle (WORK_DATA, WORK_WARNING,
	// WORK_COMPLETE, WORK_EXCEPTION)
	Data []byte

	// Numerator and Denominator are set for WORK_STATUS
	Numerator   uint64
	Denominator uint64
}

// JobError reports a job that did not complete
type JobError struct {
	Handle string

	// Exception holds the WORK_EXCEPTION payload; nil for WORK_FAIL
	Exception []byte

	// Lost is set when the connection dropped before the job finished
	Lost error
}

func (e *JobError) Error() string {
	switch {
	case e.Lost != nil:
		return fmt.Sprintf("job %s: connection lost: %v", e.Handle, e.Lost)
	case e.Exception != nil:
		return fmt.Sprintf("job %s: exception: %s", e.Handle, e.Exception)
	default:
		return fmt.Sprintf("job %s: failed", e.Handle)
	}
}

func (e *JobError) Unwrap() error {
	return e.Lost
}

// Job is a foreground job submitted through Client.Submit
type Job struct {
	Handle string

	updates chan Update
	done    chan struct{}

	mu       sync.Mutex
	finished bool
	result   []byte
	err      error
	dropped  int
}

func newJob(handle string) *Job {
	return &Job{
		Handle:  handle,
		updates: make(chan Update, updateBuffer),
		done:    make(chan struct{}),
	}
}

// Updates delivers every notification for the job, including the final one.
// The channel is closed when the job finishes. Notifications are dropped if
// the reader falls more than a buffer behind.
func (j *Job) Updates() <-chan Update {
	return j.updates
}

// Done is closed when the job completes, fails or the connection drops
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its WORK_COMPLETE payload.
// Failures are returned as *JobError.
func (j *Job) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver records one notification. It reports whether the job finished.
func (j *Job) deliver(u Update) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return true
	}

	select {
	case j.updates <- u:
	default:
		j.dropped++
	}

	switch u.Command {
	case protocol.WorkComplete:
		j.result = u.Data
	case protocol.WorkFail:
		j.err = &JobError{Handle: j.Handle}
	case protocol.WorkException:
		j.err = &JobError{Handle: j.Handle, Exception: u.Data}
	default:
		return false
	}
	j.finishLocked()
	return true
}

func (j *Job) abort(reason error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		return
	}
	j.err = &JobError{Handle: j.Handle, Lost: reason}
	j.finishLocked()
}

func (j *Job) finishLocked() {
	j.finished = true
	close(j.updates)
	close(j.done)
	if j.dropped > 0 {
		logging.Warn("Job updates dropped",
			zap.String("handle", j.Handle),
			zap.Int("dropped", j.dropped))
	}
}

// parseUpdate splits a WORK_* payload into its handle and update
func parseUpdate(cmd protocol.Command, payload []byte) (string, Update, error) {
	if cmd == protocol.WorkStatus {
		args := protocol.SplitArgs(payload, 3)
		if len(args) != 3 {
			return "", Update{}, fmt.Errorf("malformed %s payload %q", cmd, payload)
		}
		num, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err != nil {
			return "", Update{}, fmt.Errorf("malformed %s numerator: %w", cmd, err)
		}
		den, err := strconv.ParseUint(string(args[2]), 10, 64)
		if err != nil {
			return "", Update{}, fmt.Errorf("malformed %s denominator: %w", cmd, err)
		}
		return string(args[0]), Update{Command: cmd, Numerator: num, Denominator: den}, nil
	}

	args := protocol.SplitArgs(payload, 2)
	u := Update{Command: cmd}
	if len(args) > 1 {
		u.Data = args[1]
	}
	return string(args[0]), u, nil
}

// tracker routes WORK_* notifications to jobs by handle. It is registered as
// an unsolicited handler and has its own lock, separate from the client's.
type tracker struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	orphans map[string][]Update
	order   []string
	closed  error

	finished      map[string]struct{}
	finishedOrder []string
	dropped       uint64
}

func newTracker() *tracker {
	return &tracker{
		jobs:     make(map[string]*Job),
		orphans:  make(map[string][]Update),
		finished: make(map[string]struct{}),
	}
}

// HandleUnsolicited implements session.Handler
func (t *tracker) HandleUnsolicited(cmd protocol.Command, payload []byte) {
	switch cmd {
	case protocol.WorkStatus, protocol.WorkComplete, protocol.WorkFail,
		protocol.WorkException, protocol.WorkData, protocol.WorkWarning:
	default:
		return
	}

	handle, u, err := parseUpdate(cmd, payload)
	if err != nil {
		logging.Warn("Ignoring notification", zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[handle]; ok {
		if job.deliver(u) {
			delete(t.jobs, handle)
			t.markFinished(handle)
		}
		return
	}

	if _, ok := t.finished[handle]; ok {
		t.drop(handle, cmd, "job already finished")
		return
	}
	if len(t.orphans[handle]) >= updateBuffer {
		t.drop(handle, cmd, "too many early notifications")
		return
	}

	// A notification can overtake the submitter registering the handle.
	if _, ok := t.orphans[handle]; !ok {
		if len(t.order) >= maxOrphans {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.orphans, oldest)
		}
		t.order = append(t.order, handle)
	}
	t.orphans[handle] = append(t.orphans[handle], u)
}

// attach creates the Job for handle and replays anything that arrived early
func (t *tracker) attach(handle string) *Job {
	job := newJob(handle)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		job.abort(t.closed)
		return job
	}

	early := t.orphans[handle]
	t.forgetOrphan(handle)
	t.forgetFinished(handle)
	for _, u := range early {
		if job.deliver(u) {
			t.markFinished(handle)
			return job
		}
	}
	t.jobs[handle] = job
	return job
}

func (t *tracker) drop(handle string, cmd protocol.Command, reason string) {
	t.dropped++
	logging.Warn("Dropping job notification",
		zap.String("handle", handle),
		zap.Stringer("command", cmd),
		zap.String("reason", reason),
		zap.Uint64("dropped", t.dropped))
}

func (t *tracker) markFinished(handle string) {
	if _, ok := t.finished[handle]; ok {
		return
	}
	if len(t.finishedOrder) >= maxFinished {
		delete(t.finished, t.finishedOrder[0])
		t.finishedOrder = t.finishedOrder[1:]
	}
	t.finished[handle] = struct{}{}
	t.finishedOrder = append(t.finishedOrder, handle)
}

func (t *tracker) forgetFinished(handle string) {
	if _, ok := t.finished[handle]; !ok {
		return
	}
	delete(t.finished, handle)
	for i, h := range t.finishedOrder {
		if h == handle {
			t.finishedOrder = append(t.finishedOrder[:i], t.finishedOrder[i+1:]...)
			break
		}
	}
}

func (t *tracker) forgetOrphan(handle string) {
	if _, ok := t.orphans[handle]; !ok {
		return
	}
	delete(t.orphans, handle)
	for i, h := range t.order {
		if h == handle {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// failAll aborts every tracked job. Later attaches fail immediately.
func (t *tracker) failAll(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = reason
	for handle, job := range t.jobs {
		job.abort(reason)
		delete(t.jobs, handle)
	}
	t.orphans = make(map[string][]Update)
	t.order = nil
	t.finished = make(map[string]struct{})
	t.finishedOrder = nil
}

func (t *tracker) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
