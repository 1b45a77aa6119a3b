package gearman

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

func TestWorkerGrabJob(t *testing.T) {
	var calls atomic.Int32
	srv := newJobServer(t, func(f protocol.Frame) ([]byte, error) {
		switch f.Command {
		case protocol.GrabJob:
			if calls.Add(1) == 1 {
				return res(protocol.JobAssign, "H:1", "reverse", "abc\x00def"), nil
			}
			return res(protocol.NoJob), nil
		case protocol.GrabJobUniq:
			return res(protocol.JobAssignUniq, "H:2", "reverse", "u-2", "xyz"), nil
		}
		return nil, nil
	})
	w := NewWorker(srv.connect(t))
	ctx := testContext(t)

	job, err := w.GrabJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, &Assignment{Handle: "H:1", Function: "reverse", Data: []byte("abc\x00def")}, job)

	job, err = w.GrabJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = w.GrabJobUnique(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-2", job.Unique)
	assert.Equal(t, "xyz", string(job.Data))
}

func TestWorkerSleepWakesOnNoop(t *testing.T) {
	srv := newJobServer(t, func(f protocol.Frame) ([]byte, error) {
		if f.Command == protocol.PreSleep {
			return res(protocol.Noop), nil
		}
		return nil, nil
	})
	w := NewWorker(srv.connect(t))

	require.NoError(t, w.Sleep(testContext(t)))
	assert.Equal(t, protocol.PreSleep, srv.next(t).Command)
}

func TestWorkerSleepContext(t *testing.T) {
	srv := newJobServer(t, func(protocol.Frame) ([]byte, error) { return nil, nil })
	w := NewWorker(srv.connect(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Sleep(ctx), context.DeadlineExceeded)
}

func TestWorkerReports(t *testing.T) {
	srv := newJobServer(t, func(protocol.Frame) ([]byte, error) { return nil, nil })
	w := NewWorker(srv.connect(t))

	require.NoError(t, w.CanDo("reverse"))
	require.NoError(t, w.CanDoTimeout("resize", 30))
	require.NoError(t, w.CantDo("reverse"))
	require.NoError(t, w.ResetAbilities())
	require.NoError(t, w.SetClientID("worker-1"))
	require.NoError(t, w.Status("H:1", 1, 4))
	require.NoError(t, w.Data("H:1", []byte("chunk")))
	require.NoError(t, w.Warning("H:1", []byte("slow")))
	require.NoError(t, w.Exception("H:1", []byte("bad input")))
	require.NoError(t, w.Fail("H:1"))
	require.NoError(t, w.Complete("H:2", []byte("ok")))

	want := []protocol.Frame{
		{Kind: protocol.KindRequest, Command: protocol.CanDo, Payload: []byte("reverse")},
		{Kind: protocol.KindRequest, Command: protocol.CanDoTimeout, Payload: []byte("resize\x0030")},
		{Kind: protocol.KindRequest, Command: protocol.CantDo, Payload: []byte("reverse")},
		{Kind: protocol.KindRequest, Command: protocol.ResetAbilities, Payload: []byte{}},
		{Kind: protocol.KindRequest, Command: protocol.SetClientID, Payload: []byte("worker-1")},
		{Kind: protocol.KindRequest, Command: protocol.WorkStatus, Payload: []byte("H:1\x001\x004")},
		{Kind: protocol.KindRequest, Command: protocol.WorkData, Payload: []byte("H:1\x00chunk")},
		{Kind: protocol.KindRequest, Command: protocol.WorkWarning, Payload: []byte("H:1\x00slow")},
		{Kind: protocol.KindRequest, Command: protocol.WorkException, Payload: []byte("H:1\x00bad input")},
		{Kind: protocol.KindRequest, Command: protocol.WorkFail, Payload: []byte("H:1")},
		{Kind: protocol.KindRequest, Command: protocol.WorkComplete, Payload: []byte("H:2\x00ok")},
	}
	for _, w := range want {
		assert.Equal(t, w, srv.next(t))
	}
}

func TestWorkerRun(t *testing.T) {
	var grabs atomic.Int32
	srv := newJobServer(t, func(f protocol.Frame) ([]byte, error) {
		switch f.Command {
		case protocol.GrabJob:
			switch grabs.Add(1) {
			case 1:
				return res(protocol.JobAssign, "H:1", "reverse", "abc"), nil
			case 2:
				return res(protocol.JobAssign, "H:2", "explode", ""), nil
			case 3:
				return res(protocol.JobAssign, "H:3", "unknown", ""), nil
			}
			return res(protocol.NoJob), nil
		}
		return nil, nil
	})
	w := NewWorker(srv.connect(t))

	funcs := map[string]JobFunc{
		"reverse": func(_ context.Context, job *Assignment) ([]byte, error) {
			out := make([]byte, len(job.Data))
			for i, b := range job.Data {
				out[len(out)-1-i] = b
			}
			return out, nil
		},
		"explode": func(context.Context, *Assignment) ([]byte, error) {
			return nil, errors.New("kaboom")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, funcs) }()

	var reports []protocol.Frame
	deadline := time.After(5 * time.Second)
	for len(reports) < 3 {
		select {
		case f := <-srv.received:
			switch f.Command {
			case protocol.WorkComplete, protocol.WorkException, protocol.WorkFail:
				reports = append(reports, f)
			}
		case <-deadline:
			t.Fatal("worker did not report three jobs")
		}
	}

	// Let the worker reach PRE_SLEEP before stopping it.
	for {
		f := srv.next(t)
		if f.Command == protocol.PreSleep {
			break
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, protocol.WorkComplete, reports[0].Command)
	assert.Equal(t, "H:1\x00cba", string(reports[0].Payload))
	assert.Equal(t, protocol.WorkException, reports[1].Command)
	assert.Equal(t, "H:2\x00kaboom", string(reports[1].Payload))
	assert.Equal(t, protocol.WorkFail, reports[2].Command)
	assert.Equal(t, "H:3", string(reports[2].Payload))
}

func TestWorkerRunRequiresFunctions(t *testing.T) {
	srv := newJobServer(t, func(protocol.Frame) ([]byte, error) { return nil, nil })
	w := NewWorker(srv.connect(t))
	assert.Error(t, w.Run(context.Background(), nil))
}

func TestParseAssignmentErrors(t *testing.T) {
	_, err := parseAssignment(protocol.Frame{Command: protocol.JobAssign, Payload: []byte("H:1\x00fn")})
	assert.Error(t, err)
	_, err = parseAssignment(protocol.Frame{Command: protocol.JobAssignUniq, Payload: []byte("H:1\x00fn\x00data")})
	assert.Error(t, err)
}
