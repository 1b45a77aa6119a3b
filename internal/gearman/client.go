package gearman

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wdatlassian/twisted-gears/internal/client"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// Priority selects the SUBMIT_JOB variant
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority accepts "normal", "high" or "low"; empty means normal
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func submitCommand(p Priority, background bool) (protocol.Command, error) {
	switch p {
	case PriorityNormal:
		if background {
			return protocol.SubmitJobBG, nil
		}
		return protocol.SubmitJob, nil
	case PriorityHigh:
		if background {
			return protocol.SubmitJobHighBG, nil
		}
		return protocol.SubmitJobHigh, nil
	case PriorityLow:
		if background {
			return protocol.SubmitJobLowBG, nil
		}
		return protocol.SubmitJobLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %d", int(p))
	}
}

// JobStatus is a STATUS_RES reply
type JobStatus struct {
	Handle      string
	Known       bool
	Running     bool
	Numerator   uint64
	Denominator uint64
}

// Client submits jobs and follows their progress
type Client struct {
	conn    *client.Client
	tracker *tracker
}

// NewClient starts tracking job notifications on conn
func NewClient(conn *client.Client) *Client {
	c := &Client{conn: conn, tracker: newTracker()}
	conn.Register(c.tracker)

	go func() {
		<-conn.Done()
		c.tracker.failAll(conn.Err())
	}()
	return c
}

// Conn returns the underlying connection
func (c *Client) Conn() *client.Client {
	return c.conn
}

// Submit queues a foreground job and returns it once the server has assigned
// a handle. Progress arrives through the Job.
func (c *Client) Submit(ctx context.Context, function, unique string, data []byte, p Priority) (*Job, error) {
	handle, err := c.submit(ctx, function, unique, data, p, false)
	if err != nil {
		return nil, err
	}
	return c.tracker.attach(handle), nil
}

// SubmitBackground queues a job nobody waits on and returns its handle
func (c *Client) SubmitBackground(ctx context.Context, function, unique string, data []byte, p Priority) (string, error) {
	return c.submit(ctx, function, unique, data, p, true)
}

func (c *Client) submit(ctx context.Context, function, unique string, data []byte, p Priority, background bool) (string, error) {
	cmd, err := submitCommand(p, background)
	if err != nil {
		return "", err
	}
	payload, err := protocol.BuildSubmitJob(function, unique, data)
	if err != nil {
		return "", err
	}

	f, err := c.conn.Expect(ctx, cmd, payload, protocol.JobCreated)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", function, err)
	}
	if len(f.Payload) == 0 {
		return "", fmt.Errorf("submit %s: empty job handle", function)
	}
	return string(f.Payload), nil
}

// Status asks the server about a job handle
func (c *Client) Status(ctx context.Context, handle string) (JobStatus, error) {
	f, err := c.conn.Expect(ctx, protocol.GetStatus, []byte(handle), protocol.StatusRes)
	if err != nil {
		return JobStatus{}, fmt.Errorf("status %s: %w", handle, err)
	}
	return parseStatus(f.Payload)
}

// EnableExceptions asks the server to forward WORK_EXCEPTION to this client
func (c *Client) EnableExceptions(ctx context.Context) error {
	_, err := c.conn.Expect(ctx, protocol.OptionReq, []byte("exceptions"), protocol.OptionRes)
	return err
}

// Close stops tracking notifications. The connection stays open.
func (c *Client) Close() {
	c.conn.Unregister(c.tracker)
}

func parseStatus(payload []byte) (JobStatus, error) {
	args := protocol.SplitArgs(payload, 5)
	if len(args) != 5 {
		return JobStatus{}, fmt.Errorf("malformed STATUS_RES payload %q", payload)
	}
	num, err := strconv.ParseUint(string(args[3]), 10, 64)
	if err != nil {
		return JobStatus{}, fmt.Errorf("malformed STATUS_RES numerator: %w", err)
	}
	den, err := strconv.ParseUint(string(args[4]), 10, 64)
	if err != nil {
		return JobStatus{}, fmt.Errorf("malformed STATUS_RES denominator: %w", err)
	}
	return JobStatus{
		Handle:      string(args[0]),
		Known:       string(args[1]) == "1",
		Running:     string(args[2]) == "1",
		Numerator:   num,
		Denominator: den,
	}, nil
}
