package session

import "sync/atomic"

// Stats is a snapshot of session counters. Reading it is safe from any
// goroutine.
type Stats struct {
	FramesSent     uint64 // frames written to the transport
	FramesReceived uint64 // complete frames decoded
	BytesSent      uint64
	BytesReceived  uint64

	Matched       uint64 // replies that resolved a pending request
	Unmatched     uint64 // replies dropped because nothing was pending
	Mismatched    uint64 // replies whose command is not a known answer to the request
	Unsolicited   uint64 // push notifications dispatched
	HandlerFaults uint64 // handler panics recovered during dispatch

	Pending int64 // requests currently awaiting a reply
}

type statsCollector struct {
	stats Stats
}

func (c *statsCollector) recordSent(n int) {
	atomic.AddUint64(&c.stats.FramesSent, 1)
	atomic.AddUint64(&c.stats.BytesSent, uint64(n))
}

func (c *statsCollector) recordBytesIn(n int) {
	atomic.AddUint64(&c.stats.BytesReceived, uint64(n))
}

func (c *statsCollector) recordFrameIn() {
	atomic.AddUint64(&c.stats.FramesReceived, 1)
}

func (c *statsCollector) recordMatched() {
	atomic.AddUint64(&c.stats.Matched, 1)
	atomic.AddInt64(&c.stats.Pending, -1)
}

func (c *statsCollector) recordUnmatched() {
	atomic.AddUint64(&c.stats.Unmatched, 1)
}

func (c *statsCollector) recordMismatched() {
	atomic.AddUint64(&c.stats.Mismatched, 1)
}

func (c *statsCollector) recordUnsolicited(faults int) {
	atomic.AddUint64(&c.stats.Unsolicited, 1)
	if faults > 0 {
		atomic.AddUint64(&c.stats.HandlerFaults, uint64(faults))
	}
}

func (c *statsCollector) recordEnqueued() {
	atomic.AddInt64(&c.stats.Pending, 1)
}

func (c *statsCollector) recordFailed(n int) {
	atomic.AddInt64(&c.stats.Pending, -int64(n))
}

func (c *statsCollector) snapshot() Stats {
	return Stats{
		FramesSent:     atomic.LoadUint64(&c.stats.FramesSent),
		FramesReceived: atomic.LoadUint64(&c.stats.FramesReceived),
		BytesSent:      atomic.LoadUint64(&c.stats.BytesSent),
		BytesReceived:  atomic.LoadUint64(&c.stats.BytesReceived),
		Matched:        atomic.LoadUint64(&c.stats.Matched),
		Unmatched:      atomic.LoadUint64(&c.stats.Unmatched),
		Mismatched:     atomic.LoadUint64(&c.stats.Mismatched),
		Unsolicited:    atomic.LoadUint64(&c.stats.Unsolicited),
		HandlerFaults:  atomic.LoadUint64(&c.stats.HandlerFaults),
		Pending:        atomic.LoadInt64(&c.stats.Pending),
	}
}
