// Package metrics provides lightweight, lock-free counters and gauges
// for tracking the runtime statistics of a relay server or client.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one process.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	sessionsStarted   atomic.Int64
	sessionsRejected  atomic.Int64
	sessionsFailed    atomic.Int64
	framesIn          atomic.Int64
	framesOut         atomic.Int64
	framesDropped     atomic.Int64
	framesMalformed   atomic.Int64
	resizes           atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	reconnects        atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionStarted records a session that reached RUNNING.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Add(1)
}

// SessionRejected records a connection turned away because another
// session held the standard streams.
func (c *Collector) SessionRejected() {
	if c == nil {
		return
	}
	c.sessionsRejected.Add(1)
}

// SessionFailed records a session whose initialisation failed.
func (c *Collector) SessionFailed() {
	if c == nil {
		return
	}
	c.sessionsFailed.Add(1)
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one inbound frame carrying n payload bytes.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// FrameSent records one outbound frame carrying n payload bytes.
func (c *Collector) FrameSent(n int) {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// FrameDropped records an outbound frame discarded because the
// connection was closed or its send backlog was full.
func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Add(1)
}

// FrameMalformed records an inbound message that was not a valid frame.
func (c *Collector) FrameMalformed() {
	if c == nil {
		return
	}
	c.framesMalformed.Add(1)
}

// Resize records a terminal resize event.
func (c *Collector) Resize() {
	if c == nil {
		return
	}
	c.resizes.Add(1)
}

// TotalBytesIn returns total payload bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total payload bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// DroppedFrames returns the number of outbound frames discarded.
func (c *Collector) DroppedFrames() int64 {
	if c == nil {
		return 0
	}
	return c.framesDropped.Load()
}

// MalformedFrames returns the number of inbound messages ignored.
func (c *Collector) MalformedFrames() int64 {
	if c == nil {
		return 0
	}
	return c.framesMalformed.Load()
}

// ── Client metrics ───────────────────────────────────────────────────

// Reconnect records a client reconnection attempt.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the total reconnection attempt count.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	SessionsStarted   int64  `json:"sessions_started"`
	SessionsRejected  int64  `json:"sessions_rejected"`
	SessionsFailed    int64  `json:"sessions_failed"`
	FramesIn          int64  `json:"frames_in"`
	FramesOut         int64  `json:"frames_out"`
	FramesDropped     int64  `json:"frames_dropped"`
	FramesMalformed   int64  `json:"frames_malformed"`
	Resizes           int64  `json:"resizes"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	Reconnects        int64  `json:"reconnects,omitempty"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		SessionsStarted:   c.sessionsStarted.Load(),
		SessionsRejected:  c.sessionsRejected.Load(),
		SessionsFailed:    c.sessionsFailed.Load(),
		FramesIn:          c.framesIn.Load(),
		FramesOut:         c.framesOut.Load(),
		FramesDropped:     c.framesDropped.Load(),
		FramesMalformed:   c.framesMalformed.Load(),
		Resizes:           c.resizes.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		Reconnects:        c.reconnects.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
