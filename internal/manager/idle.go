package manager

import (
	"sync"
	"time"

	"termrelay/util"
)

// idleTracker counts open connections and calls onIdle once the count
// has stayed at zero for the grace period.
type idleTracker struct {
	grace  time.Duration
	onIdle func()
	logger *util.Logger

	mu    sync.Mutex
	count int
	gen   uint64
	timer   *time.Timer
	fired   bool
	stopped bool
}

func (t *idleTracker) enabled() bool { return t.onIdle != nil && t.grace > 0 }

func (t *idleTracker) open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *idleTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count--
	if t.count != 0 || !t.enabled() || t.fired || t.stopped {
		return
	}
	t.gen++
	gen := t.gen
	t.logger.Info("all clients disconnected, shutting down in %s", t.grace)
	t.timer = time.AfterFunc(t.grace, func() { t.fire(gen) })
}

// fire runs when a grace timer expires.  The count check is the real
// guard; the generation check discards timers armed before a later
// connection came and went.
func (t *idleTracker) fire(gen uint64) {
	t.mu.Lock()
	if t.count != 0 || gen != t.gen || t.fired || t.stopped {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.timer = nil
	t.mu.Unlock()

	t.logger.Info("no clients for %s, shutting down", t.grace)
	t.onIdle()
}

func (t *idleTracker) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// stop cancels any pending timer and keeps later closes from arming one.
func (t *idleTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
