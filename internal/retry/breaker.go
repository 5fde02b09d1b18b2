package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is refusing calls.
var ErrOpen = errors.New("circuit open")

// State is a breaker position.
type State int

const (
	Closed   State = iota // calls pass through
	Open                  // calls are refused until the cooldown ends
	HalfOpen              // trial calls decide whether to close again
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker refuses calls to a target after Threshold consecutive failures.
// Once Cooldown has passed it lets trial calls through: Trials successes
// in a row close it, a single failure opens it again.  The zero value is
// ready to use.
type Breaker struct {
	Threshold int           // default 5
	Cooldown  time.Duration // default 30s
	Trials    int           // default 1

	// OnChange observes transitions.  It runs with the breaker locked.
	OnChange func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	trials   int
	openedAt time.Time
	now      func() time.Time
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *Breaker) threshold() int {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return 5
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown > 0 {
		return b.Cooldown
	}
	return 30 * time.Second
}

func (b *Breaker) trialCount() int {
	if b.Trials > 0 {
		return b.Trials
	}
	return 1
}

// Do calls fn unless the breaker is open, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.trials = 0, 0
	b.moveTo(Closed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	left := b.cooldown() - b.clock().Sub(b.openedAt)
	if left <= 0 {
		b.trials = 0
		b.moveTo(HalfOpen)
		return nil
	}
	return fmt.Errorf("%w after %d consecutive failures, retry in %s",
		ErrOpen, b.failures, left.Round(time.Second))
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.trials = 0
		if b.state == HalfOpen || b.failures >= b.threshold() {
			b.openedAt = b.clock()
			b.moveTo(Open)
		}
		return
	}

	if b.state == HalfOpen {
		b.trials++
		if b.trials < b.trialCount() {
			return
		}
		b.moveTo(Closed)
	}
	b.failures = 0
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnChange != nil {
		b.OnChange(from, to)
	}
}
