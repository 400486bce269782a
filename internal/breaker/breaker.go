// Package breaker implements a circuit breaker guarding calls to external
// tool backends (used by L1/L4 when configured to call one). States are
// CLOSED -> OPEN (after N consecutive failures) -> HALF_OPEN (after a reset
// interval) -> CLOSED (on probe success) or OPEN (on probe failure).
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow while the breaker is OPEN and the reset
// interval has not yet elapsed. Callers applying a fail policy should treat
// this exactly like any other internal layer error.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	resetInterval    time.Duration
	clock            backoff.Clock

	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// New constructs a Breaker. failureThreshold is clamped to [3, 5] per the
// spec's N=3-5 consecutive-failure range.
func New(failureThreshold int, resetInterval time.Duration) *Breaker {
	if failureThreshold < 3 {
		failureThreshold = 3
	}
	if failureThreshold > 5 {
		failureThreshold = 5
	}
	if resetInterval <= 0 {
		resetInterval = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetInterval:    resetInterval,
		clock:            backoff.SystemClock,
		state:            Closed,
	}
}

// Allow reports whether a call may proceed. While OPEN it raises ErrOpen
// immediately until the reset interval elapses, at which point the breaker
// moves to HALF_OPEN and admits exactly one probe call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.resetInterval {
			b.state = HalfOpen
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN this closes the
// breaker and resets the failure count; in CLOSED it resets the streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.state = Closed
}

// RecordFailure reports a failed call. In HALF_OPEN any failure reopens the
// breaker immediately. In CLOSED, failures accumulate until the threshold
// trips the breaker open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trip()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.clock.Now()
	b.consecutiveFailures = 0
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
