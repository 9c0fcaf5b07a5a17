package breaker

import (
	"sync"
	"time"

	"github.com/skylens/chipquery/internal/metrics"
)

// State represents the current state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpenState is returned when the circuit is open and calls fail fast.
var ErrOpenState = &Error{Msg: "circuit breaker is open"}

type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return e.Msg
}

// Settings configures the CircuitBreaker.
type Settings struct {
	Name          string
	MaxRequests   uint32        // max requests allowed in half-open state
	Interval      time.Duration // cyclic period of the closed state to clear counts
	Timeout       time.Duration // wait before switching from open to half-open
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from State, to State)
}

// Counts holds the numbers of requests and their results.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) onRequest() {
	c.Requests++
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

// CircuitBreaker isolates a flaky upstream: consecutive failures open the
// circuit and calls fail fast until the open timeout elapses.
type CircuitBreaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	readyToTrip   func(counts Counts) bool
	onStateChange func(name string, from State, to State)

	mutex      sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// NewCircuitBreaker creates a new CircuitBreaker.
func NewCircuitBreaker(st Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          st.Name,
		maxRequests:   st.MaxRequests,
		interval:      st.Interval,
		timeout:       st.Timeout,
		readyToTrip:   st.ReadyToTrip,
		onStateChange: st.OnStateChange,
	}

	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.timeout == 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.readyToTrip == nil {
		cb.readyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}

	cb.toNewGeneration(time.Now())
	return cb
}

// Name returns the name of the CircuitBreaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the CircuitBreaker.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.currentState(time.Now())
}

// Allow checks whether a new request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentState(time.Now())
	if state == StateOpen {
		return false
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.maxRequests {
		return false
	}
	return true
}

// Execute runs req if the circuit allows it. An error return counts as a
// failure toward tripping the circuit.
func (cb *CircuitBreaker) Execute(req func() error) error {
	if !cb.Allow() {
		return ErrOpenState
	}

	cb.mutex.Lock()
	cb.counts.onRequest()
	cb.mutex.Unlock()

	err := req()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.counts.onFailure()
		switch cb.state {
		case StateClosed:
			if cb.readyToTrip(cb.counts) {
				cb.setState(StateOpen, time.Now())
			}
		case StateHalfOpen:
			cb.setState(StateOpen, time.Now())
		}
		return err
	}

	cb.counts.onSuccess()
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed, time.Now())
	}
	return nil
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if cb.interval > 0 && !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(newState State, now time.Time) {
	if cb.state == newState {
		return
	}

	prev := cb.state
	cb.state = newState
	cb.toNewGeneration(now)

	metrics.BreakerStateChangesTotal.WithLabelValues(cb.name, newState.String()).Inc()
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, newState)
	}
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts.clear()

	var zero time.Time
	switch cb.state {
	case StateClosed:
		if cb.interval > 0 {
			cb.expiry = now.Add(cb.interval)
		} else {
			cb.expiry = zero
		}
	case StateOpen:
		cb.expiry = now.Add(cb.timeout)
	default:
		cb.expiry = zero
	}
}
