package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
		Timeout:     100 * time.Millisecond,
	})

	// Initial state: closed
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	// Failure 1
	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, StateClosed, cb.State())

	// Failure 2 trips the circuit
	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// Open circuit fails fast
	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpenState)

	// Wait for timeout, transitions to half-open
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	// Success in half-open closes it again
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(counts Counts) bool { return true },
		Timeout:     10 * time.Millisecond,
	})

	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenMaxRequests(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:        "test",
		MaxRequests: 1,
		ReadyToTrip: func(counts Counts) bool { return true },
		Timeout:     10 * time.Millisecond,
	})

	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.True(t, cb.Allow())

	cb.mutex.Lock()
	cb.counts.Requests = 1
	cb.mutex.Unlock()

	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(counts Counts) bool { return true },
		Timeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})

	_ = cb.Execute(func() error { return assert.AnError })
	assert.Equal(t, []State{StateOpen}, transitions)
}
