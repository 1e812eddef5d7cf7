// Package breaker implements a circuit breaker protecting calls to
// downstream collaborators (LLM providers, storage, delegation targets).
//
// One Breaker guards one class of operation. While OPEN it fails fast
// with ErrOpen instead of invoking the operation, so a known-failing
// dependency cannot exhaust the caller.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pulsebot/pulse/pkg/logger"
)

// ErrOpen is returned when the circuit rejects a call without invoking
// the wrapped operation. Callers can match it with errors.Is to degrade
// gracefully instead of retrying a hot failure.
var ErrOpen = errors.New("breaker: circuit open")

// State is the circuit position.
type State int32

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
	}
	return "unknown"
}

// Breaker is a stateful wrapper around one class of fallible operation.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool
}

// New creates a closed breaker. threshold is the consecutive-failure count
// that opens the circuit; recovery is how long it stays open before a
// single probe is allowed through.
func New(name string, threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		failureThreshold: threshold,
		recoveryTimeout:  recovery,
	}
}

// Execute runs op under the circuit's protection. The operation runs in
// its own goroutine and is abandoned if ctx expires first; a timeout
// counts as a failure for threshold purposes.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	b.record(err)
	return err
}

// admit decides whether a call may proceed. No lock is held past this
// point, so the operation itself never runs under the breaker's mutex.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) <= b.recoveryTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		logger.InfoCF("breaker", "Circuit half-open, probing", map[string]interface{}{"name": b.name})
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			logger.InfoCF("breaker", "Circuit closed", map[string]interface{}{"name": b.name})
		}
		b.state = StateClosed
		b.failureCount = 0
		b.probeInFlight = false
		return
	}

	b.lastFailureTime = time.Now()
	if b.state == StateHalfOpen {
		// Probe failed: back to open, wait out another recovery window.
		b.state = StateOpen
		b.probeInFlight = false
		logger.WarnCF("breaker", "Probe failed, circuit re-opened", map[string]interface{}{
			"name":  b.name,
			"error": err.Error(),
		})
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold && b.state == StateClosed {
		b.state = StateOpen
		logger.WarnCF("breaker", "Circuit opened", map[string]interface{}{
			"name":     b.name,
			"failures": b.failureCount,
		})
	}
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot of one breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// Snapshot returns the breaker's observable state.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}
