package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errDownstream = errors.New("downstream broken")

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errDownstream
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	b := New("test", 3, 50*time.Millisecond)
	var calls int32

	// Three consecutive failures open the circuit.
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failing(&calls)); !errors.Is(err, errDownstream) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state after threshold = %v, want open", b.State())
	}
	if calls != 3 {
		t.Fatalf("operation invoked %d times, want 3", calls)
	}

	// Before the recovery timeout the operation must not run at all.
	if err := b.Execute(ctx, failing(&calls)); !errors.Is(err, ErrOpen) {
		t.Fatalf("open circuit err = %v, want ErrOpen", err)
	}
	if calls != 3 {
		t.Fatalf("operation invoked while open (calls = %d)", calls)
	}

	// After the timeout exactly one probe goes through; success closes.
	time.Sleep(60 * time.Millisecond)
	if err := b.Execute(ctx, succeeding(&calls)); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if calls != 4 {
		t.Fatalf("probe invoked %d times, want exactly once (calls = %d)", calls-3, calls)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after probe success = %v, want closed", b.State())
	}
	if got := b.Snapshot().FailureCount; got != 0 {
		t.Fatalf("failure_count after close = %d, want 0", got)
	}
}

func TestProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	b := New("test", 1, 30*time.Millisecond)
	var calls int32

	if err := b.Execute(ctx, failing(&calls)); !errors.Is(err, errDownstream) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	before := b.Snapshot().LastFailureTime

	time.Sleep(40 * time.Millisecond)
	if err := b.Execute(ctx, failing(&calls)); !errors.Is(err, errDownstream) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}
	if !b.Snapshot().LastFailureTime.After(before) {
		t.Error("last_failure_time not refreshed by failed probe")
	}

	// The fresh failure restarts the recovery window.
	if err := b.Execute(ctx, failing(&calls)); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	b := New("test", 1, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Execute(ctx, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after timeout = %v, want open (threshold 1)", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	b := New("test", 3, time.Minute)
	var calls int32

	b.Execute(ctx, failing(&calls))
	b.Execute(ctx, failing(&calls))
	if err := b.Execute(ctx, succeeding(&calls)); err != nil {
		t.Fatalf("err = %v", err)
	}
	if got := b.Snapshot().FailureCount; got != 0 {
		t.Fatalf("failure_count = %d after success, want 0", got)
	}

	// Two more failures must not open the circuit (count restarted).
	b.Execute(ctx, failing(&calls))
	b.Execute(ctx, failing(&calls))
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(3, time.Second)

	a := r.Get("reasoning")
	if a == nil {
		t.Fatal("nil breaker")
	}
	if r.Get("reasoning") != a {
		t.Error("Get not stable for same name")
	}
	if r.Get("storage") == a {
		t.Error("distinct names share a breaker")
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap["reasoning"].State != "closed" {
		t.Errorf("initial state = %q, want closed", snap["reasoning"].State)
	}
}
