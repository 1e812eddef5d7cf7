package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/pulsebot/pulse/pkg/eventbus"
)

func TestAddJobRejectsBadExpression(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	s := New(bus)
	if err := s.AddJob("stats", "not a cron", eventbus.EventStatsSnapshot, nil); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := s.AddJob("stats", "*/5 * * * *", eventbus.EventStatsSnapshot, func() map[string]interface{} { return nil }); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
}

func TestFirePublishesSnapshot(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	var mu sync.Mutex
	var got []eventbus.Event
	if _, err := bus.Subscribe("system.stats.*", func(e eventbus.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s := New(bus)
	s.fire(job{
		name:      "stats",
		eventType: eventbus.EventStatsSnapshot,
		collect: func() map[string]interface{} {
			return map[string]interface{}{"published": 12}
		},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	e := got[0]
	if e.Type != eventbus.EventStatsSnapshot {
		t.Errorf("type = %s", e.Type)
	}
	if e.Data["published"] != 12 {
		t.Errorf("data = %v", e.Data)
	}
	if e.Data["job"] != "stats" {
		t.Errorf("job = %v", e.Data["job"])
	}
}

func TestTickSkipsNotDueJobs(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	var mu sync.Mutex
	fired := 0
	if _, err := bus.Subscribe("system.**", func(e eventbus.Event) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s := New(bus)
	// Due only at midnight on Jan 1; the reference time is not that.
	if err := s.AddJob("never", "0 0 1 1 *", eventbus.EventSystemHealth, func() map[string]interface{} { return nil }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	s.tick(time.Date(2026, 6, 15, 12, 30, 0, 0, time.UTC))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Errorf("fired = %d, want 0", fired)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	s := New(bus)
	s.Start()
	s.Stop()
	s.Stop()
}
