// Package scheduler publishes periodic system events (stats snapshots,
// health reports) on cron schedules.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
)

// StatsFunc returns the current system snapshot to publish.
type StatsFunc func() map[string]interface{}

type job struct {
	name      string
	expr      string
	eventType string
	collect   StatsFunc
}

// Scheduler evaluates cron expressions once per minute and publishes the
// due jobs' payloads on the bus.
type Scheduler struct {
	bus  *eventbus.Bus
	gron *gronx.Gronx
	jobs []job

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		bus:  bus,
		gron: gronx.New(),
		done: make(chan struct{}),
	}
}

// AddJob registers a cron-scheduled publisher. Must be called before
// Start.
func (s *Scheduler) AddJob(name, expr, eventType string, collect StatsFunc) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("scheduler: invalid cron expression %q for %s", expr, name)
	}
	s.jobs = append(s.jobs, job{name: name, expr: expr, eventType: eventType, collect: collect})
	return nil
}

// Start launches the tick loop. Jobs fire at most once per minute.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	logger.InfoCF("scheduler", "Started", map[string]interface{}{"jobs": len(s.jobs)})
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Align the first tick to the next minute boundary so IsDue sees
	// each minute exactly once.
	first := time.NewTimer(time.Until(time.Now().Truncate(time.Minute).Add(time.Minute + time.Second)))
	defer first.Stop()

	select {
	case <-s.done:
		return
	case <-first.C:
	}

	s.tick(time.Now())
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	for _, j := range s.jobs {
		due, err := s.gron.IsDue(j.expr, now)
		if err != nil {
			logger.WarnCF("scheduler", "Cron evaluation failed", map[string]interface{}{
				"job":   j.name,
				"error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		s.fire(j)
	}
}

func (s *Scheduler) fire(j job) {
	data := j.collect()
	if data == nil {
		data = map[string]interface{}{}
	}
	data["job"] = j.name
	data["collected_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.bus.Publish(j.eventType, data, "scheduler"); err != nil {
		logger.WarnCF("scheduler", "Publish failed", map[string]interface{}{
			"job":   j.name,
			"error": err.Error(),
		})
	}
}

// Stop halts the tick loop. Idempotent.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
