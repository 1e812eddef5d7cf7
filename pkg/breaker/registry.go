package breaker

import (
	"sync"
	"time"
)

// Registry hands out named breakers with shared defaults, one per
// protected operation class ("reasoning", "storage", "delegation", ...).
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	recovery  time.Duration
}

// NewRegistry creates a registry whose breakers open after threshold
// consecutive failures and probe again after recovery.
func NewRegistry(threshold int, recovery time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		recovery:  recovery,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.threshold, r.recovery)
		r.breakers[name] = b
	}
	return b
}

// Snapshot returns stats for every breaker created so far.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
