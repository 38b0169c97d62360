package reporter

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleTTL is how long an untouched form is kept.
const DefaultIdleTTL = 30 * time.Minute

// Gauge receives the number of tracked forms. prometheus.Gauge satisfies it.
type Gauge interface {
	Set(float64)
}

// Registry holds independent forms keyed by id.
type Registry struct {
	cfg     Config
	sched   Scheduler
	idleTTL time.Duration
	gauge   Gauge

	mu    sync.Mutex
	forms map[string]*Form
}

// NewRegistry creates an empty registry. sched and gauge may be nil.
func NewRegistry(cfg Config, sched Scheduler, gauge Gauge) *Registry {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Registry{
		cfg:     cfg.withDefaults(),
		sched:   sched,
		idleTTL: DefaultIdleTTL,
		gauge:   gauge,
		forms:   make(map[string]*Form),
	}
}

// Config returns the redirect settings applied to every form.
func (r *Registry) Config() Config { return r.cfg }

// Form returns the form for id, creating it in the idle state if needed.
func (r *Registry) Form(id string) *Form {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.forms[id]; ok {
		return f
	}
	f := NewForm(id, r.cfg, r.sched, r.evict)
	r.forms[id] = f
	r.updateGaugeLocked()
	return f
}

// Len returns the number of tracked forms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}

// evict removes f once its redirect has fired. A newer form under the same
// id is left alone.
func (r *Registry) evict(f *Form) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.forms[f.ID()]; ok && cur == f {
		delete(r.forms, f.ID())
		r.updateGaugeLocked()
	}
}

// Sweep drops forms that are not submitting and were last touched before
// now minus the idle TTL. It returns the number removed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, f := range r.forms {
		if f.idleSince(cutoff) {
			f.CancelRedirect()
			delete(r.forms, id)
			removed++
		}
	}
	if removed > 0 {
		r.updateGaugeLocked()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

func (r *Registry) updateGaugeLocked() {
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.forms)))
	}
}
