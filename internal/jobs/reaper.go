package jobs

import (
	"context"
	"time"

	"github.com/book-expert/logger"
)

const (
	// DefaultRetention is how long a job is kept after its last update.
	DefaultRetention = 24 * time.Hour
	// DefaultSweepInterval is the time between two reaper sweeps.
	DefaultSweepInterval = time.Hour
)

// Lister enumerates job snapshots.
type Lister interface {
	List() []Job
}

// Remover deletes a job together with its artifact.
type Remover interface {
	Remove(ctx context.Context, id string) bool
}

// Reaper periodically evicts finished jobs whose last update is older than the
// retention window.
type Reaper struct {
	jobs      Lister
	remover   Remover
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewReaper creates a reaper. Non-positive durations fall back to the defaults.
func NewReaper(jobs Lister, remover Remover, retention, interval time.Duration, log *logger.Logger) *Reaper {
	if retention <= 0 {
		retention = DefaultRetention
	}

	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Reaper{
		jobs:      jobs,
		remover:   remover,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log,
	}
}

// SetClock replaces time.Now for age calculations.
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Run sweeps on every tick until ctx ends. A failing sweep never stops the loop.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reaper started: retention %s, interval %s", r.retention, r.interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Reaper stopped")

			return
		case <-ticker.C:
			r.sweepSafely(ctx)
		}
	}
}

// Sweep removes every terminal job older than the retention window and returns
// how many were removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.retention)
	removed := 0

	for _, job := range r.jobs.List() {
		if ctx.Err() != nil {
			break
		}

		if !job.Status.IsTerminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}

		if r.remover.Remove(ctx, job.ID) {
			removed++
		}
	}

	if removed > 0 {
		r.log.Info("Reaper evicted %d expired jobs", removed)
	}

	return removed
}

func (r *Reaper) sweepSafely(ctx context.Context) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			r.log.Error("Reaper sweep panicked: %v", recovered)
		}
	}()

	r.Sweep(ctx)
}
