package jobs

import (
	"context"
	"fmt"
)

// RunningCounter reports how many jobs are processing.
type RunningCounter interface {
	RunningCount() int
}

// Admission bounds the number of jobs processing at once. Drivers hold a slot
// for their whole processing phase; jobs waiting for a slot stay queued.
type Admission struct {
	slots chan struct{}
}

// NewAdmission creates a gate admitting up to ceiling concurrent jobs.
func NewAdmission(ceiling int) *Admission {
	if ceiling < 1 {
		ceiling = 1
	}

	return &Admission{slots: make(chan struct{}, ceiling)}
}

// Ceiling returns the configured maximum number of processing jobs.
func (a *Admission) Ceiling() int {
	return cap(a.slots)
}

// CanStart reports whether another job could begin processing now.
func (a *Admission) CanStart(counter RunningCounter) bool {
	return counter.RunningCount() < a.Ceiling()
}

// Acquire blocks until a processing slot is free or ctx ends. A slot won by an
// already cancelled caller is handed back.
func (a *Admission) Acquire(ctx context.Context) error {
	select {
	case a.slots <- struct{}{}:
		if ctx.Err() != nil {
			<-a.slots

			return fmt.Errorf("waiting for a processing slot: %w", ctx.Err())
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a processing slot: %w", ctx.Err())
	}
}

// Release frees a slot taken by Acquire.
func (a *Admission) Release() {
	<-a.slots
}
