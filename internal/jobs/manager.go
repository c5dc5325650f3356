package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/core"
)

const (
	stageStarting          = "Starting speech synthesis"
	artifactCleanupTimeout = 30 * time.Second
)

// Pipeline carries one job from queued input to a stored artifact and returns
// the artifact's location.
type Pipeline interface {
	Run(ctx context.Context, jobID string, req core.Request, progress core.ProgressSink) (string, error)
}

// ArtifactDeleter removes stored job results.
type ArtifactDeleter interface {
	Delete(ctx context.Context, location string) error
}

// ManagerConfig holds the manager's admission policy.
type ManagerConfig struct {
	MaxConcurrent  int
	RejectWhenBusy bool
}

// Manager is the job service facade: it creates jobs, launches and cancels their
// drivers, and removes jobs together with their artifacts.
type Manager struct {
	store          *Store
	registry       *Registry
	admission      *Admission
	pipeline       Pipeline
	artifacts      ArtifactDeleter
	rejectWhenBusy bool
	log            *logger.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// NewManager wires a manager around store. Drivers run pipeline and stored
// artifacts are deleted through artifacts.
func NewManager(
	store *Store,
	pipeline Pipeline,
	artifacts ArtifactDeleter,
	cfg ManagerConfig,
	log *logger.Logger,
) *Manager {
	baseCtx, stop := context.WithCancel(context.Background())

	return &Manager{
		store:          store,
		registry:       NewRegistry(),
		admission:      NewAdmission(cfg.MaxConcurrent),
		pipeline:       pipeline,
		artifacts:      artifacts,
		rejectWhenBusy: cfg.RejectWhenBusy,
		log:            log,
		baseCtx:        baseCtx,
		stop:           stop,
		closed:         false,
	}
}

// Store returns the job store backing the manager.
func (m *Manager) Store() *Store {
	return m.store
}

// Admission returns the manager's admission gate.
func (m *Manager) Admission() *Admission {
	return m.admission
}

// Submit validates req, records a queued job and launches its driver. The driver
// waits for an admission slot before it starts processing.
func (m *Manager) Submit(req core.Request) (string, error) {
	validateErr := req.Validate()
	if validateErr != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, validateErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrShuttingDown
	}

	if m.rejectWhenBusy && !m.admission.CanStart(m.store) {
		return "", fmt.Errorf("%w: limit is %d", ErrAtCapacity, m.admission.Ceiling())
	}

	id := m.store.Create(req)

	ctx, cancel := context.WithCancel(m.baseCtx)
	handle := m.registry.Register(id, cancel)

	m.wg.Add(1)

	go m.drive(ctx, id, req, handle)

	m.log.Info("Created job %s (%d chars, format %s)", id, len(req.Text), req.OutputFormat)

	return id, nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, bool) {
	return m.store.Get(id)
}

// List returns all jobs and how many of them are processing.
func (m *Manager) List() ([]Job, int) {
	all := m.store.List()
	running := 0

	for _, job := range all {
		if job.Status == StatusProcessing {
			running++
		}
	}

	return all, running
}

// Wait blocks until the job's driver has exited or ctx ends, then returns the
// job's snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	handle, ok := m.registry.Lookup(id)
	if ok {
		select {
		case <-handle.Done():
		case <-ctx.Done():
			return Job{}, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		}
	}

	job, found := m.store.Get(id)
	if !found {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return job, nil
}

// Remove cancels a job's driver if it is still running, waits for it to exit,
// deletes the job's artifact and finally drops the job. It reports whether a job
// was removed.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	_, ok := m.store.Get(id)
	if !ok {
		return false
	}

	m.store.MarkCancelled(id)

	cancelErr := m.registry.Cancel(ctx, id)
	if cancelErr != nil {
		m.log.Warn("Removing job %s before its driver stopped: %v", id, cancelErr)
	}

	job, ok := m.store.Get(id)
	if ok && job.ResultPath != "" {
		m.deleteArtifact(ctx, id, job.ResultPath)
	}

	_, removed := m.store.Remove(id)
	if removed {
		m.log.Info("Removed job %s", id)
	}

	return removed
}

// Shutdown stops accepting jobs, cancels every driver and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.registry.CancelAll()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("Job manager shutdown complete")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d running jobs: %w", m.registry.Len(), ctx.Err())
	}
}

func (m *Manager) drive(ctx context.Context, id string, req core.Request, handle *Handle) {
	defer m.wg.Done()
	defer handle.Finish()
	defer m.registry.Unregister(id)
	defer handle.cancel()

	defer func() {
		recovered := recover()
		if recovered != nil {
			m.log.Error("Driver for job %s panicked: %v", id, recovered)
			m.store.MarkFailed(id, fmt.Sprintf("internal error: %v", recovered))
		}
	}()

	admitErr := m.admission.Acquire(ctx)
	if admitErr != nil {
		m.store.MarkCancelled(id)

		return
	}
	defer m.admission.Release()

	if !m.store.UpdateProgress(id, minProgress, stageStarting, StatusProcessing) {
		return
	}

	location, err := m.pipeline.Run(ctx, id, req, NewProgressSink(m.store, id))

	switch {
	case ctx.Err() != nil:
		if location != "" {
			m.deleteArtifact(context.Background(), id, location)
		}

		if m.store.MarkCancelled(id) {
			m.log.Info("Job %s cancelled", id)
		}
	case err != nil:
		m.store.MarkFailed(id, err.Error())
		m.log.Error("Job %s failed: %v", id, err)
	case !m.store.MarkCompleted(id, location):
		m.deleteArtifact(context.Background(), id, location)
	default:
		m.log.Info("Job %s completed: %s", id, location)
	}
}

func (m *Manager) deleteArtifact(ctx context.Context, id, location string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), artifactCleanupTimeout)
	defer cancel()

	deleteErr := m.artifacts.Delete(cleanupCtx, location)
	if deleteErr != nil {
		m.log.Warn("Failed to delete result %s of job %s: %v", location, id, deleteErr)

		return
	}

	m.log.Info("Deleted result %s of job %s", location, id)
}
