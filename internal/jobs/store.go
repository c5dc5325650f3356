package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/google/uuid"
)

const (
	minProgress = 0.0
	maxProgress = 100.0
)

// Observer is told about every change to the store. It is called while the store
// lock is held, so calls for one job arrive in order; implementations must not
// block or call back into the store.
type Observer interface {
	JobUpdated(job Job)
	JobRemoved(id string)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now as the source of job timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithObserver registers an observer for store changes.
func WithObserver(observer Observer) StoreOption {
	return func(s *Store) {
		s.observer = observer
	}
}

// Store is the authoritative registry of jobs. All access goes through its
// methods, which are serialised by a single mutex and hand out copies.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	now      func() time.Time
	observer Observer
	log      *logger.Logger
}

// NewStore creates an empty store.
func NewStore(log *logger.Logger, opts ...StoreOption) *Store {
	store := &Store{
		jobs:     make(map[string]*Job),
		now:      time.Now,
		observer: nil,
		log:      log,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Create inserts a queued job for req and returns its id.
func (s *Store) Create(req core.Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &Job{
		ID:              uuid.NewString(),
		Status:          StatusQueued,
		Progress:        minProgress,
		CurrentStage:    stageCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
		Request:         req,
		OutputFormat:    req.OutputFormat,
		TotalChunks:     0,
		CompletedChunks: 0,
		ResultPath:      "",
		ErrorMessage:    "",
	}

	s.jobs[job.ID] = job
	s.notifyUpdated(job)

	return job.ID
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}

	return *job, true
}

// UpdateProgress clamps percent to [0, 100], overwrites the stage and optionally
// moves the job to status. Progress never moves backwards; a lower percent only
// updates the stage. Unknown and terminal jobs are left alone and false is
// returned.
func (s *Store) UpdateProgress(id string, percent float64, stage string, status ...Status) bool {
	return s.mutate(id, "progress update", func(job *Job) bool {
		if len(status) > 0 {
			next := status[0]
			if !canAdvance(job.Status, next) {
				s.log.Warn("Rejected transition of job %s from %s to %s", id, job.Status, next)

				return false
			}

			job.Status = next
		}

		clamped := clamp(percent)
		if clamped > job.Progress {
			job.Progress = clamped
		}

		job.CurrentStage = stage

		return true
	})
}

// SetTotalChunks records how many chunks the job was split into.
func (s *Store) SetTotalChunks(id string, total int) bool {
	return s.mutate(id, "chunk total", func(job *Job) bool {
		job.TotalChunks = max(total, 0)
		job.CompletedChunks = min(job.CompletedChunks, job.TotalChunks)

		return true
	})
}

// IncrementCompletedChunks counts one more finished chunk. The count never
// exceeds the total.
func (s *Store) IncrementCompletedChunks(id string) bool {
	return s.mutate(id, "chunk completion", func(job *Job) bool {
		if job.CompletedChunks >= job.TotalChunks {
			s.log.Warn("Job %s reported more chunks than the %d planned", id, job.TotalChunks)

			return false
		}

		job.CompletedChunks++

		return true
	})
}

// MarkCompleted moves the job to completed with its result location.
func (s *Store) MarkCompleted(id, resultPath string) bool {
	return s.mutate(id, "completion", func(job *Job) bool {
		job.Status = StatusCompleted
		job.Progress = maxProgress
		job.CurrentStage = stageCompleted
		job.ResultPath = resultPath

		return true
	})
}

// MarkFailed moves the job to failed. Progress is left where it stopped.
func (s *Store) MarkFailed(id, message string) bool {
	if message == "" {
		message = "unknown error"
	}

	return s.mutate(id, "failure", func(job *Job) bool {
		job.Status = StatusFailed
		job.CurrentStage = stageFailed
		job.ErrorMessage = message

		return true
	})
}

// MarkCancelled moves a queued or processing job to cancelled.
func (s *Store) MarkCancelled(id string) bool {
	return s.mutate(id, "cancellation", func(job *Job) bool {
		job.Status = StatusCancelled
		job.CurrentStage = stageCancelled
		job.ErrorMessage = cancelledMessage

		return true
	})
}

// Remove pops the job from the store. It never touches stored artifacts.
func (s *Store) Remove(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}

	delete(s.jobs, id)

	if s.observer != nil {
		s.observer.JobRemoved(id)
	}

	return *job, true
}

// List returns snapshots of all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// RunningCount returns the number of jobs currently processing.
func (s *Store) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, job := range s.jobs {
		if job.Status == StatusProcessing {
			count++
		}
	}

	return count
}

// mutate applies fn to a live job under the lock. Unknown ids are logged and
// ignored so a driver tolerates its job being removed underneath it.
func (s *Store) mutate(id, operation string, fn func(job *Job) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		s.log.Warn("Ignoring %s for unknown job %s", operation, id)

		return false
	}

	if job.Status.IsTerminal() {
		return false
	}

	if !fn(job) {
		return false
	}

	job.UpdatedAt = s.now()
	s.notifyUpdated(job)

	return true
}

func (s *Store) notifyUpdated(job *Job) {
	if s.observer != nil {
		s.observer.JobUpdated(*job)
	}
}

func canAdvance(from, to Status) bool {
	if from == to {
		return true
	}

	return from == StatusQueued && to == StatusProcessing
}

func clamp(percent float64) float64 {
	return max(minProgress, min(maxProgress, percent))
}
