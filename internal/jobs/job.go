// Package jobs tracks asynchronous synthesis jobs: the in-memory job store, the
// admission gate bounding concurrent processing, the registry of running drivers
// and the reaper evicting finished jobs.
package jobs

import (
	"errors"
	"time"

	"github.com/book-expert/tts-jobs/internal/core"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Stage descriptions written by the store itself.
const (
	stageCreated   = "Job created"
	stageCompleted = "Completed"
	stageFailed    = "Failed"
	stageCancelled = "Cancelled"

	cancelledMessage = "job cancelled"
)

var (
	// ErrNotFound indicates that no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrAtCapacity indicates that the admission ceiling is reached and the
	// service is configured to reject rather than queue.
	ErrAtCapacity = errors.New("too many jobs are processing")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrShuttingDown indicates that the manager no longer accepts jobs.
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// IsTerminal reports whether no further transitions can happen from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one asynchronous synthesis job.
type Job struct {
	ID              string       `json:"task_id"`
	Status          Status       `json:"status"`
	Progress        float64      `json:"progress"`
	CurrentStage    string       `json:"current_stage"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Request         core.Request `json:"-"`
	OutputFormat    string       `json:"output_format"`
	TotalChunks     int          `json:"total_chunks"`
	CompletedChunks int          `json:"completed_chunks"`
	ResultPath      string       `json:"-"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// ResultAvailable reports whether the job finished with a stored artifact.
func (j Job) ResultAvailable() bool {
	return j.Status == StatusCompleted && j.ResultPath != ""
}
