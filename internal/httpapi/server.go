// Package httpapi exposes the job manager over HTTP: submitting synthesis
// jobs, polling their status, downloading results and cancelling them.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxRequestBytes = 1 << 20
	contentTypeJSON = "application/json"
)

// JobService is the part of the job manager the API needs.
type JobService interface {
	Submit(req core.Request) (string, error)
	Get(id string) (jobs.Job, bool)
	List() ([]jobs.Job, int)
	Remove(ctx context.Context, id string) bool
}

// ResultOpener streams stored results.
type ResultOpener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	Jobs     JobService
	Results  ResultOpener
	Defaults core.Defaults
	Log      *logger.Logger
}

// Router builds the chi router for the job API.
func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/tts", func(r chi.Router) {
		r.Post("/async", s.handleSubmit)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Get("/tasks", s.handleList)
		r.Delete("/task/{id}", s.handleDelete)
	})

	return r
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	TaskID  string      `json:"task_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// StatusResponse is the public view of one job.
type StatusResponse struct {
	TaskID          string      `json:"task_id"`
	Status          jobs.Status `json:"status"`
	Progress        float64     `json:"progress"`
	CurrentStage    string      `json:"current_stage"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	TotalChunks     int         `json:"total_chunks"`
	CompletedChunks int         `json:"completed_chunks"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	ResultAvailable bool        `json:"result_available"`
}

// ListResponse is the view of every job the service knows.
type ListResponse struct {
	Tasks        []StatusResponse `json:"tasks"`
	TotalCount   int              `json:"total_count"`
	RunningCount int              `json:"running_count"`
}

// ErrorResponse carries a human-readable error.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewStatusResponse converts a job snapshot into its public view.
func NewStatusResponse(job jobs.Job) StatusResponse {
	return StatusResponse{
		TaskID:          job.ID,
		Status:          job.Status,
		Progress:        math.Round(job.Progress*100) / 100,
		CurrentStage:    job.CurrentStage,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
		ErrorMessage:    job.ErrorMessage,
		ResultAvailable: job.ResultAvailable(),
	}
}

func (s Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))

	err := decoder.Decode(&body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	id, submitErr := s.Jobs.Submit(body.Resolve(s.Defaults))
	if submitErr != nil {
		writeErr(w, statusFor(submitErr), submitErr)

		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		TaskID:  id,
		Status:  jobs.StatusQueued,
		Message: "Task created successfully",
	})
}

func (s Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, NewStatusResponse(job))
}

func (s Server) handleList(w http.ResponseWriter, _ *http.Request) {
	all, running := s.Jobs.List()

	views := make([]StatusResponse, 0, len(all))
	for _, job := range all {
		views = append(views, NewStatusResponse(job))
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Tasks:        views,
		TotalCount:   len(views),
		RunningCount: running,
	})
}

func (s Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if !job.ResultAvailable() {
		writeErr(w, http.StatusConflict, fmt.Errorf("task %s is %s, result not available", job.ID, job.Status))

		return
	}

	reader, err := s.Results.Open(r.Context(), job.ResultPath)
	if err != nil {
		s.Log.Error("Failed to open result of job %s: %v", job.ID, err)
		writeErr(w, http.StatusNotFound, fmt.Errorf("result file for task %s is missing", job.ID))

		return
	}

	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "audio/"+job.OutputFormat)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.ResultPath)))
	w.WriteHeader(http.StatusOK)

	_, copyErr := io.Copy(w, reader)
	if copyErr != nil {
		s.Log.Warn("Streaming result of job %s stopped: %v", job.ID, copyErr)
	}
}

func (s Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.Jobs.Remove(r.Context(), id) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: %s", jobs.ErrNotFound, id))

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Task %s deleted", id)})
}

func (s Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	id := chi.URLParam(r, "id")

	job, ok := s.Jobs.Get(id)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: %s", jobs.ErrNotFound, id))

		return jobs.Job{}, false
	}

	return job, true
}

// requestLogger writes one line per request through the service logger.
func (s Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(wrapped, r)

		s.Log.Info("%s %s %d %s [%s]",
			r.Method, r.URL.Path, wrapped.Status(), time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrAtCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, jobs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Detail: err.Error()})
}
