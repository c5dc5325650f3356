package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEngineDown = errors.New("engine is not ready")

type pipelineFunc func(ctx context.Context, id string, req core.Request, sink core.ProgressSink) (string, error)

func (f pipelineFunc) Run(ctx context.Context, id string, req core.Request, sink core.ProgressSink) (string, error) {
	return f(ctx, id, req, sink)
}

// fakeArtifacts records deleted result locations.
type fakeArtifacts struct {
	mu      sync.Mutex
	deleted []string
}

func (a *fakeArtifacts) Delete(_ context.Context, location string) error {
	a.mu.Lock()
	a.deleted = append(a.deleted, location)
	a.mu.Unlock()

	return nil
}

func (a *fakeArtifacts) Deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.deleted...)
}

func chunkedPipeline(chunks int) pipelineFunc {
	return func(_ context.Context, id string, _ core.Request, sink core.ProgressSink) (string, error) {
		sink.Report(core.Update{Kind: core.UpdateChunksPlanned, Percent: 10, Stage: "Planned", Chunks: chunks})

		for i := range chunks {
			sink.Report(core.Update{
				Kind:    core.UpdateChunkDone,
				Percent: 15 + float64(i+1)/float64(chunks)*65,
				Stage:   "Chunk done",
				Chunks:  0,
			})
		}

		sink.Report(core.Update{Kind: core.UpdateStage, Percent: 95, Stage: "Saving", Chunks: 0})

		return "mem://" + id + ".wav", nil
	}
}

func newTestManager(t *testing.T, pipeline jobs.Pipeline, cfg jobs.ManagerConfig, opts ...jobs.StoreOption) (*jobs.Manager, *fakeArtifacts) {
	t.Helper()

	log := newTestLogger(t)
	artifacts := &fakeArtifacts{}
	manager := jobs.NewManager(jobs.NewStore(log, opts...), pipeline, artifacts, cfg, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = manager.Shutdown(ctx)
	})

	return manager, artifacts
}

func waitFor(t *testing.T, manager *jobs.Manager, id string) jobs.Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := manager.Wait(ctx, id)
	require.NoError(t, err)

	return job
}

func TestManager_SuccessfulJob(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t, chunkedPipeline(3), jobs.ManagerConfig{MaxConcurrent: 2, RejectWhenBusy: false})

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)

	job := waitFor(t, manager, id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.InDelta(t, 100.0, job.Progress, 0.0001)
	assert.Equal(t, 3, job.TotalChunks)
	assert.Equal(t, 3, job.CompletedChunks)
	assert.Equal(t, "mem://"+id+".wav", job.ResultPath)
	assert.Empty(t, job.ErrorMessage)
	assert.True(t, job.ResultAvailable())
}

func TestManager_PreconditionFailure(t *testing.T) {
	t.Parallel()

	failing := pipelineFunc(func(_ context.Context, _ string, _ core.Request, sink core.ProgressSink) (string, error) {
		sink.Report(core.Update{Kind: core.UpdateStage, Percent: 2, Stage: "Checking engine", Chunks: 0})

		return "", errEngineDown
	})

	manager, _ := newTestManager(t, failing, jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)

	job := waitFor(t, manager, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 0, job.TotalChunks)
	assert.Contains(t, job.ErrorMessage, errEngineDown.Error())
	assert.Empty(t, job.ResultPath)
	assert.Less(t, job.Progress, 100.0)
}

func TestManager_RecoversPipelinePanic(t *testing.T) {
	t.Parallel()

	panicking := pipelineFunc(func(context.Context, string, core.Request, core.ProgressSink) (string, error) {
		panic("tensor shape mismatch")
	})

	manager, _ := newTestManager(t, panicking, jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)

	job := waitFor(t, manager, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "tensor shape mismatch")

	next, err := manager.Submit(validRequest())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, waitFor(t, manager, next).Status)
}

func TestManager_RejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t, chunkedPipeline(1), jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	req := validRequest()
	req.Text = "   "

	_, err := manager.Submit(req)
	require.ErrorIs(t, err, jobs.ErrInvalidRequest)
	require.ErrorIs(t, err, core.ErrTextEmpty)

	all, _ := manager.List()
	assert.Empty(t, all)
}

// blockingPipeline parks every run until release is closed or its context ends.
type blockingPipeline struct {
	started chan string
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newBlockingPipeline() *blockingPipeline {
	return &blockingPipeline{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (p *blockingPipeline) Run(ctx context.Context, id string, _ core.Request, sink core.ProgressSink) (string, error) {
	current := p.active.Add(1)
	defer p.active.Add(-1)

	for {
		peak := p.peak.Load()
		if current <= peak || p.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	sink.Report(core.Update{Kind: core.UpdateChunksPlanned, Percent: 10, Stage: "Planned", Chunks: 1})
	p.started <- id

	select {
	case <-p.release:
	case <-ctx.Done():
		sink.Report(core.Update{Kind: core.UpdateChunkDone, Percent: 80, Stage: "Late chunk", Chunks: 0})

		return "mem://partial-" + id, ctx.Err()
	}

	sink.Report(core.Update{Kind: core.UpdateChunkDone, Percent: 80, Stage: "Chunk done", Chunks: 0})

	return "mem://" + id, nil
}

func TestManager_AdmissionBoundsProcessing(t *testing.T) {
	t.Parallel()

	const ceiling = 2

	pipeline := newBlockingPipeline()
	manager, _ := newTestManager(t, pipeline, jobs.ManagerConfig{MaxConcurrent: ceiling, RejectWhenBusy: false})

	ids := make([]string, 0, 5)

	for range 5 {
		id, err := manager.Submit(validRequest())
		require.NoError(t, err)

		ids = append(ids, id)
	}

	for range ceiling {
		select {
		case <-pipeline.started:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not start")
		}
	}

	assert.Never(t, func() bool {
		_, running := manager.List()

		return running > ceiling
	}, 100*time.Millisecond, 10*time.Millisecond)

	all, running := manager.List()
	assert.Equal(t, ceiling, running)

	queued := 0

	for _, job := range all {
		if job.Status == jobs.StatusQueued {
			queued++
		}
	}

	assert.Equal(t, 5-ceiling, queued)

	close(pipeline.release)

	for _, id := range ids {
		assert.Equal(t, jobs.StatusCompleted, waitFor(t, manager, id).Status)
	}

	assert.LessOrEqual(t, pipeline.peak.Load(), int32(ceiling))
}

func TestManager_RejectWhenBusy(t *testing.T) {
	t.Parallel()

	pipeline := newBlockingPipeline()
	manager, _ := newTestManager(t, pipeline, jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: true})

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)
	<-pipeline.started

	_, err = manager.Submit(validRequest())
	require.ErrorIs(t, err, jobs.ErrAtCapacity)

	close(pipeline.release)
	waitFor(t, manager, id)

	_, err = manager.Submit(validRequest())
	require.NoError(t, err)
}

func TestManager_RemoveProcessingJob(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	pipeline := newBlockingPipeline()
	manager, artifacts := newTestManager(t, pipeline,
		jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false}, jobs.WithObserver(observer))

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)
	<-pipeline.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.True(t, manager.Remove(ctx, id))

	_, ok := manager.Get(id)
	assert.False(t, ok)
	assert.Equal(t, []string{"mem://partial-" + id}, artifacts.Deleted())

	updates := observer.updatesFor(id)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, updates, observer.updatesFor(id))
	assert.False(t, manager.Remove(ctx, id))
}

func TestManager_RemoveQueuedJob(t *testing.T) {
	t.Parallel()

	pipeline := newBlockingPipeline()
	manager, artifacts := newTestManager(t, pipeline, jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	first, err := manager.Submit(validRequest())
	require.NoError(t, err)
	<-pipeline.started

	second, err := manager.Submit(validRequest())
	require.NoError(t, err)

	job, _ := manager.Get(second)
	assert.Equal(t, jobs.StatusQueued, job.Status)

	require.True(t, manager.Remove(context.Background(), second))
	assert.Empty(t, artifacts.Deleted())

	close(pipeline.release)
	assert.Equal(t, jobs.StatusCompleted, waitFor(t, manager, first).Status)
}

func TestManager_RemoveCompletedJobDeletesResult(t *testing.T) {
	t.Parallel()

	manager, artifacts := newTestManager(t, chunkedPipeline(2), jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	id, err := manager.Submit(validRequest())
	require.NoError(t, err)

	job := waitFor(t, manager, id)
	require.True(t, job.ResultAvailable())

	require.True(t, manager.Remove(context.Background(), id))
	assert.Equal(t, []string{job.ResultPath}, artifacts.Deleted())
}

func TestManager_ShutdownCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	pipeline := newBlockingPipeline()
	manager, artifacts := newTestManager(t, pipeline, jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	running, err := manager.Submit(validRequest())
	require.NoError(t, err)
	<-pipeline.started

	queued, err := manager.Submit(validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Shutdown(ctx))

	for _, id := range []string{running, queued} {
		job, ok := manager.Get(id)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusCancelled, job.Status)
		assert.False(t, job.ResultAvailable())
	}

	assert.Equal(t, []string{"mem://partial-" + running}, artifacts.Deleted())

	_, err = manager.Submit(validRequest())
	require.ErrorIs(t, err, jobs.ErrShuttingDown)
}

func TestManager_WaitUnknownJob(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager(t, chunkedPipeline(1), jobs.ManagerConfig{MaxConcurrent: 1, RejectWhenBusy: false})

	_, err := manager.Wait(context.Background(), "missing")
	require.ErrorIs(t, err, jobs.ErrNotFound)
}
