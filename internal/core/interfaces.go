// Package core defines the request model and the collaborator interfaces the job
// service is built around.
package core

import (
	"context"
	"io"

	"github.com/book-expert/tts-jobs/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ResultSink persists encoded job results. Save returns the durable location that
// Open and Delete accept.
type ResultSink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Delete(ctx context.Context, location string) error
}

// Engine is a speech synthesis backend. Synthesize blocks until the chunk is
// rendered and must be safe to call from several goroutines.
type Engine interface {
	Ready(ctx context.Context) error
	Synthesize(ctx context.Context, text, voicePath string, params SynthesisParams) (audio.Waveform, error)
}

// Chunker splits input text into ordered chunks close to targetSize characters.
type Chunker interface {
	Chunk(text string, targetSize int) []string
}

// UpdateKind tells a ProgressSink which part of a job's progress changed.
type UpdateKind int

const (
	// UpdateStage carries a new percentage and stage description.
	UpdateStage UpdateKind = iota
	// UpdateChunksPlanned carries the total number of chunks in Chunks.
	UpdateChunksPlanned
	// UpdateChunkDone marks one more chunk as synthesized.
	UpdateChunkDone
)

// Update is a single progress report from a running synthesis.
type Update struct {
	Kind    UpdateKind
	Percent float64
	Stage   string
	Chunks  int
}

// ProgressSink receives progress reports for one job.
type ProgressSink interface {
	Report(update Update)
}
