// Package synthesis drives one job through chunked speech synthesis: engine
// check, voice resolution, chunking, per-chunk synthesis, concatenation,
// encoding and persistence, reporting progress as it goes.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/audio"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/fileutil"
	"github.com/book-expert/tts-jobs/internal/workerpool"
)

// Progress bands reported while a job runs.
const (
	percentEngineCheck = 2.0
	percentVoice       = 5.0
	percentChunking    = 10.0
	percentChunksStart = 15.0
	percentChunksSpan  = 65.0
	percentConcatenate = 80.0
	percentResample    = 85.0
	percentEncode      = 90.0
	percentSave        = 95.0
)

const (
	// DefaultMinEncodedBytes is the smallest encoded payload accepted as audio.
	DefaultMinEncodedBytes = 100

	// splitThreshold is how much longer than the chunk size a text must be
	// before it is split at all.
	splitThreshold = 1.5
	// manyChunksWarning and longChunkWarning trigger advisory log lines.
	manyChunksWarning = 50
	longChunkWarning  = 500
)

// Errors reported by the driver. Each failure wraps one of them.
var (
	ErrEngineUnavailable = errors.New("synthesis engine unavailable")
	ErrVoiceNotFound     = errors.New("voice not found")
	ErrNoChunks          = errors.New("text produced no chunks")
	ErrChunkFailed       = errors.New("chunk synthesis failed")
	ErrConcatenate       = errors.New("failed to combine audio chunks")
	ErrEncode            = errors.New("failed to encode audio")
	ErrPersist           = errors.New("failed to save result")
)

// TextNormalizer cleans input text before it is chunked.
type TextNormalizer interface {
	Normalize(input string) string
}

// Components are the collaborators a Driver runs against.
type Components struct {
	Engine     core.Engine
	Voices     VoiceSource
	Chunker    core.Chunker
	Normalizer TextNormalizer
	Pool       *workerpool.Pool
	Sink       core.ResultSink
}

// Settings tune the driver.
type Settings struct {
	// OutputSampleRate resamples results to this rate; zero keeps the engine's.
	OutputSampleRate int
	MinEncodedBytes  int
	// MaxChunkAttempts is how often a chunk is tried before the job fails.
	MaxChunkAttempts int
}

// Driver runs the synthesis pipeline of a job. It is safe for concurrent use;
// every Run call is independent.
type Driver struct {
	components Components
	settings   Settings
	now        func() time.Time
	log        *logger.Logger
}

// NewDriver creates a driver. Zero settings fall back to defaults.
func NewDriver(components Components, settings Settings, log *logger.Logger) *Driver {
	if settings.MinEncodedBytes <= 0 {
		settings.MinEncodedBytes = DefaultMinEncodedBytes
	}

	if settings.MaxChunkAttempts < 1 {
		settings.MaxChunkAttempts = 1
	}

	return &Driver{
		components: components,
		settings:   settings,
		now:        time.Now,
		log:        log,
	}
}

// Run synthesizes req for the job jobID and returns the location of the saved
// result. When ctx is cancelled after the result was saved, the location is
// still returned together with the context error so the caller can discard it.
func (d *Driver) Run(ctx context.Context, jobID string, req core.Request, progress core.ProgressSink) (string, error) {
	report(progress, percentEngineCheck, "Checking synthesis engine")

	readyErr := d.components.Engine.Ready(ctx)
	if readyErr != nil {
		return "", fmt.Errorf("%w: %w", ErrEngineUnavailable, readyErr)
	}

	report(progress, percentVoice, "Resolving voice")

	voicePath, voiceErr := d.components.Voices.Resolve(req)
	if voiceErr != nil {
		return "", voiceErr
	}

	report(progress, percentChunking, "Splitting text into chunks")

	chunks := d.plan(jobID, req)
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}

	progress.Report(core.Update{
		Kind:    core.UpdateChunksPlanned,
		Percent: percentChunking,
		Stage:   fmt.Sprintf("Split text into %d chunk(s)", len(chunks)),
		Chunks:  len(chunks),
	})

	segments, synthErr := d.synthesizeChunks(ctx, jobID, chunks, voicePath, req, progress)
	if synthErr != nil {
		return "", synthErr
	}

	encoded, format, encodeErr := d.render(ctx, segments, req, progress)
	if encodeErr != nil {
		return "", encodeErr
	}

	report(progress, percentSave, "Saving result")

	name := fileutil.ResultFileName(jobID, string(format), d.now())

	location, saveErr := d.components.Sink.Save(ctx, name, encoded)
	if saveErr != nil {
		return "", fmt.Errorf("%w: %w", ErrPersist, saveErr)
	}

	d.log.Info("Job %s saved %s of audio to %s", jobID, fileutil.FormatFileSize(int64(len(encoded))), location)

	return location, ctx.Err()
}

// plan normalises the text and splits it when it is long enough to need it.
func (d *Driver) plan(jobID string, req core.Request) []string {
	normalized := d.components.Normalizer.Normalize(req.Text)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	threshold := int(float64(req.ChunkSize) * splitThreshold)
	if !req.SplitText || utf8.RuneCountInString(normalized) <= threshold {
		return []string{normalized}
	}

	chunks := d.components.Chunker.Chunk(normalized, req.ChunkSize)

	if len(chunks) > manyChunksWarning {
		d.log.Warn("Job %s split into %d chunks; synthesis will take a while", jobID, len(chunks))
	}

	for i, chunk := range chunks {
		length := utf8.RuneCountInString(chunk)
		if length > longChunkWarning {
			d.log.Warn("Job %s chunk %d is %d characters long", jobID, i+1, length)
		}
	}

	return chunks
}

func (d *Driver) synthesizeChunks(
	ctx context.Context,
	jobID string,
	chunks []string,
	voicePath string,
	req core.Request,
	progress core.ProgressSink,
) ([]audio.Waveform, error) {
	total := len(chunks)
	segments := make([]audio.Waveform, 0, total)
	sampleRate := 0

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stopped before chunk %d/%d: %w", i+1, total, ctx.Err())
		}

		report(progress, chunkPercent(i, total), fmt.Sprintf("Synthesizing chunk %d/%d", i+1, total))

		wave, chunkErr := d.synthesizeChunk(ctx, jobID, chunk, voicePath, req.Params)
		if chunkErr != nil {
			return nil, fmt.Errorf("%w: chunk %d/%d: %w", ErrChunkFailed, i+1, total, chunkErr)
		}

		if sampleRate == 0 {
			sampleRate = wave.SampleRate
		} else if wave.SampleRate != sampleRate {
			d.log.Warn("Job %s chunk %d has sample rate %d Hz, using %d Hz", jobID, i+1, wave.SampleRate, sampleRate)
		}

		if req.SpeedFactor != 0 && req.SpeedFactor != 1.0 {
			scaled, speedErr := audio.ApplySpeed(wave, req.SpeedFactor)
			if speedErr != nil {
				return nil, fmt.Errorf("%w: chunk %d/%d: %w", ErrChunkFailed, i+1, total, speedErr)
			}

			wave = scaled
		}

		segments = append(segments, wave)

		progress.Report(core.Update{
			Kind:    core.UpdateChunkDone,
			Percent: chunkPercent(i+1, total),
			Stage:   fmt.Sprintf("Completed chunk %d/%d", i+1, total),
			Chunks:  0,
		})
	}

	return segments, nil
}

// synthesizeChunk runs one chunk on the worker pool, retrying up to the
// configured number of attempts.
func (d *Driver) synthesizeChunk(
	ctx context.Context,
	jobID, chunk, voicePath string,
	params core.SynthesisParams,
) (audio.Waveform, error) {
	var lastErr error

	for attempt := 1; attempt <= d.settings.MaxChunkAttempts; attempt++ {
		wave, err := workerpool.Submit(ctx, d.components.Pool, func() (audio.Waveform, error) {
			return d.components.Engine.Synthesize(ctx, chunk, voicePath, params)
		})
		if err == nil {
			err = wave.Validate()
		}

		if err == nil {
			return wave, nil
		}

		if ctx.Err() != nil {
			return audio.Waveform{}, err
		}

		lastErr = err

		if attempt < d.settings.MaxChunkAttempts {
			d.log.Warn("Job %s chunk attempt %d failed, retrying: %v", jobID, attempt, err)
		}
	}

	return audio.Waveform{}, lastErr
}

// render concatenates, resamples and encodes the segments.
func (d *Driver) render(
	ctx context.Context,
	segments []audio.Waveform,
	req core.Request,
	progress core.ProgressSink,
) ([]byte, audio.Format, error) {
	report(progress, percentConcatenate, "Combining audio chunks")

	combined, concatErr := audio.Concatenate(segments)
	if concatErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrConcatenate, concatErr)
	}

	d.log.Info("Combined %d chunk(s) into %s of audio", len(segments), fileutil.FormatDuration(combined.Duration()))

	if d.settings.OutputSampleRate > 0 && combined.SampleRate != d.settings.OutputSampleRate {
		report(progress, percentResample, fmt.Sprintf("Resampling to %d Hz", d.settings.OutputSampleRate))

		resampled, resampleErr := audio.Resample(combined, d.settings.OutputSampleRate)
		if resampleErr != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrEncode, resampleErr)
		}

		combined = resampled
	}

	format, formatErr := audio.ParseFormat(req.OutputFormat)
	if formatErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrEncode, formatErr)
	}

	report(progress, percentEncode, fmt.Sprintf("Encoding %s audio", format))

	encoded, encodeErr := workerpool.Submit(ctx, d.components.Pool, func() ([]byte, error) {
		return audio.Encode(combined, format)
	})
	if encodeErr != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrEncode, encodeErr)
	}

	if len(encoded) < d.settings.MinEncodedBytes {
		return nil, "", fmt.Errorf("%w: payload of %d bytes is too small", ErrEncode, len(encoded))
	}

	return encoded, format, nil
}

func report(progress core.ProgressSink, percent float64, stage string) {
	progress.Report(core.Update{Kind: core.UpdateStage, Percent: percent, Stage: stage, Chunks: 0})
}

func chunkPercent(done, total int) float64 {
	return percentChunksStart + float64(done)/float64(total)*percentChunksSpan
}
