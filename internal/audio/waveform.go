// Package audio provides the waveform type produced by synthesis engines and the
// transforms the job pipeline applies to it: concatenation, speed scaling,
// resampling and encoding.
package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Limits for waveform validation and post-processing.
const (
	MaxSampleRate  = 192000
	MaxChannels    = 8
	MinSpeedFactor = 0.25
	MaxSpeedFactor = 4.0
)

const (
	errFmtSampleRateRange  = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange    = "%w: channels must be between 1 and %d, got %d"
	errFmtSpeedFactorRange = "%w: speed factor must be between %.2f and %.2f, got %.2f"
	errFmtSegmentLayout    = "segment %d: %d channel(s), %d samples, %d Hz"
)

// Common errors for the audio package.
var (
	ErrEmptyWaveform        = errors.New("waveform contains no samples")
	ErrInvalidWaveform      = errors.New("invalid waveform")
	ErrInvalidSpeedFactor   = errors.New("invalid speed factor")
	ErrNothingToConcatenate = errors.New("no segments to concatenate")
	ErrShapeMismatch        = errors.New("segment layout mismatch")
)

// Waveform is raw PCM audio as interleaved float32 samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (w Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}

	return len(w.Samples) / w.Channels
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(w.Frames()) / float64(w.SampleRate) * float64(time.Second))
}

// Validate checks that the waveform is non-empty and has a sane layout.
func (w Waveform) Validate() error {
	if len(w.Samples) == 0 {
		return ErrEmptyWaveform
	}

	if w.SampleRate <= 0 || w.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidWaveform, MaxSampleRate, w.SampleRate)
	}

	if w.Channels <= 0 || w.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidWaveform, MaxChannels, w.Channels)
	}

	if len(w.Samples)%w.Channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channel(s)",
			ErrInvalidWaveform, len(w.Samples), w.Channels)
	}

	return nil
}

// Concatenate joins segments in order. The first segment's sample rate is used for
// the result; every segment must share the first segment's channel layout.
func Concatenate(segments []Waveform) (Waveform, error) {
	if len(segments) == 0 {
		return Waveform{}, ErrNothingToConcatenate
	}

	first := segments[0]
	total := 0
	mismatch := false

	for _, segment := range segments {
		total += len(segment.Samples)

		if segment.Channels != first.Channels || segment.Channels <= 0 ||
			len(segment.Samples)%segment.Channels != 0 {
			mismatch = true
		}
	}

	if mismatch {
		return Waveform{}, fmt.Errorf("%w: %s", ErrShapeMismatch, describeSegments(segments))
	}

	samples := make([]float32, 0, total)
	for _, segment := range segments {
		samples = append(samples, segment.Samples...)
	}

	return Waveform{Samples: samples, SampleRate: first.SampleRate, Channels: first.Channels}, nil
}

func describeSegments(segments []Waveform) string {
	lines := make([]string, 0, len(segments))
	for index, segment := range segments {
		lines = append(lines, fmt.Sprintf(errFmtSegmentLayout,
			index, segment.Channels, len(segment.Samples), segment.SampleRate))
	}

	return strings.Join(lines, "; ")
}

// ApplySpeed shortens or stretches the waveform by factor while keeping its sample
// rate. A factor of 2 halves the duration.
func ApplySpeed(w Waveform, factor float64) (Waveform, error) {
	if factor < MinSpeedFactor || factor > MaxSpeedFactor {
		return Waveform{}, fmt.Errorf(errFmtSpeedFactorRange,
			ErrInvalidSpeedFactor, MinSpeedFactor, MaxSpeedFactor, factor)
	}

	if factor == 1.0 {
		return w, nil
	}

	outFrames := int(math.Round(float64(w.Frames()) / factor))

	return Waveform{
		Samples:    interpolate(w, outFrames, factor),
		SampleRate: w.SampleRate,
		Channels:   w.Channels,
	}, nil
}

// Resample converts the waveform to targetRate using linear interpolation.
func Resample(w Waveform, targetRate int) (Waveform, error) {
	if targetRate <= 0 || targetRate > MaxSampleRate {
		return Waveform{}, fmt.Errorf(errFmtSampleRateRange, ErrInvalidWaveform, MaxSampleRate, targetRate)
	}

	if targetRate == w.SampleRate {
		return w, nil
	}

	step := float64(w.SampleRate) / float64(targetRate)
	outFrames := int(math.Round(float64(w.Frames()) / step))

	return Waveform{
		Samples:    interpolate(w, outFrames, step),
		SampleRate: targetRate,
		Channels:   w.Channels,
	}, nil
}

// interpolate reads the source at positions i*step for every output frame.
func interpolate(w Waveform, outFrames int, step float64) []float32 {
	inFrames := w.Frames()
	if inFrames == 0 || outFrames <= 0 {
		return []float32{}
	}

	out := make([]float32, outFrames*w.Channels)

	for frame := range outFrames {
		position := float64(frame) * step
		left := int(position)

		if left >= inFrames-1 {
			left = inFrames - 1
			position = float64(left)
		}

		right := min(left+1, inFrames-1)
		weight := float32(position - float64(left))

		for channel := range w.Channels {
			a := w.Samples[left*w.Channels+channel]
			b := w.Samples[right*w.Channels+channel]
			out[frame*w.Channels+channel] = a + (b-a)*weight
		}
	}

	return out
}
