package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/tts-jobs/internal/audio"
)

// VoiceMode selects where the conditioning voice comes from.
type VoiceMode string

const (
	// VoicePredefined uses a built-in voice file from the predefined voices directory.
	VoicePredefined VoiceMode = "predefined"
	// VoiceClone uses a user-uploaded reference audio file.
	VoiceClone VoiceMode = "clone"
)

// Accepted parameter ranges.
const (
	MinChunkSize    = 50
	MaxChunkSize    = 500
	MaxTemperature  = 1.5
	MinExaggeration = 0.25
	MaxExaggeration = 2.0
	MinCFGWeight    = 0.2
	MaxCFGWeight    = 1.0
)

var (
	// ErrTextEmpty indicates that the request has no text to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrInvalidVoiceMode indicates an unknown voice mode.
	ErrInvalidVoiceMode = errors.New("invalid voice mode")
	// ErrVoiceIDRequired indicates a predefined request without a voice id.
	ErrVoiceIDRequired = errors.New("predefined voice id is required for predefined voice mode")
	// ErrReferenceRequired indicates a clone request without a reference file.
	ErrReferenceRequired = errors.New("reference audio filename is required for clone voice mode")
	// ErrChunkSizeRange indicates a chunk size outside [MinChunkSize, MaxChunkSize].
	ErrChunkSizeRange = errors.New("chunk size out of range")
	// ErrTemperatureRange indicates a temperature outside [0, MaxTemperature].
	ErrTemperatureRange = errors.New("temperature out of range")
	// ErrExaggerationRange indicates an exaggeration outside its range.
	ErrExaggerationRange = errors.New("exaggeration out of range")
	// ErrCFGWeightRange indicates a CFG weight outside its range.
	ErrCFGWeightRange = errors.New("cfg weight out of range")
	// ErrSeedNegative indicates a negative seed.
	ErrSeedNegative = errors.New("seed must be non-negative")
	// ErrSpeedFactorRange indicates a speed factor outside the supported range.
	ErrSpeedFactorRange = errors.New("speed factor out of range")
)

// SynthesisParams are the per-chunk generation parameters handed to the engine.
type SynthesisParams struct {
	Temperature  float64 `json:"temperature"`
	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
	Seed         int     `json:"seed"`
	Language     string  `json:"language,omitempty"`
}

// Request is the fully resolved parameter set of a job. Jobs keep it by value, so
// later changes to configuration never reach a job already submitted.
type Request struct {
	Text                   string          `json:"text"`
	VoiceMode              VoiceMode       `json:"voice_mode"`
	PredefinedVoiceID      string          `json:"predefined_voice_id,omitempty"`
	ReferenceAudioFilename string          `json:"reference_audio_filename,omitempty"`
	OutputFormat           string          `json:"output_format"`
	SplitText              bool            `json:"split_text"`
	ChunkSize              int             `json:"chunk_size"`
	SpeedFactor            float64         `json:"speed_factor"`
	Params                 SynthesisParams `json:"params"`
}

// Defaults are the server-side values a request starts from before caller
// overrides are applied.
type Defaults struct {
	VoiceMode         VoiceMode
	PredefinedVoiceID string
	OutputFormat      string
	SplitText         bool
	ChunkSize         int
	SpeedFactor       float64
	Params            SynthesisParams
}

// NewRequest returns a request for text populated entirely from the defaults.
func (d Defaults) NewRequest(text string) Request {
	return Request{
		Text:                   text,
		VoiceMode:              d.VoiceMode,
		PredefinedVoiceID:      d.PredefinedVoiceID,
		ReferenceAudioFilename: "",
		OutputFormat:           d.OutputFormat,
		SplitText:              d.SplitText,
		ChunkSize:              d.ChunkSize,
		SpeedFactor:            d.SpeedFactor,
		Params:                 d.Params,
	}
}

// Validate ensures that the request contains valid and safe values.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrTextEmpty
	}

	voiceErr := r.validateVoice()
	if voiceErr != nil {
		return voiceErr
	}

	_, formatErr := audio.ParseFormat(r.OutputFormat)
	if formatErr != nil {
		return formatErr
	}

	if r.ChunkSize < MinChunkSize || r.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: must be between %d and %d, got %d",
			ErrChunkSizeRange, MinChunkSize, MaxChunkSize, r.ChunkSize)
	}

	if r.SpeedFactor < audio.MinSpeedFactor || r.SpeedFactor > audio.MaxSpeedFactor {
		return fmt.Errorf("%w: must be between %.2f and %.2f, got %.2f",
			ErrSpeedFactorRange, audio.MinSpeedFactor, audio.MaxSpeedFactor, r.SpeedFactor)
	}

	return r.Params.Validate()
}

func (r Request) validateVoice() error {
	switch r.VoiceMode {
	case VoicePredefined:
		if r.PredefinedVoiceID == "" {
			return ErrVoiceIDRequired
		}
	case VoiceClone:
		if r.ReferenceAudioFilename == "" {
			return ErrReferenceRequired
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidVoiceMode, r.VoiceMode)
	}

	return nil
}

// Validate checks the generation parameters against the engine's accepted ranges.
func (p SynthesisParams) Validate() error {
	if p.Temperature < 0.0 || p.Temperature > MaxTemperature {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, p.Temperature)
	}

	if p.Exaggeration < MinExaggeration || p.Exaggeration > MaxExaggeration {
		return fmt.Errorf("%w: got %f", ErrExaggerationRange, p.Exaggeration)
	}

	if p.CFGWeight < MinCFGWeight || p.CFGWeight > MaxCFGWeight {
		return fmt.Errorf("%w: got %f", ErrCFGWeightRange, p.CFGWeight)
	}

	if p.Seed < 0 {
		return fmt.Errorf("%w: got %d", ErrSeedNegative, p.Seed)
	}

	return nil
}
