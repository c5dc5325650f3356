package httpapi

import "github.com/book-expert/tts-jobs/internal/core"

// SubmitRequest is the body of a job submission. Every field except text is
// optional and falls back to the server defaults.
type SubmitRequest struct {
	Text                   string   `json:"text"`
	VoiceMode              *string  `json:"voice_mode,omitempty"`
	PredefinedVoiceID      *string  `json:"predefined_voice_id,omitempty"`
	ReferenceAudioFilename *string  `json:"reference_audio_filename,omitempty"`
	OutputFormat           *string  `json:"output_format,omitempty"`
	SplitText              *bool    `json:"split_text,omitempty"`
	ChunkSize              *int     `json:"chunk_size,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
	Exaggeration           *float64 `json:"exaggeration,omitempty"`
	CFGWeight              *float64 `json:"cfg_weight,omitempty"`
	Seed                   *int     `json:"seed,omitempty"`
	SpeedFactor            *float64 `json:"speed_factor,omitempty"`
	Language               *string  `json:"language,omitempty"`
}

// Resolve overlays the caller's overrides on the defaults. The result is not
// validated here; the job manager rejects invalid requests.
func (b SubmitRequest) Resolve(defaults core.Defaults) core.Request {
	req := defaults.NewRequest(b.Text)

	if b.VoiceMode != nil {
		req.VoiceMode = core.VoiceMode(*b.VoiceMode)
	}

	overlay(&req.PredefinedVoiceID, b.PredefinedVoiceID)
	overlay(&req.ReferenceAudioFilename, b.ReferenceAudioFilename)
	overlay(&req.OutputFormat, b.OutputFormat)
	overlay(&req.SplitText, b.SplitText)
	overlay(&req.ChunkSize, b.ChunkSize)
	overlay(&req.SpeedFactor, b.SpeedFactor)
	overlay(&req.Params.Temperature, b.Temperature)
	overlay(&req.Params.Exaggeration, b.Exaggeration)
	overlay(&req.Params.CFGWeight, b.CFGWeight)
	overlay(&req.Params.Seed, b.Seed)
	overlay(&req.Params.Language, b.Language)

	return req
}

func overlay[T any](field *T, value *T) {
	if value != nil {
		*field = *value
	}
}
