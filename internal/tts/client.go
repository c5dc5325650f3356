// Package tts provides the speech synthesis engines jobs run against: a client
// for a standalone TTS HTTP service and a wrapper around the local chatllm
// binary.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-jobs/internal/audio"
	"github.com/book-expert/tts-jobs/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Default values.
const (
	defaultLanguage = "en"
	maxErrorBody    = 4096
)

// Error messages.
const (
	errFmtUnexpectedContentType = "%w: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "%w (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "%w: %s, body: %s"
)

// Errors returned by the HTTP client.
var (
	ErrTextCannotBeEmpty      = errors.New("text cannot be empty")
	ErrUnexpectedContentType  = errors.New("unexpected content type")
	ErrReceivedEmptyAudio     = errors.New("received empty audio data")
	ErrServiceRequestRejected = errors.New("TTS service error")
)

// HTTPClient talks to the standalone TTS HTTP service. It implements
// core.Engine: Ready maps to the health endpoint and Synthesize to the speech
// endpoint.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// TTSRequest defines the JSON payload of a speech generation request.
type TTSRequest struct {
	Text string `json:"text"`

	// SpeakerRefPath is the server-side path of the conditioning voice file.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	Language     string  `json:"language"`
	Temperature  float64 `json:"temperature"`
	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
	Seed         int     `json:"seed"`
}

// TTSErrorResponse represents a structured error response from the TTS service.
type TTSErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the service at baseURL, e.g.
// "http://localhost:8000". The timeout applies to every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ready reports whether the service is reachable and healthy.
func (c *HTTPClient) Ready(ctx context.Context) error {
	return c.HealthCheck(ctx)
}

// Synthesize renders text with the voice at voicePath and decodes the returned WAV.
func (c *HTTPClient) Synthesize(
	ctx context.Context,
	text, voicePath string,
	params core.SynthesisParams,
) (audio.Waveform, error) {
	audioData, err := c.GenerateSpeech(ctx, TTSRequest{
		Text:           text,
		SpeakerRefPath: voicePath,
		Language:       params.Language,
		Temperature:    params.Temperature,
		Exaggeration:   params.Exaggeration,
		CFGWeight:      params.CFGWeight,
		Seed:           params.Seed,
	})
	if err != nil {
		return audio.Waveform{}, err
	}

	wave, decodeErr := audio.DecodeWAV(audioData)
	if decodeErr != nil {
		return audio.Waveform{}, fmt.Errorf("failed to decode service audio: %w", decodeErr)
	}

	return wave, nil
}

// GenerateSpeech sends a generation request and returns the raw WAV bytes.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req TTSRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextCannotBeEmpty
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is running and operational.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the service and falls
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errorResp TTSErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			ErrServiceRequestRejected, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceRequestRejected, resp.Status, string(body))
}
