package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/tts-jobs/internal/audio"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHelloWorld   = "Hello, world!"
	testVoicePath    = "/voices/Emily.wav"
	testErrorDetail  = "Invalid speaker reference path"
	testErrorCode    = "INVALID_SPEAKER_PATH"
	testClientWait   = 10 * time.Second
	testSampleRate   = 24000
	testSampleFrames = 2400
)

func testWAV(t *testing.T) []byte {
	t.Helper()

	samples := make([]float32, testSampleFrames)
	for i := range samples {
		samples[i] = 0.1
	}

	data, err := audio.EncodeWAV(audio.Waveform{Samples: samples, SampleRate: testSampleRate, Channels: 1})
	require.NoError(t, err)

	return data
}

func testParams() core.SynthesisParams {
	return core.SynthesisParams{
		Temperature:  0.8,
		Exaggeration: 0.5,
		CFGWeight:    0.5,
		Seed:         42,
		Language:     "",
	}
}

func TestHTTPClient_SynthesizeSendsRequest(t *testing.T) {
	t.Parallel()

	wavData := testWAV(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var req tts.TTSRequest

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testHelloWorld, req.Text)
		assert.Equal(t, testVoicePath, req.SpeakerRefPath)
		assert.Equal(t, "en", req.Language)
		assert.InDelta(t, 0.8, req.Temperature, 0.0001)
		assert.InDelta(t, 0.5, req.Exaggeration, 0.0001)
		assert.InDelta(t, 0.5, req.CFGWeight, 0.0001)
		assert.Equal(t, 42, req.Seed)

		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wavData)
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL+"/", testClientWait)

	wave, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, wave.SampleRate)
	assert.Equal(t, 1, wave.Channels)
	assert.Equal(t, testSampleFrames, wave.Frames())
}

func TestHTTPClient_GenerateSpeechEmptyText(t *testing.T) {
	t.Parallel()

	client := tts.NewHTTPClient("http://localhost:8000", testClientWait)

	_, err := client.GenerateSpeech(context.Background(), tts.TTSRequest{Text: "  "})
	require.ErrorIs(t, err, tts.ErrTextCannotBeEmpty)
}

func TestHTTPClient_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(tts.TTSErrorResponse{Detail: testErrorDetail, ErrorCode: testErrorCode})
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, testClientWait)

	_, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.ErrorIs(t, err, tts.ErrServiceRequestRejected)
	assert.Contains(t, err.Error(), testErrorDetail)
	assert.Contains(t, err.Error(), testErrorCode)
}

func TestHTTPClient_ServiceErrorPlainBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("CUDA out of memory"))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, testClientWait)

	_, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.ErrorIs(t, err, tts.ErrServiceRequestRejected)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestHTTPClient_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Not audio data"))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, testClientWait)

	_, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.ErrorIs(t, err, tts.ErrUnexpectedContentType)
}

func TestHTTPClient_UndecodableAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF....WAVE"))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, testClientWait)

	_, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.ErrorIs(t, err, audio.ErrInvalidWAV)
}

func TestHTTPClient_Ready(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	require.NoError(t, tts.NewHTTPClient(healthy.URL, testClientWait).Ready(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	err := tts.NewHTTPClient(unhealthy.URL, testClientWait).Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	err = tts.NewHTTPClient("http://127.0.0.1:1", time.Second).Ready(context.Background())
	require.Error(t, err)
}

func TestHTTPClient_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 50*time.Millisecond)

	_, err := client.Synthesize(context.Background(), testHelloWorld, testVoicePath, testParams())
	require.Error(t, err)
}
