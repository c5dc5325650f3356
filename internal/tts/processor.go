package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/audio"
	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/fileutil"
)

const defaultChatLLMBinary = "chatllm"

// ErrBinaryNotFound is returned when the chatllm executable cannot be located.
var ErrBinaryNotFound = errors.New("chatllm binary not found")

// ChatLLMConfig holds the settings of the local chatllm backend.
type ChatLLMConfig struct {
	BinaryPath        string
	ModelPath         string
	SnacModelPath     string
	NGL               int
	TopP              float64
	RepetitionPenalty float64
}

// ChatLLMEngine implements core.Engine by running the chatllm binary once per
// chunk and reading back the WAV file it exports.
type ChatLLMEngine struct {
	config ChatLLMConfig
	log    *logger.Logger
}

// NewChatLLMEngine creates a new ChatLLMEngine.
func NewChatLLMEngine(cfg ChatLLMConfig, log *logger.Logger) *ChatLLMEngine {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = defaultChatLLMBinary
	}

	return &ChatLLMEngine{
		config: cfg,
		log:    log,
	}
}

// Ready checks that the binary and both model files are present.
func (e *ChatLLMEngine) Ready(_ context.Context) error {
	_, lookErr := exec.LookPath(e.config.BinaryPath)
	if lookErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, e.config.BinaryPath, lookErr)
	}

	for _, model := range []string{e.config.ModelPath, e.config.SnacModelPath} {
		if model == "" {
			return fmt.Errorf("%w: model path is not configured", fileutil.ErrModelNotFound)
		}

		_, modelErr := fileutil.ResolveModelPath(model)
		if modelErr != nil {
			return modelErr
		}
	}

	return nil
}

// Synthesize renders text with the speaker named after the voice file.
func (e *ChatLLMEngine) Synthesize(
	ctx context.Context,
	text, voicePath string,
	params core.SynthesisParams,
) (audio.Waveform, error) {
	tempFile, err := os.CreateTemp("", "tts-output-*.wav")
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		e.log.Warn("Failed to close temp file '%s': %v", tempFile.Name(), closeErr)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	args := e.arguments(text, speakerName(voicePath), tempFile.Name(), params)

	// #nosec G204 -- arguments are built from validated request parameters
	cmd := exec.CommandContext(ctx, e.config.BinaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	wave, err := audio.DecodeWAV(audioData)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("failed to decode chatllm audio: %w", err)
	}

	return wave, nil
}

func (e *ChatLLMEngine) arguments(text, speaker, exportPath string, params core.SynthesisParams) []string {
	return []string{
		"-m", e.config.ModelPath,
		"--snac_model", e.config.SnacModelPath,
		"-p", fmt.Sprintf("{%s}: %s", speaker, text),
		"--tts_export", exportPath,
		"--seed", strconv.Itoa(params.Seed),
		"-ngl", strconv.Itoa(e.config.NGL),
		"--top_p", fmt.Sprintf("%.2f", e.config.TopP),
		"--repetition_penalty", fmt.Sprintf("%.2f", e.config.RepetitionPenalty),
		"--temp", fmt.Sprintf("%.2f", params.Temperature),
	}
}

// speakerName turns "voices/Emily.wav" into "Emily".
func speakerName(voicePath string) string {
	base := filepath.Base(voicePath)

	return strings.TrimSuffix(base, filepath.Ext(base))
}
