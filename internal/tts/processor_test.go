package tts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/fileutil"
	"github.com/book-expert/tts-jobs/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatLLM copies a prepared WAV file to the path given after --tts_export
// and records the prompt it was given.
const fakeChatLLM = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --tts_export) out="$2"; shift 2 ;;
    -p) echo "$2" > "$PROMPT_LOG"; shift 2 ;;
    *) shift ;;
  esac
done
cp "$FIXTURE_WAV" "$out"
`

const failingChatLLM = `#!/bin/sh
echo "model load failed" >&2
exit 3
`

func newProcessorLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	// #nosec G306 -- the test binary must be executable
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))

	return path
}

func writeModels(t *testing.T, dir string) (string, string) {
	t.Helper()

	model := filepath.Join(dir, "orpheus.gguf")
	snac := filepath.Join(dir, "snac.gguf")

	require.NoError(t, os.WriteFile(model, []byte("model"), 0o600))
	require.NoError(t, os.WriteFile(snac, []byte("snac"), 0o600))

	return model, snac
}

func TestChatLLMEngine_Ready(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	binary := writeExecutable(t, dir, "chatllm", fakeChatLLM)
	model, snac := writeModels(t, dir)
	log := newProcessorLogger(t)

	engine := tts.NewChatLLMEngine(tts.ChatLLMConfig{
		BinaryPath:        binary,
		ModelPath:         model,
		SnacModelPath:     snac,
		NGL:               0,
		TopP:              0.9,
		RepetitionPenalty: 1.1,
	}, log)
	require.NoError(t, engine.Ready(context.Background()))

	missingBinary := tts.NewChatLLMEngine(tts.ChatLLMConfig{
		BinaryPath:    filepath.Join(dir, "no-such-binary"),
		ModelPath:     model,
		SnacModelPath: snac,
	}, log)
	require.ErrorIs(t, missingBinary.Ready(context.Background()), tts.ErrBinaryNotFound)

	missingModel := tts.NewChatLLMEngine(tts.ChatLLMConfig{
		BinaryPath:    binary,
		ModelPath:     filepath.Join(dir, "absent.gguf"),
		SnacModelPath: snac,
	}, log)
	require.ErrorIs(t, missingModel.Ready(context.Background()), fileutil.ErrModelNotFound)

	unconfigured := tts.NewChatLLMEngine(tts.ChatLLMConfig{BinaryPath: binary}, log)
	require.ErrorIs(t, unconfigured.Ready(context.Background()), fileutil.ErrModelNotFound)
}

//nolint:paralleltest // uses t.Setenv
func TestChatLLMEngine_Synthesize(t *testing.T) {
	dir := t.TempDir()
	binary := writeExecutable(t, dir, "chatllm", fakeChatLLM)
	model, snac := writeModels(t, dir)

	fixture := filepath.Join(dir, "fixture.wav")
	require.NoError(t, os.WriteFile(fixture, testWAV(t), 0o600))

	promptLog := filepath.Join(dir, "prompt.txt")

	t.Setenv("FIXTURE_WAV", fixture)
	t.Setenv("PROMPT_LOG", promptLog)

	engine := tts.NewChatLLMEngine(tts.ChatLLMConfig{
		BinaryPath:        binary,
		ModelPath:         model,
		SnacModelPath:     snac,
		NGL:               0,
		TopP:              0.9,
		RepetitionPenalty: 1.1,
	}, newProcessorLogger(t))

	wave, err := engine.Synthesize(context.Background(), testHelloWorld, "/voices/Emily.wav", testParams())
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, wave.SampleRate)
	assert.Equal(t, testSampleFrames, wave.Frames())

	prompt, err := os.ReadFile(promptLog)
	require.NoError(t, err)
	assert.Equal(t, "{Emily}: "+testHelloWorld+"\n", string(prompt))
}

func TestChatLLMEngine_SynthesizeFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	binary := writeExecutable(t, dir, "chatllm", failingChatLLM)
	model, snac := writeModels(t, dir)

	engine := tts.NewChatLLMEngine(tts.ChatLLMConfig{
		BinaryPath:    binary,
		ModelPath:     model,
		SnacModelPath: snac,
	}, newProcessorLogger(t))

	_, err := engine.Synthesize(context.Background(), testHelloWorld, "/voices/Emily.wav", testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model load failed")
}
