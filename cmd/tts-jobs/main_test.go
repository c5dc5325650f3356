package main

import (
	"context"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/config"
	"github.com/book-expert/tts-jobs/internal/objectstore"
	"github.com/book-expert/tts-jobs/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	var cfg config.Config

	cfg.ApplyDefaults()
	cfg.Storage.OutputDir = t.TempDir()

	return &cfg
}

func TestNewEngine_SelectsBackend(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	cfg := testConfig(t)
	assert.IsType(t, &tts.HTTPClient{}, newEngine(cfg, log))

	cfg.TTS.Backend = config.BackendChatLLM
	assert.IsType(t, &tts.ChatLLMEngine{}, newEngine(cfg, log))
}

func TestConnect_LocalStorageNeedsNoServices(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	cfg := testConfig(t)

	deps, err := connect(context.Background(), cfg, log)
	require.NoError(t, err)

	defer deps.close()

	sink, ok := deps.sink.(*objectstore.LocalSink)
	require.True(t, ok)
	assert.Equal(t, cfg.Storage.OutputDir, sink.Root())
	assert.Nil(t, deps.nats)
	assert.Nil(t, deps.mirror)
}

func TestConnect_ReportsUnreachableRedis(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err = connect(context.Background(), cfg, log)
	require.Error(t, err)
}
