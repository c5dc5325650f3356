package objectstore_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/tts-jobs/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSink_SaveOpenDelete(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "outputs")
	sink, err := objectstore.NewLocalSink(root)
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte("RIFF local payload")

	location, err := sink.Save(ctx, "tts_1234abcd_20250301_120000.wav", payload)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sink.Root(), "tts_1234abcd_20250301_120000.wav"), location)

	onDisk, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	reader, err := sink.Open(ctx, location)
	require.NoError(t, err)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, payload, data)

	entries, err := os.ReadDir(sink.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, sink.Delete(ctx, location))
	require.NoError(t, sink.Delete(ctx, location))

	_, err = os.Stat(location)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalSink_RejectsPathsOutsideRoot(t *testing.T) {
	t.Parallel()

	sink, err := objectstore.NewLocalSink(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()

	_, err = sink.Save(ctx, "../escape.wav", []byte("x"))
	require.ErrorIs(t, err, objectstore.ErrInvalidKey)

	_, err = sink.Save(ctx, "", []byte("x"))
	require.ErrorIs(t, err, objectstore.ErrInvalidKey)

	outside := filepath.Join(t.TempDir(), "victim.wav")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o600))

	require.ErrorIs(t, sink.Delete(ctx, outside), objectstore.ErrForeignLocation)
	require.ErrorIs(t, sink.Delete(ctx, sink.Root()), objectstore.ErrForeignLocation)

	_, err = sink.Open(ctx, filepath.Join(sink.Root(), "..", "victim.wav"))
	require.ErrorIs(t, err, objectstore.ErrForeignLocation)

	_, err = os.Stat(outside)
	require.NoError(t, err)
}
