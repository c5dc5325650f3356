package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/tts-jobs/internal/fileutil"
)

const resultFilePermissions = 0o600

// LocalSink writes results as files under a root directory. Locations are the
// absolute file paths.
type LocalSink struct {
	root string
}

// NewLocalSink creates the root directory if needed.
func NewLocalSink(root string) (*LocalSink, error) {
	absRoot, absErr := filepath.Abs(root)
	if absErr != nil {
		return nil, fmt.Errorf("failed to resolve output directory '%s': %w", root, absErr)
	}

	ensureErr := fileutil.EnsureDir(absRoot)
	if ensureErr != nil {
		return nil, ensureErr
	}

	return &LocalSink{root: absRoot}, nil
}

// Root returns the directory results are written to.
func (l *LocalSink) Root() string {
	return l.root
}

// Save writes data to root/name through a temporary file so readers never see a
// partial result.
func (l *LocalSink) Save(_ context.Context, name string, data []byte) (string, error) {
	validateErr := validateKey(name)
	if validateErr != nil {
		return "", validateErr
	}

	target := filepath.Join(l.root, filepath.Clean(name))

	ensureErr := fileutil.EnsureDir(filepath.Dir(target))
	if ensureErr != nil {
		return "", ensureErr
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file for '%s': %w", name, err)
	}

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(tempFile.Name(), resultFilePermissions)
	}

	if writeErr == nil {
		writeErr = os.Rename(tempFile.Name(), target)
	}

	if writeErr != nil {
		_ = os.Remove(tempFile.Name())

		return "", fmt.Errorf("failed to write '%s': %w", target, writeErr)
	}

	return target, nil
}

// Open opens a saved result.
func (l *LocalSink) Open(_ context.Context, location string) (io.ReadCloser, error) {
	path, pathErr := l.contained(location)
	if pathErr != nil {
		return nil, pathErr
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result '%s': %w", path, err)
	}

	return file, nil
}

// Delete removes a saved result. Missing files are not an error.
func (l *LocalSink) Delete(_ context.Context, location string) error {
	path, pathErr := l.contained(location)
	if pathErr != nil {
		return pathErr
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete result '%s': %w", path, err)
	}

	return nil
}

// contained resolves location and checks that it lies inside the root.
func (l *LocalSink) contained(location string) (string, error) {
	path := filepath.Clean(location)

	rel, relErr := filepath.Rel(l.root, path)
	if relErr != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrForeignLocation, location)
	}

	return path, nil
}
