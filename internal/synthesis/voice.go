package synthesis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/tts-jobs/internal/core"
	"github.com/book-expert/tts-jobs/internal/fileutil"
)

// VoiceSource maps a request to the conditioning audio file the engine reads.
type VoiceSource interface {
	Resolve(req core.Request) (string, error)
}

// VoiceResolver looks voices up in the predefined voices directory and the
// directory of uploaded reference clips.
type VoiceResolver struct {
	predefinedDir string
	referenceDir  string
}

// NewVoiceResolver creates a resolver over the two voice directories.
func NewVoiceResolver(predefinedDir, referenceDir string) *VoiceResolver {
	return &VoiceResolver{predefinedDir: predefinedDir, referenceDir: referenceDir}
}

// Resolve returns the path of the voice file selected by req. The name must be a
// plain audio file name inside the directory for the request's voice mode.
func (r *VoiceResolver) Resolve(req core.Request) (string, error) {
	var dir, name string

	switch req.VoiceMode {
	case core.VoicePredefined:
		dir, name = r.predefinedDir, req.PredefinedVoiceID
	case core.VoiceClone:
		dir, name = r.referenceDir, req.ReferenceAudioFilename
	default:
		return "", fmt.Errorf("%w: voice mode %q", ErrVoiceNotFound, req.VoiceMode)
	}

	if name == "" || filepath.Base(name) != name || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid voice name %q", ErrVoiceNotFound, name)
	}

	if !fileutil.IsAudioFile(name) {
		return "", fmt.Errorf("%w: %q is not an audio file", ErrVoiceNotFound, name)
	}

	path := filepath.Join(dir, name)

	info, statErr := os.Stat(path)
	if statErr != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrVoiceNotFound, name, statErr)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrVoiceNotFound, name)
	}

	return path, nil
}
