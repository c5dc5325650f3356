// Package fileutil provides file naming, path resolution and display formatting
// helpers shared by the job service.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Common path constants.
const (
	modelsDirName          = "models"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
	resultFilePrefix       = "tts"
	resultTimestampLayout  = "20060102_150405"
	shortIDLength          = 8
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio file extensions accepted as voice references.
const (
	extWAV  = ".wav"
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extOGG  = ".ogg"
)

const (
	errFmtFailedToCreateDir     = "failed to create directory %s: %w"
	errFmtCouldNotResolvePath   = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingPath     = "error checking model path %q: %w"
	errFmtModelNotFoundWithName = "%w: %s"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// ResolveModelPath returns the absolute path of a model file, looking at the
// given path first and then inside a local "models" directory.
func ResolveModelPath(modelName string) (string, error) {
	candidatePaths := []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
	}

	for _, path := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		}

		if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf(errFmtModelNotFoundWithName, ErrModelNotFound, modelName)
}

func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		absPath, absErr := filepath.Abs(path)
		if absErr != nil {
			return "", false, fmt.Errorf(errFmtCouldNotResolvePath, path, absErr)
		}

		return absPath, true, nil
	}

	if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf(errFmtErrorCheckingPath, path, statErr)
	}

	return "", false, nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(duration time.Duration) string {
	seconds := duration.Seconds()

	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingMinutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count as a human-readable string (e.g., "1.2 GB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsAudioFile checks if a filename has a supported audio file extension.
func IsAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG:
		return true
	default:
		return false
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// ResultFileName builds the artifact name for a job, e.g.
// "tts_1b4e28ba_20250102_150405.wav".
func ResultFileName(jobID, format string, at time.Time) string {
	shortID := jobID
	if len(shortID) > shortIDLength {
		shortID = shortID[:shortIDLength]
	}

	name := fmt.Sprintf("%s_%s_%s.%s", resultFilePrefix, shortID, at.Format(resultTimestampLayout), format)

	return SanitizeFilename(name)
}
