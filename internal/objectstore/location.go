// Package objectstore stores job inputs and results: a NATS JetStream object
// store, a local directory and an S3 bucket. Every backend implements
// core.ResultSink and hands out locations of the form scheme://bucket/key.
package objectstore

import (
	"errors"
	"fmt"
	"strings"
)

const (
	schemeNATS = "nats"
	schemeS3   = "s3"

	contentTypeWAV = "audio/wav"
)

var (
	// ErrForeignLocation indicates a location written by another backend or bucket.
	ErrForeignLocation = errors.New("location does not belong to this store")
	// ErrInvalidKey indicates an empty object name or one that escapes its root.
	ErrInvalidKey = errors.New("invalid object key")
)

func objectLocation(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// objectKey returns the key of location if it was produced for scheme and bucket.
func objectKey(location, scheme, bucket string) (string, error) {
	prefix := fmt.Sprintf("%s://%s/", scheme, bucket)

	key, found := strings.CutPrefix(location, prefix)
	if !found {
		return "", fmt.Errorf("%w: %q", ErrForeignLocation, location)
	}

	validateErr := validateKey(key)
	if validateErr != nil {
		return "", validateErr
	}

	return key, nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return nil
}
