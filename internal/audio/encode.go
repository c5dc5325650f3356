package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format represents supported audio formats.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
)

const (
	pcmBitDepth    = 16
	pcmAudioFormat = 1
	pcmMaxValue    = math.MaxInt16
)

// Common encoding errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidWAV        = errors.New("data is not a valid WAV file")
)

// ParseFormat normalises name and reports whether it can be encoded.
func ParseFormat(name string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))

	switch format {
	case FormatWAV:
		return format, nil
	case FormatMP3, FormatOpus:
		return "", fmt.Errorf("%w: %s encoding is not available", ErrUnsupportedFormat, format)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Encode renders the waveform in the given format.
func Encode(w Waveform, format Format) ([]byte, error) {
	switch format {
	case FormatWAV:
		return EncodeWAV(w)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EncodeWAV renders the waveform as a 16-bit PCM WAV file.
func EncodeWAV(w Waveform) ([]byte, error) {
	validateErr := w.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	// The encoder patches the RIFF header on Close, so it needs a seekable target.
	tempFile, err := os.CreateTemp("", "tts-encode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav encoding: %w", err)
	}

	defer func() {
		_ = os.Remove(tempFile.Name())
	}()

	encoder := wav.NewEncoder(tempFile, w.SampleRate, pcmBitDepth, w.Channels, pcmAudioFormat)

	writeErr := encoder.Write(toIntBuffer(w))
	closeEncErr := encoder.Close()
	closeFileErr := tempFile.Close()

	if writeErr != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", writeErr)
	}

	if closeEncErr != nil {
		return nil, fmt.Errorf("failed to finalise wav header: %w", closeEncErr)
	}

	if closeFileErr != nil {
		return nil, fmt.Errorf("failed to close wav temp file: %w", closeFileErr)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav: %w", err)
	}

	return data, nil
}

// DecodeWAV parses PCM WAV data into a waveform.
func DecodeWAV(data []byte) (Waveform, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Waveform{}, ErrInvalidWAV
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("failed to decode wav samples: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = buffer.SourceBitDepth
	}

	if bitDepth <= 0 {
		bitDepth = pcmBitDepth
	}

	waveform := Waveform{
		Samples:    fromInts(buffer.Data, bitDepth),
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}

	validateErr := waveform.Validate()
	if validateErr != nil {
		return Waveform{}, validateErr
	}

	return waveform, nil
}

func toIntBuffer(w Waveform) *goaudio.IntBuffer {
	data := make([]int, len(w.Samples))

	for index, sample := range w.Samples {
		clamped := math.Max(-1, math.Min(1, float64(sample)))
		data[index] = int(math.Round(clamped * pcmMaxValue))
	}

	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: w.Channels, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	}
}

func fromInts(data []int, bitDepth int) []float32 {
	samples := make([]float32, len(data))

	if bitDepth == 8 {
		// 8-bit PCM is unsigned.
		for index, value := range data {
			samples[index] = float32(value-128) / 128
		}

		return samples
	}

	scale := float32(int64(1) << (bitDepth - 1))
	for index, value := range data {
		samples[index] = float32(value) / scale
	}

	return samples
}
