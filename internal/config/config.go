// Package config provides the configuration structure for the tts-jobs service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-jobs/internal/core"
)

// Engine backends.
const (
	BackendHTTP    = "http"
	BackendChatLLM = "chatllm"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageNATS  = "nats"
	StorageS3    = "s3"
)

// Default values applied to unset fields.
const (
	defaultServiceURL             = "http://localhost:8000"
	defaultTimeoutSeconds         = 300
	defaultTemperature            = 0.8
	defaultExaggeration           = 0.5
	defaultCFGWeight              = 0.5
	defaultLanguage               = "en"
	defaultOutputFormat           = "wav"
	defaultChunkSize              = 120
	defaultSpeedFactor            = 1.0
	defaultTopP                   = 0.9
	defaultRepetitionPenalty      = 1.1
	defaultMaxConcurrent          = 3
	defaultRetentionHours         = 24
	defaultCleanupIntervalMinutes = 60
	defaultPredefinedDir          = "voices"
	defaultReferenceDir           = "reference_audio"
	defaultVoice                  = "Emily.wav"
	defaultOutputDir              = "outputs"
	defaultListenAddr             = ":8004"
	defaultShutdownSeconds        = 30
	defaultResultTimeoutMinutes   = 60
	defaultRedisTTLHours          = 24
	defaultLogsDir                = "logs"
)

var (
	// ErrUnknownBackend indicates an unsupported engine backend.
	ErrUnknownBackend = errors.New("unknown synthesis backend")
	// ErrUnknownStorage indicates an unsupported storage backend.
	ErrUnknownStorage = errors.New("unknown storage backend")
	// ErrMissingSetting indicates that a setting required by the chosen backend is empty.
	ErrMissingSetting = errors.New("missing required setting")
)

// TTSServiceConfig holds the synthesis engine settings and request defaults.
type TTSServiceConfig struct {
	Backend        string `toml:"backend"`
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`

	BinaryPath        string  `toml:"binary_path"`
	ModelPath         string  `toml:"model_path"`
	SnacModelPath     string  `toml:"snac_model_path"`
	NGL               int     `toml:"ngl"`
	TopP              float64 `toml:"top_p"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`

	Temperature  float64 `toml:"temperature"`
	Exaggeration float64 `toml:"exaggeration"`
	CFGWeight    float64 `toml:"cfg_weight"`
	Seed         int     `toml:"seed"`
	Language     string  `toml:"language"`

	OutputFormat     string  `toml:"output_format"`
	OutputSampleRate int     `toml:"output_sample_rate"`
	SplitText        *bool   `toml:"split_text"`
	ChunkSize        int     `toml:"chunk_size"`
	SpeedFactor      float64 `toml:"speed_factor"`
	MinEncodedBytes  int     `toml:"min_encoded_bytes"`
	MaxChunkAttempts int     `toml:"max_chunk_attempts"`
}

// JobsConfig holds the job engine limits.
type JobsConfig struct {
	MaxConcurrent          int  `toml:"max_concurrent"`
	SynthesisWorkers       int  `toml:"synthesis_workers"`
	RetentionHours         int  `toml:"retention_hours"`
	CleanupIntervalMinutes int  `toml:"cleanup_interval_minutes"`
	RejectWhenBusy         bool `toml:"reject_when_busy"`
}

// VoicesConfig holds the voice directories.
type VoicesConfig struct {
	PredefinedDir string `toml:"predefined_dir"`
	ReferenceDir  string `toml:"reference_dir"`
	DefaultVoice  string `toml:"default_voice"`
}

// StorageConfig selects where results are written.
type StorageConfig struct {
	Backend   string `toml:"backend"`
	OutputDir string `toml:"output_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	ResultTimeoutMinutes     int    `toml:"result_timeout_minutes"`
}

// S3Config holds the S3 result storage settings.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// RedisConfig holds the status mirror settings.
type RedisConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	TTLHours  int    `toml:"ttl_hours"`
}

// HTTPConfig holds the job API listener settings.
type HTTPConfig struct {
	ListenAddr             string `toml:"listen_addr"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	TTS     TTSServiceConfig `toml:"tts_service"`
	Jobs    JobsConfig       `toml:"jobs"`
	Voices  VoicesConfig     `toml:"voices"`
	Storage StorageConfig    `toml:"storage"`
	NATS    NATSConfig       `toml:"nats"`
	S3      S3Config         `toml:"s3"`
	Redis   RedisConfig      `toml:"redis"`
	HTTP    HTTPConfig       `toml:"http"`
	Paths   PathsConfig      `toml:"paths"`
}

// Load loads the configuration, fills in defaults and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	c.TTS.applyDefaults()
	c.Jobs.applyDefaults()

	setDefault(&c.Voices.PredefinedDir, defaultPredefinedDir)
	setDefault(&c.Voices.ReferenceDir, defaultReferenceDir)
	setDefault(&c.Voices.DefaultVoice, defaultVoice)
	setDefault(&c.Storage.Backend, StorageLocal)
	setDefault(&c.Storage.OutputDir, defaultOutputDir)
	setDefault(&c.NATS.TextProcessedSubject, "text.processed")
	setDefault(&c.NATS.TextObjectStoreBucket, "TEXT_FILES")
	setDefault(&c.NATS.AudioObjectStoreBucket, "AUDIO_FILES")
	setDefaultInt(&c.NATS.ResultTimeoutMinutes, defaultResultTimeoutMinutes)
	setDefault(&c.Redis.KeyPrefix, "tts:job:")
	setDefaultInt(&c.Redis.TTLHours, defaultRedisTTLHours)
	setDefault(&c.HTTP.ListenAddr, defaultListenAddr)
	setDefaultInt(&c.HTTP.ShutdownTimeoutSeconds, defaultShutdownSeconds)
	setDefault(&c.Paths.BaseLogsDir, defaultLogsDir)
}

func (t *TTSServiceConfig) applyDefaults() {
	setDefault(&t.Backend, BackendHTTP)
	setDefault(&t.ServiceURL, defaultServiceURL)
	setDefaultInt(&t.TimeoutSeconds, defaultTimeoutSeconds)
	setDefaultFloat(&t.TopP, defaultTopP)
	setDefaultFloat(&t.RepetitionPenalty, defaultRepetitionPenalty)
	setDefaultFloat(&t.Temperature, defaultTemperature)
	setDefaultFloat(&t.Exaggeration, defaultExaggeration)
	setDefaultFloat(&t.CFGWeight, defaultCFGWeight)
	setDefault(&t.Language, defaultLanguage)
	setDefault(&t.OutputFormat, defaultOutputFormat)
	setDefaultInt(&t.ChunkSize, defaultChunkSize)
	setDefaultFloat(&t.SpeedFactor, defaultSpeedFactor)
	setDefaultInt(&t.MaxChunkAttempts, 1)

	if t.SplitText == nil {
		split := true
		t.SplitText = &split
	}
}

func (j *JobsConfig) applyDefaults() {
	setDefaultInt(&j.MaxConcurrent, defaultMaxConcurrent)
	setDefaultInt(&j.SynthesisWorkers, j.MaxConcurrent)
	setDefaultInt(&j.RetentionHours, defaultRetentionHours)
	setDefaultInt(&j.CleanupIntervalMinutes, defaultCleanupIntervalMinutes)
}

// Validate checks backend selections and the settings they require.
func (c *Config) Validate() error {
	switch c.TTS.Backend {
	case BackendHTTP:
		if c.TTS.ServiceURL == "" {
			return fmt.Errorf("%w: tts_service.service_url", ErrMissingSetting)
		}
	case BackendChatLLM:
		if c.TTS.ModelPath == "" || c.TTS.SnacModelPath == "" {
			return fmt.Errorf("%w: tts_service.model_path and tts_service.snac_model_path", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.TTS.Backend)
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("%w: nats.url", ErrMissingSetting)
		}
	case StorageS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.endpoint and s3.bucket", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, c.Storage.Backend)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url", ErrMissingSetting)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", ErrMissingSetting)
	}

	return nil
}

// Defaults returns the request defaults derived from the configuration.
func (c *Config) Defaults() core.Defaults {
	split := true
	if c.TTS.SplitText != nil {
		split = *c.TTS.SplitText
	}

	return core.Defaults{
		VoiceMode:         core.VoicePredefined,
		PredefinedVoiceID: c.Voices.DefaultVoice,
		OutputFormat:      c.TTS.OutputFormat,
		SplitText:         split,
		ChunkSize:         c.TTS.ChunkSize,
		SpeedFactor:       c.TTS.SpeedFactor,
		Params: core.SynthesisParams{
			Temperature:  c.TTS.Temperature,
			Exaggeration: c.TTS.Exaggeration,
			CFGWeight:    c.TTS.CFGWeight,
			Seed:         c.TTS.Seed,
			Language:     c.TTS.Language,
		},
	}
}

// Timeout returns the per-request engine timeout.
func (t TTSServiceConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Retention returns how long finished jobs are kept.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

// CleanupInterval returns the time between reaper sweeps.
func (j JobsConfig) CleanupInterval() time.Duration {
	return time.Duration(j.CleanupIntervalMinutes) * time.Minute
}

// ResultTimeout returns how long NATS ingress waits for a job to finish.
func (n NATSConfig) ResultTimeout() time.Duration {
	return time.Duration(n.ResultTimeoutMinutes) * time.Minute
}

// TTL returns the lifetime of mirrored status keys.
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

// ShutdownTimeout returns how long a graceful shutdown may take.
func (h HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeoutSeconds) * time.Second
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setDefaultInt(field *int, value int) {
	if *field <= 0 {
		*field = value
	}
}

func setDefaultFloat(field *float64, value float64) {
	if *field <= 0 {
		*field = value
	}
}
