// Package config loads the server configuration.
//
// Values are applied in order: built-in defaults, the YAML file, then
// VOICERECAP_* environment variables named after the `env` struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/voice-recap/internal/delivery"
	"github.com/codebuildervaibhav/voice-recap/internal/logging"
	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
	"github.com/codebuildervaibhav/voice-recap/internal/session"
	"github.com/codebuildervaibhav/voice-recap/internal/summary"
	"github.com/codebuildervaibhav/voice-recap/internal/telemetry"
	"github.com/codebuildervaibhav/voice-recap/internal/transcription"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICERECAP"

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config/config.yaml"

// Config represents the application configuration
type Config struct {
	Server        ServerConfig         `yaml:"server" env:"SERVER"`
	Capture       CaptureConfig        `yaml:"capture" env:"CAPTURE"`
	Audio         recorder.Format      `yaml:"audio" env:"AUDIO"`
	Transcription transcription.Config `yaml:"transcription" env:"TRANSCRIPTION"`
	Summary       summary.Config       `yaml:"summary" env:"SUMMARY"`
	Delivery      delivery.Config      `yaml:"delivery" env:"DELIVERY"`
	Storage       StorageConfig        `yaml:"storage" env:"STORAGE"`
	Cleanup       CleanupConfig        `yaml:"cleanup" env:"CLEANUP"`
	Log           logging.Config       `yaml:"log" env:"LOG"`
	Telemetry     telemetry.Config     `yaml:"telemetry" env:"TELEMETRY"`
}

type ServerConfig struct {
	Host             string        `yaml:"host" env:"HOST"`
	Port             int           `yaml:"port" env:"PORT"`
	BodyLimitMB      int           `yaml:"body_limit_mb" env:"BODY_LIMIT_MB"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MetricsNamespace string        `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
	AllowOrigins     string        `yaml:"allow_origins" env:"ALLOW_ORIGINS"`
}

// CaptureConfig drives per-session recording behavior.
type CaptureConfig struct {
	Policy                string        `yaml:"policy" env:"POLICY"`
	Language              string        `yaml:"language" env:"LANGUAGE"`
	ArtifactsDir          string        `yaml:"artifacts_dir" env:"ARTIFACTS_DIR"`
	MinArtifactBytes      int64         `yaml:"min_artifact_bytes" env:"MIN_ARTIFACT_BYTES"`
	SettleDelay           time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	RetainArtifacts       bool          `yaml:"retain_artifacts" env:"RETAIN_ARTIFACTS"`
	MaxSpan               time.Duration `yaml:"max_span" env:"MAX_SPAN"`
	MaxSession            time.Duration `yaml:"max_session" env:"MAX_SESSION"`
	TranscribeConcurrency int           `yaml:"transcribe_concurrency" env:"TRANSCRIBE_CONCURRENCY"`
	EventBuffer           int           `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

type StorageConfig struct {
	Database       string `yaml:"database" env:"DATABASE"`
	ArchiveWorkers int    `yaml:"archive_workers" env:"ARCHIVE_WORKERS"`
	ArchiveRetries int    `yaml:"archive_retries" env:"ARCHIVE_RETRIES"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" env:"INTERVAL_MINUTES"`
	MaxAgeHours     int `yaml:"max_age_hours" env:"MAX_AGE_HOURS"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	opts := session.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			BodyLimitMB:      4,
			ShutdownTimeout:  5 * time.Minute,
			MetricsNamespace: "voicerecap",
			AllowOrigins:     "*",
		},
		Capture: CaptureConfig{
			Policy:                string(opts.Policy),
			Language:              opts.Language,
			ArtifactsDir:          opts.ArtifactsDir,
			MinArtifactBytes:      opts.MinArtifactBytes,
			SettleDelay:           opts.SettleDelay,
			MaxSpan:               opts.MaxSpan,
			TranscribeConcurrency: opts.TranscribeConcurrency,
			EventBuffer:           opts.EventBuffer,
		},
		Audio:         recorder.DefaultFormat(),
		Transcription: transcription.DefaultConfig(),
		Summary:       summary.DefaultConfig(),
		Delivery:      delivery.DefaultConfig(),
		Storage: StorageConfig{
			Database:       "reports.db",
			ArchiveWorkers: 1,
			ArchiveRetries: 3,
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 60,
			MaxAgeHours:     24,
		},
		Log:       logging.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration from path and the environment. A missing
// file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, err
	}
	cfg.applyProviderKeys()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyProviderKeys falls back to the providers' conventional variables.
func (c *Config) applyProviderKeys() {
	if c.Transcription.APIKey == "" && c.Transcription.Provider == "openai" {
		c.Transcription.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Summary.APIKey == "" {
		switch c.Summary.Provider {
		case "openai":
			c.Summary.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.Summary.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// setFieldsFromEnv walks v and sets every tagged leaf whose variable is
// non-empty. Untagged struct fields are walked with the parent prefix.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "-" {
			continue
		}

		if field.Kind() == reflect.Struct {
			next := prefix
			if envTag != "" {
				next = prefix + "_" + envTag
			}
			if err := setFieldsFromEnv(field, next); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
			continue
		}

		envKey := prefix + "_" + envTag
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := session.ParsePolicy(c.Capture.Policy); err != nil {
		errs = append(errs, fmt.Errorf("capture.policy: %w", err))
	}
	if c.Capture.ArtifactsDir == "" {
		errs = append(errs, errors.New("capture.artifacts_dir is required"))
	}
	if c.Capture.MinArtifactBytes < 0 {
		errs = append(errs, errors.New("capture.min_artifact_bytes must not be negative"))
	}
	if c.Capture.MaxSpan < 0 || c.Capture.MaxSession < 0 {
		errs = append(errs, errors.New("capture durations must not be negative"))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		errs = append(errs, errors.New("audio.sample_rate and audio.channels must be positive"))
	}
	if c.Audio.BitDepth <= 0 || c.Audio.BitDepth%8 != 0 {
		errs = append(errs, fmt.Errorf("audio.bit_depth %d must be a positive multiple of 8", c.Audio.BitDepth))
	}
	switch c.Transcription.Provider {
	case "openai", "whisper-cli":
	default:
		errs = append(errs, fmt.Errorf("transcription.provider %q is not supported", c.Transcription.Provider))
	}
	switch c.Summary.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("summary.provider %q is not supported", c.Summary.Provider))
	}
	if c.Storage.Database == "" {
		errs = append(errs, errors.New("storage.database is required"))
	}
	if c.Cleanup.MaxAgeHours > 0 && c.Cleanup.IntervalMinutes <= 0 {
		errs = append(errs, errors.New("cleanup.interval_minutes must be positive when cleanup is enabled"))
	}
	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, errors.New("telemetry.sample_rate must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// SessionOptions maps the capture and audio settings onto session options.
// prompt and dialogPrompt are the already loaded summary and dialog prompts.
func (c *Config) SessionOptions(prompt, dialogPrompt string) session.Options {
	policy, _ := session.ParsePolicy(c.Capture.Policy)
	opts := session.DefaultOptions()
	opts.Policy = policy
	opts.Language = c.Capture.Language
	opts.ArtifactsDir = c.Capture.ArtifactsDir
	opts.Format = c.Audio
	opts.MinArtifactBytes = c.Capture.MinArtifactBytes
	opts.SettleDelay = c.Capture.SettleDelay
	opts.RetainArtifacts = c.Capture.RetainArtifacts
	opts.MaxSpan = c.Capture.MaxSpan
	opts.MaxSession = c.Capture.MaxSession
	opts.TranscribeConcurrency = c.Capture.TranscribeConcurrency
	opts.EventBuffer = c.Capture.EventBuffer
	opts.SummaryPrompt = prompt
	opts.DialogPrompt = dialogPrompt
	opts.SummaryMaxInput = c.Summary.MaxInputChars
	opts.PlaceholderSummary = c.Summary.Placeholder
	return opts
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
