// Package transcription converts finished WAV artifacts into text.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

var (
	// ErrMissingCredential means the HTTP provider has no API key.
	ErrMissingCredential = errors.New("transcriber credential not configured")
	// ErrTooLarge is returned when an upload exceeds the provider limit.
	ErrTooLarge = errors.New("audio exceeds upload limit")
	// ErrUnsupportedFormat rejects files the provider cannot decode.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Transcriber is implemented by every provider.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
	TranscribeFile(ctx context.Context, path, language string) (*types.TranscriptionResult, error)
	Name() string
}

// Config selects and configures the transcription provider.
type Config struct {
	Provider       string        `yaml:"provider" env:"PROVIDER"` // openai, whisper-cli
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	BaseURL        string        `yaml:"base_url" env:"BASE_URL"`
	Model          string        `yaml:"model" env:"MODEL"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Compress       bool          `yaml:"compress" env:"COMPRESS"`
	FFmpegPath     string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	Bitrate        string        `yaml:"bitrate" env:"BITRATE"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	TempDir        string        `yaml:"temp_dir" env:"TEMP_DIR"`
	PythonPath     string        `yaml:"python_path" env:"PYTHON_PATH"`
	WhisperModel   string        `yaml:"whisper_model" env:"WHISPER_MODEL"`
}

// DefaultConfig returns the whisper-1 defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "openai",
		Model:          "whisper-1",
		Timeout:        300 * time.Second,
		Compress:       true,
		FFmpegPath:     "ffmpeg",
		Bitrate:        "64k",
		MaxUploadBytes: 24 * 1024 * 1024,
		TempDir:        "temp",
		PythonPath:     "python",
		WhisperModel:   "small",
	}
}

// New builds the configured provider.
func New(cfg Config, logger *zap.Logger) (Transcriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAITranscriber(cfg, logger), nil
	case "whisper-cli", "whisper":
		return NewWhisperCLI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}
