// Package delivery posts finalize output to a session's destination.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/storage"
)

var (
	// ErrSinkClosed is returned by sends after Close.
	ErrSinkClosed = errors.New("delivery sink is closed")
	// ErrNoTarget means neither the request nor the config names a destination.
	ErrNoTarget = errors.New("no delivery target configured")
)

// Sink is one delivery destination.
type Sink interface {
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, data []byte, filename, caption string) error
	Close() error
}

// Config lists the delivery targets applied to every session.
type Config struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Local   LocalConfig   `yaml:"local"`
	Drive   DriveConfig   `yaml:"drive"`
}

type WebhookConfig struct {
	URL        string        `yaml:"url" env:"WEBHOOK_URL"`
	Username   string        `yaml:"username" env:"WEBHOOK_USERNAME"`
	Timeout    time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
	MaxMessage int           `yaml:"max_message" env:"WEBHOOK_MAX_MESSAGE"`
}

type LocalConfig struct {
	Enabled bool   `yaml:"enabled" env:"LOCAL_ENABLED"`
	Dir     string `yaml:"dir" env:"LOCAL_DIR"`
}

type DriveConfig struct {
	Enabled         bool   `yaml:"enabled" env:"DRIVE_ENABLED"`
	CredentialsFile string `yaml:"credentials_file" env:"DRIVE_CREDENTIALS_FILE"`
	TokenFile       string `yaml:"token_file" env:"DRIVE_TOKEN_FILE"`
	FolderName      string `yaml:"folder_name" env:"DRIVE_FOLDER_NAME"`
}

// DefaultConfig delivers to a local outputs directory only.
func DefaultConfig() Config {
	return Config{
		Webhook: WebhookConfig{Username: "Voice Recap", Timeout: 30 * time.Second, MaxMessage: 2000},
		Local:   LocalConfig{Enabled: true, Dir: "outputs"},
		Drive: DriveConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			FolderName:      "Voice Recaps",
		},
	}
}

// Target overrides the configured webhook for one session.
type Target struct {
	WebhookURL string
}

// Factory builds the sink set for each new session. Long-lived clients such
// as Drive are created once and shared.
type Factory struct {
	cfg    Config
	local  *storage.LocalStorage
	drive  *storage.DriveClient
	logger *zap.Logger
	now    func() time.Time
}

// NewFactory prepares the configured targets. drive may be nil when Drive
// delivery is disabled.
func NewFactory(cfg Config, drive *storage.DriveClient, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		cfg:    cfg,
		drive:  drive,
		logger: logger.With(zap.String("component", "delivery")),
		now:    time.Now,
	}
	if cfg.Local.Enabled {
		f.local = storage.NewLocalStorage(cfg.Local.Dir)
	}
	return f
}

// ForSession returns the sink for sessionKey.
func (f *Factory) ForSession(sessionKey string, target Target) (Sink, error) {
	var sinks []Sink

	url := target.WebhookURL
	if url == "" {
		url = f.cfg.Webhook.URL
	}
	if url != "" {
		sinks = append(sinks, NewWebhookSink(url, f.cfg.Webhook, f.logger))
	}
	if f.local != nil {
		sinks = append(sinks, NewLocalSink(f.local, sessionKey, f.now))
	}
	if f.drive != nil {
		sinks = append(sinks, NewDriveSink(f.drive, sessionKey, f.now))
	}

	switch len(sinks) {
	case 0:
		return nil, ErrNoTarget
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}

// closeFlag is embedded by sinks that reject sends after Close.
type closeFlag struct {
	closed atomic.Bool
}

func (c *closeFlag) check(op string) error {
	if c.closed.Load() {
		return fmt.Errorf("%s: %w", op, ErrSinkClosed)
	}
	return nil
}

func (c *closeFlag) Close() error {
	c.closed.Store(true)
	return nil
}
