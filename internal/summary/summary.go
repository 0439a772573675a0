// Package summary turns an assembled transcript into a meeting summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMissingCredential means no API key is configured for the provider.
var ErrMissingCredential = errors.New("summarizer credential not configured")

// DefaultPrompt is used when no prompt file is configured.
const DefaultPrompt = `You are a meeting summarizer. Given a transcript of a voice conversation with speaker-labelled sections, produce a clear and concise summary in markdown with these sections:

## Summary
A brief 2-3 sentence overview of what the conversation was about.

## Key Decisions
Bullet points of any decisions that were made.

## Action Items
Bullet points of tasks or follow-ups, with the responsible person if identifiable.

If any section has no content, omit it. Answer in the language of the transcript.`

// Summarizer produces a summary from an instruction prompt and transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt, transcript string) (string, error)
	Name() string
}

// DialogFormatter rewrites a transcript following prompt, with sampling
// turned off so the wording stays as spoken.
type DialogFormatter interface {
	FormatDialog(ctx context.Context, prompt, transcript string) (string, error)
}

// Config selects and configures the summarization provider.
type Config struct {
	Provider      string        `yaml:"provider" env:"PROVIDER"` // openai, anthropic
	APIKey        string        `yaml:"api_key" env:"API_KEY"`
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	Model         string        `yaml:"model" env:"MODEL"`
	Temperature   float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens     int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries    int           `yaml:"max_retries" env:"MAX_RETRIES"`
	PromptFile    string        `yaml:"prompt_file" env:"PROMPT_FILE"`
	MaxInputChars int           `yaml:"max_input_chars" env:"MAX_INPUT_CHARS"`
	Placeholder   string        `yaml:"placeholder" env:"PLACEHOLDER"`

	// DialogPromptFile enables the dialog formatting pass. Empty disables it.
	DialogPromptFile string `yaml:"dialog_prompt_file" env:"DIALOG_PROMPT_FILE"`
}

// DefaultConfig returns the OpenAI defaults.
func DefaultConfig() Config {
	return Config{
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		Temperature:   0.7,
		MaxTokens:     2048,
		Timeout:       120 * time.Second,
		MaxRetries:    2,
		MaxInputChars: 100000,
		Placeholder:   "Summary unavailable: no summarization API key is configured.",
	}
}

// New builds the configured provider.
func New(cfg Config, logger *zap.Logger) (Summarizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAISummarizer(cfg, logger), nil
	case "anthropic":
		return NewAnthropicSummarizer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.Provider)
	}
}

// LoadPrompt reads the instruction prompt from path, falling back to
// DefaultPrompt when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return DefaultPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return DefaultPrompt, fmt.Errorf("reading summary prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return DefaultPrompt, nil
	}
	return prompt, nil
}

// LoadDialogPrompt reads the dialog formatting prompt. An empty path
// returns an empty prompt, which disables formatting.
func LoadDialogPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading dialog prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// statusError carries a non-2xx provider response.
type statusError struct {
	provider string
	code     int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.provider, e.code, e.body)
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingCredential) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// withRetry runs call up to maxRetries+1 times with quadratic backoff.
func withRetry(ctx context.Context, maxRetries int, logger *zap.Logger, call func() (string, error)) (string, error) {
	var (
		out string
		err error
	)
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		out, err = call()
		if err == nil || !retryable(err) || attempt == maxRetries+1 {
			return out, err
		}
		delay := time.Duration(attempt*attempt) * time.Second
		logger.Warn("summary request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return out, err
}
