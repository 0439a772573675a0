package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// OpenAISummarizer calls the chat completions API.
type OpenAISummarizer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAISummarizer fills provider defaults into cfg.
func NewOpenAISummarizer(cfg Config, logger *zap.Logger) *OpenAISummarizer {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAISummarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "summary"), zap.String("provider", "openai")),
	}
}

func (s *OpenAISummarizer) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends prompt as the system message and transcript as the user message.
func (s *OpenAISummarizer) Summarize(ctx context.Context, prompt, transcript string) (string, error) {
	return s.complete(ctx, prompt, transcript, s.cfg.Temperature)
}

// FormatDialog is Summarize at temperature 0.
func (s *OpenAISummarizer) FormatDialog(ctx context.Context, prompt, transcript string) (string, error) {
	return s.complete(ctx, prompt, transcript, 0)
}

func (s *OpenAISummarizer) complete(ctx context.Context, prompt, transcript string, temperature float64) (string, error) {
	if s.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: transcript},
		},
		Temperature: temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return withRetry(ctx, s.cfg.MaxRetries, s.logger, func() (string, error) {
		return s.call(ctx, body)
	})
}

func (s *OpenAISummarizer) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling OpenAI API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{provider: "openai", code: resp.StatusCode, body: string(respBody)}
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing OpenAI response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI API")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
