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

const anthropicVersion = "2023-06-01"

// AnthropicSummarizer calls the messages API.
type AnthropicSummarizer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicSummarizer fills provider defaults into cfg.
func NewAnthropicSummarizer(cfg Config, logger *zap.Logger) *AnthropicSummarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" || strings.HasPrefix(cfg.Model, "gpt-") {
		cfg.Model = "claude-haiku-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicSummarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "summary"), zap.String("provider", "anthropic")),
	}
}

func (s *AnthropicSummarizer) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (s *AnthropicSummarizer) Summarize(ctx context.Context, prompt, transcript string) (string, error) {
	return s.complete(ctx, prompt, "Here is the conversation transcript to summarize:\n\n"+transcript, nil)
}

// FormatDialog sends transcript unwrapped at temperature 0.
func (s *AnthropicSummarizer) FormatDialog(ctx context.Context, prompt, transcript string) (string, error) {
	zero := 0.0
	return s.complete(ctx, prompt, transcript, &zero)
}

func (s *AnthropicSummarizer) complete(ctx context.Context, prompt, content string, temperature *float64) (string, error) {
	if s.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    prompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: content},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return withRetry(ctx, s.cfg.MaxRetries, s.logger, func() (string, error) {
		return s.call(ctx, body)
	})
}

func (s *AnthropicSummarizer) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Anthropic API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{provider: "anthropic", code: resp.StatusCode, body: string(respBody)}
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parsing Anthropic response: %w", err)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic API")
	}
	return strings.TrimSpace(sb.String()), nil
}
