package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxRetryAfter = 10 * time.Second

// WebhookSink posts to a Discord-compatible webhook.
type WebhookSink struct {
	closeFlag
	url        string
	username   string
	maxMessage int
	client     *http.Client
	logger     *zap.Logger
}

func NewWebhookSink(url string, cfg WebhookConfig, logger *zap.Logger) *WebhookSink {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxMessage <= 0 {
		cfg.MaxMessage = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		url:        url,
		username:   cfg.Username,
		maxMessage: cfg.MaxMessage,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("sink", "webhook")),
	}
}

type webhookMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// SendText posts text, split into messages no longer than the webhook limit.
func (w *WebhookSink) SendText(ctx context.Context, text string) error {
	if err := w.check("send text"); err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, w.maxMessage) {
		body, err := json.Marshal(webhookMessage{Content: chunk, Username: w.username})
		if err != nil {
			return err
		}
		if err := w.post(ctx, "application/json", func() io.Reader { return bytes.NewReader(body) }); err != nil {
			return err
		}
	}
	return nil
}

// SendFile posts data as an attachment named filename with caption as the
// message text.
func (w *WebhookSink) SendFile(ctx context.Context, data []byte, filename, caption string) error {
	if err := w.check("send file"); err != nil {
		return err
	}
	if caption == "" {
		caption = "📝 **Transcript**"
	}
	caption = caption[:byteOffset(caption, w.maxMessage)]
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	payload, err := json.Marshal(webhookMessage{Content: caption, Username: w.username})
	if err != nil {
		return err
	}
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("files[0]", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	body := buf.Bytes()
	return w.post(ctx, mw.FormDataContentType(), func() io.Reader { return bytes.NewReader(body) })
}

// post sends once and retries a single time after a 429.
func (w *WebhookSink) post(ctx context.Context, contentType string, body func() io.Reader) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body())
		if err != nil {
			return fmt.Errorf("creating webhook request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests && attempt == 0:
			wait := retryAfter(resp.Header.Get("Retry-After"))
			w.logger.Warn("webhook rate limited", zap.Duration("retry_after", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		default:
			return fmt.Errorf("webhook error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
	}
}

func retryAfter(h string) time.Duration {
	secs, err := strconv.ParseFloat(h, 64)
	if err != nil || secs <= 0 {
		return time.Second
	}
	d := time.Duration(secs * float64(time.Second))
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// splitMessage cuts s into chunks of at most limit runes, preferring to break
// at a newline.
func splitMessage(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var chunks []string
	for utf8.RuneCountInString(s) > limit {
		cut := byteOffset(s, limit)
		if nl := strings.LastIndex(s[:cut], "\n"); nl > 0 {
			cut = nl + 1
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
