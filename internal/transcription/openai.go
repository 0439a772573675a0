package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// OpenAITranscriber uploads artifacts to the Whisper transcription API.
type OpenAITranscriber struct {
	cfg        Config
	client     *http.Client
	compressor Compressor
	logger     *zap.Logger
}

// NewOpenAITranscriber fills provider defaults into cfg.
func NewOpenAITranscriber(cfg Config, logger *zap.Logger) *OpenAITranscriber {
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
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = d.MaxUploadBytes
	}
	if cfg.TempDir == "" {
		cfg.TempDir = d.TempDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAITranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		compressor: Compressor{
			FFmpeg:  cfg.FFmpegPath,
			TempDir: cfg.TempDir,
			Bitrate: cfg.Bitrate,
		},
		logger: logger.With(zap.String("component", "transcription"), zap.String("provider", "openai")),
	}
}

func (t *OpenAITranscriber) Name() string { return "openai" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments,omitempty"`
}

// Transcribe returns only the text of TranscribeFile.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, path, language string) (string, error) {
	res, err := t.TranscribeFile(ctx, path, language)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// TranscribeFile optionally compresses path to MP3 and uploads it.
func (t *OpenAITranscriber) TranscribeFile(ctx context.Context, path, language string) (*types.TranscriptionResult, error) {
	if t.cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if !ValidateAudioFormat(path) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}

	upload := path
	if t.cfg.Compress {
		mp3, err := t.compressor.ToMP3(ctx, path)
		if err != nil {
			t.logger.Warn("compression failed, uploading original", zap.String("artifact", path), zap.Error(err))
		} else {
			defer os.Remove(mp3)
			upload = mp3
		}
	}

	info, err := os.Stat(upload)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() > t.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%s is %d bytes (max %d): %w", filepath.Base(upload), info.Size(), t.cfg.MaxUploadBytes, ErrTooLarge)
	}

	file, err := os.Open(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(upload))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	_ = writer.WriteField("model", t.cfg.Model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	_ = writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(t.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("whisper error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, fmt.Errorf("failed to decode whisper response: %w", err)
	}

	result := &types.TranscriptionResult{
		Text:     strings.TrimSpace(wResp.Text),
		Language: wResp.Language,
		Duration: time.Duration(wResp.Duration * float64(time.Second)),
	}
	for _, s := range wResp.Segments {
		result.Segments = append(result.Segments, types.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}

	t.logger.Debug("whisper transcription complete",
		zap.String("artifact", filepath.Base(path)),
		zap.Int64("upload_bytes", info.Size()),
		zap.Int("segments", len(result.Segments)),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}
