package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// WhisperCLI runs the local openai-whisper package through python -m whisper.
type WhisperCLI struct {
	python    string
	modelName string
	tempDir   string
	logger    *zap.Logger
	mu        sync.Mutex // one model load at a time
}

// NewWhisperCLI picks the model size from cfg.WhisperModel.
func NewWhisperCLI(cfg Config, logger *zap.Logger) *WhisperCLI {
	d := DefaultConfig()
	python := cfg.PythonPath
	if python == "" {
		python = d.PythonPath
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = d.TempDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhisperCLI{
		python:    python,
		modelName: modelName(cfg.WhisperModel),
		tempDir:   tempDir,
		logger:    logger.With(zap.String("component", "transcription"), zap.String("provider", "whisper-cli")),
	}
}

// modelName maps a model path or name such as "ggml-small.bin" to a size.
func modelName(s string) string {
	for _, size := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(s, size) {
			return size
		}
	}
	return "small"
}

func (w *WhisperCLI) Name() string { return "whisper-cli" }

func (w *WhisperCLI) Transcribe(ctx context.Context, path, language string) (string, error) {
	res, err := w.TranscribeFile(ctx, path, language)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// TranscribeFile runs whisper with JSON output and parses the result file.
func (w *WhisperCLI) TranscribeFile(ctx context.Context, path, language string) (*types.TranscriptionResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	outDir, err := os.MkdirTemp(w.tempDir, "whisper_")
	if err != nil {
		return nil, fmt.Errorf("creating whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	args := []string{"-m", "whisper",
		absPath,
		"--model", w.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	start := time.Now()
	output, err := exec.CommandContext(ctx, w.python, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	var duration time.Duration
	if len(segments) > 0 {
		duration = time.Duration(segments[len(segments)-1].End * float64(time.Second))
	}

	w.logger.Debug("whisper cli transcription complete",
		zap.String("artifact", filepath.Base(path)),
		zap.Int("segments", len(segments)),
		zap.Duration("took", time.Since(start)),
	)
	return &types.TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: duration,
		Segments: segments,
	}, nil
}

// whisperOutput matches the JSON written by python -m whisper.
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
