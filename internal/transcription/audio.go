package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Compressor re-encodes artifacts to mono MP3 with ffmpeg before upload.
type Compressor struct {
	FFmpeg  string
	TempDir string
	Bitrate string
}

// ToMP3 writes a mono MP3 copy of inputPath into the temp dir. The caller
// removes the returned file.
func (c Compressor) ToMP3(ctx context.Context, inputPath string) (string, error) {
	ffmpeg := c.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	bitrate := c.Bitrate
	if bitrate == "" {
		bitrate = "64k"
	}
	if err := os.MkdirAll(c.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	outputPath := filepath.Join(c.TempDir, fmt.Sprintf("compressed_%s.mp3", uuid.New().String()))

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-i", inputPath,
		"-acodec", "libmp3lame",
		"-ab", bitrate,
		"-ac", "1",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return outputPath, nil
}

var supportedFormats = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".mp4", ".mpeg", ".mpga", ".oga"}

// ValidateAudioFormat checks the file extension against what Whisper accepts.
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
