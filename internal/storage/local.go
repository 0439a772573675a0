package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage writes delivered output under dated directories.
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// Save writes data as outputs/2025/01/23/<timestamp>_<name> and returns the path.
func (ls *LocalStorage) Save(name string, data []byte, at time.Time) (string, error) {
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", at.Year()),
		fmt.Sprintf("%02d", at.Month()),
		fmt.Sprintf("%02d", at.Day()))

	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	path := filepath.Join(dateDir, fmt.Sprintf("%s_%s", at.Format("20060102_150405"), SanitizeFilename(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// SanitizeFilename replaces path separators and reserved characters.
func SanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, name)
	result = strings.TrimLeft(result, ".")
	if len(result) > 100 {
		result = result[:100]
	}
	if result == "" {
		result = "unnamed"
	}
	return result
}
