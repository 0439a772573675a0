// Package cleanup removes artifacts left behind by sessions that never
// finalized, for example after a crash.
package cleanup

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/metrics"
)

// Scheduler periodically deletes files older than maxAge from its dirs.
type Scheduler struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(dirs []string, interval, maxAge time.Duration, logger *zap.Logger, m *metrics.Collector) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		dirs:     dirs,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With(zap.String("component", "cleanup")),
		metrics:  m,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval until Stop.
func (s *Scheduler) Start() {
	s.logger.Info("running initial orphan artifact sweep")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.Info("cleanup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_age", s.maxAge),
		zap.Strings("dirs", s.dirs),
	)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info("cleanup scheduler stopped")
	})
}

// Sweep removes files older than maxAge and reports how many were deleted
// and how many bytes were freed.
func (s *Scheduler) Sweep() (int, int64) {
	now := s.now()
	var (
		deletedCount int
		deletedSize  int64
	)

	for _, dir := range s.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}

			age := now.Sub(info.ModTime())
			if age <= s.maxAge {
				return nil
			}
			err = os.Remove(path)
			s.metrics.ArtifactCleaned(err)
			if err != nil {
				s.logger.Warn("failed to delete old file", zap.String("path", path), zap.Error(err))
				return nil
			}
			deletedCount++
			deletedSize += info.Size()
			s.logger.Debug("deleted orphaned file",
				zap.String("file", filepath.Base(path)),
				zap.Duration("age", age.Round(time.Minute)),
				zap.Int64("size", info.Size()),
			)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			s.logger.Warn("error during cleanup", zap.String("dir", dir), zap.Error(err))
		}
	}

	if deletedCount > 0 {
		s.logger.Info("cleanup complete",
			zap.Int("files", deletedCount),
			zap.Float64("freed_mb", float64(deletedSize)/(1024*1024)),
		)
	}
	return deletedCount, deletedSize
}

// EnsureDirs creates every directory in dirs.
func EnsureDirs(logger *zap.Logger, dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if logger != nil {
			logger.Debug("directory ready", zap.String("dir", dir))
		}
	}
	return nil
}
