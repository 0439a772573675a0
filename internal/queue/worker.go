// Package queue archives finalized session reports on a background worker
// pool so a slow store never holds up a session's finalizer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// ErrStopped is returned by SaveReport once the pool has been stopped.
var ErrStopped = errors.New("archive queue stopped")

// Store persists a report.
type Store interface {
	SaveReport(ctx context.Context, report types.Report) error
}

// Options tunes the worker pool.
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt.
	Backoff func(attempt int) time.Duration
	// OnDone is called once per job after its final attempt.
	OnDone func(*Job)
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff == nil {
		o.Backoff = func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		}
	}
	return o
}

// WorkerPool manages a pool of workers archiving reports
type WorkerPool struct {
	jobQueue chan *Job
	store    Store
	opts     Options
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(store Store, opts Options, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue: make(chan *Job, opts.QueueSize),
		store:    store,
		opts:     opts,
		logger:   logger.With(zap.String("component", "archive")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	wp.logger.Info("starting archive workers", zap.Int("workers", wp.opts.Workers))
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// SaveReport enqueues report for archiving. It blocks while the queue is
// full until ctx is done.
func (wp *WorkerPool) SaveReport(ctx context.Context, report types.Report) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}

	job := NewJob(report)
	select {
	case wp.jobQueue <- job:
		wp.logger.Debug("report enqueued",
			zap.String("report_id", report.ID),
			zap.String("session_key", report.SessionKey),
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue report %s: %w", report.ID, ctx.Err())
	}
}

// Stop refuses new reports, lets workers drain the queue, and waits for
// them until ctx is done. Pending retries are abandoned when ctx expires.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		wp.cancel()
		return nil
	case <-ctx.Done():
		wp.cancel()
		<-done
		return ctx.Err()
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for job := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error("panic archiving report",
						zap.Int("worker", id),
						zap.String("report_id", job.Report.ID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					job.Status = StatusFailed
					job.Error = fmt.Errorf("worker panic: %v", r)
				}
				if wp.opts.OnDone != nil {
					wp.opts.OnDone(job)
				}
			}()
			wp.processJob(id, job)
		}()
	}
}

// processJob stores the report, retrying with backoff.
func (wp *WorkerPool) processJob(workerID int, job *Job) {
	job.Status = StatusArchiving
	logger := wp.logger.With(zap.Int("worker", workerID), zap.String("report_id", job.Report.ID))

	for attempt := 1; attempt <= wp.opts.MaxAttempts; attempt++ {
		job.Attempts = attempt
		err := wp.store.SaveReport(wp.ctx, job.Report)
		if err == nil {
			job.Status = StatusArchived
			job.Error = nil
			logger.Info("report archived",
				zap.String("session_key", job.Report.SessionKey),
				zap.Int("attempts", attempt),
			)
			return
		}
		job.Error = err
		logger.Warn("archive attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", wp.opts.MaxAttempts),
			zap.Error(err),
		)
		if attempt == wp.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(wp.opts.Backoff(attempt)):
		case <-wp.ctx.Done():
			job.Status = StatusFailed
			return
		}
	}
	job.Status = StatusFailed
	logger.Error("giving up on report", zap.Error(job.Error))
}
