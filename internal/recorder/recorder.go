// Package recorder captures one speaker's audio span into a WAV artifact.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotCapturing is returned by Append once a flush has begun.
	ErrNotCapturing = errors.New("recorder is not capturing")
	// ErrInvalidArtifact is returned when an artifact header cannot be parsed.
	ErrInvalidArtifact = errors.New("invalid wav artifact")
)

// State is the lifecycle position of a Recorder.
type State int32

const (
	StateCapturing State = iota
	StateFlushing
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateFlushing:
		return "flushing"
	case StateFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// StorageError reports a failure to open, append to or close an artifact.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Artifact is the writable handle behind a Recorder. *os.File satisfies it.
type Artifact interface {
	io.Writer
	io.WriterAt
	io.Closer
}

// OpenFunc creates the artifact at path.
type OpenFunc func(path string) (Artifact, error)

// CreateFile is the default OpenFunc.
func CreateFile(path string) (Artifact, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Meta identifies whose audio a Recorder holds.
type Meta struct {
	SessionKey  string
	SpeakerID   string
	DisplayName string
}

// Label is the name used for this speaker in transcripts.
func (m Meta) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return "User_" + m.SpeakerID
}

// Options configures artifact creation.
type Options struct {
	Dir    string
	Format Format
	Open   OpenFunc
	Logger *zap.Logger
	Now    func() time.Time
}

// Recorder owns one capture span. Appends are accepted only while capturing;
// BeginFlush seals the artifact and Done is closed once it is durably written.
type Recorder struct {
	meta      Meta
	format    Format
	path      string
	createdAt time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	state atomic.Int32
	file  Artifact
	bytes int64

	chunks    atomic.Int64
	dropped   atomic.Int64
	done      chan struct{}
	flushOnce sync.Once
	appendErr error
	err       error
}

// New opens a fresh artifact for meta and returns a capturing Recorder.
func New(meta Meta, opts Options) (*Recorder, error) {
	if opts.Format.SampleRate == 0 {
		opts.Format = DefaultFormat()
	}
	if opts.Open == nil {
		opts.Open = CreateFile
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	created := now()
	path := filepath.Join(opts.Dir, ArtifactName(meta.SessionKey, meta.SpeakerID, created))

	f, err := opts.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	if _, err := f.Write(opts.Format.header(0)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &StorageError{Op: "write header", Path: path, Err: err}
	}

	r := &Recorder{
		meta:      meta,
		format:    opts.Format,
		path:      path,
		createdAt: created,
		file:      f,
		done:      make(chan struct{}),
		logger: opts.Logger.With(
			zap.String("speaker_id", meta.SpeakerID),
			zap.String("artifact", filepath.Base(path)),
		),
	}
	r.state.Store(int32(StateCapturing))
	return r, nil
}

// ArtifactName encodes destination, speaker and creation time so names stay
// unique across overlapping sessions and rejoin spans.
func ArtifactName(sessionKey, speakerID string, created time.Time) string {
	return fmt.Sprintf("%s_%s_%d.wav", sanitize(sessionKey), sanitize(speakerID), created.UnixNano())
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// Append writes a chunk of PCM audio to the artifact. After the first
// failed write the artifact is treated as lost: later chunks are dropped and
// Err reports the append failure once flushed.
func (r *Recorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if State(r.state.Load()) != StateCapturing {
		r.dropped.Add(1)
		return ErrNotCapturing
	}
	if r.appendErr != nil {
		r.dropped.Add(1)
		return r.appendErr
	}
	if len(chunk) == 0 {
		return nil
	}
	n, err := r.file.Write(chunk)
	r.bytes += int64(n)
	r.chunks.Add(1)
	if err != nil {
		r.appendErr = &StorageError{Op: "append", Path: r.path, Err: err}
		return r.appendErr
	}
	return nil
}

// Failed reports whether an append has failed.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendErr != nil
}

// BeginFlush stops accepting audio and finalizes the artifact in the
// background. Repeated calls return the same completion channel.
func (r *Recorder) BeginFlush() <-chan struct{} {
	r.mu.Lock()
	started := r.state.CompareAndSwap(int32(StateCapturing), int32(StateFlushing))
	r.mu.Unlock()

	if started {
		go r.flush()
	}
	return r.done
}

func (r *Recorder) flush() {
	r.flushOnce.Do(func() {
		start := time.Now()
		r.mu.Lock()
		err := r.appendErr
		r.mu.Unlock()
		if perr := patchSizes(r.file, uint32(r.bytes)); perr != nil && err == nil {
			err = &StorageError{Op: "finalize header", Path: r.path, Err: perr}
		}
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = &StorageError{Op: "close", Path: r.path, Err: cerr}
		}
		r.err = err
		r.state.Store(int32(StateFlushed))
		close(r.done)

		if err != nil {
			r.logger.Warn("artifact flush failed", zap.Error(err))
			return
		}
		r.logger.Debug("artifact flushed",
			zap.Int64("bytes", r.bytes),
			zap.Int64("chunks", r.chunks.Load()),
			zap.Duration("audio", r.format.Duration(r.bytes)),
			zap.Duration("flush_took", time.Since(start)),
		)
	})
}

// Done is closed once the artifact is closed and safe to read.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// IsFlushed reports whether Done has been closed.
func (r *Recorder) IsFlushed() bool {
	return State(r.state.Load()) == StateFlushed
}

// Err returns the first append or flush error. It is only meaningful after
// Done is closed.
func (r *Recorder) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Recorder) State() State { return State(r.state.Load()) }

func (r *Recorder) Meta() Meta { return r.meta }

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) CreatedAt() time.Time { return r.createdAt }

func (r *Recorder) Format() Format { return r.format }

// Bytes returns the PCM payload size written so far.
func (r *Recorder) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Chunks returns the number of accepted chunks.
func (r *Recorder) Chunks() int64 { return r.chunks.Load() }

// Dropped returns the number of chunks rejected after flush began.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }
