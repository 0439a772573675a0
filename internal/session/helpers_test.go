package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

type sentFile struct {
	name    string
	data    []byte
	caption string
}

type fakeSink struct {
	mu       sync.Mutex
	texts    []string
	files    []sentFile
	textErr  error
	fileErr  error
	closures int
}

func (f *fakeSink) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSink) SendFile(_ context.Context, data []byte, filename, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fileErr != nil {
		return f.fileErr
	}
	f.files = append(f.files, sentFile{name: filename, data: data, caption: caption})
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closures++
	return nil
}

func (f *fakeSink) snapshot() ([]string, []sentFile, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), append([]sentFile(nil), f.files...), f.closures
}

// fakeTranscriber answers by speaker id parsed from the artifact name.
type fakeTranscriber struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]string
	fail    map[string]error
	check   func(path string) error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if f.check != nil {
		if err := f.check(path); err != nil {
			return "", err
		}
	}
	speaker := speakerOf(path)
	if err, ok := f.fail[speaker]; ok {
		return "", err
	}
	return f.answers[speaker], nil
}

func (f *fakeTranscriber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func speakerOf(path string) string {
	parts := strings.Split(strings.TrimSuffix(filepath.Base(path), ".wav"), "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

type fakeSummarizer struct {
	out   string
	err   error
	calls atomic.Int32
	input atomic.Value
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, transcript string) (string, error) {
	f.calls.Add(1)
	f.input.Store(transcript)
	return f.out, f.err
}

// dialogSummarizer also formats transcripts; dialog answers with dialog or dialogErr.
type dialogSummarizer struct {
	fakeSummarizer
	dialog      string
	dialogErr   error
	dialogCalls atomic.Int32
	dialogInput atomic.Value
}

func (d *dialogSummarizer) FormatDialog(_ context.Context, _ string, transcript string) (string, error) {
	d.dialogCalls.Add(1)
	d.dialogInput.Store(transcript)
	return d.dialog, d.dialogErr
}

type countingStore struct {
	mu      sync.Mutex
	reports []types.Report
}

func (c *countingStore) SaveReport(_ context.Context, r types.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *countingStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// slowArtifact delays Close and records when the file is really closed.
type slowArtifact struct {
	*os.File
	delay  time.Duration
	closed *sync.Map
}

func (a *slowArtifact) Close() error {
	time.Sleep(a.delay)
	err := a.File.Close()
	a.closed.Store(a.Name(), true)
	return err
}

// cappedArtifact fails every Write once limit bytes have been written.
type cappedArtifact struct {
	*os.File
	limit   int
	written int
}

func (a *cappedArtifact) Write(p []byte) (int, error) {
	if a.written+len(p) > a.limit {
		return 0, errors.New("no space left on device")
	}
	a.written += len(p)
	return a.File.Write(p)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.ArtifactsDir = t.TempDir()
	opts.SettleDelay = 0
	opts.MaxSpan = 0
	return opts
}

func startSession(t *testing.T, m *Manager, key string, sink Sink) *Session {
	t.Helper()
	s, err := m.Start(StartRequest{Key: key, Sink: sink})
	require.NoError(t, err)
	return s
}

func route(t *testing.T, m *Manager, key string, evs ...Event) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, m.Route(key, ev))
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finalize", s.Key())
	}
}

func join(id, name string) Event { return Event{Kind: EventJoin, SpeakerID: id, DisplayName: name} }

func leave(id string) Event { return Event{Kind: EventLeave, SpeakerID: id} }

func audio(id string, n int) Event {
	return Event{Kind: EventAudio, SpeakerID: id, Audio: make([]byte, n)}
}

func listArtifacts(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	require.NoError(t, err)
	return matches
}

var errTranscribe = errors.New("transcriber unavailable")

func newRecorderFactory(dir string) RecorderFactory {
	return func(meta recorder.Meta) (*recorder.Recorder, error) {
		return recorder.New(meta, recorder.Options{Dir: dir})
	}
}
