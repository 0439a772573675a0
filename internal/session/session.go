// Package session owns the lifecycle of one recording session: capture
// routing while active and a single finalize run once any stop trigger fires.
package session

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/metrics"
	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
	"github.com/codebuildervaibhav/voice-recap/internal/summary"
	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// State is the session lifecycle position.
type State int32

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	emptyNotice         = "⚠️ No speech was transcribed in this session."
	summaryFailedNotice = "⚠️ Failed to create conversation summary"
)

// Options tunes capture and finalize behavior.
type Options struct {
	Policy                Policy
	Language              string
	ArtifactsDir          string
	Format                recorder.Format
	MinArtifactBytes      int64
	SettleDelay           time.Duration
	RetainArtifacts       bool
	MaxSpan               time.Duration
	MaxSession            time.Duration
	SummaryPrompt         string
	DialogPrompt          string
	SummaryMaxInput       int
	PlaceholderSummary    string
	TranscribeConcurrency int
	EventBuffer           int
	OpenArtifact          recorder.OpenFunc
	Now                   func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Policy:                PolicyContinuous,
		Language:              "ru",
		ArtifactsDir:          "recordings",
		Format:                recorder.DefaultFormat(),
		MinArtifactBytes:      1024,
		SettleDelay:           500 * time.Millisecond,
		MaxSpan:               20 * time.Minute,
		SummaryPrompt:         summary.DefaultPrompt,
		SummaryMaxInput:       100000,
		PlaceholderSummary:    "Summary unavailable: no summarization API key is configured.",
		TranscribeConcurrency: 2,
		EventBuffer:           256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Policy == "" {
		o.Policy = d.Policy
	}
	if o.Format.SampleRate == 0 {
		o.Format = d.Format
	}
	if o.MinArtifactBytes < 0 {
		o.MinArtifactBytes = 0
	}
	if o.SummaryPrompt == "" {
		o.SummaryPrompt = d.SummaryPrompt
	}
	if o.PlaceholderSummary == "" {
		o.PlaceholderSummary = d.PlaceholderSummary
	}
	if o.TranscribeConcurrency <= 0 {
		o.TranscribeConcurrency = d.TranscribeConcurrency
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	if o.OpenArtifact == nil {
		o.OpenArtifact = recorder.CreateFile
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators shared by every session of a Manager.
type Deps struct {
	Transcriber Transcriber
	Summarizer  Summarizer
	Reports     ReportStore
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

// Info is a point-in-time view of a session for status output.
type Info struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Policy    Policy    `json:"policy"`
	StartedAt time.Time `json:"started_at"`
	Present   int       `json:"present"`
	Active    int       `json:"active"`
	Finished  int       `json:"finished"`
	Trigger   string    `json:"trigger,omitempty"`
}

// Session is one recording lifecycle bound to a voice destination.
type Session struct {
	id        string
	key       string
	opts      Options
	deps      Deps
	sink      Sink
	dir       *Directory
	registry  *Registry
	logger    *zap.Logger
	startedAt time.Time

	state   atomic.Int32
	trigger atomic.Value

	events   chan Event
	quit     chan struct{}
	loopDone chan struct{}
	done     chan struct{}

	// owned by the event loop
	presence     map[string]string
	presentCount atomic.Int32

	connMu   sync.Mutex
	conn     Connection
	released bool

	timerMu  sync.Mutex
	maxTimer *time.Timer

	report types.Report
}

func newSession(key string, sink Sink, dir *Directory, opts Options, deps Deps) *Session {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	id := uuid.NewString()

	s := &Session{
		id:        id,
		key:       key,
		opts:      opts,
		deps:      deps,
		sink:      sink,
		dir:       dir,
		startedAt: opts.Now(),
		events:    make(chan Event, opts.EventBuffer),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
		presence:  make(map[string]string),
		logger: deps.Logger.With(
			zap.String("session_key", key),
			zap.String("session_id", id),
		),
	}
	s.registry = NewRegistry(func(meta recorder.Meta) (*recorder.Recorder, error) {
		return recorder.New(meta, recorder.Options{
			Dir:    opts.ArtifactsDir,
			Format: opts.Format,
			Open:   opts.OpenArtifact,
			Logger: s.logger,
			Now:    opts.Now,
		})
	})
	s.state.Store(int32(StateActive))
	return s
}

// start launches the event loop and the optional max-duration timer.
func (s *Session) start() {
	s.timerMu.Lock()
	if s.opts.MaxSession > 0 && s.State() == StateActive {
		s.maxTimer = time.AfterFunc(s.opts.MaxSession, func() {
			if s.Close(TriggerMaxDuration) {
				s.logger.Info("maximum session duration reached", zap.Duration("max_session", s.opts.MaxSession))
			}
		})
	}
	s.timerMu.Unlock()

	go s.loop()
	s.logger.Info("session started",
		zap.String("policy", string(s.opts.Policy)),
		zap.String("language", s.opts.Language),
	)
}

func (s *Session) ID() string { return s.id }

func (s *Session) Key() string { return s.key }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed once finalize has completed and the session is Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Report returns the finalize record. It is only populated after Done.
func (s *Session) Report() types.Report {
	select {
	case <-s.done:
		return s.report
	default:
		return types.Report{}
	}
}

// Trigger returns the trigger that won the close latch, if any.
func (s *Session) Trigger() string {
	t, _ := s.trigger.Load().(string)
	return t
}

// Info returns a status snapshot.
func (s *Session) Info() Info {
	active, finished := s.registry.Counts()
	return Info{
		ID:        s.id,
		Key:       s.key,
		State:     s.State().String(),
		Policy:    s.opts.Policy,
		StartedAt: s.startedAt,
		Present:   int(s.presentCount.Load()),
		Active:    active,
		Finished:  finished,
		Trigger:   s.Trigger(),
	}
}

// Attach binds the voice transport connection released at finalize.
func (s *Session) Attach(conn Connection) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.released || s.State() != StateActive {
		return ErrClosed
	}
	if s.conn != nil {
		return ErrConnectionAttached
	}
	s.conn = conn
	return nil
}

// Submit queues ev for the event loop. It reports true only when the event
// was queued before Close latched, which guarantees the loop applies it.
// A false result means the event was dropped or raced the latch.
func (s *Session) Submit(ev Event) bool {
	if s.State() != StateActive {
		return false
	}
	if ev.At.IsZero() {
		ev.At = s.opts.Now()
	}
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.events <- ev:
		// Close may have won between the checks above and the send; the
		// final drain might already be over.
		return s.State() == StateActive
	case <-s.quit:
		return false
	}
}

// Close latches the session into Closing and starts finalize. Only the first
// caller wins; every later call returns false and does nothing.
func (s *Session) Close(trigger string) bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return false
	}
	s.trigger.Store(trigger)
	if s.dir != nil {
		s.dir.Remove(s.key, s)
	}
	close(s.quit)

	s.timerMu.Lock()
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	s.timerMu.Unlock()

	s.logger.Info("session closing", zap.String("trigger", trigger))
	go s.finalize(trigger)
	return true
}

// loop applies events in order. Events already queued when Close wins are
// still applied so accepted audio reaches its artifact before the drain.
func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			for {
				select {
				case ev := <-s.events:
					s.dispatch(ev)
				default:
					return
				}
			}
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panic",
				zap.Stringer("event", ev.Kind),
				zap.String("speaker_id", ev.SpeakerID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	switch ev.Kind {
	case EventJoin:
		s.onJoin(ev)
	case EventLeave:
		s.onLeave(ev)
	case EventSpeakingStart:
		s.onSpeakingStart(ev)
	case EventSpeakingEnd:
		s.onSpeakingEnd(ev)
	case EventAudio:
		s.onAudio(ev)
	case EventDisconnect:
		s.Close(TriggerDisconnect)
	default:
		s.logger.Warn("unknown event", zap.Stringer("event", ev.Kind))
	}
}

func (s *Session) markPresent(id, name string) {
	if cur, ok := s.presence[id]; ok && name == "" {
		name = cur
	}
	s.presence[id] = name
	s.presentCount.Store(int32(len(s.presence)))
}

func (s *Session) onJoin(ev Event) {
	if ev.SpeakerID == "" {
		return
	}
	s.markPresent(ev.SpeakerID, ev.DisplayName)
	s.logger.Debug("speaker joined", zap.String("speaker_id", ev.SpeakerID))
	if s.opts.Policy == PolicyContinuous {
		s.startCapture(ev.SpeakerID)
	}
}

func (s *Session) onLeave(ev Event) {
	_, known := s.presence[ev.SpeakerID]
	delete(s.presence, ev.SpeakerID)
	s.presentCount.Store(int32(len(s.presence)))

	empty := s.registry.EndCapture(ev.SpeakerID)
	s.logger.Debug("speaker left", zap.String("speaker_id", ev.SpeakerID))
	if known && empty && len(s.presence) == 0 {
		s.Close(TriggerEmpty)
	}
}

func (s *Session) onSpeakingStart(ev Event) {
	if ev.SpeakerID == "" {
		return
	}
	s.markPresent(ev.SpeakerID, ev.DisplayName)
	if s.opts.Policy == PolicySpeaking {
		s.startCapture(ev.SpeakerID)
	}
}

func (s *Session) onSpeakingEnd(ev Event) {
	if s.opts.Policy == PolicySpeaking {
		s.registry.EndCapture(ev.SpeakerID)
	}
}

func (s *Session) onAudio(ev Event) {
	if ev.SpeakerID == "" || len(ev.Audio) == 0 {
		return
	}
	rec, ok := s.registry.Active(ev.SpeakerID)
	if ok && s.opts.MaxSpan > 0 && ev.At.Sub(rec.CreatedAt()) >= s.opts.MaxSpan {
		s.registry.EndCapture(ev.SpeakerID)
		s.logger.Info("rotating capture span",
			zap.String("speaker_id", ev.SpeakerID),
			zap.Duration("max_span", s.opts.MaxSpan),
		)
		rec = s.startCapture(ev.SpeakerID)
		ok = rec != nil
	}
	if !ok {
		if s.opts.Policy == PolicySpeaking {
			return
		}
		s.markPresent(ev.SpeakerID, "")
		if rec = s.startCapture(ev.SpeakerID); rec == nil {
			return
		}
	}

	failed := rec.Failed()
	if err := rec.Append(ev.Audio); err != nil {
		if !failed && !errors.Is(err, recorder.ErrNotCapturing) {
			s.logger.Warn("audio append failed, dropping speaker span", zap.String("speaker_id", ev.SpeakerID), zap.Error(err))
		}
		return
	}
	s.deps.Metrics.AudioWritten(len(ev.Audio))
}

func (s *Session) startCapture(speakerID string) *recorder.Recorder {
	meta := recorder.Meta{
		SessionKey:  s.key,
		SpeakerID:   speakerID,
		DisplayName: s.presence[speakerID],
	}
	rec, err := s.registry.StartCapture(speakerID, meta)
	if err != nil {
		if errors.Is(err, ErrAlreadyCapturing) {
			s.logger.Debug("capture already active", zap.String("speaker_id", speakerID))
		} else {
			s.logger.Warn("could not open capture span", zap.String("speaker_id", speakerID), zap.Error(err))
		}
		return nil
	}
	s.deps.Metrics.CaptureStarted()
	s.logger.Debug("capture started",
		zap.String("speaker_id", speakerID),
		zap.String("artifact", rec.Path()),
	)
	return rec
}

// release drops the connection and sink. Errors are logged only.
func (s *Session) release() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.released = true
	s.connMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("closing voice connection", zap.Error(err))
		}
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Warn("releasing delivery sink", zap.Error(err))
		}
	}
}
