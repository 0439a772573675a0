package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// StartRequest describes a session start command. Empty Policy and Language
// fall back to the manager defaults.
type StartRequest struct {
	Key      string
	Sink     Sink
	Policy   Policy
	Language string
}

// Manager creates sessions, routes events to them and drains them on shutdown.
type Manager struct {
	dir    *Directory
	opts   Options
	deps   Deps
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewManager builds a manager over dir. dir is shared with whatever routes
// transport events.
func NewManager(dir *Directory, opts Options, deps Deps) *Manager {
	if dir == nil {
		dir = NewDirectory()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		dir:    dir,
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "session_manager")),
	}
}

func (m *Manager) Directory() *Directory { return m.dir }

// Start creates and registers a session for req.Key. The sink is owned by the
// session only when Start succeeds.
func (m *Manager) Start(req StartRequest) (*Session, error) {
	if req.Key == "" {
		return nil, errors.New("session key is required")
	}
	opts := m.opts
	if req.Policy != "" {
		opts.Policy = req.Policy
	}
	if req.Language != "" {
		opts.Language = req.Language
	}
	if opts.ArtifactsDir != "" {
		if err := os.MkdirAll(opts.ArtifactsDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifacts dir: %w", err)
		}
	}

	s := newSession(req.Key, req.Sink, m.dir, opts, m.deps)
	if err := m.dir.Insert(s); err != nil {
		return nil, err
	}
	m.deps.Metrics.SessionStarted()
	m.wg.Add(1)
	go func() {
		<-s.Done()
		m.wg.Done()
	}()
	s.start()
	return s, nil
}

// Stop forces finalize for key.
func (m *Manager) Stop(key string) (*Session, error) {
	s, ok := m.dir.Get(key)
	if !ok || !s.Close(TriggerStop) {
		return nil, ErrNoSession
	}
	return s, nil
}

// Route delivers ev to the live session for key.
func (m *Manager) Route(key string, ev Event) error {
	s, ok := m.dir.Get(key)
	if !ok {
		return ErrNoSession
	}
	if !s.Submit(ev) {
		return ErrClosed
	}
	return nil
}

// Attach binds a voice connection to the live session for key.
func (m *Manager) Attach(key string, conn Connection) (*Session, error) {
	s, ok := m.dir.Get(key)
	if !ok {
		return nil, ErrNoSession
	}
	if err := s.Attach(conn); err != nil {
		return nil, err
	}
	return s, nil
}

// Status lists the live sessions ordered by key.
func (m *Manager) Status() []Info {
	live := m.dir.Snapshot()
	out := make([]Info, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	return out
}

// Shutdown closes every live session and waits for all finalizers,
// including ones already running, until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, s := range m.dir.Snapshot() {
		s.Close(TriggerShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("all sessions finalized")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached with sessions still finalizing", zap.Int("live", m.dir.Len()))
		return ctx.Err()
	}
}
