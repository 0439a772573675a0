package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codebuildervaibhav/voice-recap/internal/recorder"
)

// RecorderFactory opens a new capture span.
type RecorderFactory func(meta recorder.Meta) (*recorder.Recorder, error)

// Registry tracks the active and finished Recorders of one session.
// A Recorder lives in exactly one of the two sets; finished keeps the order
// in which spans ended.
type Registry struct {
	mu       sync.Mutex
	open     RecorderFactory
	active   map[string]*recorder.Recorder
	finished []*recorder.Recorder
}

// NewRegistry creates an empty registry using open to create Recorders.
func NewRegistry(open RecorderFactory) *Registry {
	return &Registry{
		open:   open,
		active: make(map[string]*recorder.Recorder),
	}
}

// StartCapture opens a new span for speakerID.
func (r *Registry) StartCapture(speakerID string, meta recorder.Meta) (*recorder.Recorder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[speakerID]; ok {
		return nil, fmt.Errorf("start capture for %s: %w", speakerID, ErrAlreadyCapturing)
	}
	meta.SpeakerID = speakerID
	rec, err := r.open(meta)
	if err != nil {
		return nil, err
	}
	r.active[speakerID] = rec
	return rec, nil
}

// EndCapture flushes the active span of speakerID and moves it to the
// finished set. It reports whether no active spans remain.
func (r *Registry) EndCapture(speakerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endLocked(speakerID)
	return len(r.active) == 0
}

func (r *Registry) endLocked(speakerID string) {
	rec, ok := r.active[speakerID]
	if !ok {
		return
	}
	rec.BeginFlush()
	delete(r.active, speakerID)
	r.finished = append(r.finished, rec)
}

// DrainAll ends every active span, oldest first. Calling it again is a no-op.
func (r *Registry) DrainAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*recorder.Recorder, 0, len(r.active))
	for _, rec := range r.active {
		pending = append(pending, rec)
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if !a.CreatedAt().Equal(b.CreatedAt()) {
			return a.CreatedAt().Before(b.CreatedAt())
		}
		return a.Meta().SpeakerID < b.Meta().SpeakerID
	})
	for _, rec := range pending {
		r.endLocked(rec.Meta().SpeakerID)
	}
}

// Active returns the capturing Recorder for speakerID, if any.
func (r *Registry) Active(speakerID string) (*recorder.Recorder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[speakerID]
	return rec, ok
}

// Finished returns a copy of the finished set in the order spans ended.
func (r *Registry) Finished() []*recorder.Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*recorder.Recorder, len(r.finished))
	copy(out, r.finished)
	return out
}

// Counts returns the sizes of the active and finished sets.
func (r *Registry) Counts() (active, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active), len(r.finished)
}
