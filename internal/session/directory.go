package session

import (
	"sort"
	"sync"
)

// Directory maps a voice destination to its live Session. It is created once
// by the server and handed to everything that routes transport events.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Session)}
}

// Insert registers s under its key unless a live session already holds it.
func (d *Directory) Insert(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[s.Key()]; ok {
		return ErrSessionExists
	}
	d.sessions[s.Key()] = s
	return nil
}

// Get looks up the live session for key.
func (d *Directory) Get(key string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[key]
	return s, ok
}

// Remove deletes key only while it still maps to s, so a finalizing session
// never evicts its successor.
func (d *Directory) Remove(key string, s *Session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.sessions[key]; ok && cur == s {
		delete(d.sessions, key)
		return true
	}
	return false
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Snapshot returns the live sessions ordered by key.
func (d *Directory) Snapshot() []*Session {
	d.mu.RLock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
