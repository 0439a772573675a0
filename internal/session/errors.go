package session

import "errors"

var (
	// ErrAlreadyCapturing rejects a second active capture for the same speaker.
	ErrAlreadyCapturing = errors.New("speaker is already being captured")
	// ErrSessionExists rejects a start for a destination that already has a live session.
	ErrSessionExists = errors.New("a recording session is already live for this destination")
	// ErrNoSession is returned when no live session exists for a destination.
	ErrNoSession = errors.New("no active session for this destination")
	// ErrClosed is returned for work submitted to a session that is finalizing.
	ErrClosed = errors.New("session is closing")
	// ErrConnectionAttached rejects a second transport connection for one session.
	ErrConnectionAttached = errors.New("session already has a voice connection")
)
