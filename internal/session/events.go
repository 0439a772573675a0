package session

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies a transport event routed to a session.
type EventKind int

const (
	EventJoin EventKind = iota + 1
	EventLeave
	EventSpeakingStart
	EventSpeakingEnd
	EventAudio
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventSpeakingStart:
		return "speaking_start"
	case EventSpeakingEnd:
		return "speaking_end"
	case EventAudio:
		return "audio"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one item on a session's event queue.
type Event struct {
	Kind        EventKind
	SpeakerID   string
	DisplayName string
	Audio       []byte
	At          time.Time
}

// Policy selects which event opens a capture span.
type Policy string

const (
	// PolicyContinuous captures a speaker from join to leave.
	PolicyContinuous Policy = "continuous"
	// PolicySpeaking captures from speaking-start to speaking-end.
	PolicySpeaking Policy = "speaking"
)

// ParsePolicy accepts a policy name, defaulting to continuous when empty.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyContinuous:
		return PolicyContinuous, nil
	case PolicySpeaking:
		return PolicySpeaking, nil
	default:
		return "", fmt.Errorf("unknown capture policy %q", s)
	}
}

// Finalize triggers.
const (
	TriggerStop        = "stop"
	TriggerEmpty       = "empty"
	TriggerDisconnect  = "disconnect"
	TriggerMaxDuration = "max_duration"
	TriggerShutdown    = "shutdown"
)
