package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Section is one speaker's transcribed span.
type Section struct {
	SpeakerID string
	Speaker   string
	Text      string
}

// Transcript is the ordered set of sections assembled during finalize.
// Order is the order in which the spans ended, never re-sorted.
type Transcript struct {
	Sections     []Section
	Participants []string
}

// Empty reports whether no speaker produced text.
func (t *Transcript) Empty() bool {
	return t == nil || len(t.Sections) == 0
}

// Body renders the speaker-labelled sections. Speakers with more than one
// span get a part number per section.
func (t *Transcript) Body() string {
	if t.Empty() {
		return ""
	}
	spans := make(map[string]int)
	for _, s := range t.Sections {
		spans[s.SpeakerID]++
	}

	seen := make(map[string]int)
	parts := make([]string, 0, len(t.Sections))
	for _, s := range t.Sections {
		label := s.Speaker
		if spans[s.SpeakerID] > 1 {
			seen[s.SpeakerID]++
			label = fmt.Sprintf("%s (part %d)", s.Speaker, seen[s.SpeakerID])
		}
		parts = append(parts, fmt.Sprintf("**%s:** %s", label, s.Text))
	}
	return strings.Join(parts, "\n\n")
}

// Document renders the transcript file delivered to the destination.
func (t *Transcript) Document(at time.Time) string {
	return t.DocumentWithBody(at, t.Body())
}

// DocumentWithBody renders the transcript file around an already formatted body.
func (t *Transcript) DocumentWithBody(at time.Time, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation transcript from %s\n", at.Format("02.01.2006 15:04"))
	fmt.Fprintf(&sb, "Participants: %s\n", strings.Join(t.Participants, ", "))
	sb.WriteString(strings.Repeat("=", 50))
	sb.WriteString("\n\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String()
}

// WordCount counts whitespace separated words across all sections.
func (t *Transcript) WordCount() int {
	if t.Empty() {
		return 0
	}
	n := 0
	for _, s := range t.Sections {
		n += len(strings.Fields(s.Text))
	}
	return n
}

const truncatedMarker = "\n[transcript truncated]"

// Truncate bounds s to max runes, marker included. max <= 0 disables the
// bound. A bound too small to hold the marker cuts without it.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	marker := truncatedMarker
	keep := max - utf8.RuneCountInString(marker)
	if keep <= 0 {
		keep, marker = max, ""
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + marker
		}
		n++
	}
	return s
}
