package types

import "time"

// Per-speaker transcription outcomes
const (
	OutcomeTranscribed = "TRANSCRIBED"
	OutcomeEmpty       = "EMPTY"
	OutcomeTooSmall    = "TOO_SMALL"
	OutcomeMissing     = "MISSING"
	OutcomeStorage     = "STORAGE_ERROR"
	OutcomeFailed      = "FAILED"
)

// Delivery kinds
const (
	DeliverySummary    = "summary"
	DeliveryTranscript = "transcript"
	DeliveryNotice     = "notice"
)

// TranscriptionResult represents the output of a transcriber for one artifact
type TranscriptionResult struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []Segment
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Report is the persisted record of one finalized session
type Report struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"session_key"`
	Trigger      string    `json:"trigger"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Participants []string  `json:"participants"`
	Sections     int       `json:"sections"`
	Artifacts    int       `json:"artifacts"`
	Summary      string    `json:"summary,omitempty"`
	Transcript   string    `json:"-"`
	WordCount    int       `json:"word_count"`
}
