package session

import (
	"context"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// Transcriber converts one finished artifact into text. An empty string with
// a nil error means the artifact held no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, artifactPath, language string) (string, error)
}

// Summarizer condenses the transcript. Implementations return
// summary.ErrMissingCredential when no API key is configured.
type Summarizer interface {
	Summarize(ctx context.Context, prompt, transcript string) (string, error)
}

// Sink delivers finalize output to the session's destination.
type Sink interface {
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, data []byte, filename, caption string) error
	Close() error
}

// Connection is the voice transport handle bound to a session.
type Connection interface {
	Close() error
}

// ReportStore persists the record of a finalized session.
type ReportStore interface {
	SaveReport(ctx context.Context, report types.Report) error
}
