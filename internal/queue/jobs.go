package queue

import (
	"time"

	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// Job statuses
const (
	StatusQueued    = "queued"
	StatusArchiving = "archiving"
	StatusArchived  = "archived"
	StatusFailed    = "failed"
)

// Job is one finalized session report waiting to be archived
type Job struct {
	Report    types.Report
	Status    string
	Attempts  int
	Error     error
	CreatedAt time.Time
}

// NewJob creates a queued job for report
func NewJob(report types.Report) *Job {
	return &Job{
		Report:    report,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}
