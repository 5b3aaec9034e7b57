package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	IngestStatusSuccess = "success"
	IngestStatusFailed  = "failed"
)

// IngestRun captures one ingestion cycle for freshness tracking and auditing.
type IngestRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Records    int
	Error      *string
}

// NewIngestRun starts a run record with a fresh identifier.
func NewIngestRun(startedAt time.Time) IngestRun {
	return IngestRun{ID: uuid.New(), StartedAt: startedAt.UTC()}
}

// Succeeded reports whether the run stored data.
func (r IngestRun) Succeeded() bool {
	return r.Status == IngestStatusSuccess
}
