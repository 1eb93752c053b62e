package job

import (
	"time"

	"dirsubmit/internal/core/model"
)

// Job is the redis record tracking one queued batch.
type Job struct {
	JobID      string              `json:"job_id"`
	Type       Type                `json:"type"`
	Status     Status              `json:"status"`
	BusinessID int64               `json:"business_id"`
	Queued     int                 `json:"queued"`
	Error      string              `json:"error,omitempty"`
	Summary    *model.BatchSummary `json:"summary,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type Type string

const (
	TypeBatch  Type = "batch"
	TypeResume Type = "resume"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)
