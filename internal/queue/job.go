package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/model"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobRetrying  JobStatus = "retrying"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// TypeAssessment is the job type driving the assessment engine.
const TypeAssessment = "assessment"

// Job is one unit of durable work. Delivery is at-least-once; handlers must
// be idempotent by their payload key.
type Job struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Priority        int             `json:"priority"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"maxAttempts"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	Error           string          `json:"error,omitempty"`
	CancelRequested bool            `json:"cancelRequested"`
	BackoffBase     time.Duration   `json:"backoffBase"`
	EnqueuedAt      time.Time       `json:"enqueuedAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// AssessmentPayload is the payload of TypeAssessment jobs. The assessment
// row already exists when the job is enqueued; its id is the idempotence key.
type AssessmentPayload struct {
	AssessmentID uuid.UUID           `json:"assessmentId"`
	TenantID     uuid.UUID           `json:"tenantId"`
	Benchmark    model.BenchmarkKind `json:"benchmark"`
	Name         string              `json:"name"`
	TriggeredBy  string              `json:"triggeredBy"`
}

// Options tunes one enqueued job.
type Options struct {
	// Priority orders dequeues; lower values win. Default 10.
	Priority int

	// MaxAttempts bounds delivery attempts. Default 3.
	MaxAttempts int

	// BackoffBase seeds the exponential retry delay. Default 5s;
	// scheduled runs use 10s.
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.Priority == 0 {
		o.Priority = 10
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 5 * time.Second
	}
	return o
}

// Stats is a point-in-time view of queue depths.
type Stats struct {
	Pending   int64 `json:"pending"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
