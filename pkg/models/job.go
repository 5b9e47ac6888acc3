package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no worker will touch a job in this status again
// without an explicit retry.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Report sub-status of a completed job.
const (
	ReportStatusPending = "pending"
	ReportStatusCreated = "created"
	ReportStatusFailed  = "failed"
)

// Job tracks one asynchronous analysis of a car. It is created PENDING on submission and
// then mutated only by the worker and by explicit retry/cancel calls.
type Job struct {
	ID              uuid.UUID      `db:"id"               json:"id"`
	CarID           uuid.UUID      `db:"car_id"           json:"car_id"`
	UserID          uuid.UUID      `db:"user_id"          json:"user_id"`
	Status          JobStatus      `db:"status"           json:"status"`
	AttemptCount    int            `db:"attempt_count"    json:"attempt_count"`
	ProgressMessage *string        `db:"progress_message" json:"progress_message,omitempty"`
	ErrorReason     *string        `db:"error_reason"     json:"error_reason,omitempty"`
	InputPayload    map[string]any `db:"input_payload"    json:"input_payload,omitempty"`
	ResultPayload   map[string]any `db:"result_payload"   json:"result_payload,omitempty"`
	ReportStatus    *string        `db:"report_status"    json:"report_status,omitempty"`
	ReportID        *uuid.UUID     `db:"report_id"        json:"report_id,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"       json:"updated_at"`
	CompletedAt     *time.Time     `db:"completed_at"     json:"completed_at,omitempty"`
}
