package models

import (
	"time"

	"github.com/google/uuid"
)

// CarStatus is the submission state of a car record.
type CarStatus string

const (
	CarStatusDraft         CarStatus = "draft"
	CarStatusMediaUploaded CarStatus = "media_uploaded"
	CarStatusSubmitted     CarStatus = "submitted"
	CarStatusAnalyzing     CarStatus = "analyzing"
	CarStatusReportReady   CarStatus = "report_ready"
)

// IsLocked reports whether media and field edits are forbidden in this status.
func (s CarStatus) IsLocked() bool {
	switch s {
	case CarStatusSubmitted, CarStatusAnalyzing, CarStatusReportReady:
		return true
	}
	return false
}

func (s CarStatus) Valid() bool {
	switch s {
	case CarStatusDraft, CarStatusMediaUploaded, CarStatusSubmitted, CarStatusAnalyzing, CarStatusReportReady:
		return true
	}
	return false
}

// Car is the vehicle being inspected. It is owned by the user that created it.
type Car struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	UserID      uuid.UUID      `db:"user_id"      json:"user_id"`
	Make        string         `db:"make"         json:"make"`
	Model       string         `db:"model"        json:"model"`
	Year        int            `db:"year"         json:"year"`
	VIN         *string        `db:"vin"          json:"vin,omitempty"`
	Mileage     *int           `db:"mileage"      json:"mileage,omitempty"`
	Details     map[string]any `db:"details"      json:"details,omitempty"`
	Status      CarStatus      `db:"status"       json:"status"`
	StatusNote  *string        `db:"status_note"  json:"status_note,omitempty"`
	SubmittedAt *time.Time     `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
}
