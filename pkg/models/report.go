package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	VerdictExcellent = "Excellent"
	VerdictGood      = "Good"
	VerdictFair      = "Fair"
	VerdictPoor      = "Poor"
	VerdictUnknown   = "Unknown"
)

const ReportStatusCompleted = "completed"

// Report is the persisted inspection outcome derived from an AI analysis result.
// Car fields and media are snapshotted so later edits do not rewrite history.
type Report struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	UserID        uuid.UUID      `db:"user_id"        json:"user_id"`
	CarID         uuid.UUID      `db:"car_id"         json:"car_id"`
	JobID         uuid.UUID      `db:"job_id"         json:"job_id"`
	Make          string         `db:"make"           json:"make"`
	Model         string         `db:"model"          json:"model"`
	Year          int            `db:"year"           json:"year"`
	CarDetails    map[string]any `db:"car_details"    json:"car_details,omitempty"`
	Media         []ReportMedia  `db:"media"          json:"media"`
	AIAnalysis    map[string]any `db:"ai_analysis"    json:"ai_analysis"`
	ExteriorScore *float64       `db:"exterior_score" json:"exterior_score,omitempty"`
	EngineScore   *float64       `db:"engine_score"   json:"engine_score,omitempty"`
	TrustScore    *int           `db:"trust_score"    json:"trust_score,omitempty"`
	Verdict       string         `db:"verdict"        json:"verdict"`
	Status        string         `db:"status"         json:"status"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
}

// ReportMedia is the media snapshot stored on a report.
type ReportMedia struct {
	ID        uuid.UUID `json:"id"`
	Type      MediaType `json:"type"`
	PhotoType *string   `json:"photo_type,omitempty"`
	URL       string    `json:"url"`
}
