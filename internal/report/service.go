// Package report turns a completed AI analysis into a persisted inspection report.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/metrics"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// Input is everything a report is built from.
type Input struct {
	UserID     uuid.UUID
	CarID      uuid.UUID
	JobID      uuid.UUID
	Make       string
	Model      string
	Year       int
	CarDetails map[string]any
	Media      []models.ReportMedia
	AIAnalysis map[string]any
	Scores     Scores
}

// NewInput builds the report input for a car from the raw analysis result. The stored
// analysis is the raw result plus the derived scores and the job ID.
func NewInput(car *models.Car, jobID uuid.UUID, media []models.ReportMedia, result map[string]any) Input {
	scores := Derive(result)

	analysis := make(map[string]any, len(result)+4)
	for k, v := range result {
		analysis[k] = v
	}
	analysis["jobId"] = jobID.String()
	analysis["exteriorScore"] = floatOrNil(scores.Exterior)
	analysis["engineScore"] = floatOrNil(scores.Engine)
	if _, ok := analysis["issues"]; !ok {
		analysis["issues"] = []any{}
	}

	details := make(map[string]any, len(car.Details)+2)
	for k, v := range car.Details {
		details[k] = v
	}
	if car.VIN != nil {
		details["vin"] = *car.VIN
	}
	if car.Mileage != nil {
		details["mileage"] = *car.Mileage
	}

	return Input{
		UserID:     car.UserID,
		CarID:      car.ID,
		JobID:      jobID,
		Make:       car.Make,
		Model:      car.Model,
		Year:       car.Year,
		CarDetails: details,
		Media:      media,
		AIAnalysis: analysis,
		Scores:     scores,
	}
}

type Service struct {
	store store.ReportStore
	now   func() time.Time
}

func NewService(s store.ReportStore) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// CreateFromAIResult persists a completed report. A job has at most one report; a
// second call for the same job returns the existing one.
func (s *Service) CreateFromAIResult(ctx context.Context, in Input) (*models.Report, error) {
	r := &models.Report{
		ID:            uuid.New(),
		UserID:        in.UserID,
		CarID:         in.CarID,
		JobID:         in.JobID,
		Make:          in.Make,
		Model:         in.Model,
		Year:          in.Year,
		CarDetails:    in.CarDetails,
		Media:         in.Media,
		AIAnalysis:    in.AIAnalysis,
		ExteriorScore: in.Scores.Exterior,
		EngineScore:   in.Scores.Engine,
		TrustScore:    in.Scores.Trust,
		Verdict:       in.Scores.Verdict,
		Status:        models.ReportStatusCompleted,
		CreatedAt:     s.now(),
	}
	if r.Media == nil {
		r.Media = []models.ReportMedia{}
	}

	err := s.store.CreateReport(ctx, r)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, gerr := s.store.GetReportByJob(ctx, in.JobID)
		if gerr != nil {
			return nil, fmt.Errorf("load existing report for job %s: %w", in.JobID, gerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	metrics.ReportsGenerated.WithLabelValues(r.Verdict).Inc()
	return r, nil
}

func (s *Service) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Report, error) {
	return s.store.GetReportByJob(ctx, jobID)
}

func (s *Service) LatestForCar(ctx context.Context, carID uuid.UUID) (*models.Report, error) {
	return s.store.GetLatestReportByCar(ctx, carID)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
