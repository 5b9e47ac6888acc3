// Package media evaluates whether a car's uploaded media is ready for submission and
// resolves media items to URLs the analysis service can fetch.
package media

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// completionSlots is the six required photos plus the optional engine video.
const completionSlots = 7

var photoLabels = map[string]string{
	models.PhotoFront:     "Front View",
	models.PhotoRear:      "Rear View",
	models.PhotoLeft:      "Left Side",
	models.PhotoRight:     "Right Side",
	models.PhotoInterior:  "Interior",
	models.PhotoEngineBay: "Engine Bay",
}

// PhotoLabel returns the display label of a photo sub-type.
func PhotoLabel(photoType string) string {
	if l, ok := photoLabels[photoType]; ok {
		return l
	}
	return photoType
}

// Lister is the read access the gate needs.
type Lister interface {
	ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error)
}

// Readiness is the gate verdict for one car.
type Readiness struct {
	IsValid              bool     `json:"is_valid"`
	MissingPhotoTypes    []string `json:"missing_photo_types"`
	HasVideo             bool     `json:"has_video"`
	CompletionPercentage int      `json:"completion_percentage"`
	UploadedPhotoCount   int      `json:"uploaded_photo_count"`
	Warnings             []string `json:"warnings"`
}

// Gate validates a car's media set. It has no side effects.
type Gate struct {
	media Lister
}

func NewGate(media Lister) *Gate {
	return &Gate{media: media}
}

// Validate loads the car's media and evaluates it. Ownership is checked by the caller.
func (g *Gate) Validate(ctx context.Context, carID uuid.UUID) (Readiness, error) {
	items, err := g.media.ListMediaByCar(ctx, carID)
	if err != nil {
		return Readiness{}, fmt.Errorf("list media for car %s: %w", carID, err)
	}
	return Evaluate(items), nil
}

// Evaluate computes readiness over items. Only uploaded items count.
func Evaluate(items []*models.Media) Readiness {
	present := make(map[string]bool, len(models.RequiredPhotoTypes))
	r := Readiness{MissingPhotoTypes: []string{}, Warnings: []string{}}

	for _, m := range items {
		if m == nil || !m.IsUploaded {
			continue
		}
		switch m.Type {
		case models.MediaTypePhoto:
			r.UploadedPhotoCount++
			if m.PhotoType != nil && models.IsRequiredPhotoType(*m.PhotoType) {
				present[*m.PhotoType] = true
			}
		case models.MediaTypeVideo:
			r.HasVideo = true
		}
	}

	for _, t := range models.RequiredPhotoTypes {
		if !present[t] {
			r.MissingPhotoTypes = append(r.MissingPhotoTypes, t)
		}
	}

	filled := len(present)
	if r.HasVideo {
		filled++
	}
	r.CompletionPercentage = int(math.Round(100 * float64(filled) / completionSlots))
	r.IsValid = r.UploadedPhotoCount > 0

	if len(r.MissingPhotoTypes) > 0 {
		labels := make([]string, len(r.MissingPhotoTypes))
		for i, t := range r.MissingPhotoTypes {
			labels[i] = PhotoLabel(t)
		}
		r.Warnings = append(r.Warnings, "Missing required photos: "+strings.Join(labels, ", "))
	}
	if !r.HasVideo {
		r.Warnings = append(r.Warnings, "Engine sound video is recommended for a more accurate health report")
	}
	if !r.IsValid {
		r.Warnings = append(r.Warnings, "At least one photo is required to proceed")
	}
	return r
}
