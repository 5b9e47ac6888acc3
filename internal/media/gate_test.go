package media_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/media"
	"github.com/kiranshivaraju/carinspect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photo(carID uuid.UUID, photoType string, uploaded bool) *models.Media {
	pt := photoType
	return &models.Media{
		ID:         uuid.New(),
		CarID:      carID,
		Type:       models.MediaTypePhoto,
		PhotoType:  &pt,
		FileName:   photoType + ".jpg",
		IsUploaded: uploaded,
		CreatedAt:  time.Now().UTC(),
	}
}

func video(carID uuid.UUID, uploaded bool) *models.Media {
	return &models.Media{
		ID:         uuid.New(),
		CarID:      carID,
		Type:       models.MediaTypeVideo,
		FileName:   "engine.mp4",
		IsUploaded: uploaded,
		CreatedAt:  time.Now().UTC(),
	}
}

func allPhotos(carID uuid.UUID) []*models.Media {
	var items []*models.Media
	for _, t := range models.RequiredPhotoTypes {
		items = append(items, photo(carID, t, true))
	}
	return items
}

func TestEvaluate_OnePhotoIsValid(t *testing.T) {
	carID := uuid.New()
	r := media.Evaluate([]*models.Media{photo(carID, models.PhotoFront, true)})

	assert.True(t, r.IsValid)
	assert.False(t, r.HasVideo)
	assert.Equal(t, 14, r.CompletionPercentage)
	assert.Equal(t, 1, r.UploadedPhotoCount)
	assert.Equal(t, []string{"rear", "left", "right", "interior", "engineBay"}, r.MissingPhotoTypes)
}

func TestEvaluate_NoPhotosIsInvalidEvenWithVideo(t *testing.T) {
	carID := uuid.New()
	r := media.Evaluate([]*models.Media{video(carID, true)})

	assert.False(t, r.IsValid)
	assert.True(t, r.HasVideo)
	assert.Equal(t, 14, r.CompletionPercentage)
	assert.Len(t, r.MissingPhotoTypes, 6)
	assert.Contains(t, r.Warnings, "At least one photo is required to proceed")
}

func TestEvaluate_Empty(t *testing.T) {
	r := media.Evaluate(nil)
	assert.False(t, r.IsValid)
	assert.Equal(t, 0, r.CompletionPercentage)
	assert.Len(t, r.MissingPhotoTypes, 6)
	assert.Len(t, r.Warnings, 3)
}

func TestEvaluate_Complete(t *testing.T) {
	carID := uuid.New()
	items := append(allPhotos(carID), video(carID, true))
	r := media.Evaluate(items)

	assert.True(t, r.IsValid)
	assert.True(t, r.HasVideo)
	assert.Equal(t, 100, r.CompletionPercentage)
	assert.Empty(t, r.MissingPhotoTypes)
	assert.Empty(t, r.Warnings)
}

func TestEvaluate_IgnoresNotUploaded(t *testing.T) {
	carID := uuid.New()
	r := media.Evaluate([]*models.Media{
		photo(carID, models.PhotoFront, false),
		video(carID, false),
	})

	assert.False(t, r.IsValid)
	assert.False(t, r.HasVideo)
	assert.Equal(t, 0, r.UploadedPhotoCount)
}

func TestEvaluate_DuplicatePhotoTypesCountOnce(t *testing.T) {
	carID := uuid.New()
	r := media.Evaluate([]*models.Media{
		photo(carID, models.PhotoFront, true),
		photo(carID, models.PhotoFront, true),
		photo(carID, models.PhotoRear, true),
	})

	assert.Equal(t, 3, r.UploadedPhotoCount)
	assert.Equal(t, 29, r.CompletionPercentage)
}

func TestEvaluate_UntypedPhotoCountsAsValidOnly(t *testing.T) {
	carID := uuid.New()
	m := photo(carID, models.PhotoFront, true)
	m.PhotoType = nil
	r := media.Evaluate([]*models.Media{m})

	assert.True(t, r.IsValid)
	assert.Equal(t, 0, r.CompletionPercentage)
}

func TestEvaluate_Warnings(t *testing.T) {
	carID := uuid.New()
	r := media.Evaluate([]*models.Media{
		photo(carID, models.PhotoFront, true),
		photo(carID, models.PhotoRear, true),
		photo(carID, models.PhotoLeft, true),
		photo(carID, models.PhotoRight, true),
	})

	require.Len(t, r.Warnings, 2)
	assert.Equal(t, "Missing required photos: Interior, Engine Bay", r.Warnings[0])
	assert.Equal(t, "Engine sound video is recommended for a more accurate health report", r.Warnings[1])
}

type listerFunc func(ctx context.Context, carID uuid.UUID) ([]*models.Media, error)

func (f listerFunc) ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error) {
	return f(ctx, carID)
}

func TestGate_Validate(t *testing.T) {
	carID := uuid.New()
	g := media.NewGate(listerFunc(func(_ context.Context, id uuid.UUID) ([]*models.Media, error) {
		assert.Equal(t, carID, id)
		return allPhotos(carID), nil
	}))

	r, err := g.Validate(context.Background(), carID)
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Equal(t, 86, r.CompletionPercentage)
}

func TestGate_ValidatePropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	g := media.NewGate(listerFunc(func(context.Context, uuid.UUID) ([]*models.Media, error) {
		return nil, boom
	}))

	_, err := g.Validate(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}

func TestPhotoLabel(t *testing.T) {
	assert.Equal(t, "Engine Bay", media.PhotoLabel(models.PhotoEngineBay))
	assert.Equal(t, "odd", media.PhotoLabel("odd"))
}
