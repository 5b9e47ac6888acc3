package carlock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/carlock"
	"github.com/kiranshivaraju/carinspect/internal/jobs"
	"github.com/kiranshivaraju/carinspect/internal/queue"
	"github.com/kiranshivaraju/carinspect/internal/store/storetest"
	"github.com/kiranshivaraju/carinspect/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, msg queue.Message, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

type fixture struct {
	st    *storetest.Store
	q     *fakeQueue
	jobs  *jobs.Service
	coord *carlock.Coordinator
	owner carlock.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New()
	q := &fakeQueue{}
	js := jobs.NewService(st, q, nil, jobs.Config{MaxRetries: 3})
	return &fixture{
		st:    st,
		q:     q,
		jobs:  js,
		coord: carlock.NewCoordinator(st, js),
		owner: carlock.User(uuid.New()),
	}
}

func (f *fixture) car(t *testing.T) *models.Car {
	t.Helper()
	car, err := f.coord.Create(context.Background(), f.owner.UserID, carlock.CarInput{
		Make: "Honda", Model: "Civic", Year: 2019,
	})
	require.NoError(t, err)
	return car
}

func (f *fixture) attachPhoto(t *testing.T, carID uuid.UUID, photoType string) *models.Media {
	t.Helper()
	pt := photoType
	m, err := f.coord.AttachMedia(context.Background(), carID, f.owner, &models.Media{
		Type:       models.MediaTypePhoto,
		PhotoType:  &pt,
		FileName:   photoType + ".jpg",
		IsUploaded: true,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) status(t *testing.T, carID uuid.UUID) models.CarStatus {
	t.Helper()
	car, err := f.st.GetCar(context.Background(), carID)
	require.NoError(t, err)
	return car.Status
}

// --- Create / Get / UpdateDetails ---

func TestCreate_Draft(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	assert.Equal(t, models.CarStatusDraft, car.Status)
	assert.Equal(t, f.owner.UserID, car.UserID)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Create(context.Background(), uuid.New(), carlock.CarInput{Make: "", Model: "X", Year: 2020})
	assert.ErrorIs(t, err, carlock.ErrInvalidInput)

	_, err = f.coord.Create(context.Background(), uuid.New(), carlock.CarInput{Make: "A", Model: "X", Year: 1700})
	assert.ErrorIs(t, err, carlock.ErrInvalidInput)
}

func TestGet_Ownership(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)

	_, err := f.coord.Get(context.Background(), car.ID, carlock.User(uuid.New()))
	assert.ErrorIs(t, err, carlock.ErrForbidden)

	got, err := f.coord.Get(context.Background(), car.ID, carlock.Admin(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, car.ID, got.ID)
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	mileage := 42000
	model := "Accord"

	updated, err := f.coord.UpdateDetails(context.Background(), car.ID, f.owner, carlock.CarPatch{
		Model:   &model,
		Mileage: &mileage,
		Details: map[string]any{"fuelType": "petrol"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Accord", updated.Model)
	assert.Equal(t, 42000, *updated.Mileage)
	assert.Equal(t, "petrol", updated.Details["fuelType"])
}

func TestLockedCarRejectsEdits(t *testing.T) {
	for _, status := range []models.CarStatus{models.CarStatusSubmitted, models.CarStatusAnalyzing, models.CarStatusReportReady} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			car := f.car(t)
			existing := f.attachPhoto(t, car.ID, models.PhotoFront)
			f.st.SetCarStatus(car.ID, status)

			model := "Other"
			_, err := f.coord.UpdateDetails(context.Background(), car.ID, f.owner, carlock.CarPatch{Model: &model})
			assert.ErrorIs(t, err, carlock.ErrLocked)

			pt := models.PhotoRear
			_, err = f.coord.AttachMedia(context.Background(), car.ID, f.owner, &models.Media{
				Type: models.MediaTypePhoto, PhotoType: &pt, FileName: "rear.jpg", IsUploaded: true,
			})
			assert.ErrorIs(t, err, carlock.ErrLocked)

			err = f.coord.DetachMedia(context.Background(), car.ID, f.owner, existing.ID)
			assert.ErrorIs(t, err, carlock.ErrLocked)

			items, _ := f.st.ListMediaByCar(context.Background(), car.ID)
			assert.Len(t, items, 1)
		})
	}
}

// --- Media ---

func TestAttachMedia_PromotesDraft(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)

	_, err := f.coord.AttachMedia(context.Background(), car.ID, f.owner, &models.Media{
		Type: models.MediaTypeVideo, FileName: "engine.mp4", IsUploaded: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CarStatusDraft, f.status(t, car.ID))

	f.attachPhoto(t, car.ID, models.PhotoFront)
	assert.Equal(t, models.CarStatusMediaUploaded, f.status(t, car.ID))
}

func TestAttachMedia_ReplacesSamePhotoType(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	first := f.attachPhoto(t, car.ID, models.PhotoFront)
	second := f.attachPhoto(t, car.ID, models.PhotoFront)

	items, err := f.st.ListMediaByCar(context.Background(), car.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second.ID, items[0].ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAttachMedia_Validation(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	bad := "roof"

	_, err := f.coord.AttachMedia(context.Background(), car.ID, f.owner, &models.Media{
		Type: models.MediaTypePhoto, PhotoType: &bad, FileName: "roof.jpg",
	})
	assert.ErrorIs(t, err, carlock.ErrInvalidInput)

	_, err = f.coord.AttachMedia(context.Background(), car.ID, f.owner, &models.Media{Type: "audio", FileName: "a"})
	assert.ErrorIs(t, err, carlock.ErrInvalidInput)
}

func TestAttachMedia_Forbidden(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	pt := models.PhotoFront

	_, err := f.coord.AttachMedia(context.Background(), car.ID, carlock.User(uuid.New()), &models.Media{
		Type: models.MediaTypePhoto, PhotoType: &pt, FileName: "front.jpg", IsUploaded: true,
	})
	assert.ErrorIs(t, err, carlock.ErrForbidden)
}

func TestDetachMedia(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	m := f.attachPhoto(t, car.ID, models.PhotoFront)

	require.NoError(t, f.coord.DetachMedia(context.Background(), car.ID, f.owner, m.ID))
	items, _ := f.st.ListMediaByCar(context.Background(), car.ID)
	assert.Empty(t, items)
}

func TestValidateMedia(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)

	r, err := f.coord.ValidateMedia(context.Background(), car.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Equal(t, 14, r.CompletionPercentage)

	_, err = f.coord.ValidateMedia(context.Background(), car.ID, carlock.User(uuid.New()))
	assert.ErrorIs(t, err, carlock.ErrForbidden)
}

// --- Transition ---

func TestTransition(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)

	updated, err := f.coord.Transition(context.Background(), car.ID, models.CarStatusSubmitted, f.owner, "ready to go")
	require.NoError(t, err)
	assert.Equal(t, models.CarStatusSubmitted, updated.Status)
	require.NotNil(t, updated.StatusNote)
	assert.Equal(t, "ready to go", *updated.StatusNote)
}

func TestTransition_Invalid(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)

	_, err := f.coord.Transition(context.Background(), car.ID, models.CarStatusReportReady, f.owner, "")
	var te *carlock.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.CarStatusDraft, te.From)
	assert.Equal(t, models.CarStatusReportReady, te.To)
	assert.Contains(t, te.Allowed, models.CarStatusMediaUploaded)

	_, err = f.coord.Transition(context.Background(), car.ID, "bogus", f.owner, "")
	assert.ErrorIs(t, err, carlock.ErrInvalidTransition)
}

func TestTransition_SubmittedRequiresMedia(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.st.SetCarStatus(car.ID, models.CarStatusMediaUploaded)

	_, err := f.coord.Transition(context.Background(), car.ID, models.CarStatusSubmitted, f.owner, "")
	assert.ErrorIs(t, err, carlock.ErrIncompleteMedia)
}

func TestTransition_LockedCarNeedsPrivilegedActor(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.st.SetCarStatus(car.ID, models.CarStatusAnalyzing)

	_, err := f.coord.Transition(context.Background(), car.ID, models.CarStatusMediaUploaded, f.owner, "")
	assert.ErrorIs(t, err, carlock.ErrLocked)

	_, err = f.coord.Transition(context.Background(), car.ID, models.CarStatusReportReady, carlock.System(uuid.New()), "")
	assert.ErrorIs(t, err, carlock.ErrForbidden)

	updated, err := f.coord.Transition(context.Background(), car.ID, models.CarStatusReportReady, carlock.System(f.owner.UserID), "")
	require.NoError(t, err)
	assert.Equal(t, models.CarStatusReportReady, updated.Status)

	_, err = f.coord.Transition(context.Background(), car.ID, models.CarStatusMediaUploaded, carlock.Admin(uuid.New()), "")
	assert.ErrorIs(t, err, carlock.ErrInvalidTransition)
}

// --- SubmitForAnalysis ---

func TestSubmitForAnalysis(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	for _, pt := range models.RequiredPhotoTypes {
		f.attachPhoto(t, car.ID, pt)
	}

	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, car.ID, job.CarID)

	locked, _ := f.st.GetCar(context.Background(), car.ID)
	assert.Equal(t, models.CarStatusAnalyzing, locked.Status)
	assert.NotNil(t, locked.SubmittedAt)
	require.Len(t, f.q.messages, 1)
}

func TestSubmitForAnalysis_IncompleteMedia(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)

	_, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	assert.ErrorIs(t, err, carlock.ErrIncompleteMedia)
	assert.Equal(t, models.CarStatusDraft, f.status(t, car.ID))
	assert.Empty(t, f.q.messages)
}

func TestSubmitForAnalysis_WrongStatus(t *testing.T) {
	for _, status := range []models.CarStatus{models.CarStatusAnalyzing, models.CarStatusReportReady} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			car := f.car(t)
			f.attachPhoto(t, car.ID, models.PhotoFront)
			f.st.SetCarStatus(car.ID, status)

			_, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
			assert.ErrorIs(t, err, carlock.ErrInvalidTransition)
			assert.Equal(t, status, f.status(t, car.ID))
		})
	}
}

func TestSubmitForAnalysis_Forbidden(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)

	_, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, carlock.User(uuid.New()))
	assert.ErrorIs(t, err, carlock.ErrForbidden)
}

func TestSubmitForAnalysis_JobFailureUnlocks(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	f.q.err = errors.New("redis down")

	_, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.Error(t, err)
	assert.Equal(t, models.CarStatusMediaUploaded, f.status(t, car.ID))
}

func TestSubmitForAnalysis_ConcurrentSubmitsCreateOneJob(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	list, _ := f.st.ListJobsByCar(context.Background(), car.ID)
	assert.Len(t, list, 1)
}

// --- Unlock ---

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.st.SetCarStatus(car.ID, models.CarStatusAnalyzing)

	_, err := f.coord.Unlock(context.Background(), car.ID, f.owner, "")
	assert.ErrorIs(t, err, carlock.ErrLocked)

	unlocked, err := f.coord.Unlock(context.Background(), car.ID, carlock.System(f.owner.UserID), "analysis failed")
	require.NoError(t, err)
	assert.Equal(t, models.CarStatusMediaUploaded, unlocked.Status)
	assert.Equal(t, "analysis failed", *unlocked.StatusNote)
}

func TestUnlock_EditableIsNoop(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)

	unlocked, err := f.coord.Unlock(context.Background(), car.ID, carlock.System(f.owner.UserID), "")
	require.NoError(t, err)
	assert.Equal(t, models.CarStatusDraft, unlocked.Status)
}

func TestUnlock_ReportReadyStays(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.st.SetCarStatus(car.ID, models.CarStatusReportReady)

	_, err := f.coord.Unlock(context.Background(), car.ID, carlock.System(f.owner.UserID), "")
	assert.ErrorIs(t, err, carlock.ErrInvalidTransition)
	assert.Equal(t, models.CarStatusReportReady, f.status(t, car.ID))
}

// --- RetryJob / CancelJob ---

func failJob(t *testing.T, f *fixture, jobID uuid.UUID, attempts int) {
	t.Helper()
	job, err := f.st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	reason := "AI service request timed out after 120000ms"
	job.Status = models.JobStatusFailed
	job.AttemptCount = attempts
	job.ErrorReason = &reason
	f.st.SetJob(job)
}

func TestRetryJob_RelocksCar(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)

	failJob(t, f, job.ID, 1)
	f.st.SetCarStatus(car.ID, models.CarStatusMediaUploaded)

	retried, err := f.coord.RetryJob(context.Background(), job.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, retried.Status)
	assert.Equal(t, 2, retried.AttemptCount)
	assert.Equal(t, models.CarStatusAnalyzing, f.status(t, car.ID))
	require.Len(t, f.q.messages, 2)
	assert.Equal(t, 2, f.q.messages[1].Attempt)
}

func TestRetryJob_LimitLeavesCarEditable(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)

	failJob(t, f, job.ID, 3)
	f.st.SetCarStatus(car.ID, models.CarStatusMediaUploaded)

	_, err = f.coord.RetryJob(context.Background(), job.ID, f.owner)
	assert.ErrorIs(t, err, jobs.ErrRetryLimitExceeded)
	assert.Equal(t, models.CarStatusMediaUploaded, f.status(t, car.ID))

	stored, _ := f.st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.AttemptCount)
}

func TestRetryJob_EnqueueFailureRestoresCar(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)

	failJob(t, f, job.ID, 1)
	f.st.SetCarStatus(car.ID, models.CarStatusMediaUploaded)
	f.q.err = errors.New("redis down")

	_, err = f.coord.RetryJob(context.Background(), job.ID, f.owner)
	require.Error(t, err)
	assert.Equal(t, models.CarStatusMediaUploaded, f.status(t, car.ID))
}

func TestRetryJob_Forbidden(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)
	failJob(t, f, job.ID, 1)

	_, err = f.coord.RetryJob(context.Background(), job.ID, carlock.User(uuid.New()))
	assert.ErrorIs(t, err, carlock.ErrForbidden)
}

func TestCancelJob_UnlocksCar(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)
	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)

	cancelled, err := f.coord.CancelJob(context.Background(), job.ID, carlock.Admin(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, models.CarStatusMediaUploaded, f.status(t, car.ID))

	_, err = f.coord.CancelJob(context.Background(), job.ID, carlock.Admin(uuid.New()))
	assert.ErrorIs(t, err, jobs.ErrCannotCancel)
}

// --- Summary ---

func TestSummary(t *testing.T) {
	f := newFixture(t)
	car := f.car(t)
	f.attachPhoto(t, car.ID, models.PhotoFront)

	s, err := f.coord.Summary(context.Background(), car.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, s.CanEdit)
	assert.False(t, s.IsLocked)
	assert.Len(t, s.Media, 1)
	assert.Nil(t, s.LatestJob)

	job, err := f.coord.SubmitForAnalysis(context.Background(), car.ID, f.owner)
	require.NoError(t, err)

	s, err = f.coord.Summary(context.Background(), car.ID, f.owner)
	require.NoError(t, err)
	assert.True(t, s.IsLocked)
	assert.False(t, s.CanEdit)
	require.NotNil(t, s.LatestJob)
	assert.Equal(t, job.ID, s.LatestJob.ID)
}
