// Package storetest provides an in-memory store.Store for tests of the layers above the database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/internal/store"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// Store is a goroutine-safe in-memory store.Store. Set the *Err fields to make the
// matching method fail.
type Store struct {
	mu       sync.Mutex
	carLocks sync.Map

	apiKeys []*models.APIKey
	cars    map[uuid.UUID]*models.Car
	media   map[uuid.UUID]*models.Media
	jobs    map[uuid.UUID]*models.Job
	reports map[uuid.UUID]*models.Report

	PingErr         error
	CreateJobErr    error
	CreateReportErr error
	UpdateJobErr    error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		cars:    make(map[uuid.UUID]*models.Car),
		media:   make(map[uuid.UUID]*models.Media),
		jobs:    make(map[uuid.UUID]*models.Job),
		reports: make(map[uuid.UUID]*models.Report),
	}
}

func (s *Store) Ping(_ context.Context) error { return s.PingErr }

// --- API keys ---

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, k := range s.apiKeys {
		if k.ID == id {
			k.LastUsedAt = &now
		}
	}
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apiKeys {
		if k.ID == key.ID {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	s.apiKeys = append(s.apiKeys, &cp)
	return nil
}

// --- Cars ---

func (s *Store) CreateCar(_ context.Context, car *models.Car) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cars[car.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *car
	s.cars[car.ID] = &cp
	return nil
}

func (s *Store) GetCar(_ context.Context, id uuid.UUID) (*models.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cars[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) LockCar(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx store.CarTx, car *models.Car) error) (*models.Car, error) {
	l, _ := s.carLocks.LoadOrStore(id, &sync.Mutex{})
	rowLock := l.(*sync.Mutex)
	rowLock.Lock()
	defer rowLock.Unlock()

	car, err := s.GetCar(ctx, id)
	if err != nil {
		return nil, err
	}

	tx := &carTx{s: s, created: map[uuid.UUID]*models.Media{}, deleted: map[uuid.UUID]bool{}}
	if err := fn(ctx, tx, car); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for mid := range tx.deleted {
		delete(s.media, mid)
	}
	for mid, m := range tx.created {
		s.media[mid] = m
	}
	car.UpdatedAt = time.Now().UTC()
	stored := *car
	s.cars[id] = &stored
	out := stored
	return &out, nil
}

// SetCarStatus overwrites a car's status without any checks. Test setup only.
func (s *Store) SetCarStatus(id uuid.UUID, status models.CarStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cars[id]; ok {
		c.Status = status
	}
}

// carTx stages media writes until LockCar commits.
type carTx struct {
	s       *Store
	created map[uuid.UUID]*models.Media
	deleted map[uuid.UUID]bool
}

func (t *carTx) ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error) {
	items, err := t.s.ListMediaByCar(ctx, carID)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, m := range items {
		if !t.deleted[m.ID] {
			out = append(out, m)
		}
	}
	for _, m := range t.created {
		if m.CarID == carID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortMedia(out)
	return out, nil
}

func (t *carTx) CreateMedia(_ context.Context, m *models.Media) error {
	t.s.mu.Lock()
	_, exists := t.s.media[m.ID]
	t.s.mu.Unlock()
	if _, staged := t.created[m.ID]; exists || staged {
		return store.ErrDuplicateKey
	}
	cp := *m
	t.created[m.ID] = &cp
	return nil
}

func (t *carTx) DeleteMedia(_ context.Context, carID, mediaID uuid.UUID) error {
	if m, ok := t.created[mediaID]; ok && m.CarID == carID {
		delete(t.created, mediaID)
		return nil
	}
	t.s.mu.Lock()
	m, ok := t.s.media[mediaID]
	t.s.mu.Unlock()
	if !ok || m.CarID != carID || t.deleted[mediaID] {
		return store.ErrNotFound
	}
	t.deleted[mediaID] = true
	return nil
}

// --- Media ---

func (s *Store) ListMediaByCar(_ context.Context, carID uuid.UUID) ([]*models.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Media
	for _, m := range s.media {
		if m.CarID == carID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortMedia(out)
	return out, nil
}

// AddMedia stores m directly, bypassing the car lock. Test setup only.
func (s *Store) AddMedia(m *models.Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.media[m.ID] = &cp
}

func sortMedia(items []*models.Media) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// --- Jobs ---

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	if s.CreateJobErr != nil {
		return s.CreateJobErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	if s.hasActiveJob(job.CarID, job.ID) && !job.Status.IsTerminal() {
		return store.ErrActiveJobExists
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) hasActiveJob(carID, except uuid.UUID) bool {
	for _, j := range s.jobs {
		if j.CarID == carID && j.ID != except &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing) {
			return true
		}
	}
	return false
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ListJobsByCar(_ context.Context, carID uuid.UUID) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.CarID == carID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateJob(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) (*models.Job, error) {
	if s.UpdateJobErr != nil {
		return nil, s.UpdateJobErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !store.CanTransitionJob(j.Status, status) {
		return nil, store.InvalidJobTransition(j.Status, status)
	}
	if status == models.JobStatusPending && s.hasActiveJob(j.CarID, j.ID) {
		return nil, store.ErrActiveJobExists
	}
	store.ResolveJobUpdate(opts...).Apply(j, status, time.Now().UTC())
	cp := *j
	return &cp, nil
}

// SetJob overwrites a stored job. Test setup only.
func (s *Store) SetJob(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *Store) SetJobReport(_ context.Context, id uuid.UUID, reportStatus string, reportID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	rs := reportStatus
	j.ReportStatus = &rs
	if reportID != nil {
		rid := *reportID
		j.ReportID = &rid
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Reports ---

func (s *Store) CreateReport(_ context.Context, r *models.Report) error {
	if s.CreateReportErr != nil {
		return s.CreateReportErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reports {
		if existing.JobID == r.JobID {
			return store.ErrDuplicateKey
		}
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *Store) GetReportByJob(_ context.Context, jobID uuid.UUID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.JobID == jobID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetLatestReportByCar(_ context.Context, carID uuid.UUID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Report
	for _, r := range s.reports {
		if r.CarID == carID && (latest == nil || r.CreatedAt.After(latest.CreatedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// ReportCount returns the number of stored reports.
func (s *Store) ReportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
