package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Cars ---

const carColumns = `id, user_id, make, model, year, vin, mileage, details, status, status_note, submitted_at, created_at, updated_at`

func scanCar(row pgx.Row) (*models.Car, error) {
	var c models.Car
	err := row.Scan(&c.ID, &c.UserID, &c.Make, &c.Model, &c.Year, &c.VIN, &c.Mileage, &c.Details,
		&c.Status, &c.StatusNote, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCar(ctx context.Context, car *models.Car) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cars (`+carColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		car.ID, car.UserID, car.Make, car.Model, car.Year, car.VIN, car.Mileage, car.Details,
		car.Status, car.StatusNote, car.SubmittedAt, car.CreatedAt, car.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create car: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCar(ctx context.Context, id uuid.UUID) (*models.Car, error) {
	c, err := scanCar(s.pool.QueryRow(ctx, `SELECT `+carColumns+` FROM cars WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) LockCar(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx CarTx, car *models.Car) error) (*models.Car, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin car transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	car, err := scanCar(tx.QueryRow(ctx, `SELECT `+carColumns+` FROM cars WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock car: %w", err)
	}

	if err := fn(ctx, &pgCarTx{q: tx}, car); err != nil {
		return nil, err
	}

	updated, err := scanCar(tx.QueryRow(ctx,
		`UPDATE cars SET make = $2, model = $3, year = $4, vin = $5, mileage = $6, details = $7,
		   status = $8, status_note = $9, submitted_at = $10, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+carColumns,
		car.ID, car.Make, car.Model, car.Year, car.VIN, car.Mileage, car.Details,
		car.Status, car.StatusNote, car.SubmittedAt))
	if err != nil {
		return nil, fmt.Errorf("update car: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit car transaction: %w", err)
	}
	return updated, nil
}

// --- Media ---

const mediaColumns = `id, car_id, type, photo_type, file_name, storage_key, storage_url, content_type, size_bytes, is_uploaded, created_at`

type pgCarTx struct {
	q querier
}

func (t *pgCarTx) ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error) {
	return listMedia(ctx, t.q, carID)
}

func (t *pgCarTx) CreateMedia(ctx context.Context, m *models.Media) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO media (`+mediaColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.CarID, m.Type, m.PhotoType, m.FileName, m.StorageKey, m.StorageURL,
		m.ContentType, m.SizeBytes, m.IsUploaded, m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create media: %w", err)
	}
	return nil
}

func (t *pgCarTx) DeleteMedia(ctx context.Context, carID, mediaID uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM media WHERE id = $1 AND car_id = $2`, mediaID, carID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMediaByCar(ctx context.Context, carID uuid.UUID) ([]*models.Media, error) {
	return listMedia(ctx, s.pool, carID)
}

func listMedia(ctx context.Context, q querier, carID uuid.UUID) ([]*models.Media, error) {
	rows, err := q.Query(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE car_id = $1 ORDER BY created_at ASC`, carID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var items []*models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.CarID, &m.Type, &m.PhotoType, &m.FileName, &m.StorageKey,
			&m.StorageURL, &m.ContentType, &m.SizeBytes, &m.IsUploaded, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, car_id, user_id, status, attempt_count, progress_message, error_reason, input_payload,
	result_payload, report_status, report_id, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.CarID, &j.UserID, &j.Status, &j.AttemptCount, &j.ProgressMessage,
		&j.ErrorReason, &j.InputPayload, &j.ResultPayload, &j.ReportStatus, &j.ReportID,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, car_id, user_id, status, attempt_count, progress_message, input_payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.CarID, job.UserID, job.Status, job.AttemptCount, job.ProgressMessage,
		job.InputPayload, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrActiveJobExists
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobsByCar(ctx context.Context, carID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE car_id = $1 ORDER BY created_at DESC`, carID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	u := ResolveJobUpdate(opts...)

	now := time.Now().UTC()
	sets := []string{"status = $2", "updated_at = $3"}
	args := []any{id, status, now}
	argIdx := 4

	if u.ProgressMessage != nil {
		sets = append(sets, fmt.Sprintf("progress_message = $%d", argIdx))
		args = append(args, *u.ProgressMessage)
		argIdx++
	}
	if u.ErrorReason != nil {
		sets = append(sets, fmt.Sprintf("error_reason = $%d", argIdx))
		args = append(args, *u.ErrorReason)
		argIdx++
	}
	if u.ClearErrorReason {
		sets = append(sets, "error_reason = NULL")
	}
	if u.Result != nil {
		sets = append(sets, fmt.Sprintf("result_payload = $%d", argIdx))
		args = append(args, u.Result)
		argIdx++
	}
	switch {
	case u.IncrementAttempt:
		sets = append(sets, "attempt_count = attempt_count + 1")
	case u.AttemptCount != nil:
		sets = append(sets, fmt.Sprintf("attempt_count = GREATEST(attempt_count, $%d)", argIdx))
		args = append(args, *u.AttemptCount)
		argIdx++
	}
	switch status {
	case models.JobStatusCompleted, models.JobStatusFailed:
		sets = append(sets, fmt.Sprintf("completed_at = $%d", argIdx))
		args = append(args, now)
		argIdx++
	case models.JobStatusPending:
		sets = append(sets, "completed_at = NULL")
	}

	// The status guard makes the transition check and the write one statement.
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1 AND status = ANY($%d) RETURNING %s`,
		strings.Join(sets, ", "), argIdx, jobColumns)
	args = append(args, jobSourceStatuses(status))

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return j, nil
	}
	if isDuplicateKeyError(err) {
		return nil, ErrActiveJobExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update job: %w", err)
	}

	var current models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, InvalidJobTransition(current, status)
}

func (s *PostgresStore) SetJobReport(ctx context.Context, id uuid.UUID, reportStatus string, reportID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET report_status = $2, report_id = COALESCE($3, report_id), updated_at = NOW() WHERE id = $1`,
		id, reportStatus, reportID)
	if err != nil {
		return fmt.Errorf("set job report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Reports ---

const reportColumns = `id, user_id, car_id, job_id, make, model, year, car_details, media, ai_analysis,
	exterior_score, engine_score, trust_score, verdict, status, created_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.UserID, &r.CarID, &r.JobID, &r.Make, &r.Model, &r.Year, &r.CarDetails,
		&r.Media, &r.AIAnalysis, &r.ExteriorScore, &r.EngineScore, &r.TrustScore, &r.Verdict,
		&r.Status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, r *models.Report) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.UserID, r.CarID, r.JobID, r.Make, r.Model, r.Year, r.CarDetails, r.Media, r.AIAnalysis,
		r.ExteriorScore, r.EngineScore, r.TrustScore, r.Verdict, r.Status, r.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReportByJob(ctx context.Context, jobID uuid.UUID) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report by job: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetLatestReportByCar(ctx context.Context, carID uuid.UUID) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE car_id = $1 ORDER BY created_at DESC LIMIT 1`, carID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report by car: %w", err)
	}
	return r, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
