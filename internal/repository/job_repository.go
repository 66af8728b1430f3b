package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, tool, params_json, cost, hold_id, status, COALESCE(result_url, ''), COALESCE(error_code, ''), created_at, updated_at`

func scanJob(scan func(dest ...any) error) (*models.GenerationJob, error) {
	var j models.GenerationJob
	var cost string
	var holdID sql.NullInt64
	if err := scan(&j.ID, &j.UserID, &j.Tool, &j.ParamsJSON, &cost, &holdID, &j.Status, &j.ResultURL, &j.ErrorCode, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if j.Cost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("parse cost: %w", err)
	}
	if holdID.Valid {
		j.HoldID = &holdID.Int64
	}
	return &j, nil
}

func (r *JobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	const query = `
INSERT INTO generation_jobs (id, user_id, tool, params_json, cost, hold_id, status)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	var holdID sql.NullInt64
	if job.HoldID != nil {
		holdID = sql.NullInt64{Int64: *job.HoldID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, job.ID, job.UserID, job.Tool, job.ParamsJSON, job.Cost.StringFixed(2), holdID, job.Status); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) SetStatus(ctx context.Context, jobID string, status models.JobStatus, resultURL, errorCode string) error {
	const query = `
UPDATE generation_jobs SET status = ?, result_url = NULLIF(?, ''), error_code = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, resultURL, errorCode, jobID); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, jobID)
	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// GetByHoldID finds the job behind a credit hold; used to answer retried
// submissions that hit an existing idempotency key.
func (r *JobRepository) GetByHoldID(ctx context.Context, holdID int64) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE hold_id = ? ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, holdID)
	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListUnfinished returns jobs still queued or running; used by the startup
// reconciliation pass after an unclean shutdown.
func (r *JobRepository) ListUnfinished(ctx context.Context) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE status IN ('queued', 'running')`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) UpsertLastResult(ctx context.Context, userID int64, tool, resultURL string) error {
	const query = `
INSERT INTO last_results (user_id, tool, result_url)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE result_url = VALUES(result_url), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, tool, resultURL); err != nil {
		return fmt.Errorf("upsert last result: %w", err)
	}
	return nil
}

func (r *JobRepository) GetLastResult(ctx context.Context, userID int64, tool string) (*models.LastResult, error) {
	const query = `SELECT user_id, tool, result_url, updated_at FROM last_results WHERE user_id = ? AND tool = ?`
	row := r.db.QueryRowContext(ctx, query, userID, tool)
	var lr models.LastResult
	if err := row.Scan(&lr.UserID, &lr.Tool, &lr.ResultURL, &lr.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan last result: %w", err)
	}
	return &lr, nil
}
