package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crm-bulk-import/internal/database"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
)

const jobColumns = `id, tenant_id, user_id, entity_type, filename, file_path, file_size,
	total_rows, processed_rows, failed_rows, status, field_mapping, validation_errors,
	import_options, error_message, started_at, completed_at, created_at, updated_at`

const defaultListLimit = 50

// jobRepo is the concrete implementation of JobRepository
type jobRepo struct {
	db *database.DB
}

// NewJobRepo creates a new job repository
func NewJobRepo(db *database.DB) JobRepository {
	return &jobRepo{db: db}
}

// Create inserts a new job
func (r *jobRepo) Create(ctx context.Context, job *models.ImportJob) error {
	options, err := json.Marshal(job.ImportOptions)
	if err != nil {
		return fmt.Errorf("encode import options: %w", err)
	}
	mapping, err := encodeMapping(job.FieldMapping)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO import_jobs (id, tenant_id, user_id, entity_type, filename, file_path, file_size,
			total_rows, processed_rows, failed_rows, status, field_mapping, validation_errors,
			import_options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '{}'::jsonb, $13, $14, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.TenantID, job.UserID, string(job.EntityType), job.Filename, job.FilePath, job.FileSize,
		job.TotalRows, job.ProcessedRows, job.FailedRows, string(job.Status), mapping,
		string(options), job.CreatedAt,
	)
	return err
}

// GetByID retrieves a job by ID; soft-deleted jobs are not returned
func (r *jobRepo) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1 AND deleted_at IS NULL`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns a tenant's jobs, newest first
func (r *jobRepo) List(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	where := []string{"tenant_id = $1", "deleted_at IS NULL"}
	args := []interface{}{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, string(filter.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM import_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetStatus returns only the status column; used by the batch loop to poll for cancellation
func (r *jobRepo) GetStatus(ctx context.Context, id string) (models.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM import_jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", err
	}
	return models.JobStatus(status), nil
}

// AttachMapping stores the resolved mapping while the job is still pending
func (r *jobRepo) AttachMapping(ctx context.Context, id string, mapping map[string]string) (bool, error) {
	encoded, err := encodeMapping(mapping)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE import_jobs SET field_mapping = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending' AND deleted_at IS NULL
	`
	return r.execGuarded(ctx, query, encoded, time.Now(), id)
}

// MarkProcessing atomically moves a pending job to processing
func (r *jobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE import_jobs SET status = 'processing', started_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'pending' AND deleted_at IS NULL
	`
	return r.execGuarded(ctx, query, startedAt, id)
}

// UpdateProgress writes counters and merges the new row errors into validation_errors
func (r *jobRepo) UpdateProgress(ctx context.Context, id string, progress models.Progress) error {
	delta, err := encodeErrors(progress.Errors)
	if err != nil {
		return err
	}
	query := `
		UPDATE import_jobs SET processed_rows = $1, failed_rows = $2,
			validation_errors = COALESCE(validation_errors, '{}'::jsonb) || $3::jsonb, updated_at = $4
		WHERE id = $5
	`
	_, err = r.db.ExecContext(ctx, query, progress.ProcessedRows, progress.FailedRows, delta, time.Now(), id)
	return err
}

// Finish marks a processing job completed with its final counters
func (r *jobRepo) Finish(ctx context.Context, id string, progress models.Progress, completedAt time.Time) (bool, error) {
	delta, err := encodeErrors(progress.Errors)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE import_jobs SET status = 'completed', processed_rows = $1, failed_rows = $2,
			validation_errors = COALESCE(validation_errors, '{}'::jsonb) || $3::jsonb,
			completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = 'processing'
	`
	return r.execGuarded(ctx, query, progress.ProcessedRows, progress.FailedRows, delta, completedAt, id)
}

// Fail marks a pending or processing job failed with a top-level message
func (r *jobRepo) Fail(ctx context.Context, id, message string, progress models.Progress, completedAt time.Time) (bool, error) {
	delta, err := encodeErrors(progress.Errors)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE import_jobs SET status = 'failed', error_message = $1, processed_rows = $2, failed_rows = $3,
			validation_errors = COALESCE(validation_errors, '{}'::jsonb) || $4::jsonb,
			completed_at = $5, updated_at = $5
		WHERE id = $6 AND status IN ('pending', 'processing')
	`
	return r.execGuarded(ctx, query, message, progress.ProcessedRows, progress.FailedRows, delta, completedAt, id)
}

// Cancel marks a pending or processing job cancelled
func (r *jobRepo) Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	query := `
		UPDATE import_jobs SET status = 'cancelled', completed_at = $1, updated_at = $1
		WHERE id = $2 AND status IN ('pending', 'processing') AND deleted_at IS NULL
	`
	return r.execGuarded(ctx, query, completedAt, id)
}

// SoftDelete hides a job that is not currently processing
func (r *jobRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	query := `
		UPDATE import_jobs SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND status <> 'processing' AND deleted_at IS NULL
	`
	return r.execGuarded(ctx, query, deletedAt, id)
}

func (r *jobRepo) execGuarded(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.ImportJob, error) {
	var job models.ImportJob
	var entityType, status string
	var mapping, errs, options []byte
	var errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.TenantID, &job.UserID, &entityType, &job.Filename, &job.FilePath, &job.FileSize,
		&job.TotalRows, &job.ProcessedRows, &job.FailedRows, &status, &mapping, &errs,
		&options, &errorMessage, &startedAt, &completedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.EntityType = schema.EntityType(entityType)
	job.Status = models.JobStatus(status)
	job.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &job.FieldMapping); err != nil {
			return nil, fmt.Errorf("decode field_mapping: %w", err)
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &job.ValidationErrors); err != nil {
			return nil, fmt.Errorf("decode validation_errors: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.ImportOptions); err != nil {
			return nil, fmt.Errorf("decode import_options: %w", err)
		}
	}

	return &job, nil
}

func encodeMapping(mapping map[string]string) (sql.NullString, error) {
	if len(mapping) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode field_mapping: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeErrors(errs models.RowErrors) (string, error) {
	if len(errs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode validation_errors: %w", err)
	}
	return string(data), nil
}
