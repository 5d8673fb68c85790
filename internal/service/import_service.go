package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/csvfile"
	"github.com/crm-bulk-import/internal/mapping"
	"github.com/crm-bulk-import/internal/metrics"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/validation"
	"github.com/crm-bulk-import/internal/writer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// importService is the concrete implementation of ImportService
type importService struct {
	repos      *repository.Repositories
	writer     *writer.Writer
	jobService JobService
	cfg        config.ImportConfig
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// newImportService creates a new ImportService
func newImportService(repos *repository.Repositories, jobService JobService, cfg config.ImportConfig, m *metrics.Metrics, log zerolog.Logger) *importService {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100
	}
	return &importService{
		repos:      repos,
		writer:     writer.New(repos.Entity),
		jobService: jobService,
		cfg:        cfg,
		metrics:    m,
		log:        log.With().Str("service", "import").Logger(),
	}
}

// CreateImportJob counts the rows of the stored upload and records a pending job.
// A file that cannot be read or has no header yields a job that is already failed.
func (s *importService) CreateImportJob(ctx context.Context, req *models.CreateImportRequest) (*models.ImportJob, error) {
	sch, err := schema.For(req.EntityType)
	if err != nil {
		return nil, err
	}

	// An unreadable or empty file still gets a job record, failed right away
	_, total, countErr := csvfile.CountRows(req.FilePath)

	job := &models.ImportJob{
		ID:            uuid.New().String(),
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		EntityType:    sch.Type,
		Filename:      req.Filename,
		FilePath:      req.FilePath,
		FileSize:      req.FileSize,
		TotalRows:     total,
		Status:        models.JobStatusPending,
		ImportOptions: req.Options,
		CreatedAt:     time.Now(),
	}
	job.UpdatedAt = job.CreatedAt

	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, err
	}

	if countErr != nil {
		log := s.log.With().Str("job_id", job.ID).Str("tenant_id", job.TenantID).Logger()
		// fail hands back countErr itself once the failure is recorded
		if err := s.fail(ctx, job, countErr, models.Progress{}, log); err != countErr {
			return nil, err
		}
		return s.repos.Job.GetByID(ctx, job.ID)
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("entity_type", string(job.EntityType)).
		Int("total_rows", total).
		Msg("Import job created")

	return job, nil
}

// PreviewImport shows the headers, the auto-suggested mapping, a few sample rows
// and how many records of the type the tenant already holds
func (s *importService) PreviewImport(ctx context.Context, actor models.Actor, id string) (*models.ImportPreview, error) {
	job, err := s.GetJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	sch, err := schema.For(job.EntityType)
	if err != nil {
		return nil, err
	}

	limit := s.cfg.PreviewRows
	if limit <= 0 {
		limit = 5
	}

	var headers []string
	samples := make([]map[string]string, 0, limit)
	err = csvfile.Each(job.FilePath, func(h []string, row csvfile.Row) error {
		headers = h
		if row.Err != nil {
			return nil
		}
		sample := make(map[string]string, len(h))
		for i, name := range h {
			sample[name] = row.Values[i]
		}
		samples = append(samples, sample)
		if len(samples) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if headers == nil {
		// header-only file
		if headers, err = readHeaders(job.FilePath); err != nil {
			return nil, err
		}
	}

	existing, err := s.repos.Entity.Count(ctx, sch.Type, job.TenantID)
	if err != nil {
		return nil, err
	}

	suggested, mappingErrs := mapping.Resolve(headers, sch, nil)
	if job.HasMapping() {
		suggested = job.FieldMapping
		mappingErrs = nil
	}

	return &models.ImportPreview{
		JobID:           job.ID,
		EntityType:      job.EntityType,
		Headers:         headers,
		SuggestedMap:    suggested,
		MappingErrors:   mappingErrs,
		RequiredFields:  sch.Required,
		OptionalFields:  sch.Optional,
		SampleRows:      samples,
		TotalRows:       job.TotalRows,
		ExistingRecords: existing,
	}, nil
}

// AttachMapping resolves explicit (or, when nil, an automatic mapping) against
// the file headers and stores it on a pending job
func (s *importService) AttachMapping(ctx context.Context, actor models.Actor, id string, explicit map[string]string) (*models.ImportJob, error) {
	job, err := s.GetJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return nil, fmt.Errorf("%w: cannot change mapping of a %s job", ErrInvalidTransition, job.Status)
	}
	sch, err := schema.For(job.EntityType)
	if err != nil {
		return nil, err
	}

	headers, err := readHeaders(job.FilePath)
	if err != nil {
		return nil, err
	}

	resolved, messages := mapping.Resolve(headers, sch, explicit)
	if err := mapping.Err(messages); err != nil {
		return nil, err
	}

	ok, err := s.repos.Job.AttachMapping(ctx, job.ID, resolved)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job is no longer pending", ErrInvalidTransition)
	}

	s.log.Info().Str("job_id", job.ID).Int("mapped_fields", len(resolved)).Msg("Field mapping attached")

	return s.repos.Job.GetByID(ctx, job.ID)
}

// StartImport queues a pending job that already carries a mapping
func (s *importService) StartImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	job, err := s.GetJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusPending {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}
	if !job.HasMapping() {
		return nil, ErrMappingRequired
	}
	if err := s.jobService.Enqueue(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// ProcessImport runs the batch loop of a pending job to completion,
// cancellation or job-level failure
func (s *importService) ProcessImport(ctx context.Context, jobID string) error {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, job.ID, job.Status)
	}

	log := s.log.With().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("entity_type", string(job.EntityType)).
		Logger()

	if !job.HasMapping() {
		return s.fail(ctx, job, ErrMappingRequired, models.Progress{}, log)
	}
	sch, err := schema.For(job.EntityType)
	if err != nil {
		return s.fail(ctx, job, err, models.Progress{}, log)
	}

	startTime := time.Now()
	started, err := s.repos.Job.MarkProcessing(ctx, job.ID, startTime)
	if err != nil {
		return err
	}
	if !started {
		// cancelled (or picked up elsewhere) between the read and the update
		log.Info().Msg("Job left pending before processing started")
		return nil
	}

	log.Info().Int("total_rows", job.TotalRows).Msg("Starting import processing")

	reader, err := csvfile.Open(job.FilePath)
	if err != nil {
		return s.fail(ctx, job, err, models.Progress{}, log)
	}
	defer reader.Close()

	headers := reader.Headers()
	if _, messages := mapping.Resolve(headers, sch, job.FieldMapping); len(messages) > 0 {
		return s.fail(ctx, job, mapping.Err(messages), models.Progress{}, log)
	}
	projector := mapping.NewProjector(headers, job.FieldMapping)

	var (
		processed, failed, skipped int
		pending                    = models.RowErrors{}
		sinceFlush                 int
		cancelled                  bool
	)
	progress := func() models.Progress {
		return models.Progress{ProcessedRows: processed, FailedRows: failed, Errors: pending}
	}
	flush := func() {
		if err := s.repos.Job.UpdateProgress(ctx, job.ID, progress()); err != nil {
			log.Error().Err(err).Msg("Failed to persist progress")
			return
		}
		pending = models.RowErrors{}
		sinceFlush = 0
	}

	for {
		if ctx.Err() != nil {
			// worker shutdown: the loop cannot finish, so the job fails with what it has
			return s.fail(context.WithoutCancel(ctx), job, fmt.Errorf("import interrupted: %w", ctx.Err()), progress(), log)
		}

		status, err := s.repos.Job.GetStatus(ctx, job.ID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to check job status")
		} else if status == models.JobStatusCancelled {
			cancelled = true
			break
		}

		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.fail(ctx, job, err, progress(), log)
		}
		// Rows past the count taken at upload cannot be accounted for.
		if processed+failed+skipped >= job.TotalRows {
			log.Warn().Int("row", row.Number).Msg("File has more rows than counted at upload; stopping")
			break
		}

		outcome, messages := s.processRow(ctx, sch, projector, job, row)
		if outcome == writer.Failed && ctx.Err() != nil {
			// the write was cut short by shutdown, not rejected; the row is left uncounted
			return s.fail(context.WithoutCancel(ctx), job, fmt.Errorf("import interrupted: %w", ctx.Err()), progress(), log)
		}
		switch outcome {
		case writer.Inserted, writer.Updated:
			processed++
		case writer.Skipped:
			skipped++
		default:
			failed++
			pending.Add(row.Number, messages...)
		}
		s.metrics.RecordRow(string(sch.Type), string(outcome))

		sinceFlush++
		if sinceFlush >= s.cfg.ProgressInterval {
			flush()
		}
	}

	completedAt := time.Now()
	duration := completedAt.Sub(startTime)

	if cancelled {
		flush()
		s.metrics.RecordJob(string(sch.Type), string(models.JobStatusCancelled), duration)
		s.cleanup(job, log)
		log.Info().
			Int("processed", processed).
			Int("failed", failed).
			Int("skipped", skipped).
			Msg("Import cancelled")
		return nil
	}

	finished, err := s.repos.Job.Finish(ctx, job.ID, progress(), completedAt)
	if err != nil {
		return err
	}
	if !finished {
		// cancelled after the last row was read; keep the counters accurate
		flush()
		s.metrics.RecordJob(string(sch.Type), string(models.JobStatusCancelled), duration)
		s.cleanup(job, log)
		log.Info().Msg("Import cancelled after the final row")
		return nil
	}

	s.metrics.RecordJob(string(sch.Type), string(models.JobStatusCompleted), duration)
	s.cleanup(job, log)

	var rowsPerSec float64
	if duration.Seconds() > 0 {
		rowsPerSec = float64(processed+failed+skipped) / duration.Seconds()
	}
	log.Info().
		Int("total", job.TotalRows).
		Int("processed", processed).
		Int("failed", failed).
		Int("skipped", skipped).
		Int64("duration_ms", duration.Milliseconds()).
		Float64("rows_per_sec", rowsPerSec).
		Msg("Import completed")

	return nil
}

// processRow validates and writes one row. It returns the writer result and,
// for failures, the messages to record against the row.
func (s *importService) processRow(ctx context.Context, sch schema.Schema, projector *mapping.Projector, job *models.ImportJob, row csvfile.Row) (writer.Result, []string) {
	if row.Err != nil {
		return writer.Failed, []string{fmt.Sprintf("malformed row: %v", row.Err)}
	}

	normalized, fieldErrs := validation.ValidateRow(sch, projector.Project(row), row.Number)
	if len(fieldErrs) > 0 {
		return writer.Failed, validation.Messages(fieldErrs)
	}

	outcome := s.writer.Write(ctx, sch, normalized, job.TenantID, job.ImportOptions)
	if outcome.Result == writer.Failed {
		s.log.Warn().Err(outcome.Err).Str("job_id", job.ID).Int("row", row.Number).Msg("Row write failed")
		return writer.Failed, []string{outcome.Err.Error()}
	}
	return outcome.Result, nil
}

func (s *importService) fail(ctx context.Context, job *models.ImportJob, cause error, progress models.Progress, log zerolog.Logger) error {
	ok, err := s.repos.Job.Fail(ctx, job.ID, cause.Error(), progress, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark job failed")
		return errors.Join(cause, err)
	}
	if ok {
		s.metrics.RecordJob(string(job.EntityType), string(models.JobStatusFailed), 0)
		s.cleanup(job, log)
	}
	log.Error().Err(cause).Msg("Import failed")
	return cause
}

// CancelImport cancels a pending or processing job. A processing job stops at
// the next row boundary.
func (s *importService) CancelImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	job, err := s.GetJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Cancellable() {
		return nil, fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidTransition, job.Status)
	}

	ok, err := s.repos.Job.Cancel(ctx, job.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job finished before it could be cancelled", ErrInvalidTransition)
	}

	s.log.Info().Str("job_id", job.ID).Str("previous_status", string(job.Status)).Msg("Import cancelled by user")
	if job.Status == models.JobStatusPending {
		s.metrics.RecordJob(string(job.EntityType), string(models.JobStatusCancelled), 0)
		s.cleanup(job, s.log)
	}

	return s.repos.Job.GetByID(ctx, job.ID)
}

// DeleteImport soft-deletes a job that is not processing. Written entities are kept.
func (s *importService) DeleteImport(ctx context.Context, actor models.Actor, id string) error {
	job, err := s.GetJob(ctx, actor, id)
	if err != nil {
		return err
	}
	if job.UserID != actor.UserID && !actor.IsAdmin {
		return ErrForbidden
	}
	if job.Status == models.JobStatusProcessing {
		return fmt.Errorf("%w: cancel the job before deleting it", ErrInvalidTransition)
	}

	ok, err := s.repos.Job.SoftDelete(ctx, job.ID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job started processing", ErrInvalidTransition)
	}

	s.log.Info().Str("job_id", job.ID).Str("user_id", actor.UserID).Msg("Import job deleted")
	return nil
}

// GetJob returns a job visible to the actor's tenant
func (s *importService) GetJob(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	job, err := s.repos.Job.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Other tenants' jobs are reported as missing.
	if job == nil || job.TenantID != actor.TenantID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns a tenant's jobs, newest first
func (s *importService) ListJobs(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	jobs, err := s.repos.Job.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}
	return jobs, nil
}

func (s *importService) cleanup(job *models.ImportJob, log zerolog.Logger) {
	if !s.cfg.DeleteFileOnFinish || job.FilePath == "" {
		return
	}
	if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", job.FilePath).Msg("Failed to remove import file")
	}
}

func readHeaders(path string) ([]string, error) {
	r, err := csvfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Headers(), nil
}
