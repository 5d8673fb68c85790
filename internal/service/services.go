package service

import (
	"context"
	"errors"
	"io"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/metrics"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/rs/zerolog"
)

var (
	ErrMappingRequired   = errors.New("a resolved field mapping is required before processing")
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("operation not allowed in the job's current status")
	ErrForbidden         = errors.New("only the job owner or an administrator may do this")
	ErrQueueFull         = errors.New("import queue is full")
	ErrUnknownField      = errors.New("unknown export field")
)

// ImportService defines the interface for import operations
type ImportService interface {
	CreateImportJob(ctx context.Context, req *models.CreateImportRequest) (*models.ImportJob, error)
	PreviewImport(ctx context.Context, actor models.Actor, id string) (*models.ImportPreview, error)
	AttachMapping(ctx context.Context, actor models.Actor, id string, explicit map[string]string) (*models.ImportJob, error)
	StartImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	ProcessImport(ctx context.Context, jobID string) error
	CancelImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	DeleteImport(ctx context.Context, actor models.Actor, id string) error
	GetJob(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	ListJobs(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error)
}

// ExportService defines the interface for export operations
type ExportService interface {
	Columns(entityType schema.EntityType, fields []string) ([]string, error)
	BuildExport(ctx context.Context, req *models.ExportRequest, w io.Writer) (int, error)
	Template(entityType schema.EntityType, w io.Writer) error
}

// JobService runs queued imports on a bounded worker pool
type JobService interface {
	StartProcessor(ctx context.Context)
	StopProcessor()
	Enqueue(jobID string) error
	SetImportService(importService ImportService)
}

// Services holds all service interfaces
type Services struct {
	Import ImportService
	Export ExportService
	Job    JobService
}

// NewServices creates all services
func NewServices(repos *repository.Repositories, cfg *config.Config, m *metrics.Metrics, log zerolog.Logger) *Services {
	jobSvc := newJobService(repos.Job, cfg.Import, m, log)
	importSvc := newImportService(repos, jobSvc, cfg.Import, m, log)
	exportSvc := newExportService(repos.Entity, m, log)

	// Wire up job processor to import service
	jobSvc.SetImportService(importSvc)

	return &Services{
		Import: importSvc,
		Export: exportSvc,
		Job:    jobSvc,
	}
}
