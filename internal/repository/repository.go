package repository

import (
	"context"
	"time"

	"github.com/crm-bulk-import/internal/database"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/writer"
)

// JobRepository defines the persistence operations of import jobs.
// Status-changing methods are guarded on the current status and report
// whether a row was changed.
type JobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, id string) (*models.ImportJob, error)
	List(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error)
	GetStatus(ctx context.Context, id string) (models.JobStatus, error)
	AttachMapping(ctx context.Context, id string, mapping map[string]string) (bool, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress models.Progress) error
	Finish(ctx context.Context, id string, progress models.Progress, completedAt time.Time) (bool, error)
	Fail(ctx context.Context, id, message string, progress models.Progress, completedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error)
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error)
}

// EntityRepository stores clients, contacts and notes, scoped by tenant
type EntityRepository interface {
	writer.Store
	Stream(ctx context.Context, entityType schema.EntityType, tenantID string, filters models.ExportFilters, callback func(*models.Entity) error) error
	Count(ctx context.Context, entityType schema.EntityType, tenantID string) (int, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	Job    JobRepository
	Entity EntityRepository
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	return &Repositories{
		Job:    NewJobRepo(db),
		Entity: NewEntityRepo(db),
	}
}
