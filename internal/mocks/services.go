package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
)

// MockImportService is a mock implementation of ImportService. Every method
// delegates to its Func field when set.
type MockImportService struct {
	mu sync.Mutex

	CreateJobFunc     func(ctx context.Context, req *models.CreateImportRequest) (*models.ImportJob, error)
	PreviewFunc       func(ctx context.Context, actor models.Actor, id string) (*models.ImportPreview, error)
	AttachMappingFunc func(ctx context.Context, actor models.Actor, id string, explicit map[string]string) (*models.ImportJob, error)
	StartFunc         func(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	ProcessFunc       func(ctx context.Context, jobID string) error
	CancelFunc        func(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	DeleteFunc        func(ctx context.Context, actor models.Actor, id string) error
	GetJobFunc        func(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error)
	ListJobsFunc      func(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error)

	CreatedJobs   []*models.CreateImportRequest
	ProcessedJobs []string
}

// Verify interface compliance
var _ service.ImportService = (*MockImportService)(nil)

func NewMockImportService() *MockImportService {
	return &MockImportService{}
}

func (m *MockImportService) CreateImportJob(ctx context.Context, req *models.CreateImportRequest) (*models.ImportJob, error) {
	m.mu.Lock()
	m.CreatedJobs = append(m.CreatedJobs, req)
	m.mu.Unlock()

	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, req)
	}
	return &models.ImportJob{
		ID:            "test-job-id",
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		EntityType:    req.EntityType,
		Filename:      req.Filename,
		FilePath:      req.FilePath,
		FileSize:      req.FileSize,
		Status:        models.JobStatusPending,
		ImportOptions: req.Options,
	}, nil
}

func (m *MockImportService) PreviewImport(ctx context.Context, actor models.Actor, id string) (*models.ImportPreview, error) {
	if m.PreviewFunc != nil {
		return m.PreviewFunc(ctx, actor, id)
	}
	return &models.ImportPreview{JobID: id}, nil
}

func (m *MockImportService) AttachMapping(ctx context.Context, actor models.Actor, id string, explicit map[string]string) (*models.ImportJob, error) {
	if m.AttachMappingFunc != nil {
		return m.AttachMappingFunc(ctx, actor, id, explicit)
	}
	return &models.ImportJob{ID: id, TenantID: actor.TenantID, Status: models.JobStatusPending, FieldMapping: explicit}, nil
}

func (m *MockImportService) StartImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, actor, id)
	}
	return &models.ImportJob{ID: id, TenantID: actor.TenantID, Status: models.JobStatusPending}, nil
}

func (m *MockImportService) ProcessImport(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.ProcessedJobs = append(m.ProcessedJobs, jobID)
	m.mu.Unlock()

	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, jobID)
	}
	return nil
}

// Processed returns the job ids passed to ProcessImport so far
func (m *MockImportService) Processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ProcessedJobs...)
}

func (m *MockImportService) CancelImport(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, actor, id)
	}
	return &models.ImportJob{ID: id, TenantID: actor.TenantID, Status: models.JobStatusCancelled}, nil
}

func (m *MockImportService) DeleteImport(ctx context.Context, actor models.Actor, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, actor, id)
	}
	return nil
}

func (m *MockImportService) GetJob(ctx context.Context, actor models.Actor, id string) (*models.ImportJob, error) {
	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, actor, id)
	}
	return &models.ImportJob{ID: id, TenantID: actor.TenantID, Status: models.JobStatusCompleted}, nil
}

func (m *MockImportService) ListJobs(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	if m.ListJobsFunc != nil {
		return m.ListJobsFunc(ctx, tenantID, filter)
	}
	return []*models.ImportJob{}, nil
}

// MockExportService is a mock implementation of ExportService
type MockExportService struct {
	ColumnsFunc  func(entityType schema.EntityType, fields []string) ([]string, error)
	BuildFunc    func(ctx context.Context, req *models.ExportRequest, w io.Writer) (int, error)
	TemplateFunc func(entityType schema.EntityType, w io.Writer) error
	Requests     []*models.ExportRequest
}

// Verify interface compliance
var _ service.ExportService = (*MockExportService)(nil)

func NewMockExportService() *MockExportService {
	return &MockExportService{}
}

func (m *MockExportService) Columns(entityType schema.EntityType, fields []string) ([]string, error) {
	if m.ColumnsFunc != nil {
		return m.ColumnsFunc(entityType, fields)
	}
	return fields, nil
}

func (m *MockExportService) BuildExport(ctx context.Context, req *models.ExportRequest, w io.Writer) (int, error) {
	m.Requests = append(m.Requests, req)
	if m.BuildFunc != nil {
		return m.BuildFunc(ctx, req, w)
	}
	return 0, nil
}

func (m *MockExportService) Template(entityType schema.EntityType, w io.Writer) error {
	if m.TemplateFunc != nil {
		return m.TemplateFunc(entityType, w)
	}
	return nil
}

// MockJobService is a mock implementation of JobService
type MockJobService struct {
	mu         sync.Mutex
	Queued     []string
	EnqueueErr error
	Started    bool
	Stopped    bool
}

// Verify interface compliance
var _ service.JobService = (*MockJobService)(nil)

func NewMockJobService() *MockJobService {
	return &MockJobService{}
}

func (m *MockJobService) StartProcessor(ctx context.Context) {
	m.mu.Lock()
	m.Started = true
	m.mu.Unlock()
	<-ctx.Done()
}

func (m *MockJobService) StopProcessor() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stopped = true
}

func (m *MockJobService) Enqueue(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.Queued = append(m.Queued, jobID)
	return nil
}

func (m *MockJobService) SetImportService(importService service.ImportService) {}
