package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/google/uuid"
)

// Verify interface compliance
var (
	_ repository.JobRepository    = (*MockJobRepository)(nil)
	_ repository.EntityRepository = (*MockEntityStore)(nil)
)

// MockJobRepository is an in-memory JobRepository with the same status guards
// as the Postgres implementation
type MockJobRepository struct {
	mu   sync.Mutex
	Jobs map[string]*models.ImportJob

	// ProgressUpdates counts UpdateProgress calls
	ProgressUpdates int
	// GetStatusFunc, when set, replaces the stored status lookup
	GetStatusFunc func(ctx context.Context, id string) (models.JobStatus, error)
	CreateError   error
}

func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{Jobs: make(map[string]*models.ImportJob)}
}

func (m *MockJobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	stored := *job
	stored.ValidationErrors = models.RowErrors{}
	stored.UpdatedAt = job.CreatedAt
	m.Jobs[job.ID] = &stored
	return nil
}

// Get returns a copy of the stored job regardless of deletion
func (m *MockJobRepository) Get(id string) *models.ImportJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return nil
	}
	return copyJob(job)
}

func (m *MockJobRepository) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok || job.DeletedAt != nil {
		return nil, nil
	}
	return copyJob(job), nil
}

func (m *MockJobRepository) List(ctx context.Context, tenantID string, filter models.JobFilter) ([]*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*models.ImportJob
	for _, job := range m.Jobs {
		if job.TenantID != tenantID || job.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && job.EntityType != filter.EntityType {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	if filter.Offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (m *MockJobRepository) GetStatus(ctx context.Context, id string) (models.JobStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return "", fmt.Errorf("job %s not found", id)
	}
	return job.Status, nil
}

func (m *MockJobRepository) AttachMapping(ctx context.Context, id string, mapping map[string]string) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if j.Status != models.JobStatusPending || j.DeletedAt != nil {
			return false
		}
		j.FieldMapping = make(map[string]string, len(mapping))
		for k, v := range mapping {
			j.FieldMapping[k] = v
		}
		return true
	})
}

func (m *MockJobRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if j.Status != models.JobStatusPending || j.DeletedAt != nil {
			return false
		}
		j.Status = models.JobStatusProcessing
		j.StartedAt = &startedAt
		return true
	})
}

func (m *MockJobRepository) UpdateProgress(ctx context.Context, id string, progress models.Progress) error {
	m.mu.Lock()
	m.ProgressUpdates++
	m.mu.Unlock()

	_, err := m.guarded(id, func(j *models.ImportJob) bool {
		applyProgress(j, progress)
		return true
	})
	return err
}

func (m *MockJobRepository) Finish(ctx context.Context, id string, progress models.Progress, completedAt time.Time) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if j.Status != models.JobStatusProcessing {
			return false
		}
		applyProgress(j, progress)
		j.Status = models.JobStatusCompleted
		j.CompletedAt = &completedAt
		return true
	})
}

func (m *MockJobRepository) Fail(ctx context.Context, id, message string, progress models.Progress, completedAt time.Time) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if !j.Status.Cancellable() {
			return false
		}
		applyProgress(j, progress)
		j.Status = models.JobStatusFailed
		j.ErrorMessage = message
		j.CompletedAt = &completedAt
		return true
	})
}

func (m *MockJobRepository) Cancel(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if !j.Status.Cancellable() || j.DeletedAt != nil {
			return false
		}
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &completedAt
		return true
	})
}

func (m *MockJobRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	return m.guarded(id, func(j *models.ImportJob) bool {
		if j.Status == models.JobStatusProcessing || j.DeletedAt != nil {
			return false
		}
		j.DeletedAt = &deletedAt
		return true
	})
}

func (m *MockJobRepository) guarded(id string, apply func(*models.ImportJob) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return false, nil
	}
	if !apply(job) {
		return false, nil
	}
	job.UpdatedAt = time.Now()
	return true, nil
}

func applyProgress(j *models.ImportJob, p models.Progress) {
	j.ProcessedRows = p.ProcessedRows
	j.FailedRows = p.FailedRows
	if j.ValidationErrors == nil {
		j.ValidationErrors = models.RowErrors{}
	}
	for row, msgs := range p.Errors {
		j.ValidationErrors[row] = append([]string(nil), msgs...)
	}
}

func copyJob(j *models.ImportJob) *models.ImportJob {
	out := *j
	if j.FieldMapping != nil {
		out.FieldMapping = make(map[string]string, len(j.FieldMapping))
		for k, v := range j.FieldMapping {
			out.FieldMapping[k] = v
		}
	}
	out.ValidationErrors = make(models.RowErrors, len(j.ValidationErrors))
	for k, v := range j.ValidationErrors {
		out.ValidationErrors[k] = append([]string(nil), v...)
	}
	return &out
}

// MockEntityStore is an in-memory EntityRepository
type MockEntityStore struct {
	mu       sync.Mutex
	entities []*models.Entity

	// BeforeInsert runs before every insert with the 1-based insert attempt
	// number. A non-nil error fails that insert.
	BeforeInsert func(attempt int, rec models.Record) error
	InsertCalls  int
	UpdateCalls  int
	FindError    error
	StreamError  error
}

func NewMockEntityStore() *MockEntityStore {
	return &MockEntityStore{}
}

// Seed stores an entity directly, filling id and timestamps when unset
func (m *MockEntityStore) Seed(e *models.Entity) *models.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Fields == nil {
		e.Fields = models.Record{}
	}
	m.entities = append(m.entities, e)
	return e
}

// All returns copies of the stored entities of one type for a tenant
func (m *MockEntityStore) All(entityType schema.EntityType, tenantID string) []*models.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Entity
	for _, e := range m.entities {
		if e.EntityType == entityType && e.TenantID == tenantID {
			c := *e
			c.Fields = e.Fields.Clone()
			out = append(out, &c)
		}
	}
	return out
}

func (m *MockEntityStore) FindByKey(ctx context.Context, entityType schema.EntityType, tenantID, keyField, key string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindError != nil {
		return nil, m.FindError
	}
	for _, e := range m.entities {
		if e.EntityType == entityType && e.TenantID == tenantID && strings.EqualFold(e.Fields[keyField], key) {
			c := *e
			c.Fields = e.Fields.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockEntityStore) Insert(ctx context.Context, entityType schema.EntityType, tenantID string, rec models.Record) (string, error) {
	m.mu.Lock()
	m.InsertCalls++
	attempt := m.InsertCalls
	hook := m.BeforeInsert
	m.mu.Unlock()

	if hook != nil {
		if err := hook(attempt, rec); err != nil {
			return "", err
		}
	}

	now := time.Now()
	e := m.Seed(&models.Entity{
		TenantID:   tenantID,
		EntityType: entityType,
		Fields:     rec.Clone(),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return e.ID, nil
}

func (m *MockEntityStore) Update(ctx context.Context, entityType schema.EntityType, id string, rec models.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	for _, e := range m.entities {
		if e.ID == id && e.EntityType == entityType {
			for k, v := range rec {
				e.Fields[k] = v
			}
			e.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MockEntityStore) Stream(ctx context.Context, entityType schema.EntityType, tenantID string, filters models.ExportFilters, callback func(*models.Entity) error) error {
	if m.StreamError != nil {
		return m.StreamError
	}
	s, err := schema.For(entityType)
	if err != nil {
		return err
	}

	for _, e := range m.All(entityType, tenantID) {
		if !matches(s, e, filters) {
			continue
		}
		if err := callback(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockEntityStore) Count(ctx context.Context, entityType schema.EntityType, tenantID string) (int, error) {
	return len(m.All(entityType, tenantID)), nil
}

func matches(s schema.Schema, e *models.Entity, f models.ExportFilters) bool {
	if f.ActiveOnly && !e.IsActive {
		return false
	}
	if f.CreatedAfter != nil && e.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !e.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		for _, field := range s.Searchable {
			if strings.Contains(strings.ToLower(e.Fields[field]), search) {
				return true
			}
		}
		return false
	}
	return true
}
