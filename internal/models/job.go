package models

import (
	"time"

	"github.com/crm-bulk-import/internal/schema"
)

// JobStatus represents the status of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Cancellable reports whether a job in this status may be cancelled
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// ImportOptions controls how rows matching an existing record are handled
type ImportOptions struct {
	SkipDuplicates bool `json:"skip_duplicates"`
	UpdateExisting bool `json:"update_existing"`
}

// RowErrors maps a 1-based row number to its error messages
type RowErrors map[int][]string

// Add appends messages for a row
func (e RowErrors) Add(row int, messages ...string) {
	e[row] = append(e[row], messages...)
}

// ImportJob represents one bulk-import attempt
type ImportJob struct {
	ID               string            `json:"id" db:"id"`
	TenantID         string            `json:"tenant_id" db:"tenant_id"`
	UserID           string            `json:"user_id" db:"user_id"`
	EntityType       schema.EntityType `json:"entity_type" db:"entity_type"`
	Filename         string            `json:"filename" db:"filename"`
	FilePath         string            `json:"-" db:"file_path"`
	FileSize         int64             `json:"file_size" db:"file_size"`
	TotalRows        int               `json:"total_rows" db:"total_rows"`
	ProcessedRows    int               `json:"processed_rows" db:"processed_rows"`
	FailedRows       int               `json:"failed_rows" db:"failed_rows"`
	Status           JobStatus         `json:"status" db:"status"`
	FieldMapping     map[string]string `json:"field_mapping,omitempty" db:"field_mapping"`
	ValidationErrors RowErrors         `json:"validation_errors,omitempty" db:"validation_errors"`
	ImportOptions    ImportOptions     `json:"import_options" db:"import_options"`
	ErrorMessage     string            `json:"error_message,omitempty" db:"error_message"`
	StartedAt        *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time        `json:"-" db:"deleted_at"`
}

// HasMapping reports whether a resolved mapping is attached
func (j *ImportJob) HasMapping() bool {
	return len(j.FieldMapping) > 0
}

// Progress is a snapshot of the batch loop counters. Errors holds only the
// rows recorded since the previous flush.
type Progress struct {
	ProcessedRows int
	FailedRows    int
	Errors        RowErrors
}

// JobFilter narrows ListJobs
type JobFilter struct {
	Status     JobStatus
	EntityType schema.EntityType
	UserID     string
	Limit      int
	Offset     int
}

// Actor is the already-authenticated caller of a job operation
type Actor struct {
	TenantID string
	UserID   string
	IsAdmin  bool
}

// CreateImportRequest carries the upload metadata for a new job
type CreateImportRequest struct {
	TenantID   string
	UserID     string
	EntityType schema.EntityType
	Filename   string
	FilePath   string
	FileSize   int64
	Options    ImportOptions
}

// ImportPreview is what the review step shows before a mapping is confirmed
type ImportPreview struct {
	JobID           string              `json:"job_id"`
	EntityType      schema.EntityType   `json:"entity_type"`
	Headers         []string            `json:"headers"`
	SuggestedMap    map[string]string   `json:"suggested_mapping"`
	MappingErrors   []string            `json:"mapping_errors,omitempty"`
	RequiredFields  []string            `json:"required_fields"`
	OptionalFields  []string            `json:"optional_fields"`
	SampleRows      []map[string]string `json:"sample_rows"`
	TotalRows       int                 `json:"total_rows"`
	ExistingRecords int                 `json:"existing_records"` // live records of this type the tenant already holds
}
