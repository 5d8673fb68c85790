package models

import (
	"time"

	"github.com/crm-bulk-import/internal/schema"
)

// Record holds field values keyed by schema field name
type Record map[string]string

// Clone returns a shallow copy
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Entity is a stored client, contact or note
type Entity struct {
	ID         string            `json:"id" db:"id"`
	TenantID   string            `json:"tenant_id" db:"tenant_id"`
	EntityType schema.EntityType `json:"entity_type" db:"-"`
	Fields     Record            `json:"fields" db:"data"`
	IsActive   bool              `json:"is_active" db:"is_active"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// ExportFilters narrows an export
type ExportFilters struct {
	ActiveOnly    bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Search        string
}

// ExportRequest describes one export. Empty Fields selects every schema field.
type ExportRequest struct {
	TenantID   string
	EntityType schema.EntityType
	Fields     []string
	Filters    ExportFilters
}
