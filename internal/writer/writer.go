// Package writer decides whether a validated row is inserted, merged into an
// existing record, or skipped as a duplicate.
package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
)

// Store is the per-tenant entity storage the writer depends on.
// Each call is expected to be atomic on its own.
type Store interface {
	FindByKey(ctx context.Context, entityType schema.EntityType, tenantID, keyField, key string) (*models.Entity, error)
	Insert(ctx context.Context, entityType schema.EntityType, tenantID string, rec models.Record) (string, error)
	Update(ctx context.Context, entityType schema.EntityType, id string, rec models.Record) (bool, error)
}

// Result is the kind of outcome for one row
type Result string

const (
	Inserted Result = "inserted"
	Updated  Result = "updated"
	Skipped  Result = "skipped"
	Failed   Result = "failed"
)

// SkipDuplicate is the reason reported when an existing record is left alone
const SkipDuplicate = "duplicate"

// Outcome is the result of writing one row
type Outcome struct {
	Result   Result
	EntityID string
	Reason   string
	Err      error
}

// Counted reports whether the row counts as processed
func (o Outcome) Counted() bool {
	return o.Result == Inserted || o.Result == Updated
}

// Writer applies import options against a Store
type Writer struct {
	store Store
}

// New creates a Writer
func New(store Store) *Writer {
	return &Writer{store: store}
}

// Write stores rec for tenantID. Storage failures come back as a Failed
// outcome rather than an error so the caller can carry on with the next row.
func (w *Writer) Write(ctx context.Context, s schema.Schema, rec models.Record, tenantID string, opts models.ImportOptions) Outcome {
	key := DedupKey(s, rec)

	if key != "" {
		existing, err := w.store.FindByKey(ctx, s.Type, tenantID, s.DedupKey, key)
		if err != nil {
			return Outcome{Result: Failed, Err: fmt.Errorf("lookup existing %s: %w", s.Type, err)}
		}

		if existing != nil {
			if !opts.UpdateExisting {
				// Never overwrite without explicit consent, whether or not
				// skip_duplicates was requested.
				return Outcome{Result: Skipped, EntityID: existing.ID, Reason: SkipDuplicate}
			}

			ok, err := w.store.Update(ctx, s.Type, existing.ID, rec)
			if err != nil {
				return Outcome{Result: Failed, EntityID: existing.ID, Err: fmt.Errorf("update %s: %w", s.Type, err)}
			}
			if !ok {
				return Outcome{Result: Failed, EntityID: existing.ID, Err: fmt.Errorf("update %s: record %s no longer exists", s.Type, existing.ID)}
			}
			return Outcome{Result: Updated, EntityID: existing.ID}
		}
	}

	id, err := w.store.Insert(ctx, s.Type, tenantID, rec)
	if err != nil {
		return Outcome{Result: Failed, Err: fmt.Errorf("insert %s: %w", s.Type, err)}
	}
	return Outcome{Result: Inserted, EntityID: id}
}

// DedupKey returns the normalized dedup key of rec, or "" when the schema has
// no key or the row leaves it empty.
func DedupKey(s schema.Schema, rec models.Record) string {
	if s.DedupKey == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(rec[s.DedupKey]))
}
