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
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// entityRepo stores every entity type in its own table with the schema
// fields kept in a JSONB "data" column.
type entityRepo struct {
	db *database.DB
}

// NewEntityRepo creates a new entity repository
func NewEntityRepo(db *database.DB) EntityRepository {
	return &entityRepo{db: db}
}

func tableFor(entityType schema.EntityType) (string, error) {
	s, err := schema.For(entityType)
	if err != nil {
		return "", err
	}
	return pq.QuoteIdentifier(s.Table), nil
}

// FindByKey returns the oldest live record whose keyField matches key, case-insensitively.
// The key is inlined as a literal so the lookup matches the lower(data->>'email') indexes.
func (r *entityRepo) FindByKey(ctx context.Context, entityType schema.EntityType, tenantID, keyField, key string) (*models.Entity, error) {
	s, err := schema.For(entityType)
	if err != nil {
		return nil, err
	}
	if !s.HasField(keyField) {
		return nil, fmt.Errorf("%s has no field %q", entityType, keyField)
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, data, is_active, created_at, updated_at FROM %s
		WHERE tenant_id = $1 AND lower(data->>%s) = lower($2) AND deleted_at IS NULL
		ORDER BY created_at LIMIT 1
	`, pq.QuoteIdentifier(s.Table), pq.QuoteLiteral(keyField))

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, tenantID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entity.EntityType = entityType
	return entity, nil
}

// Insert creates a new record for tenantID and returns its id
func (r *entityRepo) Insert(ctx context.Context, entityType schema.EntityType, tenantID string, rec models.Record) (string, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	id := uuid.New().String()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, data, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, true, $4, $4)
	`, table)

	if _, err := r.db.ExecContext(ctx, query, id, tenantID, string(data), time.Now()); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges rec into the stored record. Fields absent from rec keep their values.
func (r *entityRepo) Update(ctx context.Context, entityType schema.EntityType, id string, rec models.Record) (bool, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET data = data || $1::jsonb, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, table)

	result, err := r.db.ExecContext(ctx, query, string(data), time.Now(), id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Stream calls callback for every matching record in creation order (memory efficient)
func (r *entityRepo) Stream(ctx context.Context, entityType schema.EntityType, tenantID string, filters models.ExportFilters, callback func(*models.Entity) error) error {
	s, err := schema.For(entityType)
	if err != nil {
		return err
	}

	query, args := buildStreamQuery(s, tenantID, filters)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return err
		}
		entity.EntityType = entityType
		if err := callback(entity); err != nil {
			return err
		}
	}

	return rows.Err()
}

func buildStreamQuery(s schema.Schema, tenantID string, filters models.ExportFilters) (string, []interface{}) {
	where := []string{"tenant_id = $1", "deleted_at IS NULL"}
	args := []interface{}{tenantID}

	if filters.ActiveOnly {
		where = append(where, "is_active = true")
	}
	if filters.CreatedAfter != nil {
		args = append(args, *filters.CreatedAfter)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filters.CreatedBefore != nil {
		args = append(args, *filters.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if search := strings.TrimSpace(filters.Search); search != "" && len(s.Searchable) > 0 {
		args = append(args, pq.Array(s.Searchable), "%"+escapeLike(search)+"%")
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM unnest($%d::text[]) AS f(name) WHERE data->>f.name ILIKE $%d)",
			len(args)-1, len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, data, is_active, created_at, updated_at FROM %s
		WHERE %s ORDER BY created_at, id
	`, pq.QuoteIdentifier(s.Table), strings.Join(where, " AND "))

	return query, args
}

// Count returns the number of live records of a type for a tenant
func (r *entityRepo) Count(ctx context.Context, entityType schema.EntityType, tenantID string) (int, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1 AND deleted_at IS NULL`, table)
	err = r.db.QueryRowContext(ctx, query, tenantID).Scan(&count)
	return count, err
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var entity models.Entity
	var data []byte

	if err := row.Scan(&entity.ID, &entity.TenantID, &data, &entity.IsActive, &entity.CreatedAt, &entity.UpdatedAt); err != nil {
		return nil, err
	}
	entity.Fields = make(models.Record)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entity.Fields); err != nil {
			return nil, fmt.Errorf("decode entity data: %w", err)
		}
	}
	return &entity, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
