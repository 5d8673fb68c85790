package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// ExportHandler handles export and schema endpoints
type ExportHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewExportHandler creates a new ExportHandler
func NewExportHandler(services *service.Services, log zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		services: services,
		log:      log.With().Str("handler", "export").Logger(),
	}
}

// StreamExport handles GET /v1/exports?entity_type=&fields=&active_only=&created_after=&created_before=&search=
// Streams the export directly to the response
func (h *ExportHandler) StreamExport(c *gin.Context) {
	ctx := c.Request.Context()
	actor := actorFrom(c)

	entityType := schema.EntityType(strings.ToLower(c.Query("entity_type")))
	if entityType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type parameter is required (clients, contacts, notes)"})
		return
	}

	req := &models.ExportRequest{
		TenantID:   actor.TenantID,
		EntityType: entityType,
	}
	if fields := c.Query("fields"); fields != "" {
		req.Fields = strings.Split(fields, ",")
	}

	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Filters = filters

	// Validate the selection before any bytes are written
	if _, err := h.services.Export.Columns(req.EntityType, req.Fields); err != nil {
		respondError(c, h.log, err, "failed to build export")
		return
	}

	h.log.Info().
		Str("tenant_id", actor.TenantID).
		Str("entity_type", string(entityType)).
		Msg("Starting streaming export")

	filename := fmt.Sprintf("%s_export_%s.csv", entityType, time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)

	if _, err := h.services.Export.BuildExport(ctx, req, c.Writer); err != nil {
		h.log.Error().Err(err).Str("entity_type", string(entityType)).Msg("Export failed")
		// Can't return error JSON after streaming has started
		return
	}
}

// parseFilters reads the export filters from the query string. A date-only
// created_before includes that whole day.
func parseFilters(c *gin.Context) (models.ExportFilters, error) {
	var f models.ExportFilters

	if v := c.Query("active_only"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("active_only must be true or false")
		}
		f.ActiveOnly = active
	}

	if v := c.Query("created_after"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("created_after: %w", err)
		}
		f.CreatedAfter = &t
	}

	if v := c.Query("created_before"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("created_before: %w", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		f.CreatedBefore = &t
	}

	if f.CreatedAfter != nil && f.CreatedBefore != nil && !f.CreatedAfter.Before(*f.CreatedBefore) {
		return f, fmt.Errorf("created_after must be before created_before")
	}

	f.Search = strings.TrimSpace(c.Query("search"))
	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", v)
	}
	return t, false, nil
}

// ListSchemas handles GET /v1/schemas
func (h *ExportHandler) ListSchemas(c *gin.Context) {
	out := make([]gin.H, 0, len(schema.Types()))
	for _, t := range schema.Types() {
		sch, err := schema.For(t)
		if err != nil {
			continue
		}
		out = append(out, gin.H{
			"entity_type":     sch.Type,
			"required_fields": sch.Required,
			"optional_fields": sch.Optional,
			"validators":      sch.Validators,
			"dedup_key":       sch.DedupKey,
		})
	}

	c.JSON(http.StatusOK, gin.H{"schemas": out})
}

// Template handles GET /v1/schemas/:entity_type/template
func (h *ExportHandler) Template(c *gin.Context) {
	entityType := schema.EntityType(strings.ToLower(c.Param("entity_type")))
	if _, err := schema.For(entityType); err != nil {
		respondError(c, h.log, err, "failed to build template")
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_template.csv", entityType))
	c.Status(http.StatusOK)
	if err := h.services.Export.Template(entityType, c.Writer); err != nil {
		h.log.Error().Err(err).Str("entity_type", string(entityType)).Msg("Template failed")
	}
}
