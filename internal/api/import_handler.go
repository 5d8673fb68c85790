package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ImportHandler handles import endpoints
type ImportHandler struct {
	services *service.Services
	cfg      *config.Config
	log      zerolog.Logger
}

// NewImportHandler creates a new ImportHandler
func NewImportHandler(services *service.Services, cfg *config.Config, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		services: services,
		cfg:      cfg,
		log:      log.With().Str("handler", "import").Logger(),
	}
}

// CreateImport handles POST /v1/imports
// Accepts a multipart upload with entity_type, file and the duplicate options
func (h *ImportHandler) CreateImport(c *gin.Context) {
	ctx := c.Request.Context()
	actor := actorFrom(c)

	entityType := schema.EntityType(strings.ToLower(strings.TrimSpace(c.PostForm("entity_type"))))
	if entityType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type is required (clients, contacts, notes)"})
		return
	}
	if _, err := schema.For(entityType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file upload is required"})
		return
	}
	defer file.Close()

	// Validate file size
	if header.Size > h.cfg.Import.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file too large, max size is %d MB", h.cfg.Import.MaxUploadSize/(1024*1024)),
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".txt" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv and .txt files are accepted"})
		return
	}

	// Save uploaded file, one directory per tenant
	uploadDir := filepath.Join(h.cfg.Import.UploadDir, actor.TenantID)
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		h.log.Error().Err(err).Msg("Failed to create upload directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	filePath := filepath.Join(uploadDir, uuid.New().String()+ext)
	size, err := saveUpload(file, filePath)
	if err != nil {
		os.Remove(filePath)
		h.log.Error().Err(err).Msg("Failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}

	job, err := h.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		EntityType: entityType,
		Filename:   filepath.Base(header.Filename),
		FilePath:   filePath,
		FileSize:   size,
		Options: models.ImportOptions{
			SkipDuplicates: formBool(c, "skip_duplicates"),
			UpdateExisting: formBool(c, "update_existing"),
		},
	})
	if err != nil {
		os.Remove(filePath)
		respondError(c, h.log, err, "failed to create import job")
		return
	}

	if job.Status == models.JobStatusFailed {
		h.log.Warn().
			Str("job_id", job.ID).
			Str("file", header.Filename).
			Str("error", job.ErrorMessage).
			Msg("Import file rejected")
		c.JSON(http.StatusUnprocessableEntity, job)
		return
	}

	h.log.Info().
		Str("job_id", job.ID).
		Str("tenant_id", actor.TenantID).
		Str("entity_type", string(entityType)).
		Str("file", header.Filename).
		Int64("size_bytes", size).
		Int("total_rows", job.TotalRows).
		Msg("Import job created")

	c.JSON(http.StatusCreated, job)
}

func saveUpload(src io.Reader, path string) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func formBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.PostForm(key))
	return err == nil && v
}

// ListImports handles GET /v1/imports?status=&entity_type=&mine=&limit=&offset=
func (h *ImportHandler) ListImports(c *gin.Context) {
	actor := actorFrom(c)

	filter := models.JobFilter{
		Status:     models.JobStatus(c.Query("status")),
		EntityType: schema.EntityType(c.Query("entity_type")),
	}
	if mine, _ := strconv.ParseBool(c.Query("mine")); mine {
		filter.UserID = actor.UserID
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filter.Offset = offset
	}

	jobs, err := h.services.Import.ListJobs(c.Request.Context(), actor.TenantID, filter)
	if err != nil {
		respondError(c, h.log, err, "failed to list import jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.ImportJob{}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetImportStatus handles GET /v1/imports/:job_id
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	job, err := h.services.Import.GetJob(c.Request.Context(), actorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.log, err, "failed to get job status")
		return
	}

	c.JSON(http.StatusOK, job)
}

// PreviewImport handles GET /v1/imports/:job_id/preview
func (h *ImportHandler) PreviewImport(c *gin.Context) {
	preview, err := h.services.Import.PreviewImport(c.Request.Context(), actorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.log, err, "failed to preview import")
		return
	}

	c.JSON(http.StatusOK, preview)
}

// mappingRequest is the body of PUT /v1/imports/:job_id/mapping.
// An absent or empty mapping asks for automatic header matching.
type mappingRequest struct {
	Mapping map[string]string `json:"mapping"`
}

// AttachMapping handles PUT /v1/imports/:job_id/mapping
func (h *ImportHandler) AttachMapping(c *gin.Context) {
	var req mappingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	explicit := req.Mapping
	if len(explicit) == 0 {
		explicit = nil
	}

	job, err := h.services.Import.AttachMapping(c.Request.Context(), actorFrom(c), c.Param("job_id"), explicit)
	if err != nil {
		respondError(c, h.log, err, "failed to attach mapping")
		return
	}

	c.JSON(http.StatusOK, job)
}

// ProcessImport handles POST /v1/imports/:job_id/process
func (h *ImportHandler) ProcessImport(c *gin.Context) {
	job, err := h.services.Import.StartImport(c.Request.Context(), actorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.log, err, "failed to start import")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Import job queued for processing",
	})
}

// CancelImport handles POST /v1/imports/:job_id/cancel
func (h *ImportHandler) CancelImport(c *gin.Context) {
	job, err := h.services.Import.CancelImport(c.Request.Context(), actorFrom(c), c.Param("job_id"))
	if err != nil {
		respondError(c, h.log, err, "failed to cancel import")
		return
	}

	c.JSON(http.StatusOK, job)
}

// DeleteImport handles DELETE /v1/imports/:job_id
func (h *ImportHandler) DeleteImport(c *gin.Context) {
	if err := h.services.Import.DeleteImport(c.Request.Context(), actorFrom(c), c.Param("job_id")); err != nil {
		respondError(c, h.log, err, "failed to delete import")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetImportErrors handles GET /v1/imports/:job_id/errors
func (h *ImportHandler) GetImportErrors(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.services.Import.GetJob(c.Request.Context(), actorFrom(c), jobID)
	if err != nil {
		respondError(c, h.log, err, "failed to get errors")
		return
	}

	rows := make([]int, 0, len(job.ValidationErrors))
	for row := range job.ValidationErrors {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=errors_%s.csv", jobID))
		writer := csv.NewWriter(c.Writer)
		writer.Write([]string{"row", "messages"})
		for _, row := range rows {
			writer.Write([]string{strconv.Itoa(row), strings.Join(job.ValidationErrors[row], "; ")})
		}
		writer.Flush()
		return
	}

	errs := job.ValidationErrors
	if errs == nil {
		errs = models.RowErrors{}
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":      jobID,
		"failed_rows": job.FailedRows,
		"error_count": len(rows),
		"errors":      errs,
	})
}
