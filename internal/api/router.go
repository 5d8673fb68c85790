package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/csvfile"
	"github.com/crm-bulk-import/internal/mapping"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const actorKey = "actor"

// tenant ids name the per-tenant upload directory, so no separators or dot segments
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter creates and configures the Gin router
func NewRouter(services *service.Services, cfg *config.Config, db HealthChecker, metrics http.Handler, log zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	// Handlers
	importHandler := NewImportHandler(services, cfg, log)
	exportHandler := NewExportHandler(services, log)

	router.GET("/health", healthCheck(db))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// API v1
	v1 := router.Group("/v1")
	{
		v1.GET("/schemas", exportHandler.ListSchemas)
		v1.GET("/schemas/:entity_type/template", exportHandler.Template)

		// Everything below acts on tenant data
		tenant := v1.Group("", tenantMiddleware())

		imports := tenant.Group("/imports")
		{
			imports.POST("", importHandler.CreateImport)
			imports.GET("", importHandler.ListImports)
			imports.GET("/:job_id", importHandler.GetImportStatus)
			imports.GET("/:job_id/preview", importHandler.PreviewImport)
			imports.PUT("/:job_id/mapping", importHandler.AttachMapping)
			imports.POST("/:job_id/process", importHandler.ProcessImport)
			imports.POST("/:job_id/cancel", importHandler.CancelImport)
			imports.DELETE("/:job_id", importHandler.DeleteImport)
			imports.GET("/:job_id/errors", importHandler.GetImportErrors)
		}

		tenant.GET("/exports", exportHandler.StreamExport)
	}

	return router
}

// healthCheck reports healthy only when the database answers
func healthCheck(db HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if db != nil {
			ctx, cancel := contextWithTimeout(c, 2*time.Second)
			defer cancel()
			if err := db.HealthCheck(ctx); err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "crm-bulk-import",
		})
	}
}

// tenantMiddleware reads the caller identity set by the upstream auth layer
func tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if tenantID == "" || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Tenant-ID and X-User-ID headers are required"})
			return
		}
		if !tenantIDPattern.MatchString(tenantID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid X-Tenant-ID"})
			return
		}
		c.Set(actorKey, models.Actor{
			TenantID: tenantID,
			UserID:   userID,
			IsAdmin:  strings.EqualFold(c.GetHeader("X-User-Role"), "admin"),
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	actor, _ := c.MustGet(actorKey).(models.Actor)
	return actor
}

// errorStatus maps service errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrMappingRequired):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, mapping.ErrRequiredFieldUnmapped),
		errors.Is(err, csvfile.ErrEmptyFile),
		errors.Is(err, csvfile.ErrFileUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schema.ErrUnknownEntityType), errors.Is(err, service.ErrUnknownField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body; internal errors are logged and hidden
func respondError(c *gin.Context, log zerolog.Logger, err error, msg string) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("tenant_id", c.GetHeader("X-Tenant-ID")).
			Msg("Request completed")
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-User-ID, X-User-Role")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// contextWithTimeout creates a context with timeout for handlers
func contextWithTimeout(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
