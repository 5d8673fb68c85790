package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/csvfile"
	"github.com/crm-bulk-import/internal/mapping"
	"github.com/crm-bulk-import/internal/metrics"
	"github.com/crm-bulk-import/internal/mocks"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
	"github.com/rs/zerolog"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
	userID  = "user-1"
)

var owner = models.Actor{TenantID: tenantA, UserID: userID}

type fixture struct {
	jobs     *mocks.MockJobRepository
	entities *mocks.MockEntityStore
	services *service.Services
	cfg      *config.Config
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Import: config.ImportConfig{
			UploadDir:        t.TempDir(),
			ProgressInterval: 2,
			Workers:          2,
			QueueSize:        4,
			PreviewRows:      2,
		},
	}
	for _, m := range mutate {
		m(cfg)
	}

	f := &fixture{
		jobs:     mocks.NewMockJobRepository(),
		entities: mocks.NewMockEntityStore(),
		cfg:      cfg,
	}
	repos := &repository.Repositories{Job: f.jobs, Entity: f.entities}
	f.services = service.NewServices(repos, cfg, metrics.New(), zerolog.Nop())
	return f
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

// createJob creates a pending job for content and attaches the auto mapping
func (f *fixture) createJob(t *testing.T, entityType schema.EntityType, content string, opts models.ImportOptions) *models.ImportJob {
	t.Helper()
	ctx := context.Background()

	job, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID:   tenantA,
		UserID:     userID,
		EntityType: entityType,
		Filename:   "upload.csv",
		FilePath:   writeCSV(t, content),
		FileSize:   int64(len(content)),
		Options:    opts,
	})
	if err != nil {
		t.Fatalf("CreateImportJob: %v", err)
	}
	if _, err := f.services.Import.AttachMapping(ctx, owner, job.ID, nil); err != nil {
		t.Fatalf("AttachMapping: %v", err)
	}
	return job
}

func (f *fixture) process(t *testing.T, jobID string) *models.ImportJob {
	t.Helper()
	if err := f.services.Import.ProcessImport(context.Background(), jobID); err != nil {
		t.Fatalf("ProcessImport: %v", err)
	}
	return f.jobs.Get(jobID)
}

func assertCountersConsistent(t *testing.T, job *models.ImportJob) {
	t.Helper()
	if job.ProcessedRows+job.FailedRows > job.TotalRows {
		t.Errorf("processed (%d) + failed (%d) exceeds total (%d)", job.ProcessedRows, job.FailedRows, job.TotalRows)
	}
}

func TestProcessImport_EndToEnd(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityClients, "name,email\nAcme,a@x.com\nBeta,\nGamma,not-valid\n", models.ImportOptions{})

	if job.Status != models.JobStatusPending || job.TotalRows != 3 {
		t.Fatalf("unexpected new job: status=%s total=%d", job.Status, job.TotalRows)
	}

	done := f.process(t, job.ID)

	if done.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.TotalRows != 3 || done.ProcessedRows != 2 || done.FailedRows != 1 {
		t.Errorf("Expected 3/2/1, got total=%d processed=%d failed=%d", done.TotalRows, done.ProcessedRows, done.FailedRows)
	}
	if len(done.ValidationErrors) != 1 {
		t.Fatalf("Expected exactly one row with errors, got %v", done.ValidationErrors)
	}
	if msgs := done.ValidationErrors[3]; len(msgs) != 1 {
		t.Errorf("Expected one message for row 3 (Gamma), got %v", done.ValidationErrors)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("completed job must have started_at and completed_at")
	}
	assertCountersConsistent(t, done)

	stored := f.entities.All(schema.EntityClients, tenantA)
	if len(stored) != 2 {
		t.Fatalf("Expected 2 stored clients, got %d", len(stored))
	}
	if _, ok := stored[1].Fields["email"]; ok {
		t.Error("empty optional email should not be stored")
	}
}

func TestProcessImport_DedupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	content := "name,email\nAcme,a@x.com\nBeta,b@x.com\n"
	opts := models.ImportOptions{SkipDuplicates: true}

	first := f.process(t, f.createJob(t, schema.EntityClients, content, opts).ID)
	if first.ProcessedRows != 2 {
		t.Fatalf("first run: expected 2 processed, got %d", first.ProcessedRows)
	}
	before, _ := f.entities.Count(context.Background(), schema.EntityClients, tenantA)

	second := f.process(t, f.createJob(t, schema.EntityClients, content, opts).ID)
	after, _ := f.entities.Count(context.Background(), schema.EntityClients, tenantA)

	if second.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", second.Status)
	}
	if second.ProcessedRows != 0 || second.FailedRows != 0 {
		t.Errorf("second run: expected 0 processed / 0 failed, got %d / %d", second.ProcessedRows, second.FailedRows)
	}
	if before != after {
		t.Errorf("record count changed from %d to %d", before, after)
	}
	assertCountersConsistent(t, second)
}

func TestProcessImport_DuplicateWithoutOptionsIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.entities.Seed(&models.Entity{
		TenantID:   tenantA,
		EntityType: schema.EntityClients,
		Fields:     models.Record{"name": "Acme", "email": "a@x.com", "phone": "555-1111"},
		IsActive:   true,
	})

	done := f.process(t, f.createJob(t, schema.EntityClients, "name,email,phone\nAcme Two,A@X.com,555-2222\n", models.ImportOptions{}).ID)

	if done.ProcessedRows != 0 || done.FailedRows != 0 {
		t.Errorf("Expected the duplicate to be skipped, got processed=%d failed=%d", done.ProcessedRows, done.FailedRows)
	}
	stored := f.entities.All(schema.EntityClients, tenantA)
	if len(stored) != 1 || stored[0].Fields["phone"] != "555-1111" {
		t.Errorf("existing record must be untouched, got %+v", stored)
	}
}

func TestProcessImport_UpdateExistingMergesFields(t *testing.T) {
	f := newFixture(t)
	existing := f.entities.Seed(&models.Entity{
		TenantID:   tenantA,
		EntityType: schema.EntityClients,
		Fields:     models.Record{"name": "Acme", "email": "a@x.com", "address": "1 Main St"},
		IsActive:   true,
	})

	done := f.process(t, f.createJob(t, schema.EntityClients, "name,email,phone\nAcme,a@x.com,555-0000\n",
		models.ImportOptions{UpdateExisting: true}).ID)

	if done.ProcessedRows != 1 {
		t.Fatalf("Expected the update to count as processed, got %d", done.ProcessedRows)
	}
	stored := f.entities.All(schema.EntityClients, tenantA)
	if len(stored) != 1 {
		t.Fatalf("Expected no new record, got %d", len(stored))
	}
	if stored[0].ID != existing.ID {
		t.Errorf("Expected record %s to be updated", existing.ID)
	}
	if stored[0].Fields["phone"] != "555-0000" {
		t.Errorf("phone not updated: %q", stored[0].Fields["phone"])
	}
	if stored[0].Fields["address"] != "1 Main St" {
		t.Errorf("address should be untouched, got %q", stored[0].Fields["address"])
	}
}

func TestProcessImport_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.entities.Seed(&models.Entity{
		TenantID:   tenantB,
		EntityType: schema.EntityClients,
		Fields:     models.Record{"name": "Acme", "email": "a@x.com"},
	})

	done := f.process(t, f.createJob(t, schema.EntityClients, "name,email\nAcme,a@x.com\n", models.ImportOptions{SkipDuplicates: true}).ID)

	if done.ProcessedRows != 1 {
		t.Errorf("another tenant's record must not count as a duplicate, processed=%d", done.ProcessedRows)
	}
}

func TestProcessImport_CancelMidLoop(t *testing.T) {
	f := newFixture(t)

	content := "name,email\n"
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		content += "Client " + n + "," + n + "@x.com\n"
	}
	job := f.createJob(t, schema.EntityClients, content, models.ImportOptions{})

	f.entities.BeforeInsert = func(attempt int, rec models.Record) error {
		if attempt == 5 {
			if _, err := f.services.Import.CancelImport(context.Background(), owner, job.ID); err != nil {
				t.Errorf("CancelImport: %v", err)
			}
		}
		return nil
	}

	done := f.process(t, job.ID)

	if done.Status != models.JobStatusCancelled {
		t.Fatalf("Expected cancelled, got %s", done.Status)
	}
	if done.ProcessedRows+done.FailedRows > 5 {
		t.Errorf("Expected at most 5 rows touched, got %d", done.ProcessedRows+done.FailedRows)
	}
	if f.entities.InsertCalls != 5 {
		t.Errorf("rows 6-10 must not be written, got %d inserts", f.entities.InsertCalls)
	}
	if done.CompletedAt == nil {
		t.Error("cancelled job should have completed_at")
	}
	assertCountersConsistent(t, done)
}

func TestProcessImport_CancelledWhilePending(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityClients, "name\nAcme\n", models.ImportOptions{})

	cancelled, err := f.services.Import.CancelImport(context.Background(), owner, job.ID)
	if err != nil {
		t.Fatalf("CancelImport: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled {
		t.Fatalf("Expected cancelled, got %s", cancelled.Status)
	}

	err = f.services.Import.ProcessImport(context.Background(), job.ID)
	if !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if f.entities.InsertCalls != 0 {
		t.Error("no row may be written after cancelling a pending job")
	}
}

func TestProcessImport_MappingRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID:   tenantA,
		UserID:     userID,
		EntityType: schema.EntityClients,
		FilePath:   writeCSV(t, "name\nAcme\n"),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = f.services.Import.ProcessImport(ctx, job.ID)
	if !errors.Is(err, service.ErrMappingRequired) {
		t.Fatalf("Expected ErrMappingRequired, got %v", err)
	}

	failed := f.jobs.Get(job.ID)
	if failed.Status != models.JobStatusFailed {
		t.Errorf("Expected failed, got %s", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Error("Expected a top-level error message")
	}
	if failed.ProcessedRows != 0 || failed.FailedRows != 0 {
		t.Error("no rows should be counted when the loop never ran")
	}
}

func TestProcessImport_FileRemovedAfterUpload(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityClients, "name\nAcme\n", models.ImportOptions{})
	stored := f.jobs.Get(job.ID)
	if err := os.Remove(stored.FilePath); err != nil {
		t.Fatal(err)
	}

	err := f.services.Import.ProcessImport(context.Background(), job.ID)
	if !errors.Is(err, csvfile.ErrFileUnreadable) {
		t.Fatalf("Expected ErrFileUnreadable, got %v", err)
	}
	if got := f.jobs.Get(job.ID).Status; got != models.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got)
	}
}

func TestProcessImport_StorageFailureIsRowLevel(t *testing.T) {
	f := newFixture(t)
	f.entities.BeforeInsert = func(attempt int, rec models.Record) error {
		if rec["name"] == "Broken" {
			return errors.New("connection reset")
		}
		return nil
	}

	done := f.process(t, f.createJob(t, schema.EntityClients, "name\nAcme\nBroken\nZeta\n", models.ImportOptions{}).ID)

	if done.Status != models.JobStatusCompleted {
		t.Fatalf("storage failures must not fail the job, got %s", done.Status)
	}
	if done.ProcessedRows != 2 || done.FailedRows != 1 {
		t.Errorf("Expected 2 processed / 1 failed, got %d / %d", done.ProcessedRows, done.FailedRows)
	}
	if len(done.ValidationErrors[2]) != 1 {
		t.Errorf("Expected the storage error under row 2, got %v", done.ValidationErrors)
	}
}

func TestProcessImport_ProgressIsFlushed(t *testing.T) {
	f := newFixture(t)
	done := f.process(t, f.createJob(t, schema.EntityNotes, "content\none\ntwo\nthree\nfour\nfive\n", models.ImportOptions{}).ID)

	if done.ProcessedRows != 5 {
		t.Fatalf("Expected 5 processed, got %d", done.ProcessedRows)
	}
	// interval of 2 rows: flushes after rows 2 and 4
	if f.jobs.ProgressUpdates != 2 {
		t.Errorf("Expected 2 progress flushes, got %d", f.jobs.ProgressUpdates)
	}
}

func TestProcessImport_DeletesFileWhenConfigured(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Import.DeleteFileOnFinish = true })
	job := f.createJob(t, schema.EntityNotes, "content\nhello\n", models.ImportOptions{})
	path := f.jobs.Get(job.ID).FilePath

	f.process(t, job.ID)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected upload to be removed, stat err = %v", err)
	}
}

func TestCreateImportJob_UnknownEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.services.Import.CreateImportJob(context.Background(), &models.CreateImportRequest{
		TenantID: tenantA, EntityType: "invoices", FilePath: writeCSV(t, "a\n1\n"),
	})
	if !errors.Is(err, schema.ErrUnknownEntityType) {
		t.Fatalf("Expected ErrUnknownEntityType, got %v", err)
	}
	if jobs, _ := f.services.Import.ListJobs(context.Background(), tenantA, models.JobFilter{}); len(jobs) != 0 {
		t.Errorf("no job may be recorded for an unknown entity type, got %d", len(jobs))
	}
}

func TestCreateImportJob_BadFileRecordsFailedJob(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantText string
	}{
		{"empty file", func(t *testing.T) string { return writeCSV(t, "") }, csvfile.ErrEmptyFile.Error()},
		{"missing file", func(t *testing.T) string { return "/nonexistent/file.csv" }, csvfile.ErrFileUnreadable.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			job, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
				TenantID: tenantA, UserID: userID, EntityType: schema.EntityClients, FilePath: tt.path(t),
			})
			if err != nil {
				t.Fatalf("CreateImportJob: %v", err)
			}
			if job.Status != models.JobStatusFailed {
				t.Fatalf("Expected failed, got %s", job.Status)
			}
			if !strings.Contains(job.ErrorMessage, tt.wantText) {
				t.Errorf("Expected error message to mention %q, got %q", tt.wantText, job.ErrorMessage)
			}
			if job.CompletedAt == nil {
				t.Error("failed job should have completed_at")
			}

			jobs, err := f.services.Import.ListJobs(ctx, tenantA, models.JobFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(jobs) != 1 || jobs[0].ID != job.ID {
				t.Errorf("Expected the failed job in the tenant's list, got %v", jobs)
			}
		})
	}
}

func TestProcessImport_MalformedRow(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityClients, "name,email\nAcme,a@x.com\nBe\"ta,b@x.com\nGamma,g@x.com\n", models.ImportOptions{})

	if job.TotalRows != 3 {
		t.Fatalf("Expected 3 counted rows, got %d", job.TotalRows)
	}

	done := f.process(t, job.ID)

	if done.Status != models.JobStatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.ProcessedRows != 2 || done.FailedRows != 1 {
		t.Errorf("Expected 2 processed / 1 failed, got %d / %d", done.ProcessedRows, done.FailedRows)
	}
	msgs := done.ValidationErrors[2]
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "malformed row") {
		t.Errorf("Expected a malformed row message under row 2, got %v", done.ValidationErrors)
	}
	if stored := f.entities.All(schema.EntityClients, tenantA); len(stored) != 2 {
		t.Errorf("Expected the rows around the bad quote to be stored, got %d", len(stored))
	}
	assertCountersConsistent(t, done)
}

func TestProcessImport_ShutdownDuringWrite(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityNotes, "content\none\ntwo\nthree\n", models.ImportOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.entities.BeforeInsert = func(attempt int, rec models.Record) error {
		if attempt == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := f.services.Import.ProcessImport(ctx, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	done := f.jobs.Get(job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("Expected failed, got %s", done.Status)
	}
	if done.ProcessedRows != 1 || done.FailedRows != 0 {
		t.Errorf("the interrupted row must not count as failed, got processed=%d failed=%d", done.ProcessedRows, done.FailedRows)
	}
	if _, ok := done.ValidationErrors[2]; ok {
		t.Errorf("no row error may be recorded for the interrupted row, got %v", done.ValidationErrors)
	}
	if f.entities.InsertCalls != 2 {
		t.Errorf("row 3 must not be attempted, got %d inserts", f.entities.InsertCalls)
	}
}

func TestAttachMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID: tenantA, UserID: userID, EntityType: schema.EntityContacts,
		FilePath: writeCSV(t, "Given,Family,Mail\nAda,Lovelace,ada@x.com\n"),
	})
	if err != nil {
		t.Fatal(err)
	}

	// auto-match cannot find first_name/last_name
	if _, err := f.services.Import.AttachMapping(ctx, owner, job.ID, nil); !errors.Is(err, mapping.ErrRequiredFieldUnmapped) {
		t.Fatalf("Expected ErrRequiredFieldUnmapped, got %v", err)
	}

	updated, err := f.services.Import.AttachMapping(ctx, owner, job.ID, map[string]string{
		"first_name": "Given", "last_name": "Family", "email": "Mail",
	})
	if err != nil {
		t.Fatalf("AttachMapping: %v", err)
	}
	if updated.FieldMapping["email"] != "Mail" {
		t.Errorf("unexpected mapping %v", updated.FieldMapping)
	}

	done := f.process(t, job.ID)
	if done.ProcessedRows != 1 {
		t.Fatalf("Expected 1 processed, got %d (%v)", done.ProcessedRows, done.ValidationErrors)
	}
	stored := f.entities.All(schema.EntityContacts, tenantA)
	if stored[0].Fields["first_name"] != "Ada" || stored[0].Fields["email"] != "ada@x.com" {
		t.Errorf("unexpected stored contact %v", stored[0].Fields)
	}

	if _, err := f.services.Import.AttachMapping(ctx, owner, job.ID, nil); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("mapping a completed job: expected ErrInvalidTransition, got %v", err)
	}
}

func TestPreviewImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, seed := range []struct {
		tenant string
		rec    models.Record
	}{
		{tenantA, models.Record{"name": "Old", "email": "old@x.com"}},
		{tenantB, models.Record{"name": "Other", "email": "other@x.com"}},
	} {
		if _, err := f.entities.Insert(ctx, schema.EntityClients, seed.tenant, seed.rec); err != nil {
			t.Fatal(err)
		}
	}

	job, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID: tenantA, UserID: userID, EntityType: schema.EntityClients,
		FilePath: writeCSV(t, "Name,E-mail\nAcme,a@x.com\nBeta,b@x.com\nGamma,c@x.com\n"),
	})
	if err != nil {
		t.Fatal(err)
	}

	preview, err := f.services.Import.PreviewImport(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("PreviewImport: %v", err)
	}
	if len(preview.SampleRows) != 2 {
		t.Errorf("Expected 2 sample rows, got %d", len(preview.SampleRows))
	}
	if preview.SuggestedMap["name"] != "Name" {
		t.Errorf("Expected name→Name, got %v", preview.SuggestedMap)
	}
	if _, ok := preview.SuggestedMap["email"]; ok {
		t.Error("E-mail should not auto-match email")
	}
	if preview.TotalRows != 3 || len(preview.MappingErrors) != 0 {
		t.Errorf("unexpected preview %+v", preview)
	}
	if preview.ExistingRecords != 1 {
		t.Errorf("Expected 1 existing client for the tenant, got %d", preview.ExistingRecords)
	}
}

func TestGetJob_TenantScoped(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})

	if _, err := f.services.Import.GetJob(context.Background(), owner, job.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	other := models.Actor{TenantID: tenantB, UserID: userID, IsAdmin: true}
	if _, err := f.services.Import.GetJob(context.Background(), other, job.ID); !errors.Is(err, service.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound across tenants, got %v", err)
	}
	if _, err := f.services.Import.GetJob(context.Background(), owner, "not-a-uuid"); !errors.Is(err, service.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound for malformed id, got %v", err)
	}
}

func TestDeleteImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})

	colleague := models.Actor{TenantID: tenantA, UserID: "user-2"}
	if err := f.services.Import.DeleteImport(ctx, colleague, job.ID); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}

	admin := models.Actor{TenantID: tenantA, UserID: "admin", IsAdmin: true}
	if err := f.services.Import.DeleteImport(ctx, admin, job.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.services.Import.GetJob(ctx, owner, job.ID); !errors.Is(err, service.ErrJobNotFound) {
		t.Errorf("deleted job should be hidden, got %v", err)
	}
}

func TestDeleteImport_RejectedWhileProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})
	if _, err := f.jobs.MarkProcessing(ctx, job.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := f.services.Import.DeleteImport(ctx, owner, job.ID); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelImport_TerminalJob(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})
	f.process(t, job.ID)

	if _, err := f.services.Import.CancelImport(context.Background(), owner, job.ID); !errors.Is(err, service.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})
	f.createJob(t, schema.EntityClients, "name\nAcme\n", models.ImportOptions{})

	jobs, err := f.services.Import.ListJobs(context.Background(), tenantA, models.JobFilter{EntityType: schema.EntityClients})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].EntityType != schema.EntityClients {
		t.Errorf("Expected one clients job, got %d", len(jobs))
	}

	none, err := f.services.Import.ListJobs(context.Background(), tenantB, models.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Expected an empty, non-nil list, got %v", none)
	}
}

func TestStartImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unmapped, err := f.services.Import.CreateImportJob(ctx, &models.CreateImportRequest{
		TenantID: tenantA, UserID: userID, EntityType: schema.EntityNotes,
		FilePath: writeCSV(t, "content\nhi\n"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.services.Import.StartImport(ctx, owner, unmapped.ID); !errors.Is(err, service.ErrMappingRequired) {
		t.Errorf("Expected ErrMappingRequired, got %v", err)
	}
	if got := f.jobs.Get(unmapped.ID).Status; got != models.JobStatusPending {
		t.Errorf("rejected start must leave the job pending, got %s", got)
	}

	// queue holds 4 jobs and no processor is running
	for i := 0; i < 4; i++ {
		job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})
		if _, err := f.services.Import.StartImport(ctx, owner, job.ID); err != nil {
			t.Fatalf("StartImport %d: %v", i, err)
		}
	}
	job := f.createJob(t, schema.EntityNotes, "content\nhi\n", models.ImportOptions{})
	if _, err := f.services.Import.StartImport(ctx, owner, job.ID); !errors.Is(err, service.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}
