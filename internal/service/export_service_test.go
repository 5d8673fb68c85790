package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
	"github.com/crm-bulk-import/internal/service"
)

func seedClients(f *fixture) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.entities.Seed(&models.Entity{TenantID: tenantA, EntityType: schema.EntityClients, IsActive: true, CreatedAt: base,
		Fields: models.Record{"name": "Acme", "email": "a@x.com", "company": "Acme Corp"}})
	f.entities.Seed(&models.Entity{TenantID: tenantA, EntityType: schema.EntityClients, IsActive: false, CreatedAt: base.AddDate(0, 0, 1),
		Fields: models.Record{"name": "Beta", "email": "b@x.com", "phone": "555-1234"}})
	f.entities.Seed(&models.Entity{TenantID: tenantA, EntityType: schema.EntityClients, IsActive: true, CreatedAt: base.AddDate(0, 0, 2),
		Fields: models.Record{"name": "Gamma, Inc", "company": "Beta Holdings"}})
	f.entities.Seed(&models.Entity{TenantID: tenantB, EntityType: schema.EntityClients, IsActive: true, CreatedAt: base,
		Fields: models.Record{"name": "Other tenant"}})
}

func export(t *testing.T, f *fixture, req *models.ExportRequest) (string, int) {
	t.Helper()
	var buf bytes.Buffer
	n, err := f.services.Export.BuildExport(context.Background(), req, &buf)
	if err != nil {
		t.Fatalf("BuildExport: %v", err)
	}
	return buf.String(), n
}

func TestBuildExport_AllFieldsInSchemaOrder(t *testing.T) {
	f := newFixture(t)
	seedClients(f)

	out, n := export(t, f, &models.ExportRequest{TenantID: tenantA, EntityType: schema.EntityClients})

	if n != 3 {
		t.Fatalf("Expected 3 rows, got %d", n)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	sch, _ := schema.For(schema.EntityClients)
	if lines[0] != strings.Join(sch.Fields(), ",") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], `"Gamma, Inc",`) {
		t.Errorf("embedded comma must be quoted, got %q", lines[3])
	}
	if strings.Contains(out, "Other tenant") {
		t.Error("export leaked another tenant's data")
	}
}

func TestBuildExport_SelectionKeepsCallerOrder(t *testing.T) {
	f := newFixture(t)
	seedClients(f)

	out, _ := export(t, f, &models.ExportRequest{
		TenantID:   tenantA,
		EntityType: schema.EntityClients,
		Fields:     []string{"email", "Name"},
	})

	want := "email,name\na@x.com,Acme\nb@x.com,Beta\n,\"Gamma, Inc\"\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestBuildExport_Filters(t *testing.T) {
	f := newFixture(t)
	seedClients(f)
	day2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		filters models.ExportFilters
		want    []string
	}{
		{"active only", models.ExportFilters{ActiveOnly: true}, []string{"Acme", "Gamma, Inc"}},
		{"created after", models.ExportFilters{CreatedAfter: &day2}, []string{"Beta", "Gamma, Inc"}},
		{"created before", models.ExportFilters{CreatedBefore: &day2}, []string{"Acme"}},
		{"date range", models.ExportFilters{CreatedAfter: &day2, CreatedBefore: &day3}, []string{"Beta"}},
		{"search company", models.ExportFilters{Search: "beta"}, []string{"Beta", "Gamma, Inc"}},
		{"search no match", models.ExportFilters{Search: "zzz"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, n := export(t, f, &models.ExportRequest{
				TenantID:   tenantA,
				EntityType: schema.EntityClients,
				Fields:     []string{"name"},
				Filters:    tt.filters,
			})
			if n != len(tt.want) {
				t.Fatalf("Expected %d rows, got %d: %q", len(tt.want), n, out)
			}
			for _, name := range tt.want {
				if !strings.Contains(out, name) {
					t.Errorf("Expected %q in %q", name, out)
				}
			}
		})
	}
}

func TestBuildExport_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.services.Export.BuildExport(context.Background(), &models.ExportRequest{
		TenantID: tenantA, EntityType: schema.EntityClients, Fields: []string{"name", "salary"},
	}, &bytes.Buffer{})
	if !errors.Is(err, service.ErrUnknownField) {
		t.Errorf("Expected ErrUnknownField, got %v", err)
	}

	_, err = f.services.Export.BuildExport(context.Background(), &models.ExportRequest{
		TenantID: tenantA, EntityType: "invoices",
	}, &bytes.Buffer{})
	if !errors.Is(err, schema.ErrUnknownEntityType) {
		t.Errorf("Expected ErrUnknownEntityType, got %v", err)
	}
}

func TestTemplate(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	if err := f.services.Export.Template(schema.EntityNotes, &buf); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "content,subject,is_pinned\n" {
		t.Errorf("unexpected template %q", got)
	}
}
