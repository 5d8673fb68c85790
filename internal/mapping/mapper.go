// Package mapping resolves CSV headers onto schema fields.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/crm-bulk-import/internal/csvfile"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
)

// ErrRequiredFieldUnmapped is returned when a required field has no header
var ErrRequiredFieldUnmapped = errors.New("required field unmapped")

// Mapping maps schema field name to CSV header
type Mapping map[string]string

// Resolve builds a field→header mapping. An explicit mapping is used as given,
// minus fields mapped to a blank header; otherwise headers are auto-matched by
// case-insensitive, trimmed equality with the field name. The returned error
// messages are non-empty when a required field cannot be resolved.
func Resolve(headers []string, s schema.Schema, explicit map[string]string) (Mapping, []string) {
	if explicit != nil {
		return resolveExplicit(headers, s, explicit)
	}
	return resolveAuto(headers, s)
}

func resolveAuto(headers []string, s schema.Schema) (Mapping, []string) {
	byName := make(map[string]string, len(headers))
	for _, h := range headers {
		key := normalize(h)
		if _, dup := byName[key]; !dup && key != "" {
			byName[key] = h
		}
	}

	m := make(Mapping)
	for _, field := range s.Fields() {
		if h, ok := byName[field]; ok {
			m[field] = h
		}
	}

	return m, missingRequired(m, s)
}

func resolveExplicit(headers []string, s schema.Schema, explicit map[string]string) (Mapping, []string) {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[normalize(h)] = true
	}

	var errs []string
	m := make(Mapping, len(explicit))

	fields := make([]string, 0, len(explicit))
	for field := range explicit {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		header := strings.TrimSpace(explicit[field])
		if header == "" {
			continue
		}
		if !s.HasField(field) {
			errs = append(errs, fmt.Sprintf("unknown field %q for %s", field, s.Type))
			continue
		}
		if len(headers) > 0 && !present[normalize(header)] {
			errs = append(errs, fmt.Sprintf("column %q mapped to %s not found in file", header, field))
			continue
		}
		m[field] = header
	}

	return m, append(errs, missingRequired(m, s)...)
}

func missingRequired(m Mapping, s schema.Schema) []string {
	var errs []string
	for _, field := range s.Required {
		if _, ok := m[field]; !ok {
			errs = append(errs, fmt.Sprintf("required field %q is not mapped to any column", field))
		}
	}
	return errs
}

// Err folds resolution messages into a single ErrRequiredFieldUnmapped error
func Err(messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRequiredFieldUnmapped, strings.Join(messages, "; "))
}

// Projector turns rows into records keyed by schema field
type Projector struct {
	columns map[string]int
}

// NewProjector locates each mapped header among headers
func NewProjector(headers []string, m Mapping) *Projector {
	positions := make(map[string]int, len(headers))
	for i, h := range headers {
		key := normalize(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	columns := make(map[string]int, len(m))
	for field, header := range m {
		if pos, ok := positions[normalize(header)]; ok {
			columns[field] = pos
		}
	}
	return &Projector{columns: columns}
}

// Project extracts the mapped fields of row. Unmapped fields are absent.
func (p *Projector) Project(row csvfile.Row) models.Record {
	rec := make(models.Record, len(p.columns))
	for field, pos := range p.columns {
		if pos < len(row.Values) {
			rec[field] = row.Values[pos]
		}
	}
	return rec
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
