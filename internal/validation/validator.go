package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/schema"
)

// MaxFieldLength bounds fields validated with schema.RuleMaxLen
const MaxFieldLength = 255

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9 ().\-]{7,25}$`)
)

var boolValues = map[string]string{
	"true": "true", "1": "true", "yes": "true", "y": "true",
	"false": "false", "0": "false", "no": "false", "n": "false",
}

// FieldError is a single field-level problem in one row
type FieldError struct {
	Field     string `json:"field"`
	RowNumber int    `json:"row"`
	Message   string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Messages renders errors as the strings stored in a job's validation_errors
func Messages(errs []FieldError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

// ValidateRow checks one mapped record against the schema and returns the
// normalized record, or every field error found in the row. Values are
// trimmed, emails lower-cased and booleans canonicalized to "true"/"false".
// Empty values are left out of the normalized record.
func ValidateRow(s schema.Schema, rec models.Record, rowNumber int) (models.Record, []FieldError) {
	var errs []FieldError
	normalized := make(models.Record, len(rec))

	for _, field := range s.Fields() {
		value := strings.TrimSpace(rec[field])

		if value == "" {
			if s.IsRequired(field) {
				errs = append(errs, FieldError{Field: field, RowNumber: rowNumber, Message: fieldLabel(field) + " is required"})
			}
			continue
		}

		rule, ok := s.RuleFor(field)
		if !ok {
			normalized[field] = value
			continue
		}

		clean, msg := apply(rule, field, value)
		if msg != "" {
			errs = append(errs, FieldError{Field: field, RowNumber: rowNumber, Message: msg})
			continue
		}
		normalized[field] = clean
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

func apply(rule schema.Rule, field, value string) (string, string) {
	switch rule {
	case schema.RuleNonEmpty:
		return value, ""
	case schema.RuleEmail:
		if !emailRegex.MatchString(value) {
			return "", fmt.Sprintf("invalid email format: %q", value)
		}
		return strings.ToLower(value), ""
	case schema.RulePhone:
		if !phoneRegex.MatchString(value) || countDigits(value) < 7 {
			return "", fmt.Sprintf("invalid phone number: %q", value)
		}
		return value, ""
	case schema.RuleBool:
		b, ok := boolValues[strings.ToLower(value)]
		if !ok {
			return "", fmt.Sprintf("%s must be true or false, got %q", fieldLabel(field), value)
		}
		return b, ""
	case schema.RuleURL:
		u, err := url.ParseRequestURI(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Sprintf("invalid URL: %q", value)
		}
		return value, ""
	case schema.RuleMaxLen:
		if n := utf8.RuneCountInString(value); n > MaxFieldLength {
			return "", fmt.Sprintf("%s exceeds maximum length of %d characters (has %d)", fieldLabel(field), MaxFieldLength, n)
		}
		return value, ""
	default:
		return value, ""
	}
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func fieldLabel(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
