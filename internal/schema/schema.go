package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEntityType is returned when no schema is registered for an entity type
var ErrUnknownEntityType = errors.New("unknown entity type")

// EntityType identifies an importable entity
type EntityType string

const (
	EntityClients  EntityType = "clients"
	EntityContacts EntityType = "contacts"
	EntityNotes    EntityType = "notes"
)

// Rule names a per-field validation rule
type Rule string

const (
	RuleNonEmpty Rule = "non_empty"
	RuleEmail    Rule = "email"
	RulePhone    Rule = "phone"
	RuleBool     Rule = "bool"
	RuleURL      Rule = "url"
	RuleMaxLen   Rule = "max_len"
)

// Schema describes the fields of one entity type
type Schema struct {
	Type       EntityType
	Table      string
	Required   []string
	Optional   []string
	Validators map[string]Rule
	// DedupKey is the field used to find an existing record. Empty disables dedup.
	DedupKey string
	// Searchable fields are matched by the export "search" filter.
	Searchable []string
}

var registry = map[EntityType]Schema{
	EntityClients: {
		Type:     EntityClients,
		Table:    "clients",
		Required: []string{"name"},
		Optional: []string{
			"email", "phone", "company", "address", "city", "state",
			"postal_code", "country", "website", "notes",
		},
		Validators: map[string]Rule{
			"name":    RuleMaxLen,
			"email":   RuleEmail,
			"phone":   RulePhone,
			"website": RuleURL,
		},
		DedupKey:   "email",
		Searchable: []string{"name", "email", "company"},
	},
	EntityContacts: {
		Type:     EntityContacts,
		Table:    "contacts",
		Required: []string{"first_name", "last_name"},
		Optional: []string{"email", "phone", "job_title", "is_primary"},
		Validators: map[string]Rule{
			"first_name": RuleMaxLen,
			"last_name":  RuleMaxLen,
			"email":      RuleEmail,
			"phone":      RulePhone,
			"is_primary": RuleBool,
		},
		DedupKey:   "email",
		Searchable: []string{"first_name", "last_name", "email"},
	},
	EntityNotes: {
		Type:     EntityNotes,
		Table:    "notes",
		Required: []string{"content"},
		Optional: []string{"subject", "is_pinned"},
		Validators: map[string]Rule{
			"subject":   RuleMaxLen,
			"is_pinned": RuleBool,
		},
		Searchable: []string{"subject", "content"},
	},
}

// order fixes the listing order of Types
var order = []EntityType{EntityClients, EntityContacts, EntityNotes}

// For returns the schema registered for the entity type
func For(t EntityType) (Schema, error) {
	s, ok := registry[EntityType(strings.ToLower(strings.TrimSpace(string(t))))]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return s, nil
}

// Types lists all registered entity types
func Types() []EntityType {
	out := make([]EntityType, len(order))
	copy(out, order)
	return out
}

// Fields returns required then optional fields in their declared order.
// This is the column order used for exports and templates.
func (s Schema) Fields() []string {
	fields := make([]string, 0, len(s.Required)+len(s.Optional))
	fields = append(fields, s.Required...)
	return append(fields, s.Optional...)
}

// HasField reports whether name is a required or optional field
func (s Schema) HasField(name string) bool {
	return s.IsRequired(name) || contains(s.Optional, name)
}

// IsRequired reports whether name is a required field
func (s Schema) IsRequired(name string) bool {
	return contains(s.Required, name)
}

// RuleFor returns the validator declared for a field, if any
func (s Schema) RuleFor(field string) (Rule, bool) {
	r, ok := s.Validators[field]
	return r, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
