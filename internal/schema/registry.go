// Package schema is the versioned catalog of accepted usage event
// shapes. Entries validate inbound payloads and derive the public
// structural description served by the discovery endpoints.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// FieldType classifies a schema field for validation and rendering.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldUnknown FieldType = "unknown"
)

// Status gates whether new events of a type are accepted.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusDeprecated Status = "DEPRECATED"
)

// Field is one named field of an event shape.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
}

// EventSchema is one registered (eventType, version) entry.
type EventSchema struct {
	EventType   string
	Version     int
	Status      Status
	Description string
	Fields      []Field
}

// Issue is a single field-level validation problem.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	ErrSchemaNotFound   = errors.New("schema_not_found")
	ErrSchemaExists     = errors.New("schema_exists")
	ErrInvalidSchema    = errors.New("invalid_schema")
	ErrSchemaDeprecated = errors.New("schema_deprecated")
)

// MeterName derives the meter for an event type by stripping the
// trailing version segment: "llm.tokens.v1" -> "llm.tokens".
func MeterName(eventType string) string {
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 {
		return eventType
	}
	return strings.Join(parts[:len(parts)-1], ".")
}

// Registry holds the registered event schemas in registration order.
// Registration happens at startup; reads are concurrent afterwards.
type Registry struct {
	mu      sync.RWMutex
	ordered []EventSchema
	byType  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byType: map[string]int{}}
}

// Register appends an entry. Duplicate event types are rejected.
func (r *Registry) Register(entry EventSchema) error {
	entry.EventType = strings.TrimSpace(entry.EventType)
	if entry.EventType == "" || entry.Version <= 0 {
		return ErrInvalidSchema
	}
	if entry.Status == "" {
		entry.Status = StatusActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[entry.EventType]; ok {
		return ErrSchemaExists
	}
	r.byType[entry.EventType] = len(r.ordered)
	r.ordered = append(r.ordered, entry)
	return nil
}

// All returns every registered entry in registration order.
func (r *Registry) All() []EventSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventSchema, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Get returns the entry for eventType or ErrSchemaNotFound.
func (r *Registry) Get(eventType string) (EventSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byType[strings.TrimSpace(eventType)]
	if !ok {
		return EventSchema{}, ErrSchemaNotFound
	}
	return r.ordered[idx], nil
}

// MeterNames returns the distinct derived meter names, in registration
// order of their first event type.
func (r *Registry) MeterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, entry := range r.ordered {
		meter := MeterName(entry.EventType)
		if seen[meter] {
			continue
		}
		seen[meter] = true
		out = append(out, meter)
	}
	return out
}

// EventTypes returns every registered event type in registration order.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ordered))
	for _, entry := range r.ordered {
		out = append(out, entry.EventType)
	}
	return out
}

// Validate checks payload against the entry's shape and returns the
// itemized field issues. A DEPRECATED entry still validates; write
// gating is done separately via AcceptsWrites.
func (r *Registry) Validate(eventType string, payload map[string]any) ([]Issue, error) {
	entry, err := r.Get(eventType)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	for _, field := range entry.Fields {
		value, present := payload[field.Name]
		if !present {
			if !field.Optional {
				issues = append(issues, Issue{
					Field:   field.Name,
					Code:    "required",
					Message: fmt.Sprintf("field %q is required", field.Name),
				})
			}
			continue
		}
		if issue := checkType(field, value); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

// AcceptsWrites reports whether new events of this type may be
// ingested. DEPRECATED entries remain readable for discovery but
// reject new writes.
func (r *Registry) AcceptsWrites(eventType string) error {
	entry, err := r.Get(eventType)
	if err != nil {
		return err
	}
	if entry.Status == StatusDeprecated {
		return ErrSchemaDeprecated
	}
	return nil
}

func checkType(field Field, value any) *Issue {
	switch field.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return typeIssue(field.Name, "string")
		}
	case FieldInteger:
		switch v := value.(type) {
		case float64:
			// JSON numbers decode as float64; accept integral values only
			if v != math.Trunc(v) {
				return typeIssue(field.Name, "integer")
			}
		case int, int64:
		default:
			return typeIssue(field.Name, "integer")
		}
	case FieldNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return typeIssue(field.Name, "number")
		}
	case FieldUnknown:
		// anything goes
	}
	return nil
}

func typeIssue(name, want string) *Issue {
	return &Issue{
		Field:   name,
		Code:    "type",
		Message: fmt.Sprintf("field %q must be a %s", name, want),
	}
}
