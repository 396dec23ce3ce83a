// Package model defines the canonical resource representation that all
// conversions route through. The resource set is closed: every resource
// type carries a declared field schema, and looking up a field outside
// that schema is an error rather than a silent empty value.
package model

import (
	"errors"
	"fmt"
	"sort"
)

// Type is the canonical resource type discriminator.
type Type string

const (
	TypePatient             Type = "Patient"
	TypeCondition           Type = "Condition"
	TypeMedicationStatement Type = "MedicationStatement"
	TypeAllergyIntolerance  Type = "AllergyIntolerance"
	TypeObservation         Type = "Observation"
	TypeProcedure           Type = "Procedure"
	TypeImmunization        Type = "Immunization"
	TypeEncounter           Type = "Encounter"
	TypeDocumentReference   Type = "DocumentReference"
)

// ErrUnknownField is returned when a field name is not part of a resource
// type's declared schema.
var ErrUnknownField = errors.New("model: unknown field")

// ErrUnknownType is returned when a resource type is not part of the
// canonical set.
var ErrUnknownType = errors.New("model: unknown resource type")

// fieldSchema declares the closed field set per resource type. Field values
// are strings; dates use ISO-8601 (YYYY-MM-DD), coded values are split into
// code/system/display triples.
var fieldSchema = map[Type][]string{
	TypePatient:             {"identifier", "name", "gender", "birthDate"},
	TypeCondition:           {"subject", "code", "system", "display", "clinicalStatus", "onsetDate"},
	TypeMedicationStatement: {"subject", "code", "system", "display", "status", "dosage", "startDate"},
	TypeAllergyIntolerance:  {"subject", "code", "system", "display", "clinicalStatus", "reaction"},
	TypeObservation:         {"subject", "code", "system", "display", "status", "value", "unit", "date"},
	TypeProcedure:           {"subject", "code", "system", "display", "status", "date"},
	TypeImmunization:        {"subject", "code", "system", "display", "status", "date"},
	TypeEncounter:           {"subject", "code", "system", "display", "status", "class", "date"},
	TypeDocumentReference:   {"subject", "title", "text", "status", "date"},
}

var schemaSets = func() map[Type]map[string]bool {
	out := make(map[Type]map[string]bool, len(fieldSchema))
	for t, names := range fieldSchema {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		out[t] = set
	}
	return out
}()

// Valid reports whether t is part of the canonical resource set.
func Valid(t Type) bool {
	_, ok := fieldSchema[t]
	return ok
}

// FieldNames returns the declared field names for a resource type, sorted.
func FieldNames(t Type) []string {
	names := append([]string(nil), fieldSchema[t]...)
	sort.Strings(names)
	return names
}

// Resource is one canonical clinical resource. It is created by a parser or
// an external caller and treated as immutable by generators.
type Resource struct {
	Type   Type              `json:"resourceType"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// New creates an empty resource of the given type.
func New(t Type, id string) (Resource, error) {
	if !Valid(t) {
		return Resource{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return Resource{Type: t, ID: id, Fields: make(map[string]string)}, nil
}

// Key returns the "Type/ID" identity string used for uniqueness checks and
// subject references.
func (r Resource) Key() string {
	return string(r.Type) + "/" + r.ID
}

// Field returns the value of a declared field. The second return reports
// whether the field carries a value; an undeclared name is an error.
func (r Resource) Field(name string) (string, bool, error) {
	if !schemaSets[r.Type][name] {
		return "", false, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.Type, name)
	}
	v, ok := r.Fields[name]
	return v, ok && v != "", nil
}

// Set assigns a declared field. Empty values are dropped so that absence is
// represented uniformly as a missing key.
func (r Resource) Set(name, value string) error {
	if !schemaSets[r.Type][name] {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, r.Type, name)
	}
	if value == "" {
		delete(r.Fields, name)
		return nil
	}
	r.Fields[name] = value
	return nil
}

// Subject returns the subject reference ("Patient/<id>") if the resource
// declares one, or "" for resource types without a subject field.
func (r Resource) Subject() string {
	if !schemaSets[r.Type]["subject"] {
		return ""
	}
	return r.Fields["subject"]
}

// Clone returns a deep copy. Generators copy resources before rewriting
// coded fields into the target coding system so the caller's inputs are
// never mutated.
func (r Resource) Clone() Resource {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Resource{Type: r.Type, ID: r.ID, Fields: fields}
}
