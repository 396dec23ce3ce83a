package extract_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/extract"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/testfix"
)

func resultsDef() configstore.SectionDefinition {
	return configstore.SectionDefinition{
		Name:         "results",
		ResourceType: "Observation",
		Required:     []string{"code", "value"},
		Fields: map[string]string{
			"code":    "code",
			"system":  "system",
			"display": "display",
			"status":  "status",
			"date":    "date",
			"value":   "value",
			"unit":    "unit",
		},
	}
}

func TestResourceTranslatesCoding(t *testing.T) {
	s := extract.Slots{
		ID:     "obs-1",
		Code:   "2345-7",
		System: "LN",
		Value:  "95",
		Unit:   "mg/dL",
	}
	r, err := extract.Resource(resultsDef(), s, "Patient/p-1", testfix.HL7v2Table(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if r.Type != model.TypeObservation || r.ID != "obs-1" {
		t.Fatalf("resource = %s", r.Key())
	}
	if r.Fields["system"] != "http://loinc.org" {
		t.Fatalf("system not translated: %q", r.Fields["system"])
	}
	if r.Fields["subject"] != "Patient/p-1" {
		t.Fatalf("subject = %q", r.Fields["subject"])
	}
}

func TestResourceKeepsUnmappedCoding(t *testing.T) {
	s := extract.Slots{ID: "obs-2", Code: "X-1", System: "LOCAL", Display: "house code", Value: "1"}
	r, err := extract.Resource(resultsDef(), s, "", testfix.HL7v2Table(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if r.Fields["code"] != "X-1" || r.Fields["system"] != "LOCAL" || r.Fields["display"] != "house code" {
		t.Fatalf("unmapped coding altered: %v", r.Fields)
	}
}

func TestResourceGeneratesIDWhenAbsent(t *testing.T) {
	r, err := extract.Resource(resultsDef(), extract.Slots{Value: "1"}, "", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestResourceRejectsUnknownSlot(t *testing.T) {
	def := resultsDef()
	def.Fields = map[string]string{"severity": "status"}

	_, err := extract.Resource(def, extract.Slots{}, "", nil, zerolog.Nop())
	var cfgErr *configstore.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestResourceRejectsUndeclaredField(t *testing.T) {
	def := resultsDef()
	def.Fields = map[string]string{"value": "dosage"} // not an Observation field

	_, err := extract.Resource(def, extract.Slots{Value: "1"}, "", nil, zerolog.Nop())
	var cfgErr *configstore.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestResourceRejectsUnknownResourceType(t *testing.T) {
	def := resultsDef()
	def.ResourceType = "Specimen"

	_, err := extract.Resource(def, extract.Slots{}, "", nil, zerolog.Nop())
	var cfgErr *configstore.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
