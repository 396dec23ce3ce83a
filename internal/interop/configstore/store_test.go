package configstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

const minimalSection = `name: problems
title: Problems
resource_type: Condition
fields:
  code: code
cda:
  template_id: 2.16.840.1.113883.10.20.22.2.5.1
hl7v2:
  segment: DG1
  code_field: 3
`

func minimalTree(t *testing.T) string {
	root := t.TempDir()
	writeConfig(t, root, "defaults.yaml", `defaults:
  language: en-US
  confidentiality: N
  realm: US
performance:
  batch_size: 50
`)
	writeConfig(t, root, "sections/problems.yaml", minimalSection)
	writeConfig(t, root, "documents/ccd.yaml", `name: ccd
format: cda
title: Summary
sections:
  - problems
`)
	return root
}

func TestLayeringLaterWins(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "environments/testing.yaml", `defaults:
  language: de-DE
`)

	s, err := Load(root, "testing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.GetString("defaults", "language"); got != "de-DE" {
		t.Fatalf("environment overlay lost: language = %q", got)
	}
	// Untouched keys survive from the base layer.
	if got := s.GetString("defaults", "confidentiality"); got != "N" {
		t.Fatalf("base layer lost: confidentiality = %q", got)
	}
	// Built-in defaults sit below both.
	if got, ok := s.Get("performance", "batch_size"); !ok || got.(int) != 50 {
		t.Fatalf("batch_size = %v ok=%v", got, ok)
	}
}

func TestMissingEnvironmentOverlayIsOptional(t *testing.T) {
	root := minimalTree(t)
	if _, err := Load(root, "staging"); err != nil {
		t.Fatalf("missing overlay should not fail: %v", err)
	}
}

func TestDocumentDefaultsApplied(t *testing.T) {
	root := minimalTree(t)
	s, err := Load(root, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, err := s.Document("ccd")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Language != "en-US" || doc.Confidentiality != "N" || doc.Realm != "US" {
		t.Fatalf("document defaults not applied: %+v", doc)
	}
	if doc.SegmentEnd != "\r" {
		t.Fatalf("SegmentEnd = %q, want carriage return", doc.SegmentEnd)
	}
}

func TestDocumentListsReplaceWholesale(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "sections/allergies.yaml", `name: allergies
title: Allergies
resource_type: AllergyIntolerance
fields:
  code: code
`)
	writeConfig(t, root, "documents/short.yaml", `name: short
format: cda
sections:
  - allergies
`)

	s, err := Load(root, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, _ := s.Document("short")
	if len(doc.Sections) != 1 || doc.Sections[0] != "allergies" {
		t.Fatalf("section list merged instead of replaced: %v", doc.Sections)
	}
}

func TestDuplicateSectionRejected(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "sections/zz-dup.yaml", minimalSection)

	var cfgErr *ConfigError
	if _, err := Load(root, ""); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for duplicate section, got %v", err)
	}
}

func TestUndefinedSectionReferenceRejected(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "documents/broken.yaml", `name: broken
format: cda
sections:
  - vitals
`)
	if _, err := Load(root, ""); err == nil {
		t.Fatal("expected error for undefined section reference")
	}
}

func TestUnsupportedFormatRejected(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "documents/broken.yaml", `name: broken
format: fhir-json
sections:
  - problems
`)
	if _, err := Load(root, ""); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSectionLookup(t *testing.T) {
	root := minimalTree(t)
	s, err := Load(root, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, err := s.Section("problems")
	if err != nil {
		t.Fatalf("Section: %v", err)
	}
	if def.ResourceType != "Condition" || def.HL7v2.CodeField != 3 {
		t.Fatalf("definition = %+v", def)
	}

	var cfgErr *ConfigError
	if _, err := s.Section("vitals"); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoaderCachesWhenEnabled(t *testing.T) {
	root := minimalTree(t)
	writeConfig(t, root, "environments/cached.yaml", `performance:
  cache_templates: true
`)

	l := NewLoader()
	first, err := l.Load(root, "cached")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	second, err := l.Load(root, "cached")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first != second {
		t.Fatal("expected cached store to be reused")
	}

	uncached := NewLoader(WithoutCache())
	a, _ := uncached.Load(root, "cached")
	b, _ := uncached.Load(root, "cached")
	if a == b {
		t.Fatal("WithoutCache loader should rebuild the store")
	}
}

func TestLoaderSkipsCacheWhenDisabled(t *testing.T) {
	root := minimalTree(t)

	l := NewLoader()
	a, err := l.Load(root, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, _ := l.Load(root, "")
	if a == b {
		t.Fatal("store cached although performance caching is off")
	}
}

func TestMissingDirectoryFails(t *testing.T) {
	var cfgErr *ConfigError
	if _, err := Load(filepath.Join(t.TempDir(), "nope"), ""); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
