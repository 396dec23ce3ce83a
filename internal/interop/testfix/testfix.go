// Package testfix builds stores, registries, and mapping tables from the
// repository's bundled configuration for use in tests.
package testfix

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/mapping"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
)

// Root returns the repository root, located relative to this source file.
func Root() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..")
}

// Store loads the bundled configuration with the testing environment
// overlay.
func Store(t *testing.T) *configstore.Store {
	t.Helper()
	s, err := configstore.Load(filepath.Join(Root(), "configs"), "testing")
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	return s
}

// Registry loads the bundled templates with the mapCode filter bound to the
// bundled mapping tables.
func Registry(t *testing.T) *template.Registry {
	t.Helper()
	mapCode := mapping.TemplateFilter(map[string]*mapping.Table{
		"cda":   CDATable(t),
		"hl7v2": HL7v2Table(t),
	})
	r, err := template.New(filepath.Join(Root(), "templates"), template.WithFilter("mapCode", mapCode))
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	return r
}

// CDATable loads the bundled CDA mapping tables.
func CDATable(t *testing.T) *mapping.Table {
	t.Helper()
	tbl, err := mapping.LoadDir(filepath.Join(Root(), "mappings", "cda"))
	if err != nil {
		t.Fatalf("load cda mappings: %v", err)
	}
	return tbl
}

// HL7v2Table loads the bundled HL7v2 mapping tables.
func HL7v2Table(t *testing.T) *mapping.Table {
	t.Helper()
	tbl, err := mapping.LoadDir(filepath.Join(Root(), "mappings", "hl7v2"))
	if err != nil {
		t.Fatalf("load hl7v2 mappings: %v", err)
	}
	return tbl
}
