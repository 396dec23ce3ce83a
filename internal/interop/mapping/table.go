// Package mapping implements the bidirectional code translation table used
// by parsers (wire system -> canonical system) and generators (canonical ->
// wire). Tables are authored as flat CSV files, one row per code pair, and
// both directions are indexed at load time so lookup is O(1) either way.
//
// Codes and systems are whitespace-trimmed on load and on lookup, and
// compared case-sensitively: clinical code systems (SNOMED CT, LOINC,
// RxNorm, ICD-10) define codes as case-significant identifiers.
package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Direction selects which side of an authored table acts as the lookup
// source. Tables are authored wire-side -> canonical-side, so parsers use
// SourceToTarget and generators use TargetToSource.
type Direction int

const (
	SourceToTarget Direction = iota
	TargetToSource
)

// Translation is the result of a successful lookup.
type Translation struct {
	System  string
	Code    string
	Display string
}

// Entry is one authored mapping row.
type Entry struct {
	SourceSystem  string
	SourceCode    string
	SourceDisplay string
	TargetSystem  string
	TargetCode    string
	TargetDisplay string
}

type key struct {
	system string
	code   string
}

// Table holds both direction indexes. It is immutable after load and safe
// for concurrent use.
type Table struct {
	forward map[key]Translation
	reverse map[key]Translation
	entries []Entry
}

// columns is the required CSV header.
var columns = []string{"source_system", "source_code", "source_display", "target_system", "target_code", "target_display"}

// LoadDir loads every *.csv file in dir in lexical order. Later files
// override earlier entries with the same (system, code) key.
func LoadDir(dir string) (*Table, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("mapping: bad directory %q: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("mapping: no mapping tables in %q", dir)
	}
	sort.Strings(matches)

	t := &Table{
		forward: make(map[key]Translation),
		reverse: make(map[key]Translation),
	}
	for _, path := range matches {
		if err := t.loadFile(path); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mapping: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("mapping: %s: cannot read header: %w", path, err)
	}
	if len(header) != len(columns) {
		return fmt.Errorf("mapping: %s: expected header %v", path, columns)
	}
	for i, col := range columns {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("mapping: %s: column %d must be %q, got %q", path, i+1, col, header[i])
		}
	}

	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mapping: %s line %d: %w", path, line+1, err)
		}
		line++

		e := Entry{
			SourceSystem:  strings.TrimSpace(record[0]),
			SourceCode:    strings.TrimSpace(record[1]),
			SourceDisplay: strings.TrimSpace(record[2]),
			TargetSystem:  strings.TrimSpace(record[3]),
			TargetCode:    strings.TrimSpace(record[4]),
			TargetDisplay: strings.TrimSpace(record[5]),
		}
		if e.SourceSystem == "" || e.SourceCode == "" || e.TargetSystem == "" || e.TargetCode == "" {
			return fmt.Errorf("mapping: %s line %d: system and code columns must be non-empty", path, line)
		}
		t.add(e)
	}
}

func (t *Table) add(e Entry) {
	t.entries = append(t.entries, e)
	t.forward[key{e.SourceSystem, e.SourceCode}] = Translation{
		System:  e.TargetSystem,
		Code:    e.TargetCode,
		Display: e.TargetDisplay,
	}
	t.reverse[key{e.TargetSystem, e.TargetCode}] = Translation{
		System:  e.SourceSystem,
		Code:    e.SourceCode,
		Display: e.SourceDisplay,
	}
}

// Translate looks up a code. Unmapped codes return ok=false; the caller
// decides the fallback representation (omit the coded value or emit the
// format's unknown flavor). Lookups never fail hard.
func (t *Table) Translate(system, code string, dir Direction) (Translation, bool) {
	k := key{strings.TrimSpace(system), strings.TrimSpace(code)}
	var (
		tr Translation
		ok bool
	)
	switch dir {
	case SourceToTarget:
		tr, ok = t.forward[k]
	case TargetToSource:
		tr, ok = t.reverse[k]
	}
	return tr, ok
}

// Entries returns all loaded rows in load order, including overridden ones.
// Used by invertibility checks and diagnostics.
func (t *Table) Entries() []Entry { return t.entries }

// Len returns the number of distinct forward keys.
func (t *Table) Len() int { return len(t.forward) }
