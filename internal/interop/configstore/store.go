// Package configstore loads the layered YAML configuration that drives both
// parsing and generation: engine defaults, an environment overlay, and the
// per-document and per-section definitions. A Store is built once and then
// shared read-only by any number of parser and generator instances.
package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// ConfigError reports a missing or malformed definition. It is fatal and
// never defaulted: an omitted section definition would silently drop
// clinical sections from output.
type ConfigError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CDABinding declares how a section is recognised in and rendered to CDA.
// A section matches when the document section carries the template id, or
// when its code and code system both match.
type CDABinding struct {
	TemplateID      string `yaml:"template_id"`
	Code            string `yaml:"code"`
	CodeSystem      string `yaml:"code_system"`
	EntryKind       string `yaml:"entry_kind"` // act, observation, substance_administration, organizer, procedure, encounter
	SectionTemplate string `yaml:"section_template"`
	EntryTemplate   string `yaml:"entry_template"`
}

// HL7v2Binding declares how a section is recognised in and rendered to
// HL7v2. Field indices are 1-based segment field positions; the code field
// is read as a CE triple (code^display^system).
type HL7v2Binding struct {
	Segment       string `yaml:"segment"`
	CodeField     int    `yaml:"code_field"`
	StatusField   int    `yaml:"status_field"`
	DateField     int    `yaml:"date_field"`
	ValueField    int    `yaml:"value_field"`
	UnitField     int    `yaml:"unit_field"`
	EntryTemplate string `yaml:"entry_template"`
}

// SectionDefinition declares one clinical section: the markers used to
// recognise it in a source document and the resource type and templates
// used to extract and render it. Definitions are immutable after load.
//
// Fields maps extraction slots (code, system, display, status, date, value,
// unit, text) to canonical field names, so the same generic extraction
// routine serves every section shape.
type SectionDefinition struct {
	Name          string            `yaml:"name"`
	Title         string            `yaml:"title"`
	ResourceType  string            `yaml:"resource_type"`
	RenderIfEmpty bool              `yaml:"render_if_empty"`
	Required      []string          `yaml:"required"` // canonical fields that trigger a partial-data warning when absent
	Fields        map[string]string `yaml:"fields"`
	CDA           CDABinding        `yaml:"cda"`
	HL7v2         HL7v2Binding      `yaml:"hl7v2"`
}

// DocumentDefinition declares document-level identity, structure, and
// rendering options for one target document type.
type DocumentDefinition struct {
	Name            string   `yaml:"name"`
	Format          string   `yaml:"format"` // cda or hl7v2
	Title           string   `yaml:"title"`
	TypeCode        string   `yaml:"type_code"`
	TypeCodeSystem  string   `yaml:"type_code_system"`
	TypeDisplay     string   `yaml:"type_display"`
	Confidentiality string   `yaml:"confidentiality"`
	Language        string   `yaml:"language"`
	Realm           string   `yaml:"realm"`
	MessageType     string   `yaml:"message_type"` // hl7v2 only, e.g. ORU^R01
	Sections        []string `yaml:"sections"`     // declaration order is output order
	IncludeHeader   bool     `yaml:"include_header"`
	PrettyPrint     bool     `yaml:"pretty_print"`
	Narrative       bool     `yaml:"narrative"`
	SegmentEnd      string   `yaml:"segment_terminator"` // hl7v2 only, defaults to \r
	DocumentTemplate string  `yaml:"document_template"`

	// Overrides are deep-merged over the store view when the document file
	// is loaded; later files win.
	Overrides map[string]any `yaml:"overrides"`
}

// Store is the merged, read-only configuration view. Layering order, later
// wins: built-in defaults, defaults.yaml, environments/<env>.yaml, then any
// per-document and per-section overrides. Map keys deep-merge; list values
// are replaced wholesale.
type Store struct {
	baseDir     string
	environment string
	v           *viper.Viper
	sections    []SectionDefinition
	documents   map[string]DocumentDefinition
}

// BaseDir returns the directory the store was loaded from.
func (s *Store) BaseDir() string { return s.baseDir }

// Environment returns the environment overlay name the store was loaded with.
func (s *Store) Environment() string { return s.environment }

// Get returns the value at a dotted configuration path.
func (s *Store) Get(path ...string) (any, bool) {
	key := strings.Join(path, ".")
	if !s.v.IsSet(key) {
		return nil, false
	}
	return s.v.Get(key), true
}

// GetString returns a string value, or "" when unset.
func (s *Store) GetString(path ...string) string {
	return s.v.GetString(strings.Join(path, "."))
}

// GetBool returns a bool value, or false when unset.
func (s *Store) GetBool(path ...string) bool {
	return s.v.GetBool(strings.Join(path, "."))
}

// Sections returns all section definitions in declaration order (lexical
// file order within sections/). The returned slice must not be mutated.
func (s *Store) Sections() []SectionDefinition { return s.sections }

// Section returns the definition with the given name.
func (s *Store) Section(name string) (SectionDefinition, error) {
	for _, def := range s.sections {
		if def.Name == name {
			return def, nil
		}
	}
	return SectionDefinition{}, &ConfigError{Path: "sections." + name, Msg: "section is not defined"}
}

// Document returns the document definition with the given name.
func (s *Store) Document(name string) (DocumentDefinition, error) {
	def, ok := s.documents[name]
	if !ok {
		return DocumentDefinition{}, &ConfigError{Path: "documents." + name, Msg: "document is not defined"}
	}
	return def, nil
}

// Documents returns the names of all loaded document definitions, sorted.
func (s *Store) Documents() []string {
	names := make([]string, 0, len(s.documents))
	for n := range s.documents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Option configures a Loader.
type Option func(*Loader)

// WithoutCache disables store caching regardless of the performance.*
// settings in the loaded configuration. Development workflows use this for
// reload-on-change behaviour.
func WithoutCache() Option {
	return func(l *Loader) { l.noCache = true }
}

// Loader loads stores and optionally caches them keyed by (baseDir,
// environment). The cache is held on the Loader, not in package state, so
// callers control its lifetime.
type Loader struct {
	mu      sync.Mutex
	cache   map[string]*Store
	noCache bool
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{cache: make(map[string]*Store)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds (or returns a cached) Store for the base directory and
// environment. Caching applies only when the loaded configuration enables
// performance.cache_templates or performance.cache_mappings.
func (l *Loader) Load(baseDir, environment string) (*Store, error) {
	key := baseDir + "|" + environment

	l.mu.Lock()
	if s, ok := l.cache[key]; ok && !l.noCache {
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	s, err := load(baseDir, environment)
	if err != nil {
		return nil, err
	}

	if !l.noCache && (s.GetBool("performance", "cache_templates") || s.GetBool("performance", "cache_mappings")) {
		l.mu.Lock()
		l.cache[key] = s
		l.mu.Unlock()
	}
	return s, nil
}

// Load reads the configuration fresh from disk, bypassing any cache.
func Load(baseDir, environment string) (*Store, error) {
	return load(baseDir, environment)
}

func load(baseDir, environment string) (*Store, error) {
	if _, err := os.Stat(baseDir); err != nil {
		return nil, &ConfigError{Path: baseDir, Msg: "configuration directory not readable", Err: err}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setBuiltinDefaults(v)

	// Base layer.
	if err := mergeFile(v, filepath.Join(baseDir, "defaults.yaml"), false); err != nil {
		return nil, err
	}
	// Environment overlay.
	if environment != "" {
		envPath := filepath.Join(baseDir, "environments", environment+".yaml")
		if err := mergeFile(v, envPath, true); err != nil {
			return nil, err
		}
	}

	s := &Store{
		baseDir:     baseDir,
		environment: environment,
		v:           v,
		documents:   make(map[string]DocumentDefinition),
	}

	if err := s.loadSections(filepath.Join(baseDir, "sections")); err != nil {
		return nil, err
	}
	if err := s.loadDocuments(filepath.Join(baseDir, "documents")); err != nil {
		return nil, err
	}
	if len(s.sections) == 0 {
		return nil, &ConfigError{Path: filepath.Join(baseDir, "sections"), Msg: "no section definitions found"}
	}
	return s, nil
}

// setBuiltinDefaults seeds the lowest layer. Every later layer wins.
func setBuiltinDefaults(v *viper.Viper) {
	v.SetDefault("performance.cache_templates", false)
	v.SetDefault("performance.cache_mappings", false)
	v.SetDefault("performance.batch_size", 100)
	v.SetDefault("templates.reload_on_change", true)
	v.SetDefault("validation.strict_mode", false)
	v.SetDefault("validation.warn_on_missing", true)
	v.SetDefault("validation.ignore_unknown_fields", false)
	v.SetDefault("defaults.id_prefix", "hc-")
	v.SetDefault("defaults.subject_system", "urn:healthchain:patient")
	v.SetDefault("mappings_dir", "mappings")
}

func mergeFile(v *viper.Viper, path string, optional bool) error {
	f, err := os.Open(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return &ConfigError{Path: path, Msg: "cannot open configuration layer", Err: err}
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return &ConfigError{Path: path, Msg: "malformed configuration layer", Err: err}
	}
	return nil
}

func (s *Store) loadSections(dir string) error {
	paths, err := yamlFiles(dir)
	if err != nil {
		return err
	}
	seen := make(map[string]string)
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return &ConfigError{Path: path, Msg: "cannot read section definition", Err: err}
		}
		var def SectionDefinition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return &ConfigError{Path: path, Msg: "malformed section definition", Err: err}
		}
		if def.Name == "" {
			return &ConfigError{Path: path, Msg: "section definition has no name"}
		}
		if prev, dup := seen[def.Name]; dup {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("section %q already declared in %s", def.Name, prev)}
		}
		if def.ResourceType == "" {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("section %q declares no resource_type", def.Name)}
		}
		if len(def.Fields) == 0 {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("section %q declares no field rules", def.Name)}
		}
		seen[def.Name] = path
		s.sections = append(s.sections, def)
	}
	return nil
}

func (s *Store) loadDocuments(dir string) error {
	paths, err := yamlFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return &ConfigError{Path: path, Msg: "cannot read document definition", Err: err}
		}
		var def DocumentDefinition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return &ConfigError{Path: path, Msg: "malformed document definition", Err: err}
		}
		if def.Name == "" {
			return &ConfigError{Path: path, Msg: "document definition has no name"}
		}
		if _, dup := s.documents[def.Name]; dup {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("document %q already declared", def.Name)}
		}
		if def.Format != "cda" && def.Format != "hl7v2" {
			return &ConfigError{Path: path, Msg: fmt.Sprintf("document %q has unsupported format %q", def.Name, def.Format)}
		}
		for _, name := range def.Sections {
			if _, err := s.Section(name); err != nil {
				return &ConfigError{Path: path, Msg: fmt.Sprintf("document %q references undefined section %q", def.Name, name)}
			}
		}
		if len(def.Overrides) > 0 {
			if err := s.v.MergeConfigMap(def.Overrides); err != nil {
				return &ConfigError{Path: path, Msg: "malformed overrides", Err: err}
			}
		}
		applyDocumentDefaults(&def, s)
		s.documents[def.Name] = def
	}
	return nil
}

// applyDocumentDefaults fills unset document fields from the defaults.*
// namespace of the merged view.
func applyDocumentDefaults(def *DocumentDefinition, s *Store) {
	if def.Language == "" {
		def.Language = s.GetString("defaults", "language")
	}
	if def.Confidentiality == "" {
		def.Confidentiality = s.GetString("defaults", "confidentiality")
	}
	if def.Realm == "" {
		def.Realm = s.GetString("defaults", "realm")
	}
	if def.SegmentEnd == "" {
		def.SegmentEnd = "\r"
	}
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ConfigError{Path: dir, Msg: "cannot read definition directory", Err: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
