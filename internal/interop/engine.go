// Package interop is the conversion engine façade. It owns one shared
// configuration store and template registry and dispatches conversions to
// the parser or generator registered for a wire format. Calls are stateless
// given the shared read-only store, so any number of conversions may run
// concurrently against one Engine.
package interop

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
)

// Format identifies a wire format handled by a registered parser/generator
// pair.
type Format string

const (
	FormatCDA   Format = "cda"
	FormatHL7v2 Format = "hl7v2"
)

// Parser lifts one raw source document into canonical resources, guided by
// the section definitions in the store.
type Parser interface {
	Parse(raw string, store *configstore.Store) ([]model.Resource, error)
}

// Generator renders canonical resources into one target-format document,
// guided by the named document definition.
type Generator interface {
	Generate(resources []model.Resource, documentName string, store *configstore.Store) (string, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine is the conversion façade.
type Engine struct {
	store    *configstore.Store
	registry *template.Registry
	log      zerolog.Logger

	mu         sync.RWMutex
	parsers    map[Format]Parser
	generators map[Format]Generator
}

// New creates an engine around a loaded store and template registry.
// Format handlers are attached with RegisterParser/RegisterGenerator.
func New(store *configstore.Store, registry *template.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		registry:   registry,
		log:        zerolog.Nop(),
		parsers:    make(map[Format]Parser),
		generators: make(map[Format]Generator),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the shared configuration store.
func (e *Engine) Store() *configstore.Store { return e.store }

// Registry returns the shared template registry.
func (e *Engine) Registry() *template.Registry { return e.registry }

// RegisterParser attaches a parser for a source format, replacing any
// previous registration.
func (e *Engine) RegisterParser(f Format, p Parser) {
	e.mu.Lock()
	e.parsers[f] = p
	e.mu.Unlock()
}

// RegisterGenerator attaches a generator for a target format, replacing any
// previous registration.
func (e *Engine) RegisterGenerator(f Format, g Generator) {
	e.mu.Lock()
	e.generators[f] = g
	e.mu.Unlock()
}

// ToCanonical parses a raw document in the given source format into
// canonical resources. An unregistered format is a configuration error and
// produces no partial output.
func (e *Engine) ToCanonical(raw string, sourceFormat Format) ([]model.Resource, error) {
	e.mu.RLock()
	p, ok := e.parsers[sourceFormat]
	e.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Path: "formats." + string(sourceFormat), Msg: "no parser registered"}
	}

	resources, err := p.Parse(raw, e.store)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(resources); err != nil {
		return nil, err
	}
	e.log.Debug().
		Str("format", string(sourceFormat)).
		Int("resources", len(resources)).
		Msg("parsed document")
	return resources, nil
}

// FromCanonical renders canonical resources into a document of the given
// target format, using the named document definition.
func (e *Engine) FromCanonical(resources []model.Resource, targetFormat Format, documentName string) (string, error) {
	e.mu.RLock()
	g, ok := e.generators[targetFormat]
	e.mu.RUnlock()
	if !ok {
		return "", &ConfigError{Path: "formats." + string(targetFormat), Msg: "no generator registered"}
	}

	for _, r := range resources {
		if !model.Valid(r.Type) {
			return "", fmt.Errorf("interop: %w: %q", model.ErrUnknownType, r.Type)
		}
	}
	if err := checkIdentity(resources); err != nil {
		return "", err
	}

	doc, err := g.Generate(resources, documentName, e.store)
	if err != nil {
		return "", err
	}
	e.log.Debug().
		Str("format", string(targetFormat)).
		Str("document", documentName).
		Int("resources", len(resources)).
		Msg("generated document")
	return doc, nil
}

// checkIdentity enforces (resource-type, id) uniqueness within one
// conversion operation.
func checkIdentity(resources []model.Resource) error {
	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		if r.ID == "" {
			return fmt.Errorf("interop: %s resource has empty id", r.Type)
		}
		k := r.Key()
		if seen[k] {
			return fmt.Errorf("interop: duplicate resource identity %s", k)
		}
		seen[k] = true
	}
	return nil
}
