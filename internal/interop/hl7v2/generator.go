package hl7v2

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/mapping"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
)

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the generator clock. Tests pin it for reproducible
// output; production uses time.Now.
func WithClock(clock func() time.Time) GeneratorOption {
	return func(g *Generator) { g.clock = clock }
}

// WithGeneratorLogger sets the generator logger.
func WithGeneratorLogger(log zerolog.Logger) GeneratorOption {
	return func(g *Generator) { g.log = log }
}

// Generator renders canonical resources into an HL7v2 message, driven by a
// document definition and the template registry. Templates emit one
// segment per line; the generator normalises line breaks to the document's
// segment terminator.
type Generator struct {
	registry *template.Registry
	table    *mapping.Table
	clock    func() time.Time
	log      zerolog.Logger
}

// NewGenerator creates an HL7v2 generator translating coded values through
// the given mapping table (canonical URIs back to wire coding-system
// names).
func NewGenerator(registry *template.Registry, table *mapping.Table, opts ...GeneratorOption) *Generator {
	g := &Generator{
		registry: registry,
		table:    table,
		clock:    time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements interop.Generator.
func (g *Generator) Generate(resources []model.Resource, documentName string, store *configstore.Store) (string, error) {
	doc, err := store.Document(documentName)
	if err != nil {
		return "", err
	}
	if doc.Format != "hl7v2" {
		return "", &configstore.ConfigError{
			Path: "documents." + documentName + ".format",
			Msg:  "document is not an hl7v2 document",
		}
	}

	subject := findSubject(resources)
	byType := groupByType(resources)

	now := g.clock()
	docID := model.DocumentID(documentName, resources)
	controlID := strings.ToUpper(strings.ReplaceAll(docID, "-", ""))[:20]

	var body strings.Builder
	for _, sectionName := range doc.Sections {
		def, err := store.Section(sectionName)
		if err != nil {
			return "", err
		}
		members := byType[model.Type(def.ResourceType)]
		if len(members) == 0 && !def.RenderIfEmpty {
			continue
		}
		entryTmpl := def.HL7v2.EntryTemplate
		if entryTmpl == "" {
			entryTmpl = "hl7v2/entry/" + def.HL7v2.Segment
		}
		for i, r := range members {
			rendered, err := g.registry.Render(entryTmpl, template.Context{
				Now:      now,
				DocID:    docID,
				Document: doc,
				Section:  def,
				Resource: g.toWire(def, r),
				Subject:  subject,
				Index:    i + 1,
			})
			if err != nil {
				return "", err
			}
			body.WriteString(rendered)
			if !strings.HasSuffix(rendered, "\n") {
				body.WriteString("\n")
			}
		}
	}

	tmpl := doc.DocumentTemplate
	if tmpl == "" {
		tmpl = "hl7v2/document/" + doc.Name
	}
	out, err := g.registry.Render(tmpl, template.Context{
		Now:       now,
		DocID:     docID,
		ControlID: controlID,
		Document:  doc,
		Subject:   subject,
		Body:      body.String(),
	})
	if err != nil {
		return "", err
	}
	return joinSegments(out, doc.SegmentEnd), nil
}

// joinSegments drops blank lines produced by template control flow and
// rejoins segments with the configured terminator.
func joinSegments(rendered, terminator string) string {
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(rendered)
	var segments []string
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		segments = append(segments, line)
	}
	return strings.Join(segments, terminator) + terminator
}

// toWire clones a resource and translates its coding canonical-to-wire. On
// a mapping miss the code and system are cleared so the template falls
// back to its unknown convention.
func (g *Generator) toWire(def configstore.SectionDefinition, r model.Resource) model.Resource {
	wire := r.Clone()
	system := wire.Fields["system"]
	code := wire.Fields["code"]
	if system == "" || code == "" || g.table == nil {
		return wire
	}
	if tr, ok := g.table.Translate(system, code, mapping.TargetToSource); ok {
		wire.Fields["system"] = tr.System
		wire.Fields["code"] = tr.Code
		if wire.Fields["display"] == "" && tr.Display != "" {
			wire.Fields["display"] = tr.Display
		}
		return wire
	}
	g.log.Warn().
		Str("section", def.Name).
		Str("system", system).
		Str("code", code).
		Msg("no wire mapping for code")
	wire.Fields["system"] = ""
	wire.Fields["code"] = ""
	return wire
}

func findSubject(resources []model.Resource) model.Resource {
	for _, r := range resources {
		if r.Type == model.TypePatient {
			return r
		}
	}
	return model.Resource{}
}

func groupByType(resources []model.Resource) map[model.Type][]model.Resource {
	out := make(map[model.Type][]model.Resource)
	for _, r := range resources {
		if r.Type == model.TypePatient {
			continue
		}
		out[r.Type] = append(out[r.Type], r)
	}
	return out
}
