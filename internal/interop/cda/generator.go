package cda

import (
	"regexp"
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

// Generator renders canonical resources into a CDA document, driven by a
// document definition and the template registry.
type Generator struct {
	registry *template.Registry
	table    *mapping.Table
	clock    func() time.Time
	log      zerolog.Logger
}

// NewGenerator creates a CDA generator translating coded values through the
// given mapping table (canonical system URIs back to wire OIDs).
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

var interTagSpace = regexp.MustCompile(`>\s+<`)

// Generate implements interop.Generator.
func (g *Generator) Generate(resources []model.Resource, documentName string, store *configstore.Store) (string, error) {
	doc, err := store.Document(documentName)
	if err != nil {
		return "", err
	}
	if doc.Format != "cda" {
		return "", &configstore.ConfigError{
			Path: "documents." + documentName + ".format",
			Msg:  "document is not a cda document",
		}
	}

	subject := findSubject(resources)
	byType := groupByType(resources)

	now := g.clock()
	docID := model.DocumentID(documentName, resources)

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
		rendered, err := g.renderSection(doc, def, members, subject, now, docID)
		if err != nil {
			return "", err
		}
		body.WriteString(rendered)
	}

	tmpl := doc.DocumentTemplate
	if tmpl == "" {
		tmpl = "cda/document/" + doc.Name
	}
	out, err := g.registry.Render(tmpl, template.Context{
		Now:      now,
		DocID:    docID,
		Document: doc,
		Subject:  subject,
		Body:     body.String(),
	})
	if err != nil {
		return "", err
	}
	if !doc.PrettyPrint {
		out = interTagSpace.ReplaceAllString(out, "><")
		out = strings.TrimSpace(out)
	}
	return out, nil
}

func (g *Generator) renderSection(doc configstore.DocumentDefinition, def configstore.SectionDefinition, members []model.Resource, subject model.Resource, now time.Time, docID string) (string, error) {
	entryTmpl := def.CDA.EntryTemplate
	if entryTmpl == "" {
		entryTmpl = "cda/entry/" + def.CDA.EntryKind
	}

	var entries strings.Builder
	var narrative []string
	for i, r := range members {
		wire := g.toWire(def, r)
		rendered, err := g.registry.Render(entryTmpl, template.Context{
			Now:      now,
			DocID:    docID,
			Document: doc,
			Section:  def,
			Resource: wire,
			Subject:  subject,
			Index:    i + 1,
		})
		if err != nil {
			return "", err
		}
		entries.WriteString(rendered)
		if doc.Narrative {
			if line := narrativeLine(r); line != "" {
				narrative = append(narrative, line)
			}
		}
	}

	sectionTmpl := def.CDA.SectionTemplate
	if sectionTmpl == "" {
		sectionTmpl = "cda/section/generic"
	}
	return g.registry.Render(sectionTmpl, template.Context{
		Now:       now,
		DocID:     docID,
		Document:  doc,
		Section:   def,
		Subject:   subject,
		Entries:   entries.String(),
		Narrative: strings.Join(narrative, "; "),
	})
}

// toWire clones a resource and translates its coding canonical-to-wire. On
// a mapping miss the code and system are cleared so the template falls back
// to its unknown convention; the display survives for human readers.
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

// narrativeLine summarises one resource for the human-readable block.
func narrativeLine(r model.Resource) string {
	display := r.Fields["display"]
	if display == "" {
		display = r.Fields["code"]
	}
	if display == "" {
		return ""
	}
	if v := r.Fields["value"]; v != "" {
		display += ": " + v
		if u := r.Fields["unit"]; u != "" {
			display += " " + u
		}
	}
	return display
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
