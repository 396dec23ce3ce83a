package hl7v2

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop"
	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/extract"
	"github.com/dotimplement/healthchain-go/internal/interop/mapping"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
)

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithParserLogger sets the parser logger.
func WithParserLogger(log zerolog.Logger) ParserOption {
	return func(p *Parser) { p.log = log }
}

// Parser extracts canonical resources from HL7v2 messages, guided by the
// segment bindings in the section definitions. It holds no per-call state
// and is safe for concurrent use.
type Parser struct {
	table *mapping.Table
	log   zerolog.Logger
}

// NewParser creates an HL7v2 parser translating coded values through the
// given mapping table (wire coding-system names to canonical URIs).
func NewParser(table *mapping.Table, opts ...ParserOption) *Parser {
	p := &Parser{table: table, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements interop.Parser.
func (p *Parser) Parse(raw string, store *configstore.Store) ([]model.Resource, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &interop.ParseError{Format: "hl7v2", Msg: "message is empty"}
	}

	msg := ParseMessage(raw)
	if len(msg.Segments) == 0 {
		return nil, &interop.ParseError{Format: "hl7v2", Msg: "message has no segments"}
	}
	if msg.Segments[0].Name != "MSH" {
		return nil, &interop.ParseError{Format: "hl7v2", Msg: "message does not start with MSH"}
	}

	subject := p.parseSubject(msg)
	subjectRef := subject.Key()
	resources := []model.Resource{subject}

	for _, seg := range msg.Segments {
		// MSH and PID are consumed above; OBR is re-emitted by the
		// document templates. Everything else either matches a binding
		// or is preserved as free text.
		switch seg.Name {
		case "MSH", "PID", "OBR":
			continue
		}
		def, ok := matchSegment(seg.Name, store.Sections())
		if !ok {
			resources = append(resources, p.freeTextResource(seg, subjectRef))
			continue
		}
		r, err := extract.Resource(def, segmentSlots(seg, def.HL7v2), subjectRef, p.table, p.log)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// parseSubject lifts the PID segment into a Patient resource. A message
// without PID still converts; the subject is then anonymous.
func (p *Parser) parseSubject(msg Message) model.Resource {
	var pid *Segment
	for i := range msg.Segments {
		if msg.Segments[i].Name == "PID" {
			pid = &msg.Segments[i]
			break
		}
	}

	id := ""
	if pid != nil {
		id = pid.Component(pid.FirstRepeat(pid.Field(3)), 1)
	}
	if id == "" {
		id = uuid.NewString()
		p.log.Warn().Msg("message declares no patient identifier, generated one")
	}

	subject, _ := model.New(model.TypePatient, id)
	_ = subject.Set("identifier", id)
	if pid == nil {
		return subject
	}

	name := pid.FirstRepeat(pid.Field(5))
	family := Unescape(pid.Component(name, 1))
	given := Unescape(pid.Component(name, 2))
	if given != "" || family != "" {
		_ = subject.Set("name", strings.TrimSpace(given+" "+family))
	}
	if bd := pid.Field(7); bd != "" {
		_ = subject.Set("birthDate", template.ISODate(bd))
	}
	if g := pid.Field(8); g != "" {
		_ = subject.Set("gender", genderFromCode(g))
	}
	return subject
}

// matchSegment finds the definition bound to a segment name.
func matchSegment(name string, defs []configstore.SectionDefinition) (configstore.SectionDefinition, bool) {
	for _, def := range defs {
		if def.HL7v2.Segment == name {
			return def, true
		}
	}
	return configstore.SectionDefinition{}, false
}

// segmentSlots reduces one segment to flat slots per its binding. The code
// field is read as a CE triple (code^display^system).
func segmentSlots(seg Segment, b configstore.HL7v2Binding) extract.Slots {
	var s extract.Slots
	if b.CodeField > 0 {
		ce := seg.FirstRepeat(seg.Field(b.CodeField))
		s.Code = Unescape(seg.Component(ce, 1))
		s.Display = Unescape(seg.Component(ce, 2))
		s.System = Unescape(seg.Component(ce, 3))
	}
	if b.StatusField > 0 {
		s.Status = Unescape(seg.Field(b.StatusField))
	}
	if b.DateField > 0 {
		s.Date = template.ISODate(seg.Field(b.DateField))
	}
	if b.ValueField > 0 {
		s.Value = Unescape(seg.FirstRepeat(seg.Field(b.ValueField)))
	}
	if b.UnitField > 0 {
		s.Unit = Unescape(seg.Component(seg.Field(b.UnitField), 1))
	}
	return s
}

// freeTextResource preserves an unbound segment as a generic document
// reference carrying its raw content.
func (p *Parser) freeTextResource(seg Segment, subjectRef string) model.Resource {
	p.log.Info().Str("segment", seg.Name).Msg("unbound segment preserved as free text")

	r, _ := model.New(model.TypeDocumentReference, uuid.NewString())
	_ = r.Set("subject", subjectRef)
	_ = r.Set("title", seg.Name)
	_ = r.Set("status", "current")
	_ = r.Set("text", seg.Raw())
	return r
}

func genderFromCode(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return "male"
	case "F":
		return "female"
	case "O":
		return "other"
	default:
		return "unknown"
	}
}
