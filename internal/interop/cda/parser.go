package cda

import (
	"encoding/xml"
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

// Parser extracts canonical resources from CDA documents, guided by the
// section definitions in the configuration store. It holds no per-call
// state and is safe for concurrent use.
type Parser struct {
	table *mapping.Table
	log   zerolog.Logger
}

// NewParser creates a CDA parser translating coded values through the
// given mapping table (wire OIDs to canonical system URIs).
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
		return nil, &interop.ParseError{Format: "cda", Msg: "document is empty"}
	}

	var doc ClinicalDocument
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &interop.ParseError{Format: "cda", Msg: "malformed XML", Err: err}
	}

	subject := p.parseSubject(&doc)
	subjectRef := subject.Key()
	resources := []model.Resource{subject}

	if doc.Component == nil || doc.Component.StructuredBody == nil {
		return resources, nil
	}

	for _, comp := range doc.Component.StructuredBody.Components {
		section := comp.Section
		if section == nil {
			continue
		}
		def, ok := matchSection(section, store.Sections())
		if !ok {
			// Preserve unrecognised sections as visible free text rather
			// than dropping them.
			resources = append(resources, p.freeTextResource(section, subjectRef, &doc))
			continue
		}
		extracted, err := p.extractSection(def, section, subjectRef)
		if err != nil {
			return nil, err
		}
		resources = append(resources, extracted...)
	}
	return resources, nil
}

// parseSubject lifts the recordTarget into a Patient resource. Every other
// resource extracted from the document references this subject.
func (p *Parser) parseSubject(doc *ClinicalDocument) model.Resource {
	id := ""
	var role *PatientRole
	if doc.RecordTarget != nil {
		role = doc.RecordTarget.PatientRole
	}
	if role != nil && len(role.IDs) > 0 {
		if role.IDs[0].Extension != "" {
			id = role.IDs[0].Extension
		} else {
			id = role.IDs[0].Root
		}
	}
	if id == "" {
		id = uuid.NewString()
		p.log.Warn().Msg("document declares no subject identifier, generated one")
	}

	subject, _ := model.New(model.TypePatient, id)
	_ = subject.Set("identifier", id)

	if role == nil || role.Patient == nil {
		return subject
	}
	pat := role.Patient
	if pat.Name != nil {
		parts := []string{}
		if pat.Name.Given != "" {
			parts = append(parts, pat.Name.Given)
		}
		if pat.Name.Family != "" {
			parts = append(parts, pat.Name.Family)
		}
		_ = subject.Set("name", strings.Join(parts, " "))
	}
	if g := pat.AdministrativeGenderCode; g != nil {
		gender := g.DisplayName
		if gender == "" {
			gender = genderFromCode(g.Code)
		}
		_ = subject.Set("gender", strings.ToLower(gender))
	}
	if pat.BirthTime != nil && pat.BirthTime.Value != "" {
		_ = subject.Set("birthDate", template.ISODate(pat.BirthTime.Value))
	}
	return subject
}

// matchSection finds the definition whose CDA markers identify the
// section: the declared template id, or the code plus code system pair.
func matchSection(section *Section, defs []configstore.SectionDefinition) (configstore.SectionDefinition, bool) {
	for _, def := range defs {
		if def.CDA.TemplateID != "" {
			for _, tid := range section.TemplateIDs {
				if tid.Root == def.CDA.TemplateID {
					return def, true
				}
			}
		}
		if def.CDA.Code != "" && section.Code != nil &&
			section.Code.Code == def.CDA.Code &&
			section.Code.CodeSystem == def.CDA.CodeSystem {
			return def, true
		}
	}
	return configstore.SectionDefinition{}, false
}

func (p *Parser) extractSection(def configstore.SectionDefinition, section *Section, subjectRef string) ([]model.Resource, error) {
	var resources []model.Resource
	for _, entry := range section.Entries {
		for _, slots := range entrySlots(entry) {
			r, err := extract.Resource(def, slots, subjectRef, p.table, p.log)
			if err != nil {
				return nil, err
			}
			resources = append(resources, r)
		}
	}
	return resources, nil
}

// entrySlots reduces one CDA entry to flat slot sets, probing the clinical
// statement kinds in a fixed order. Organizers yield one slot set per
// component observation.
func entrySlots(entry Entry) []extract.Slots {
	switch {
	case entry.Act != nil:
		return []extract.Slots{actSlots(entry.Act)}
	case entry.SubstanceAdministration != nil:
		return []extract.Slots{substanceSlots(entry.SubstanceAdministration)}
	case entry.Organizer != nil:
		return organizerSlots(entry.Organizer)
	case entry.Observation != nil:
		return []extract.Slots{observationSlots(entry.Observation)}
	case entry.Procedure != nil:
		return []extract.Slots{statementSlots(entry.Procedure)}
	case entry.Encounter != nil:
		return []extract.Slots{statementSlots(entry.Encounter)}
	}
	return nil
}

// actSlots handles the concern-act pattern: the act carries status and
// timing, the nested observation value carries the clinical code.
func actSlots(act *Act) extract.Slots {
	s := extract.Slots{
		ID:     firstID(act.IDs),
		Status: codeValue(act.StatusCode),
		Date:   rangeDate(act.EffectiveTime),
	}
	for _, er := range act.EntryRelationships {
		obs := er.Observation
		if obs == nil || obs.Value == nil {
			continue
		}
		s.Code = obs.Value.Code
		s.System = obs.Value.CodeSystem
		s.Display = obs.Value.DisplayName
		if s.Date == "" {
			s.Date = rangeDate(obs.EffectiveTime)
		}
		break
	}
	if s.Code == "" && act.Code != nil && act.Code.Code != "CONC" {
		s.Code = act.Code.Code
		s.System = act.Code.CodeSystem
		s.Display = act.Code.DisplayName
	}
	return s
}

func substanceSlots(sa *SubstanceAdministration) extract.Slots {
	s := extract.Slots{
		ID:     firstID(sa.IDs),
		Status: codeValue(sa.StatusCode),
		Date:   rangeDate(sa.EffectiveTime),
	}
	if c := materialCode(sa.Consumable); c != nil {
		s.Code = c.Code
		s.System = c.CodeSystem
		s.Display = c.DisplayName
	}
	if dq := sa.DoseQuantity; dq != nil && dq.Value != "" {
		s.Value = strings.TrimSpace(dq.Value + " " + dq.Unit)
	}
	return s
}

func observationSlots(obs *Observation) extract.Slots {
	s := extract.Slots{
		ID:     firstID(obs.IDs),
		Status: codeValue(obs.StatusCode),
		Date:   rangeDate(obs.EffectiveTime),
	}
	if obs.Code != nil {
		s.Code = obs.Code.Code
		s.System = obs.Code.CodeSystem
		s.Display = obs.Code.DisplayName
	}
	if v := obs.Value; v != nil {
		switch {
		case v.Value != "":
			s.Value = v.Value
			s.Unit = v.Unit
		case v.DisplayName != "":
			s.Value = v.DisplayName
		}
	}
	return s
}

func organizerSlots(org *Organizer) []extract.Slots {
	var out []extract.Slots
	for _, comp := range org.Components {
		if comp.Observation == nil {
			continue
		}
		s := observationSlots(comp.Observation)
		if s.Status == "" {
			s.Status = codeValue(org.StatusCode)
		}
		if s.Date == "" {
			s.Date = rangeDate(org.EffectiveTime)
		}
		out = append(out, s)
	}
	return out
}

func statementSlots(cs *ClinicalStatement) extract.Slots {
	s := extract.Slots{
		ID:     firstID(cs.IDs),
		Status: codeValue(cs.StatusCode),
		Date:   rangeDate(cs.EffectiveTime),
	}
	if cs.Code != nil {
		s.Code = cs.Code.Code
		s.System = cs.Code.CodeSystem
		s.Display = cs.Code.DisplayName
	}
	return s
}

// freeTextResource preserves an unrecognised section as a generic document
// reference carrying its narrative.
func (p *Parser) freeTextResource(section *Section, subjectRef string, doc *ClinicalDocument) model.Resource {
	title := section.Title
	if title == "" && section.Code != nil {
		title = section.Code.DisplayName
	}
	p.log.Info().Str("title", title).Msg("unrecognised section preserved as free text")

	r, _ := model.New(model.TypeDocumentReference, uuid.NewString())
	_ = r.Set("subject", subjectRef)
	_ = r.Set("title", title)
	_ = r.Set("status", "current")
	if section.Text != nil {
		_ = r.Set("text", strings.TrimSpace(section.Text.Content))
	}
	if doc.EffectiveTime != nil {
		_ = r.Set("date", template.ISODate(doc.EffectiveTime.Value))
	}
	return r
}

// ---- helpers ----

func firstID(ids []InstanceID) string {
	if len(ids) == 0 {
		return ""
	}
	if ids[0].Extension != "" {
		return ids[0].Extension
	}
	return ids[0].Root
}

func codeValue(c *Code) string {
	if c == nil {
		return ""
	}
	return c.Code
}

func rangeDate(tr *TimeRange) string {
	if tr == nil {
		return ""
	}
	switch {
	case tr.Low != nil && tr.Low.Value != "":
		return template.ISODate(tr.Low.Value)
	case tr.Value != "":
		return template.ISODate(tr.Value)
	}
	return ""
}

func materialCode(c *Consumable) *Code {
	if c == nil || c.ManufacturedProduct == nil || c.ManufacturedProduct.ManufacturedMaterial == nil {
		return nil
	}
	return c.ManufacturedProduct.ManufacturedMaterial.Code
}

// genderFromCode maps HL7 administrative gender codes to canonical values.
func genderFromCode(code string) string {
	switch strings.ToUpper(code) {
	case "M":
		return "male"
	case "F":
		return "female"
	case "UN", "O":
		return "other"
	default:
		return "unknown"
	}
}
