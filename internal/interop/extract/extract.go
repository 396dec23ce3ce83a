// Package extract is the generic, definition-driven extraction routine
// shared by the format parsers. A parser reduces each structural unit to a
// flat set of slots; this package maps those slots onto a canonical
// resource according to the section definition's field rules, translating
// coded values into the canonical coding system on the way.
package extract

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/mapping"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
)

// Slots is the flat, format-neutral view of one extracted entry. Parsers
// fill whatever their structural unit provides; empty slots stay empty.
type Slots struct {
	ID      string
	Code    string
	System  string
	Display string
	Status  string
	Date    string // ISO-8601
	Value   string
	Unit    string
	Text    string
}

// slotValue returns the value of a named slot.
func (s Slots) slotValue(name string) (string, bool) {
	switch name {
	case "code":
		return s.Code, true
	case "system":
		return s.System, true
	case "display":
		return s.Display, true
	case "status":
		return s.Status, true
	case "date":
		return s.Date, true
	case "value":
		return s.Value, true
	case "unit":
		return s.Unit, true
	case "text":
		return s.Text, true
	}
	return "", false
}

// Resource builds one canonical resource from extracted slots per the
// section definition. Coded values are translated source-to-canonical; a
// mapping miss keeps the original coding and is logged, never fatal.
// Required-but-absent canonical fields degrade to a partial resource with
// a warning.
func Resource(def configstore.SectionDefinition, s Slots, subjectRef string, table *mapping.Table, log zerolog.Logger) (model.Resource, error) {
	if s.System != "" && s.Code != "" && table != nil {
		if tr, ok := table.Translate(s.System, s.Code, mapping.SourceToTarget); ok {
			s.System = tr.System
			s.Code = tr.Code
			if tr.Display != "" {
				s.Display = tr.Display
			}
		} else {
			log.Warn().
				Str("section", def.Name).
				Str("system", s.System).
				Str("code", s.Code).
				Msg("no canonical mapping for code")
		}
	}

	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	r, err := model.New(model.Type(def.ResourceType), id)
	if err != nil {
		return model.Resource{}, &configstore.ConfigError{
			Path: "sections." + def.Name + ".resource_type",
			Msg:  "not a canonical resource type",
			Err:  err,
		}
	}

	for slot, field := range def.Fields {
		v, known := s.slotValue(slot)
		if !known {
			return model.Resource{}, &configstore.ConfigError{
				Path: "sections." + def.Name + ".fields." + slot,
				Msg:  "unknown extraction slot",
			}
		}
		if err := r.Set(field, v); err != nil {
			return model.Resource{}, &configstore.ConfigError{
				Path: "sections." + def.Name + ".fields." + slot,
				Msg:  "field not declared for " + def.ResourceType,
				Err:  err,
			}
		}
	}

	if subjectRef != "" {
		// Resource types without a subject field (none among section
		// resource types today) would surface a config error above.
		_ = r.Set("subject", subjectRef)
	}

	for _, req := range def.Required {
		if _, ok, _ := r.Field(req); !ok {
			log.Warn().
				Str("section", def.Name).
				Str("resource", r.Key()).
				Str("field", req).
				Msg("required field absent, continuing with partial resource")
		}
	}
	return r, nil
}
