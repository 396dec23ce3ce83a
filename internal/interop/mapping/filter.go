package mapping

import "fmt"

// TemplateFilter builds the mapCode template filter over per-format tables.
// Template usage:
//
//	{{with mapCode "cda" "toWire" .Resource.Fields.system .Resource.Fields.code}}{{.Code}}{{end}}
//
// Direction is "toCanonical" or "toWire". Unknown formats and directions are
// template-author errors and fail the render; a missing code returns the
// zero Translation so the template can branch to its fallback.
func TemplateFilter(tables map[string]*Table) func(format, direction, system, code string) (Translation, error) {
	return func(format, direction, system, code string) (Translation, error) {
		t, ok := tables[format]
		if !ok {
			return Translation{}, fmt.Errorf("mapCode: no mapping table for format %q", format)
		}
		var dir Direction
		switch direction {
		case "toCanonical":
			dir = SourceToTarget
		case "toWire":
			dir = TargetToSource
		default:
			return Translation{}, fmt.Errorf("mapCode: direction must be \"toCanonical\" or \"toWire\", got %q", direction)
		}
		tr, _ := t.Translate(system, code, dir)
		return tr, nil
	}
}
