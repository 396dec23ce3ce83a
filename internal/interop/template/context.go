package template

import (
	"time"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
)

// Context is the ephemeral per-call render context. One Context is built
// per template invocation and never outlives the conversion call.
//
// Document and section templates receive spliced child output through Body
// and Entries; entry templates receive the single Resource being rendered.
type Context struct {
	Now       time.Time
	DocID     string
	ControlID string

	Document configstore.DocumentDefinition
	Section  configstore.SectionDefinition

	Resource model.Resource
	Subject  model.Resource
	Index    int // 1-based entry position within its section

	Entries   string // rendered entry output, spliced into section templates
	Body      string // rendered section output, spliced into document templates
	Narrative string // plain-text narrative, when the document enables it
}

// Field returns a resource field value or "" when absent, for template
// convenience. Undeclared fields also render empty here; schema violations
// are caught in Go code, not mid-render.
func (c Context) Field(name string) string {
	return c.Resource.Fields[name]
}
