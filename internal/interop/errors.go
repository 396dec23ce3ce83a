package interop

import (
	"fmt"

	"github.com/dotimplement/healthchain-go/internal/interop/configstore"
	"github.com/dotimplement/healthchain-go/internal/interop/template"
)

// The engine distinguishes configuration-author errors (ConfigError,
// TemplateError), per-document input errors (ParseError), and non-fatal
// degradations (partial data, mapping misses). Only the first three surface
// as errors; degradations are logged and the affected value falls back to
// the target format's unknown convention.

// ConfigError is the configuration-definition error type; aliased here so
// callers can match the whole taxonomy through this package.
type ConfigError = configstore.ConfigError

// TemplateError reports an unresolved include, a cyclic include, or an
// unknown filter.
type TemplateError = template.Error

// ParseError reports input that violates the source format's base grammar.
// It is fatal for the document being converted; batch callers decide
// whether to skip or abort.
type ParseError struct {
	Format string
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Format, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }
