package directive

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrFileRead      = errors.New("unable to read specification file")
	ErrSyntax        = errors.New("invalid directive syntax")
	ErrNoTargets     = errors.New("no targets defined")
	ErrNoSteps       = errors.New("no deployable steps found")
	ErrDuplicateName = errors.New("duplicate target name")
)

// ParseError reports a malformed directive.
type ParseError struct {
	Source  string // File the directive came from, empty for CLI input
	Line    int    // 1-based line number, 0 when unknown
	Verb    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Source != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", e.Source, e.Line, e.Verb, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Verb, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSyntax
}

// NewParseError creates a ParseError for the given directive.
func NewParseError(d Directive, message string, err error) *ParseError {
	return &ParseError{
		Source:  d.Source,
		Line:    d.Line,
		Verb:    string(d.Verb),
		Message: message,
		Err:     err,
	}
}
