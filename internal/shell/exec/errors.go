package exec

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Connection errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrNoAuthMethod     = errors.New("no usable ssh authentication method")
	ErrTimeout          = errors.New("operation timed out")

	// Execution errors
	ErrCommandFailed = errors.New("command exited with a non-zero status")
	ErrSourceMissing = errors.New("copy source not found")

	// Capability errors
	ErrNotImplemented = errors.New("not implemented")
	ErrUnsupported    = errors.New("operation not supported by transport")
)

// ExecError wraps a failed capability call with target context.
type ExecError struct {
	Op         string // Capability operation that failed
	Target     string // Target name
	Command    string // Command or path the operation acted on
	ExitStatus int    // Exit status, -1 when the command did not exit
	Output     string
	Err        error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s on %s", e.Op, e.Target)
	if e.Command != "" {
		msg += fmt.Sprintf(" (%s)", e.Command)
	}
	if e.ExitStatus > 0 {
		msg += fmt.Sprintf(": exit status %d", e.ExitStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := lastLine(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewExecError creates a new ExecError.
func NewExecError(op, target, command string, status int, output string, err error) *ExecError {
	return &ExecError{
		Op:         op,
		Target:     target,
		Command:    command,
		ExitStatus: status,
		Output:     output,
		Err:        err,
	}
}

func lastLine(s string) string {
	lines := splitLines(s)
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] != "" {
			return lines[i]
		}
	}
	return ""
}
