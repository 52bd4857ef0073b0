package proxy

import "fmt"

// ChainErrorType defines the type of chain resolution error.
type ChainErrorType int

const (
	ErrorUnknownTarget ChainErrorType = iota
	ErrorCycle
)

// ChainError represents an error while resolving a via chain.
type ChainError struct {
	Type    ChainErrorType
	Target  string
	Hop     string
	Message string
}

// Error implements the error interface.
func (e ChainError) Error() string {
	return e.Message
}

// NewUnknownTargetError creates an error for a target missing from the table.
func NewUnknownTargetError(target string) ChainError {
	return ChainError{
		Type:    ErrorUnknownTarget,
		Target:  target,
		Message: fmt.Sprintf("unknown target: %s", target),
	}
}

// NewCycleError creates an error for a via chain that loops back on itself.
func NewCycleError(target, hop string) ChainError {
	return ChainError{
		Type:    ErrorCycle,
		Target:  target,
		Hop:     hop,
		Message: fmt.Sprintf("via chain of %s loops at %s", target, hop),
	}
}
