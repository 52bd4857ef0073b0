// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Target Errors
// =============================================================================

var (
	ErrTargetNameRequired = errors.New("target name is required")
	ErrTargetHostRequired = errors.New("target host is required")
	ErrTargetPortInvalid  = errors.New("target port must be between 1 and 65535")
)

// =============================================================================
// Target Constants
// =============================================================================

const (
	// LocalhostName is the reserved target name for the machine running octahe.
	// It also terminates every via chain.
	LocalhostName = "localhost"

	// DirectName terminates a via chain without naming the local machine.
	DirectName = "direct"

	// DefaultSSHPort is used when a target address does not carry a port.
	DefaultSSHPort = 22
)

var serialDevicePattern = regexp.MustCompile(`^/dev/(tty|cu)[A-Za-z0-9._-]*$`)

// =============================================================================
// Target
// =============================================================================

// Target is a named destination that steps are applied to.
// Targets are created while parsing and never modified afterwards.
type Target struct {
	Name     string `json:"name" yaml:"name"`
	Domain   string `json:"domain" yaml:"domain"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	ViaName  string `json:"via,omitempty" yaml:"via,omitempty"`
	Escalate string `json:"escalate,omitempty" yaml:"escalate,omitempty"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

// ParseAddress splits "[user@]host[:port]" into its components.
// A missing port yields DefaultSSHPort; a non-numeric port is an error.
//
// Example:
//
//	ParseAddress("root@10.0.0.5:2222") // "root", "10.0.0.5", 2222, nil
func ParseAddress(address string) (user, host string, port int, err error) {
	port = DefaultSSHPort
	rest := address
	if idx := strings.LastIndex(rest, "@"); idx != -1 {
		user = rest[:idx]
		rest = rest[idx+1:]
	}

	host = rest
	if idx := strings.LastIndex(rest, ":"); idx != -1 && !strings.HasPrefix(rest, "[") {
		host = rest[:idx]
		p, convErr := strconv.Atoi(rest[idx+1:])
		if convErr != nil {
			return "", "", 0, fmt.Errorf("port %q is not an integer: %w", rest[idx+1:], ErrTargetPortInvalid)
		}
		port = p
	}

	if host == "" {
		return "", "", 0, ErrTargetHostRequired
	}
	if port < 1 || port > 65535 {
		return "", "", 0, ErrTargetPortInvalid
	}
	return user, host, port, nil
}

// NewTarget builds a target from an address and an optional friendly name.
func NewTarget(address, name string) (Target, error) {
	user, host, port, err := ParseAddress(address)
	if err != nil {
		return Target{}, err
	}
	if name == "" {
		name = address
	}
	return Target{
		Name:   name,
		Domain: host,
		Port:   port,
		User:   user,
	}, nil
}

// Validate checks the invariants of a target.
func (t Target) Validate() error {
	if t.Name == "" {
		return ErrTargetNameRequired
	}
	if t.Domain == "" {
		return ErrTargetHostRequired
	}
	if t.Port < 1 || t.Port > 65535 {
		return ErrTargetPortInvalid
	}
	return nil
}

// IsLocal reports whether the target is the local machine.
func (t Target) IsLocal() bool {
	return t.Name == LocalhostName
}

// IsSerial reports whether the target names a serial device.
func (t Target) IsSerial() bool {
	return serialDevicePattern.MatchString(t.Domain)
}

// HasVia reports whether the target is reached through at least one jump host.
func (t Target) HasVia() bool {
	return !IsChainEnd(t.ViaName)
}

// Address returns the "[user@]host:port" form of the target.
func (t Target) Address() string {
	if t.User != "" {
		return fmt.Sprintf("%s@%s:%d", t.User, t.Domain, t.Port)
	}
	return fmt.Sprintf("%s:%d", t.Domain, t.Port)
}

// IsChainEnd reports whether a via name terminates a chain.
func IsChainEnd(via string) bool {
	return via == "" || via == LocalhostName || via == DirectName
}

