// Package proxy resolves the jump-host chain that leads to a target and
// renders the matching ssh client configuration.
// This package has no I/O dependencies and is tested with values in/out.
package proxy

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Hop is one jump host on the way to a target.
type Hop struct {
	Name string
	User string
	Host string
	Port int
	Key  string
}

// Address returns "user@host:port", omitting the user when unset.
func (h Hop) Address() string {
	if h.User == "" {
		return fmt.Sprintf("%s:%d", h.Host, h.Port)
	}
	return fmt.Sprintf("%s@%s:%d", h.User, h.Host, h.Port)
}

// HopFromTarget converts a target into a hop.
func HopFromTarget(t domain.Target) Hop {
	return Hop{Name: t.Name, User: t.User, Host: t.Domain, Port: t.Port, Key: t.Key}
}

// Chain is the ordered list of hops, nearest to the local machine first.
type Chain []Hop

// JumpArg returns the chain in ssh -J form.
//
// Example:
//
//	Chain{h1, h2}.JumpArg() // "u@h1:22,u@h2:22"
func (c Chain) JumpArg() string {
	parts := make([]string, 0, len(c))
	for _, hop := range c {
		parts = append(parts, hop.Address())
	}
	return strings.Join(parts, ",")
}

// Names returns the hop names in order.
func (c Chain) Names() []string {
	names := make([]string, 0, len(c))
	for _, hop := range c {
		names = append(names, hop.Name)
	}
	return names
}

// HostKey returns the stable identifier used for a target in generated
// ssh configuration and connection pools.
//
// Example:
//
//	HostKey("db") // "a1b2..." (40 hex chars)
func HostKey(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
