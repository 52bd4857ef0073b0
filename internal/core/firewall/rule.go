// Package firewall builds idempotent iptables commands for exposed ports.
// This is part of the Functional Core - all functions are pure with no I/O.
package firewall

import (
	"fmt"
	"strconv"
	"strings"
)

// Comment tags every rule octahe manages.
const Comment = "Octahe rule"

// Rule is an exposed port, optionally redirected to NatPort.
type Rule struct {
	Port      int
	NatPort   int
	Proto     string
	Interface string
}

// Table returns the iptables table the rule lives in.
func (r Rule) Table() string {
	if r.NatPort > 0 {
		return "nat"
	}
	return "filter"
}

// Spec returns the rule specification shared by check, insert and delete.
//
// Without a nat port the rule accepts traffic on INPUT. With one it
// redirects the port on PREROUTING in the nat table.
func (r Rule) Spec() []string {
	proto := strings.ToLower(r.Proto)
	if proto == "" {
		proto = "tcp"
	}

	var chain string
	var match []string
	if r.NatPort > 0 {
		chain = "PREROUTING"
		match = []string{"-p", proto, "--dport", strconv.Itoa(r.Port), "-j", "REDIRECT", "--to-port", strconv.Itoa(r.NatPort)}
	} else {
		chain = "INPUT"
		match = []string{"-p", proto, "-m", proto, "--dport", strconv.Itoa(r.Port), "-j", "ACCEPT"}
	}

	spec := []string{chain}
	if r.Interface != "" {
		spec = append(spec, "-i", r.Interface)
	}
	spec = append(spec, "-m", "comment", "--comment", fmt.Sprintf("%q", Comment))
	return append(spec, match...)
}

func (r Rule) command(action string) string {
	parts := []string{"iptables"}
	if table := r.Table(); table != "filter" {
		parts = append(parts, "-t", table)
	}
	parts = append(parts, action)
	parts = append(parts, r.Spec()...)
	return strings.Join(parts, " ")
}

// CheckCommand returns the command that succeeds when the rule exists.
func (r Rule) CheckCommand() string {
	return r.command("-C")
}

// CreateCommand inserts the rule unless it already exists. Running it any
// number of times leaves exactly one rule.
func (r Rule) CreateCommand() string {
	return fmt.Sprintf("%s || %s", r.CheckCommand(), r.command("-I"))
}

// RemoveCommand deletes the rule when it exists and always succeeds.
func (r Rule) RemoveCommand() string {
	return fmt.Sprintf("%s && %s || true", r.CheckCommand(), r.command("-D"))
}
