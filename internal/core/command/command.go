// Package command builds the shell command lines sent to targets.
//
// Every layer of a command (working directory, user switch, escalation,
// environment) is base64 encoded before it is wrapped by the next layer, so
// user input never needs shell quoting beyond a single decode.
//
// This is part of the Functional Core - all functions are pure with no I/O.
package command

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultShell is used until a SHELL step changes it.
const DefaultShell = "/bin/sh -c"

// PasswordKey names the escalation password. It is never exported into a
// command environment.
const PasswordKey = "ESCALATEPW"

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Request describes one command to run on a target.
type Request struct {
	Command          string
	Shell            string
	Workdir          string
	User             string
	Escalate         string
	EscalatePassword string
	Env              map[string]string
}

// Command is a built command line and the bytes to feed on its stdin.
type Command struct {
	Line  string
	Stdin []byte
}

// Build wraps the request into a single command line.
//
// The layers, innermost first:
//  1. cd <workdir> && <command>
//  2. su <user> -c <layer 1>
//  3. <escalate> [--stdin] -- <shell> <layer 2>
//  4. export K='v'; ... <layer 3>
//  5. <shell> <layer 4>
//
// When an escalation password is set it is returned as Stdin and passed to
// the escalation binary with --stdin.
func Build(r Request) Command {
	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}

	script := r.Command
	if r.Workdir != "" {
		script = fmt.Sprintf("cd %s && %s", Quote(r.Workdir), script)
	}

	if r.User != "" {
		script = fmt.Sprintf("su %s -c %s", Quote(r.User), Encode(script))
	}

	var stdin []byte
	if r.Escalate != "" {
		flag := ""
		if r.EscalatePassword != "" {
			flag = " --stdin"
			stdin = []byte(r.EscalatePassword + "\n")
		}
		script = fmt.Sprintf("%s%s -- %s %s", r.Escalate, flag, shell, Encode(script))
	}

	if exports := Exports(r.Env); exports != "" {
		script = exports + script
	}

	return Command{
		Line:  fmt.Sprintf("%s %s", shell, Encode(script)),
		Stdin: stdin,
	}
}

// Encode returns a shell word that expands to s.
//
// Example:
//
//	Encode("echo hi") // "$(printf '%s' 'ZWNobyBoaQ==' | base64 -d)"
func Encode(s string) string {
	b64 := base64.StdEncoding.EncodeToString([]byte(s))
	return fmt.Sprintf(`"$(printf '%%s' '%s' | base64 -d)"`, b64)
}

// Exports renders sorted export statements for env. Keys that are not
// valid shell identifiers and the escalation password are skipped.
func Exports(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == PasswordKey || !envKeyPattern.MatchString(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, Quote(env[k]))
	}
	return b.String()
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
