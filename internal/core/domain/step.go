package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Verbs
// =============================================================================

// Verb is the upper-cased keyword that starts a directive line.
type Verb string

const (
	VerbFrom        Verb = "FROM"
	VerbTo          Verb = "TO"
	VerbRun         Verb = "RUN"
	VerbCopy        Verb = "COPY"
	VerbAdd         Verb = "ADD"
	VerbEnv         Verb = "ENV"
	VerbArg         Verb = "ARG"
	VerbLabel       Verb = "LABEL"
	VerbUser        Verb = "USER"
	VerbWorkdir     Verb = "WORKDIR"
	VerbExpose      Verb = "EXPOSE"
	VerbEntrypoint  Verb = "ENTRYPOINT"
	VerbCmd         Verb = "CMD"
	VerbHealthcheck Verb = "HEALTHCHECK"
	VerbStopSignal  Verb = "STOPSIGNAL"
	VerbShell       Verb = "SHELL"
	VerbInterface   Verb = "INTERFACE"
	VerbVolume      Verb = "VOLUME"
	VerbOnBuild     Verb = "ONBUILD"
)

// DeployVerbs are applied in file order.
var DeployVerbs = []Verb{
	VerbRun, VerbCopy, VerbAdd, VerbShell, VerbArg, VerbEnv, VerbUser,
	VerbInterface, VerbExpose, VerbWorkdir, VerbLabel,
}

// EntrypointVerbs are deduplicated to their last occurrence and appended
// after all deploy verbs, in this order.
var EntrypointVerbs = []Verb{
	VerbHealthcheck, VerbStopSignal, VerbCmd, VerbEntrypoint,
}

// ParseVerb upper-cases a raw keyword.
func ParseVerb(s string) Verb {
	return Verb(strings.ToUpper(strings.TrimSpace(s)))
}

// IsDeploy reports whether the verb is applied in file order.
func (v Verb) IsDeploy() bool {
	return containsVerb(DeployVerbs, v)
}

// IsEntrypoint reports whether the verb belongs to the entry-point group.
func (v Verb) IsEntrypoint() bool {
	return containsVerb(EntrypointVerbs, v)
}

// IsSupported reports whether the verb produces a step.
func (v Verb) IsSupported() bool {
	return v.IsDeploy() || v.IsEntrypoint()
}

// IsReversible reports whether the verb has a natural inverse and is
// therefore executed during undeploy.
func (v Verb) IsReversible() bool {
	switch v {
	case VerbEntrypoint, VerbExpose, VerbInterface:
		return true
	default:
		return false
	}
}

func containsVerb(list []Verb, v Verb) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// =============================================================================
// Mode
// =============================================================================

// Mode selects whether a run applies or reverts a plan.
type Mode string

const (
	ModeDeploy   Mode = "deploy"
	ModeUndeploy Mode = "undeploy"
)

// IsValid checks if the mode is known.
func (m Mode) IsValid() bool {
	return m == ModeDeploy || m == ModeUndeploy
}

// =============================================================================
// Step Payloads
// =============================================================================

// Payload is the verb-specific content of a step.
type Payload interface {
	payload()
}

// RunPayload is a shell command.
// NonFatal commands tolerate a non-zero exit status.
type RunPayload struct {
	Command  string `json:"command" yaml:"command"`
	NonFatal bool   `json:"non_fatal,omitempty" yaml:"non_fatal,omitempty"`
}

// CopyPayload describes a COPY or ADD transfer.
type CopyPayload struct {
	Sources     []string `json:"sources" yaml:"sources"`
	Destination string   `json:"destination" yaml:"destination"`
	Owner       string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	From        string   `json:"from,omitempty" yaml:"from,omitempty"`
}

// EnvPayload carries ENV, ARG and LABEL key/value pairs.
type EnvPayload struct {
	Values map[string]string `json:"values" yaml:"values"`
}

// UserPayload is the execution user and optional group.
type UserPayload struct {
	User  string `json:"user" yaml:"user"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

// WorkdirPayload is the working directory for later steps.
type WorkdirPayload struct {
	Path string `json:"path" yaml:"path"`
}

// ExposePayload is a port to open, optionally redirected to NatPort.
type ExposePayload struct {
	Port    int    `json:"port" yaml:"port"`
	NatPort int    `json:"nat_port,omitempty" yaml:"nat_port,omitempty"`
	Proto   string `json:"proto" yaml:"proto"`
}

// HasNat reports whether the port is redirected.
func (e ExposePayload) HasNat() bool {
	return e.NatPort > 0
}

// TextPayload is free text for ENTRYPOINT, CMD, STOPSIGNAL, SHELL and INTERFACE.
type TextPayload struct {
	Text string `json:"text" yaml:"text"`
}

// HealthcheckPayload is a parsed HEALTHCHECK directive.
type HealthcheckPayload struct {
	Interval    string `json:"interval" yaml:"interval"`
	Timeout     string `json:"timeout" yaml:"timeout"`
	StartPeriod string `json:"start_period" yaml:"start_period"`
	Retries     int    `json:"retries" yaml:"retries"`
	Command     string `json:"command" yaml:"command"`
}

func (RunPayload) payload()         {}
func (CopyPayload) payload()        {}
func (EnvPayload) payload()         {}
func (UserPayload) payload()        {}
func (WorkdirPayload) payload()     {}
func (ExposePayload) payload()      {}
func (TextPayload) payload()        {}
func (HealthcheckPayload) payload() {}

// =============================================================================
// Step
// =============================================================================

// Step is one parsed directive ready to be applied to targets.
type Step struct {
	Verb     Verb    `json:"verb" yaml:"verb"`
	Original string  `json:"original" yaml:"original"`
	Payload  Payload `json:"payload" yaml:"payload"`
}

// String renders the step the way it appears in progress output.
func (s Step) String() string {
	return fmt.Sprintf("%s %s", s.Verb, s.Original)
}

// Text returns the text of a TextPayload, or an empty string.
func (s Step) Text() string {
	if p, ok := s.Payload.(TextPayload); ok {
		return p.Text
	}
	return ""
}
