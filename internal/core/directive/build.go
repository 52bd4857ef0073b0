package directive

import (
	"fmt"
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Options carries command-line input that shapes a plan.
type Options struct {
	// Targets replace every TO directive when non-empty. Each entry uses
	// the TO argument syntax.
	Targets []string

	// Args are "k=v" pairs injected as ARG steps at the head of the plan.
	Args []string

	// Escalate and ConnectionKey are defaults for targets that omit them.
	Escalate      string
	ConnectionKey string

	// BuildArgs describe the machine running octahe (BUILDOS, BUILDARCH,
	// BUILDPLATFORM).
	BuildArgs map[string]string
}

// Plan is the parsed, ordered work for one run.
type Plan struct {
	Targets   map[string]domain.Target `json:"targets" yaml:"targets"`
	Order     []string                 `json:"order" yaml:"order"`
	Steps     []domain.Step            `json:"steps" yaml:"steps"`
	From      []Image                  `json:"from,omitempty" yaml:"from,omitempty"`
	BuildArgs map[string]string        `json:"build_args,omitempty" yaml:"build_args,omitempty"`
	Warnings  []string                 `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Build turns directives into a plan.
//
// layers maps a FROM image name to its expanded history. Steps are ordered
// as follows:
//  1. ARG steps from Options.Args
//  2. base-image layers, one FROM after another in file order
//  3. file deploy verbs in file order
//  4. entry-point verbs, each deduplicated to its last occurrence
func Build(directives []Directive, layers map[string][]Layer, opts Options) (*Plan, error) {
	plan := &Plan{
		Targets:   make(map[string]domain.Target),
		BuildArgs: copyMap(opts.BuildArgs),
	}

	if err := buildTargets(plan, directives, opts); err != nil {
		return nil, err
	}

	images, err := FromImages(directives)
	if err != nil {
		return nil, err
	}
	plan.From = images

	var combined []Layer
	for _, img := range images {
		combined = append(combined, layers[img.Name]...)
	}
	fileStart := len(combined)
	for _, d := range directives {
		combined = append(combined, Layer{Directive: d})
	}

	for _, arg := range opts.Args {
		values, err := ParseDict(arg)
		if err != nil {
			return nil, &ParseError{Verb: string(domain.VerbArg), Message: err.Error()}
		}
		plan.Steps = append(plan.Steps, domain.Step{
			Verb:     domain.VerbArg,
			Original: arg,
			Payload:  domain.EnvPayload{Values: values},
		})
	}

	for _, l := range combined {
		d := l.Directive
		switch {
		case d.Verb == domain.VerbFrom || d.Verb == domain.VerbTo:
			continue
		case d.Verb.IsEntrypoint():
			continue
		case !d.Verb.IsDeploy():
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("unsupported directive skipped: %s", d))
			continue
		}

		step, err := buildStep(d, l.NonFatal)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step)
	}

	entry, err := entrypointSteps(combined, fileStart)
	if err != nil {
		return nil, err
	}
	plan.Steps = append(plan.Steps, entry...)

	if len(plan.Order) == 0 {
		return nil, ErrNoTargets
	}
	if len(plan.Steps) == 0 {
		return nil, ErrNoSteps
	}
	return plan, nil
}

func buildTargets(plan *Plan, directives []Directive, opts Options) error {
	var sources []Directive
	if len(opts.Targets) > 0 {
		for _, t := range opts.Targets {
			sources = append(sources, Directive{Verb: domain.VerbTo, Value: t})
		}
	} else {
		for _, d := range directives {
			if d.Verb == domain.VerbTo {
				sources = append(sources, d)
			}
		}
	}

	explicit := make(map[string]bool)
	for _, d := range sources {
		spec, err := ParseTarget(d.Value, opts.Escalate, opts.ConnectionKey)
		if err != nil {
			return NewParseError(d, err.Error(), nil)
		}
		name := spec.Target.Name
		if explicit[name] {
			return NewParseError(d, fmt.Sprintf("target %q defined more than once", name), ErrDuplicateName)
		}

		hops, err := ExpandVia(spec.Via, plan.Targets)
		if err != nil {
			return NewParseError(d, err.Error(), nil)
		}
		for hopName, hop := range hops {
			plan.Targets[hopName] = hop
		}

		explicit[name] = true
		plan.Targets[name] = spec.Target
		plan.Order = append(plan.Order, name)
	}
	return nil
}

// entrypointSteps selects the last HEALTHCHECK, STOPSIGNAL, CMD and
// ENTRYPOINT. A CMD inherited from a base image is discarded when the file
// sets its own ENTRYPOINT without a CMD, and a lone CMD runs as the
// ENTRYPOINT.
func entrypointSteps(combined []Layer, fileStart int) ([]domain.Step, error) {
	last := make(map[domain.Verb]Directive)
	inFile := make(map[domain.Verb]bool)
	for i, l := range combined {
		if !l.Directive.Verb.IsEntrypoint() {
			continue
		}
		last[l.Directive.Verb] = l.Directive
		inFile[l.Directive.Verb] = i >= fileStart
	}

	_, hasCmd := last[domain.VerbCmd]
	_, hasEntrypoint := last[domain.VerbEntrypoint]
	if hasEntrypoint && inFile[domain.VerbEntrypoint] && hasCmd && !inFile[domain.VerbCmd] {
		delete(last, domain.VerbCmd)
	}
	if hasCmd && !hasEntrypoint {
		cmd := last[domain.VerbCmd]
		cmd.Verb = domain.VerbEntrypoint
		last[domain.VerbEntrypoint] = cmd
		delete(last, domain.VerbCmd)
	}

	var steps []domain.Step
	for _, verb := range domain.EntrypointVerbs {
		d, ok := last[verb]
		if !ok {
			continue
		}
		step, err := buildStep(d, false)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildStep(d Directive, nonFatal bool) (domain.Step, error) {
	step := domain.Step{Verb: d.Verb, Original: d.Value}

	switch d.Verb {
	case domain.VerbRun:
		step.Payload = domain.RunPayload{Command: d.Value, NonFatal: nonFatal}
	case domain.VerbCopy, domain.VerbAdd:
		p, err := ParseCopy(d.Value)
		if err != nil {
			return step, NewParseError(d, err.Error(), nil)
		}
		step.Payload = p
	case domain.VerbEnv, domain.VerbArg, domain.VerbLabel:
		values, err := ParseDict(d.Value)
		if err != nil {
			return step, NewParseError(d, err.Error(), nil)
		}
		step.Payload = domain.EnvPayload{Values: values}
	case domain.VerbUser:
		user, group, _ := strings.Cut(strings.TrimSpace(d.Value), ":")
		if user == "" {
			return step, NewParseError(d, "user is required", nil)
		}
		step.Payload = domain.UserPayload{User: user, Group: group}
	case domain.VerbWorkdir:
		if d.Value == "" {
			return step, NewParseError(d, "path is required", nil)
		}
		step.Payload = domain.WorkdirPayload{Path: d.Value}
	case domain.VerbExpose:
		p, err := ParseExpose(d.Value)
		if err != nil {
			return step, NewParseError(d, err.Error(), nil)
		}
		step.Payload = p
	case domain.VerbHealthcheck:
		p, err := ParseHealthcheck(d.Value)
		if err != nil {
			return step, NewParseError(d, err.Error(), nil)
		}
		step.Payload = p
	default:
		step.Payload = domain.TextPayload{Text: d.Value}
	}
	return step, nil
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// PlatformArgs returns the BUILD* arguments for the given platform.
//
// Example:
//
//	PlatformArgs("linux", "amd64") // BUILDOS=linux BUILDARCH=amd64 BUILDPLATFORM=linux/amd64
func PlatformArgs(goos, goarch string) map[string]string {
	return map[string]string{
		"BUILDOS":       goos,
		"BUILDARCH":     goarch,
		"BUILDPLATFORM": goos + "/" + goarch,
	}
}
