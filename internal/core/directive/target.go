package directive

import (
	"fmt"

	"github.com/artpar/octahe/internal/core/domain"
)

// TargetSpec is a parsed TO directive.
type TargetSpec struct {
	Target domain.Target
	Via    []string // Jump hosts, farthest from the local machine last
}

// ParseTarget parses the arguments of a TO directive:
//
//	<user@host[:port]> [--via h1,h2] [--escalate cmd] [--name n] [--connection-key|-k path]
//
// defaultEscalate and defaultKey apply when the directive omits them.
func ParseTarget(text, defaultEscalate, defaultKey string) (TargetSpec, error) {
	fs := newFlagSet("TO")
	via := fs.StringSlice("via", nil, "proxy target")
	escalate := fs.String("escalate", defaultEscalate, "escalation binary")
	name := fs.String("name", "", "friendly node name")
	key := fs.StringP("connection-key", "k", defaultKey, "key used to initiate a connection")

	args, err := parseFlags(fs, text)
	if err != nil {
		return TargetSpec{}, err
	}
	if len(args) != 1 {
		return TargetSpec{}, fmt.Errorf("expected exactly one target address, got %d", len(args))
	}

	target, err := domain.NewTarget(args[0], *name)
	if err != nil {
		return TargetSpec{}, err
	}
	target.Escalate = *escalate
	target.Key = *key
	if len(*via) > 0 {
		target.ViaName = (*via)[len(*via)-1]
	}

	return TargetSpec{Target: target, Via: *via}, nil
}

// ExpandVia creates a target for every hop of a via list that is not yet
// known. Each hop links to the hop before it in the list, and the first hop
// links to the local machine.
//
// Example: "--via h1,h2" yields h2 -> h1 and h1 -> localhost.
func ExpandVia(via []string, known map[string]domain.Target) (map[string]domain.Target, error) {
	created := make(map[string]domain.Target)
	for i := len(via) - 1; i >= 0; i-- {
		hop := via[i]
		if _, ok := known[hop]; ok {
			continue
		}
		if _, ok := created[hop]; ok {
			continue
		}

		target, err := domain.NewTarget(hop, hop)
		if err != nil {
			return nil, fmt.Errorf("via %q: %w", hop, err)
		}
		if i > 0 {
			target.ViaName = via[i-1]
		} else {
			target.ViaName = domain.LocalhostName
		}
		created[hop] = target
	}
	return created, nil
}
