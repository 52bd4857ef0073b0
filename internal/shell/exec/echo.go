package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/firewall"
	"github.com/artpar/octahe/internal/core/unit"
)

// Echo is the dry-run capability. It reports every action it would take
// and changes nothing.
type Echo struct {
	target domain.Target
	cfg    Config

	mu        sync.Mutex
	out       io.Writer
	connected bool
	facts     map[string]string
}

var _ Capability = (*Echo)(nil)

// NewEcho creates a dry-run capability writing to cfg.Output.
func NewEcho(target domain.Target, cfg Config) *Echo {
	cfg = cfg.withDefaults()
	return &Echo{target: target, cfg: cfg, out: cfg.Output}
}

func (e *Echo) report(action, plain string, built string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fmt.Fprintf(e.out, "[%s] %s: %s\n", e.target.Name, action, plain)
	if built != "" {
		fmt.Fprintf(e.out, "[%s]     %s\n", e.target.Name, built)
	}
}

// Connect records the connection.
func (e *Echo) Connect(_ context.Context) error {
	e.report("connect", e.target.Address(), "")
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Probe reports the build platform as the target platform.
func (e *Echo) Probe(_ context.Context) (map[string]string, error) {
	e.report("probe", ProbeCommand, "")
	facts := TargetFacts(e.cfg.BuildArgs)

	e.mu.Lock()
	e.facts = facts
	e.mu.Unlock()
	return copyFacts(facts), nil
}

// Run reports the fully built command line.
func (e *Echo) Run(ctx context.Context, cmd string, st Settings) error {
	_, err := e.RunReturn(ctx, cmd, st)
	return err
}

// RunReturn reports the fully built command line and returns no output.
func (e *Echo) RunReturn(ctx context.Context, cmd string, st Settings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.report("run", cmd, st.Build(cmd).Line)
	return "", nil
}

// Mkdir reports the directory that would be created.
func (e *Echo) Mkdir(ctx context.Context, dir string, st Settings) error {
	st.Workdir = ""
	e.report("mkdir", dir, st.Build("mkdir -p "+dir).Line)
	return ctx.Err()
}

// Chown reports the ownership change.
func (e *Echo) Chown(ctx context.Context, p, owner string, _ Settings) error {
	if owner == "" {
		return nil
	}
	e.report("chown", owner+" "+p, "")
	return ctx.Err()
}

// Copy reports each planned transfer. Missing sources are still an error.
func (e *Echo) Copy(ctx context.Context, sources []string, dest, owner string, _ Settings) error {
	transfers, err := PlanCopy(e.cfg.BaseDir, sources, dest)
	if err != nil {
		return NewExecError("copy", e.target.Name, strings.Join(sources, " "), -1, "", err)
	}
	for _, tr := range transfers {
		e.report("copy", tr.Local+" -> "+tr.Remote, "")
		if owner != "" {
			e.report("chown", owner+" "+tr.Remote, "")
		}
	}
	return ctx.Err()
}

// ExposeCreate reports the rule that would be inserted.
func (e *Echo) ExposeCreate(ctx context.Context, rule firewall.Rule, _ Settings) error {
	e.report("expose", rule.CreateCommand(), "")
	return ctx.Err()
}

// ExposeRemove reports the rule that would be deleted.
func (e *Echo) ExposeRemove(ctx context.Context, rule firewall.Rule, _ Settings) error {
	e.report("expose remove", rule.RemoveCommand(), "")
	return ctx.Err()
}

// EntrypointStart reports the rendered unit.
func (e *Echo) EntrypointStart(ctx context.Context, cfg unit.Config, _ Settings) error {
	text, err := unit.Render(cfg)
	if err != nil {
		return NewExecError("entrypoint start", e.target.Name, cfg.Name, -1, "", err)
	}
	e.report("entrypoint", unit.Path(cfg.Name), "")
	e.mu.Lock()
	io.WriteString(e.out, text)
	e.mu.Unlock()
	for _, cmd := range unit.StartCommands(cfg.Name) {
		e.report("run", cmd, "")
	}
	return ctx.Err()
}

// EntrypointRemove reports the unit removal.
func (e *Echo) EntrypointRemove(ctx context.Context, name string, _ Settings) error {
	e.report("entrypoint remove", unit.RemoveCommand(name), "")
	return ctx.Err()
}

// State returns the recorded connection state.
func (e *Echo) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Connected: e.connected, Facts: copyFacts(e.facts)}
}

// Close records the disconnect.
func (e *Echo) Close() error {
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}
