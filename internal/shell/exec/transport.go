package exec

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/artpar/octahe/internal/core/command"
	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/firewall"
	"github.com/artpar/octahe/internal/core/unit"
)

// transport is the raw channel to a target.
type transport interface {
	connect(ctx context.Context) error
	// exec runs a command line and returns its combined output and exit
	// status. err is set only when the command could not be run.
	exec(ctx context.Context, line string, stdin []byte) (output string, status int, err error)
	// put writes a local file to a path on the target.
	put(ctx context.Context, local, remote string, mode os.FileMode) error
	close() error
}

// shell implements Capability on top of a transport. Local, SSH and
// SSH-via capabilities embed it.
type shell struct {
	target    domain.Target
	addr      string // Connection description used in errors
	cfg       Config
	transport transport
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	facts     map[string]string
}

func newShell(target domain.Target, cfg Config, t transport, kind string) *shell {
	cfg = cfg.withDefaults()
	return &shell{
		target:    target,
		addr:      target.Address(),
		cfg:       cfg,
		transport: t,
		logger:    cfg.Logger.With("component", "exec", "transport", kind, "target", target.Name),
	}
}

// =============================================================================
// Connection
// =============================================================================

// Connect opens the transport.
func (s *shell) Connect(ctx context.Context) error {
	if err := s.transport.connect(ctx); err != nil {
		return NewExecError("connect", s.target.Name, s.addr, -1, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// State returns the connection state and probed facts.
func (s *shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Connected: s.connected, Facts: copyFacts(s.facts)}
}

// Close releases the transport.
func (s *shell) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return s.transport.close()
}

func (s *shell) setFacts(facts map[string]string) {
	s.mu.Lock()
	s.facts = facts
	s.mu.Unlock()
}

func (s *shell) fact(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facts[key]
}

// =============================================================================
// Commands
// =============================================================================

// Run executes cmd and discards its output.
func (s *shell) Run(ctx context.Context, cmd string, st Settings) error {
	_, err := s.RunReturn(ctx, cmd, st)
	return err
}

// RunReturn executes cmd and returns its output. A non-zero exit status is
// an error unless st.NonFatal is set.
func (s *shell) RunReturn(ctx context.Context, cmd string, st Settings) (string, error) {
	built := st.Build(cmd)
	s.logger.Debug("running command", "command", cmd)

	out, status, err := s.transport.exec(ctx, built.Line, built.Stdin)
	if err != nil {
		return out, NewExecError("run", s.target.Name, cmd, status, out, err)
	}
	if status != 0 {
		if st.NonFatal {
			s.logger.Warn("command failed, continuing", "command", cmd, "status", status)
			return out, nil
		}
		return out, NewExecError("run", s.target.Name, cmd, status, out, ErrCommandFailed)
	}
	return out, nil
}

// Mkdir creates path and its parents.
func (s *shell) Mkdir(ctx context.Context, dir string, st Settings) error {
	st.Workdir = ""
	return s.Run(ctx, "mkdir -p "+command.Quote(dir), st)
}

// Chown changes the owner of path. An empty owner is a no-op.
func (s *shell) Chown(ctx context.Context, p, owner string, st Settings) error {
	if owner == "" {
		return nil
	}
	st.Workdir = ""
	return s.Run(ctx, fmt.Sprintf("chown %s %s", command.Quote(owner), command.Quote(p)), st)
}

// =============================================================================
// Files
// =============================================================================

// Copy transfers local sources to dest on the target.
func (s *shell) Copy(ctx context.Context, sources []string, dest, owner string, st Settings) error {
	transfers, err := PlanCopy(s.cfg.BaseDir, sources, dest)
	if err != nil {
		return NewExecError("copy", s.target.Name, strings.Join(sources, " "), -1, "", err)
	}

	for _, tr := range transfers {
		remote := tr.Remote
		if !path.IsAbs(remote) && st.Workdir != "" {
			remote = path.Join(st.Workdir, remote)
		}
		if err := s.place(ctx, tr.Local, remote, tr.Mode, st); err != nil {
			return err
		}
		if err := s.Chown(ctx, remote, owner, st); err != nil {
			return err
		}
	}
	return nil
}

// place writes one file. Under escalation the file is staged in /tmp and
// moved into place with elevated rights.
func (s *shell) place(ctx context.Context, local, remote string, mode os.FileMode, st Settings) error {
	priv := st.privileged()
	if err := s.Mkdir(ctx, path.Dir(remote), priv); err != nil {
		return err
	}

	if st.Escalate == "" {
		if err := s.transport.put(ctx, local, remote, mode); err != nil {
			return NewExecError("copy", s.target.Name, remote, -1, "", err)
		}
		return nil
	}

	sum := sha1.Sum([]byte(s.target.Name + ":" + remote))
	staged := path.Join("/tmp", hex.EncodeToString(sum[:]))
	if err := s.transport.put(ctx, local, staged, mode); err != nil {
		return NewExecError("copy", s.target.Name, staged, -1, "", err)
	}
	return s.Run(ctx, fmt.Sprintf("mv %s %s", command.Quote(staged), command.Quote(remote)), priv)
}

// =============================================================================
// Firewall
// =============================================================================

// ExposeCreate opens a port. Repeated calls leave a single rule.
func (s *shell) ExposeCreate(ctx context.Context, rule firewall.Rule, st Settings) error {
	return s.Run(ctx, rule.CreateCommand(), st.privileged())
}

// ExposeRemove deletes a port rule when present.
func (s *shell) ExposeRemove(ctx context.Context, rule firewall.Rule, st Settings) error {
	return s.Run(ctx, rule.RemoveCommand(), st.privileged())
}

// =============================================================================
// Entry Points
// =============================================================================

// EntrypointStart installs and (re)starts the unit for cfg.
func (s *shell) EntrypointStart(ctx context.Context, cfg unit.Config, st Settings) error {
	if err := s.requireSystemd("entrypoint start"); err != nil {
		return err
	}

	text, err := unit.Render(cfg)
	if err != nil {
		return NewExecError("entrypoint start", s.target.Name, cfg.Name, -1, "", err)
	}

	staged, err := os.CreateTemp(s.cfg.StageDir, "octahe-*.service")
	if err != nil {
		return NewExecError("entrypoint start", s.target.Name, cfg.Name, -1, "", err)
	}
	defer os.Remove(staged.Name())
	if _, err := staged.WriteString(text); err != nil {
		staged.Close()
		return NewExecError("entrypoint start", s.target.Name, cfg.Name, -1, "", err)
	}
	if err := staged.Close(); err != nil {
		return NewExecError("entrypoint start", s.target.Name, cfg.Name, -1, "", err)
	}

	priv := st.privileged()
	if err := s.place(ctx, staged.Name(), unit.Path(cfg.Name), 0o644, priv); err != nil {
		return err
	}
	for _, cmd := range unit.StartCommands(cfg.Name) {
		if err := s.Run(ctx, cmd, priv); err != nil {
			return err
		}
	}
	s.logger.Info("entrypoint started", "unit", cfg.Name)
	return nil
}

// EntrypointRemove stops and deletes the named unit if it exists.
func (s *shell) EntrypointRemove(ctx context.Context, name string, st Settings) error {
	if err := s.requireSystemd("entrypoint remove"); err != nil {
		return err
	}
	return s.Run(ctx, unit.RemoveCommand(name), st.privileged())
}

func (s *shell) requireSystemd(op string) error {
	if s.fact(FactSystemdVersion) == "" {
		return NewExecError(op, s.target.Name, "", -1, "", fmt.Errorf("%w: init system without systemd", ErrNotImplemented))
	}
	return nil
}
