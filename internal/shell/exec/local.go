package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"

	"github.com/artpar/octahe/internal/core/domain"
)

// Local runs steps on the machine running octahe.
type Local struct {
	*shell
}

var _ Capability = (*Local)(nil)

// NewLocal creates a capability for the local machine.
func NewLocal(target domain.Target, cfg Config) *Local {
	return &Local{shell: newShell(target, cfg, &localTransport{}, "local")}
}

// Probe reports the build platform as the target platform, together with
// the local PATH and systemd version.
func (l *Local) Probe(ctx context.Context) (map[string]string, error) {
	if st := l.State(); st.Facts != nil {
		return st.Facts, nil
	}

	facts := TargetFacts(l.cfg.BuildArgs)
	facts[FactPath] = os.Getenv("PATH")

	out, status, err := l.transport.exec(ctx, "systemctl --version", nil)
	if err == nil && status == 0 {
		if v := systemdVersion(splitLines(out)); v != "" {
			facts[FactSystemdVersion] = v
		}
	}

	l.setFacts(facts)
	return copyFacts(facts), nil
}

// localTransport spawns /bin/sh for every command.
type localTransport struct{}

func (localTransport) connect(context.Context) error { return nil }

func (localTransport) close() error { return nil }

func (localTransport) exec(ctx context.Context, line string, stdin []byte) (string, int, error) {
	cmd := osexec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Env = os.Environ()
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return string(out), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return string(out), -1, ctx.Err()
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (localTransport) put(_ context.Context, local, remote string, mode os.FileMode) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(remote), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(remote), err)
	}
	dst, err := os.OpenFile(remote, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", remote, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write %s: %w", remote, err)
	}
	return dst.Close()
}
