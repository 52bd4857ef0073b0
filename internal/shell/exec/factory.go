package exec

import (
	"github.com/artpar/octahe/internal/core/domain"
)

// Kind names a capability variant.
type Kind string

const (
	KindEcho   Kind = "echo"
	KindLocal  Kind = "local"
	KindSerial Kind = "serial"
	KindSSHVia Kind = "ssh-via"
	KindSSH    Kind = "ssh"
)

// Select picks the variant for a target. Dry runs always use Echo.
func Select(target domain.Target, dryRun bool) Kind {
	switch {
	case dryRun:
		return KindEcho
	case target.IsLocal():
		return KindLocal
	case target.IsSerial():
		return KindSerial
	case target.HasVia():
		return KindSSHVia
	default:
		return KindSSH
	}
}

// Factory creates capabilities for the targets of one run.
type Factory struct {
	Targets map[string]domain.Target
	Pool    *ControlPool
	Config  Config
	DryRun  bool
}

// NewFactory creates a factory with its own connection pool.
func NewFactory(targets map[string]domain.Target, cfg Config, dryRun bool) *Factory {
	return &Factory{
		Targets: targets,
		Pool:    NewControlPool(cfg),
		Config:  cfg,
		DryRun:  dryRun,
	}
}

// New returns an unconnected capability for target. It is safe for
// concurrent use.
func (f *Factory) New(target domain.Target) Capability {
	switch Select(target, f.DryRun) {
	case KindEcho:
		return NewEcho(target, f.Config)
	case KindLocal:
		return NewLocal(target, f.Config)
	case KindSerial:
		return NewSerial(target, f.Config)
	case KindSSHVia:
		return NewSSHVia(target, f.Targets, f.Pool, f.Config)
	default:
		return NewSSH(target, f.Config)
	}
}

// Close releases shared connections.
func (f *Factory) Close() error {
	if f.Pool == nil {
		return nil
	}
	return f.Pool.Close()
}
