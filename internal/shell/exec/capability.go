// Package exec applies steps to targets over local, SSH, SSH-via,
// serial and dry-run transports.
package exec

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/artpar/octahe/internal/core/command"
	"github.com/artpar/octahe/internal/core/firewall"
	"github.com/artpar/octahe/internal/core/unit"
)

// Capability is everything the engine can ask of a target.
type Capability interface {
	Connect(ctx context.Context) error
	Probe(ctx context.Context) (map[string]string, error)
	Run(ctx context.Context, cmd string, s Settings) error
	RunReturn(ctx context.Context, cmd string, s Settings) (string, error)
	Mkdir(ctx context.Context, path string, s Settings) error
	Chown(ctx context.Context, path, owner string, s Settings) error
	Copy(ctx context.Context, sources []string, dest, owner string, s Settings) error
	ExposeCreate(ctx context.Context, rule firewall.Rule, s Settings) error
	ExposeRemove(ctx context.Context, rule firewall.Rule, s Settings) error
	EntrypointStart(ctx context.Context, cfg unit.Config, s Settings) error
	EntrypointRemove(ctx context.Context, name string, s Settings) error
	State() State
	Close() error
}

// Facts gathered by Probe.
const (
	FactTargetOS       = "TARGETOS"
	FactTargetArch     = "TARGETARCH"
	FactTargetPlatform = "TARGETPLATFORM"
	FactSystemdVersion = "SYSTEMD_VERSION"
	FactPath           = "PATH"
)

// State is a snapshot of a capability's connection.
type State struct {
	Connected bool
	Facts     map[string]string
}

// Settings is the execution context accumulated by earlier steps.
type Settings struct {
	Shell            string
	Workdir          string
	User             string
	Group            string
	Escalate         string
	EscalatePassword string
	Env              map[string]string
	NonFatal         bool
}

// Build turns a command into the line sent to the target.
func (s Settings) Build(cmd string) command.Command {
	return command.Build(command.Request{
		Command:          cmd,
		Shell:            s.Shell,
		Workdir:          s.Workdir,
		User:             s.User,
		Escalate:         s.Escalate,
		EscalatePassword: s.EscalatePassword,
		Env:              s.Env,
	})
}

// privileged returns settings for system changes: no user switch and no
// working directory.
func (s Settings) privileged() Settings {
	s.User = ""
	s.Group = ""
	s.Workdir = ""
	s.NonFatal = false
	return s
}

// Config configures capability construction.
type Config struct {
	BaseDir        string        // Directory COPY sources are relative to
	StageDir       string        // Local directory for staged unit files
	ConnectionKey  string        // Default private key path
	ConnectTimeout time.Duration // Default: 10 seconds
	CommandTimeout time.Duration // Default: 0 (no limit)
	BaudRate       int           // Default: 9600
	BuildArgs      map[string]string
	Output         io.Writer // Dry-run report destination
	Logger         *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseDir:        ".",
		StageDir:       os.TempDir(),
		ConnectTimeout: 10 * time.Second,
		BaudRate:       9600,
		Output:         os.Stdout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDir == "" {
		c.BaseDir = def.BaseDir
	}
	if c.StageDir == "" {
		c.StageDir = def.StageDir
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.BaudRate == 0 {
		c.BaudRate = def.BaudRate
	}
	if c.Output == nil {
		c.Output = def.Output
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// TargetFacts renames BUILD* arguments into the TARGET* namespace.
//
// Example:
//
//	TargetFacts({"BUILDOS": "linux"}) // {"TARGETOS": "linux"}
func TargetFacts(buildArgs map[string]string) map[string]string {
	facts := make(map[string]string, len(buildArgs))
	for k, v := range buildArgs {
		if strings.HasPrefix(k, "BUILD") {
			facts["TARGET"+strings.TrimPrefix(k, "BUILD")] = v
		}
	}
	return facts
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func copyFacts(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
