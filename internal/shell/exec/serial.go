package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/firewall"
	"github.com/artpar/octahe/internal/core/unit"
)

// Port is the subset of a serial port the capability writes to.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Serial writes steps as raw bytes to a serial console.
type Serial struct {
	target domain.Target
	cfg    Config
	logger *slog.Logger
	open   func(device string, baud int) (Port, error)

	mu   sync.Mutex
	port Port
}

var _ Capability = (*Serial)(nil)

// NewSerial creates a capability for the device named by target.Domain.
func NewSerial(target domain.Target, cfg Config) *Serial {
	cfg = cfg.withDefaults()
	return &Serial{
		target: target,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "exec", "transport", "serial", "target", target.Name),
		open:   openSerial,
	}
}

func openSerial(device string, baud int) (Port, error) {
	return serial.Open(device, &serial.Mode{BaudRate: baud})
}

// Connect opens the device.
func (s *Serial) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	port, err := s.open(s.target.Domain, s.cfg.BaudRate)
	if err != nil {
		return NewExecError("connect", s.target.Name, s.target.Domain, -1, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	s.port = port
	return nil
}

// Probe returns no facts; a serial console cannot answer.
func (s *Serial) Probe(_ context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

// Run writes cmd followed by a newline.
func (s *Serial) Run(ctx context.Context, cmd string, _ Settings) error {
	return s.write(ctx, "run", []byte(cmd+"\n"))
}

// RunReturn writes cmd; serial output is not read back.
func (s *Serial) RunReturn(ctx context.Context, cmd string, st Settings) (string, error) {
	return "", s.Run(ctx, cmd, st)
}

// Mkdir is a no-op on a serial device.
func (s *Serial) Mkdir(context.Context, string, Settings) error { return nil }

// Chown is a no-op on a serial device.
func (s *Serial) Chown(context.Context, string, string, Settings) error { return nil }

// Copy writes the content of exactly one source file to the device.
func (s *Serial) Copy(ctx context.Context, sources []string, dest, _ string, _ Settings) error {
	transfers, err := PlanCopy(s.cfg.BaseDir, sources, dest)
	if err != nil {
		return NewExecError("copy", s.target.Name, strings.Join(sources, " "), -1, "", err)
	}
	if len(transfers) != 1 {
		return NewExecError("copy", s.target.Name, strings.Join(sources, " "), -1, "",
			fmt.Errorf("%w: serial copy needs exactly one file, got %d", ErrUnsupported, len(transfers)))
	}

	data, err := os.ReadFile(transfers[0].Local)
	if err != nil {
		return NewExecError("copy", s.target.Name, transfers[0].Local, -1, "", err)
	}
	return s.write(ctx, "copy", data)
}

// ExposeCreate writes the rule command to the console.
func (s *Serial) ExposeCreate(ctx context.Context, rule firewall.Rule, st Settings) error {
	return s.Run(ctx, rule.CreateCommand(), st)
}

// ExposeRemove writes the rule removal command to the console.
func (s *Serial) ExposeRemove(ctx context.Context, rule firewall.Rule, st Settings) error {
	return s.Run(ctx, rule.RemoveCommand(), st)
}

// EntrypointStart is not supported over serial.
func (s *Serial) EntrypointStart(context.Context, unit.Config, Settings) error {
	return NewExecError("entrypoint start", s.target.Name, "", -1, "", ErrUnsupported)
}

// EntrypointRemove is not supported over serial.
func (s *Serial) EntrypointRemove(context.Context, string, Settings) error {
	return NewExecError("entrypoint remove", s.target.Name, "", -1, "", ErrUnsupported)
}

// State reports whether the device is open.
func (s *Serial) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Connected: s.port != nil, Facts: map[string]string{}}
}

// Close closes the device.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) write(ctx context.Context, op string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return NewExecError(op, s.target.Name, s.target.Domain, -1, "", ErrNotConnected)
	}
	if _, err := s.port.Write(data); err != nil {
		return NewExecError(op, s.target.Name, s.target.Domain, -1, "", err)
	}
	s.logger.Debug("wrote to device", "op", op, "bytes", len(data))
	return nil
}
