package exec

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/proxy"
)

// ControlPool keeps one multiplexed SSH client per jump host so targets
// that share hops share connections.
type ControlPool struct {
	cfg     Config
	logger  *slog.Logger
	mu      sync.Mutex
	clients map[string]*ssh.Client // proxy.HostKey(name) -> client
}

// NewControlPool creates an empty pool.
func NewControlPool(cfg Config) *ControlPool {
	cfg = cfg.withDefaults()
	return &ControlPool{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "control_pool"),
		clients: make(map[string]*ssh.Client),
	}
}

// Dial connects to target through its jump chain, opening any hop that is
// not already pooled.
func (p *ControlPool) Dial(ctx context.Context, targets map[string]domain.Target, target domain.Target) (*ssh.Client, error) {
	chain, err := proxy.Resolve(targets, target.Name)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("dialing through hops", "target", target.Name, "hops", chain.Names())

	p.mu.Lock()
	defer p.mu.Unlock()

	var prev *ssh.Client
	for _, hop := range chain {
		hopTarget := targets[hop.Name]
		client, err := p.hop(ctx, prev, hopTarget)
		if err != nil {
			return nil, fmt.Errorf("via %s: %w", hop.Name, err)
		}
		prev = client
	}
	return dialTarget(ctx, prev, target, p.cfg)
}

// hop returns the pooled client for t, dialing through prev when needed.
// Caller must hold p.mu.
func (p *ControlPool) hop(ctx context.Context, prev *ssh.Client, t domain.Target) (*ssh.Client, error) {
	key := proxy.HostKey(t.Name)
	if client, ok := p.clients[key]; ok {
		if alive(client) {
			return client, nil
		}
		client.Close()
		delete(p.clients, key)
	}

	client, err := dialTarget(ctx, prev, t, p.cfg)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("opened hop", "hop", t.Name)
	p.clients[key] = client
	return client, nil
}

// size returns the number of pooled hops.
func (p *ControlPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close closes every pooled client.
func (p *ControlPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, client := range p.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.clients, key)
	}
	return firstErr
}

func dialThrough(prev *ssh.Client, t domain.Target, conf *ssh.ClientConfig) (*ssh.Client, error) {
	addr := net.JoinHostPort(t.Domain, strconv.Itoa(t.Port))
	conn, err := prev.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return handshake(conn, addr, conf)
}

// =============================================================================
// SSHVia
// =============================================================================

// SSHVia runs steps on a target reached through one or more jump hosts.
type SSHVia struct {
	*shell
	pool *ControlPool
}

var _ Capability = (*SSHVia)(nil)

// NewSSHVia creates a capability that dials target through pool.
func NewSSHVia(target domain.Target, targets map[string]domain.Target, pool *ControlPool, cfg Config) *SSHVia {
	cfg = cfg.withDefaults()
	t := &sshTransport{
		target: target,
		cfg:    cfg,
		dial: func(ctx context.Context) (*ssh.Client, error) {
			return pool.Dial(ctx, targets, target)
		},
	}

	s := newShell(target, cfg, t, "ssh-via")
	if chain, err := proxy.Resolve(targets, target.Name); err == nil && len(chain) > 0 {
		jump := chain.JumpArg()
		s.addr = target.Address() + " via " + jump
		s.logger = s.logger.With("jump", jump)
	}
	return &SSHVia{shell: s, pool: pool}
}

// Probe runs ProbeCommand once and caches the facts.
func (s *SSHVia) Probe(ctx context.Context) (map[string]string, error) {
	return s.probeShell(ctx)
}
