package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/artpar/octahe/internal/core/command"
	"github.com/artpar/octahe/internal/core/domain"
)

// SSH runs steps on a target reached directly over SSH.
type SSH struct {
	*shell
}

var _ Capability = (*SSH)(nil)

// NewSSH creates a capability for a directly reachable target.
func NewSSH(target domain.Target, cfg Config) *SSH {
	cfg = cfg.withDefaults()
	t := &sshTransport{
		target: target,
		cfg:    cfg,
		dial: func(ctx context.Context) (*ssh.Client, error) {
			return dialTarget(ctx, nil, target, cfg)
		},
	}
	return &SSH{shell: newShell(target, cfg, t, "ssh")}
}

// Probe runs ProbeCommand once and caches the facts.
func (s *SSH) Probe(ctx context.Context) (map[string]string, error) {
	return s.probeShell(ctx)
}

// =============================================================================
// Authentication
// =============================================================================

// dialTarget authenticates to t, through prev when it is set. The agent
// connection used for authentication is closed once the handshake is done.
func dialTarget(ctx context.Context, prev *ssh.Client, t domain.Target, cfg Config) (*ssh.Client, error) {
	conf, agentConn, err := clientConfig(t, cfg)
	if err != nil {
		return nil, err
	}
	if agentConn != nil {
		defer agentConn.Close()
	}

	if prev == nil {
		return dialDirect(ctx, t, conf)
	}
	return dialThrough(prev, t, conf)
}

// clientConfig builds the ssh client configuration for a target. The key
// is the target's own, then the configured default, then the ssh agent.
// The agent connection is returned when the agent supplies the signers.
func clientConfig(target domain.Target, cfg Config) (*ssh.ClientConfig, net.Conn, error) {
	auth, agentConn, err := authMethods(target.Key, cfg.ConnectionKey)
	if err != nil {
		return nil, nil, err
	}

	name := target.User
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}

	return &ssh.ClientConfig{
		User:            name,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}, agentConn, nil
}

func authMethods(keys ...string) ([]ssh.AuthMethod, net.Conn, error) {
	for _, keyPath := range keys {
		if keyPath == "" {
			continue
		}
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, conn, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if signer, err := loadSigner(filepath.Join(home, ".ssh", name)); err == nil {
				return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
			}
		}
	}
	return nil, nil, ErrNoAuthMethod
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key %s: %w", keyPath, err)
	}
	return signer, nil
}

func dialDirect(ctx context.Context, target domain.Target, conf *ssh.ClientConfig) (*ssh.Client, error) {
	addr := net.JoinHostPort(target.Domain, strconv.Itoa(target.Port))
	d := net.Dialer{Timeout: conf.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	return handshake(conn, addr, conf)
}

// handshake runs the SSH handshake over an established connection.
func handshake(conn net.Conn, addr string, conf *ssh.ClientConfig) (*ssh.Client, error) {
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// =============================================================================
// Transport
// =============================================================================

// sshTransport holds one client per target and opens a session per command.
type sshTransport struct {
	target domain.Target
	cfg    Config
	dial   func(ctx context.Context) (*ssh.Client, error)

	mu     sync.Mutex // Protects client
	client *ssh.Client
}

// connect establishes the SSH connection if not already connected.
func (t *sshTransport) connect(ctx context.Context) error {
	_, err := t.session(ctx)
	return err
}

// session returns a client, re-dialing when the keepalive probe fails.
func (t *sshTransport) session(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		if alive(t.client) {
			return t.client, nil
		}
		t.client.Close()
		t.client = nil
	}

	client, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	t.client = client
	return client, nil
}

func (t *sshTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

func (t *sshTransport) exec(ctx context.Context, line string, stdin []byte) (string, int, error) {
	client, err := t.session(ctx)
	if err != nil {
		return "", -1, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	session, err := client.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	err = runSession(ctx, session, line, t.cfg.CommandTimeout)
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return out.String(), 0, nil
	case errors.As(err, &exitErr):
		return out.String(), exitErr.ExitStatus(), nil
	default:
		return out.String(), -1, err
	}
}

// put streams a local file into "cat > remote" over the session stdin.
func (t *sshTransport) put(ctx context.Context, local, remote string, mode os.FileMode) error {
	client, err := t.session(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = f
	session.Stderr = &stderr

	q := command.Quote(remote)
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", q, mode.Perm(), q)
	if err := runSession(ctx, session, cmd, 0); err != nil {
		return fmt.Errorf("upload %s: %w: %s", remote, err, stderr.String())
	}
	return nil
}

// runSession runs cmd, giving up when ctx is done or timeout elapses.
func runSession(ctx context.Context, session *ssh.Session, cmd string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ctx.Err()
	case <-expired:
		session.Signal(ssh.SIGKILL)
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case err := <-done:
		return err
	}
}

// alive sends a keepalive request and reports whether it was answered.
func alive(client *ssh.Client) bool {
	_, _, err := client.SendRequest("keepalive@octahe", true, nil)
	return err == nil
}
