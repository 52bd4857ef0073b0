package exec

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	osexec "os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/artpar/octahe/internal/core/domain"
)

// =============================================================================
// Test SSH Server
// =============================================================================

// testSSHServer accepts any public key, runs exec requests with /bin/sh on
// the local machine and forwards direct-tcpip channels.
type testSSHServer struct {
	ln     net.Listener
	config *ssh.ServerConfig

	mu         sync.Mutex
	conns      []ssh.Conn
	commands   []string
	handshakes int
	forwards   int
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testSSHServer{ln: ln, config: config}
	t.Cleanup(func() {
		ln.Close()
		s.dropConnections()
	})
	go s.serve()
	return s
}

func (s *testSSHServer) target(name string) domain.Target {
	return domain.Target{Name: name, Domain: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port}
}

func (s *testSSHServer) serve() {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(nc)
	}
}

func (s *testSSHServer) handle(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.handshakes++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		switch nch.ChannelType() {
		case "session":
			go s.session(nch)
		case "direct-tcpip":
			go s.forward(nch)
		default:
			nch.Reject(ssh.UnknownChannelType, "unsupported channel")
		}
	}
}

func (s *testSSHServer) session(nch ssh.NewChannel) {
	ch, reqs, err := nch.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)
		go ssh.DiscardRequests(reqs)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		cmd := osexec.Command("/bin/sh", "-c", payload.Command)
		cmd.Stdin = ch
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()

		status := 0
		if err := cmd.Run(); err != nil {
			var exitErr *osexec.ExitError
			status = 127
			if errors.As(err, &exitErr) {
				status = exitErr.ExitCode()
			}
		}
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func (s *testSSHServer) forward(nch ssh.NewChannel) {
	var dest struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(nch.ExtraData(), &dest); err != nil {
		nch.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	remote, err := net.Dial("tcp", net.JoinHostPort(dest.Host, strconv.Itoa(int(dest.Port))))
	if err != nil {
		nch.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := nch.Accept()
	if err != nil {
		remote.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	s.mu.Lock()
	s.forwards++
	s.mu.Unlock()

	go func() {
		defer ch.Close()
		io.Copy(ch, remote)
	}()
	go func() {
		defer remote.Close()
		io.Copy(remote, ch)
	}()
}

func (s *testSSHServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *testSSHServer) count(line string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == line {
			n++
		}
	}
	return n
}

func (s *testSSHServer) stats() (handshakes, forwards int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes, s.forwards
}

// testSSHConfig returns a config whose default key is a fresh ed25519 key.
func testSSHConfig(t *testing.T) Config {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "octahe-test")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	return Config{
		BaseDir:        t.TempDir(),
		StageDir:       t.TempDir(),
		ConnectionKey:  keyPath,
		ConnectTimeout: 5 * time.Second,
	}
}

// =============================================================================
// SSH Tests
// =============================================================================

func TestSSH_RunReturnsExitStatus(t *testing.T) {
	srv := newTestSSHServer(t)
	c := NewSSH(srv.target("web"), testSSHConfig(t))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	out, err := c.RunReturn(ctx, "echo hello", Settings{})
	require.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(out))

	err = c.Run(ctx, "echo oops; exit 3", Settings{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitStatus)
	assert.Contains(t, execErr.Output, "oops")

	assert.NoError(t, c.Run(ctx, "exit 3", Settings{NonFatal: true}))
}

func TestSSH_CopyWritesFile(t *testing.T) {
	srv := newTestSSHServer(t)
	cfg := testSSHConfig(t)
	writeFile(t, filepath.Join(cfg.BaseDir, "motd"), "welcome\n")

	c := NewSSH(srv.target("web"), cfg)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	dest := filepath.Join(t.TempDir(), "etc", "motd")
	require.NoError(t, c.Copy(ctx, []string{"motd"}, dest, "", Settings{}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "welcome\n", string(data))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestSSH_ProbeRunsOnce(t *testing.T) {
	srv := newTestSSHServer(t)
	c := NewSSH(srv.target("web"), testSSHConfig(t))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	first, err := c.Probe(ctx)
	require.NoError(t, err)
	second, err := c.Probe(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, runtime.GOOS, first[FactTargetOS])
	assert.Equal(t, 1, srv.count(Settings{NonFatal: true}.Build(ProbeCommand).Line))
}

func TestSSH_RedialsDeadConnection(t *testing.T) {
	srv := newTestSSHServer(t)
	c := NewSSH(srv.target("web"), testSSHConfig(t))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	require.NoError(t, c.Run(ctx, "true", Settings{}))
	srv.dropConnections()
	require.NoError(t, c.Run(ctx, "true", Settings{}))

	handshakes, _ := srv.stats()
	assert.Equal(t, 2, handshakes)
}

func TestSSH_CommandTimeout(t *testing.T) {
	srv := newTestSSHServer(t)
	cfg := testSSHConfig(t)
	cfg.CommandTimeout = 100 * time.Millisecond

	c := NewSSH(srv.target("web"), cfg)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	assert.ErrorIs(t, c.Run(ctx, "sleep 5", Settings{}), ErrTimeout)
}

func TestSSH_ClosesAgentConnection(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyring := agent.NewKeyring()
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: priv}))

	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	served := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		agent.ServeAgent(keyring, conn)
		close(served)
	}()
	t.Setenv("SSH_AUTH_SOCK", sock)

	srv := newTestSSHServer(t)
	cfg := testSSHConfig(t)
	cfg.ConnectionKey = ""

	c := NewSSH(srv.target("web"), cfg)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("agent connection left open after handshake")
	}
}

// =============================================================================
// SSH Via Tests
// =============================================================================

func TestSSHVia_SharesHops(t *testing.T) {
	srv := newTestSSHServer(t)
	bastion := srv.target("bastion")
	db := srv.target("db")
	db.ViaName = "bastion"
	cache := srv.target("cache")
	cache.ViaName = "bastion"
	targets := map[string]domain.Target{"bastion": bastion, "db": db, "cache": cache}

	cfg := testSSHConfig(t)
	pool := NewControlPool(cfg)
	defer pool.Close()

	ctx := context.Background()
	for _, target := range []domain.Target{db, cache} {
		c := NewSSHVia(target, targets, pool, cfg)
		require.NoError(t, c.Connect(ctx))
		out, err := c.RunReturn(ctx, "echo "+target.Name, Settings{})
		require.NoError(t, err)
		assert.Equal(t, target.Name, strings.TrimSpace(out))
		require.NoError(t, c.Close())
	}

	assert.Equal(t, 1, pool.size())
	handshakes, forwards := srv.stats()
	assert.Equal(t, 3, handshakes)
	assert.Equal(t, 2, forwards)
}

func TestSSHVia_ConnectErrorNamesJump(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	bastion := domain.Target{Name: "bastion", Domain: "127.0.0.1", Port: closedPort, User: "jump"}
	db := domain.Target{Name: "db", Domain: "10.0.0.5", Port: 22, ViaName: "bastion"}
	targets := map[string]domain.Target{"bastion": bastion, "db": db}

	cfg := testSSHConfig(t)
	pool := NewControlPool(cfg)
	defer pool.Close()

	c := NewSSHVia(db, targets, pool, cfg)
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "10.0.0.5:22 via jump@127.0.0.1:"+strconv.Itoa(closedPort))
	assert.Equal(t, 0, pool.size())
}
