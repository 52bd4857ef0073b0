package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/octahe/internal/core/domain"
)

func TestRenderClientConfig(t *testing.T) {
	targets := map[string]domain.Target{
		"bastion": {Name: "bastion", Domain: "203.0.113.10", Port: 22, User: "jump", Key: "/keys/jump", ViaName: domain.LocalhostName},
		"db":      {Name: "db", Domain: "10.0.0.5", Port: 2222, User: "root", ViaName: "bastion"},
		"local":   {Name: domain.LocalhostName, Domain: domain.LocalhostName, Port: 22},
		"console": {Name: "console", Domain: "/dev/ttyUSB0", Port: 22},
	}

	out, err := RenderClientConfig(targets, "/tmp/octahe/ssh_config")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Host *\n"))
	assert.Contains(t, out, "StrictHostKeyChecking no")

	bastionKey := HostKey("bastion")
	dbKey := HostKey("db")
	assert.Contains(t, out, "Host "+bastionKey+"\n    HostName 203.0.113.10\n    Port 22\n    User jump\n    IdentitiesOnly yes\n    IdentityFile /keys/jump\n")
	assert.Contains(t, out, "Host "+dbKey+"\n    HostName 10.0.0.5\n    Port 2222\n    User root\n    ProxyCommand ssh -F /tmp/octahe/ssh_config -W %h:%p "+bastionKey+"\n")
	assert.Equal(t, 1, strings.Count(out, "ProxyCommand"))

	assert.NotContains(t, out, "/dev/ttyUSB0")
	assert.NotContains(t, out, HostKey(domain.LocalhostName))
	assert.Less(t, strings.Index(out, "# bastion"), strings.Index(out, "# db"))
}
