package unit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestName(t *testing.T) {
	name := Name("/usr/local/bin/app --serve")
	assert.True(t, strings.HasPrefix(name, "octahe-"))
	assert.True(t, strings.HasSuffix(name, ".service"))
	assert.Len(t, name, len("octahe-")+40+len(".service"))
	assert.Equal(t, name, Name("/usr/local/bin/app --serve"))
	assert.NotEqual(t, name, Name("/usr/local/bin/app"))
}

func TestRemoveCommand(t *testing.T) {
	got := RemoveCommand("octahe-abc.service")
	assert.Equal(t,
		"if [ -f /etc/systemd/system/octahe-abc.service ]; then systemctl stop octahe-abc.service; "+
			"rm -f /etc/systemd/system/octahe-abc.service; systemctl daemon-reload; fi",
		got)
}

func TestStartCommands(t *testing.T) {
	assert.Equal(t, []string{"systemctl daemon-reload", "systemctl restart octahe-abc.service"}, StartCommands("octahe-abc.service"))
}

// =============================================================================
// Render Tests
// =============================================================================

func TestRender_Full(t *testing.T) {
	out, err := Render(Config{
		Name:       "octahe-abc.service",
		Command:    `/bin/app --greeting "hi"`,
		User:       "app",
		Group:      "staff",
		KillSignal: "SIGINT",
		Workdir:    "/srv/app",
		Environment: map[string]string{
			"PORT":          "8080",
			"ESCALATEPW":    "secret",
			"BUILDPLATFORM": "linux/amd64",
			"A":             "1",
		},
		Healthcheck: &Healthcheck{Command: "curl -f localhost", Interval: "5s", Timeout: "3s", StartPeriod: "1s", Retries: 2},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Description=octahe-abc service\n")
	assert.Contains(t, out, "Documentation="+DefaultDocumentation+"\n")
	assert.Contains(t, out, "X-Healthcheck=curl -f localhost\n")
	assert.Contains(t, out, "User=app\nGroup=staff\nKillSignal=SIGINT\nWorkingDirectory=/srv/app\n")
	assert.Contains(t, out, "Environment=\"A=1\"\nEnvironment=\"PORT=8080\"\nRemainAfterExit=yes\n")
	assert.Contains(t, out, `ExecStart=/bin/sh -c "/bin/app --greeting \"hi\""`+"\n")
	assert.Contains(t, out, "PrivateTmp=yes\n")
	assert.Contains(t, out, "WantedBy=multi-user.target\n")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "BUILDPLATFORM")
}

func TestRender_Minimal(t *testing.T) {
	out, err := Render(Config{Command: "/bin/app", Shell: "/bin/bash -c", Workdir: "/tmp/app"})
	require.NoError(t, err)

	assert.Contains(t, out, "Description="+strings.TrimSuffix(Name("/bin/app"), ".service")+" service\n")
	assert.Contains(t, out, "[Service]\nType=simple\nWorkingDirectory=/tmp/app\nRemainAfterExit=yes\n")
	assert.Contains(t, out, `ExecStart=/bin/bash -c "/bin/app"`)
	assert.Contains(t, out, "PrivateTmp=no\n")
	assert.NotContains(t, out, "X-Healthcheck")
	assert.NotContains(t, out, "User=")
}

func TestRender_EmptyCommand(t *testing.T) {
	_, err := Render(Config{Command: "  "})
	assert.Error(t, err)
}
