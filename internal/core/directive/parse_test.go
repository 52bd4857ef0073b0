package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/octahe/internal/core/domain"
)

// =============================================================================
// ParseExpose Tests
// =============================================================================

func TestParseExpose(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    domain.ExposePayload
		wantErr bool
	}{
		{"bare port", "8080", domain.ExposePayload{Port: 8080, Proto: "tcp"}, false},
		{"port with proto", "8080/tcp", domain.ExposePayload{Port: 8080, Proto: "tcp"}, false},
		{"udp", "53/UDP", domain.ExposePayload{Port: 53, Proto: "udp"}, false},
		{"colon nat", "8080:9090/udp", domain.ExposePayload{Port: 8080, NatPort: 9090, Proto: "udp"}, false},
		{"spaced nat", "8080 9090/udp", domain.ExposePayload{Port: 8080, NatPort: 9090, Proto: "udp"}, false},
		{"nat default proto", "8080 9090", domain.ExposePayload{Port: 8080, NatPort: 9090, Proto: "tcp"}, false},
		{"not a number", "http", domain.ExposePayload{}, true},
		{"out of range", "70000", domain.ExposePayload{}, true},
		{"too many", "1 2 3", domain.ExposePayload{}, true},
		{"zero", "0", domain.ExposePayload{}, true},
		{"proto without port", "/udp", domain.ExposePayload{}, true},
		{"sctp", "9899/sctp", domain.ExposePayload{Port: 9899, Proto: "sctp"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExpose(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// ParseTarget Tests
// =============================================================================

func TestParseTarget(t *testing.T) {
	spec, err := ParseTarget(`admin@10.0.0.9:2222 --name web --escalate "sudo -S" -k /keys/id --via a,b`, "", "")
	require.NoError(t, err)

	assert.Equal(t, "web", spec.Target.Name)
	assert.Equal(t, "10.0.0.9", spec.Target.Domain)
	assert.Equal(t, 2222, spec.Target.Port)
	assert.Equal(t, "admin", spec.Target.User)
	assert.Equal(t, "sudo -S", spec.Target.Escalate)
	assert.Equal(t, "/keys/id", spec.Target.Key)
	assert.Equal(t, "b", spec.Target.ViaName)
	assert.Equal(t, []string{"a", "b"}, spec.Via)
}

func TestParseTarget_Defaults(t *testing.T) {
	spec, err := ParseTarget("10.0.0.9", "sudo", "/root/.ssh/id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, "sudo", spec.Target.Escalate)
	assert.Equal(t, "/root/.ssh/id_ed25519", spec.Target.Key)
	assert.Equal(t, "", spec.Target.ViaName)
}

func TestParseTarget_Errors(t *testing.T) {
	for _, text := range []string{"", "a b", "host --bogus", "host:port"} {
		_, err := ParseTarget(text, "", "")
		assert.Error(t, err, text)
	}
}

func TestExpandVia_ChainsHops(t *testing.T) {
	hops, err := ExpandVia([]string{"host1", "host2"}, map[string]domain.Target{})
	require.NoError(t, err)
	require.Len(t, hops, 2)

	assert.Equal(t, "host1", hops["host2"].ViaName)
	assert.Equal(t, domain.LocalhostName, hops["host1"].ViaName)
}

func TestExpandVia_SkipsKnown(t *testing.T) {
	known := map[string]domain.Target{"host1": {Name: "host1", Domain: "h1", Port: 22, User: "ops"}}
	hops, err := ExpandVia([]string{"host1", "host2"}, known)
	require.NoError(t, err)

	assert.Len(t, hops, 1)
	assert.Contains(t, hops, "host2")
}

// =============================================================================
// COPY / FROM / HEALTHCHECK Tests
// =============================================================================

func TestParseCopy(t *testing.T) {
	got, err := ParseCopy(`--chown app:app a.txt "b c.txt" /srv/`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b c.txt"}, got.Sources)
	assert.Equal(t, "/srv/", got.Destination)
	assert.Equal(t, "app:app", got.Owner)

	_, err = ParseCopy("only-one")
	assert.Error(t, err)
}

func TestFromImages(t *testing.T) {
	directives := ParseText("FROM alpine:3 AS base\nTO localhost\nRUN true\nFROM --platform linux/arm64 busybox\n", "Targetfile")

	images, err := FromImages(directives)
	require.NoError(t, err)
	assert.Equal(t, []Image{
		{Ref: "alpine:3", Name: "base"},
		{Ref: "busybox", Platform: "linux/arm64", Name: "busybox"},
	}, images)

	_, err = FromImages(ParseText("FROM a b c d\n", "Targetfile"))
	assert.Error(t, err)
}

func TestParseFrom(t *testing.T) {
	img, err := ParseFrom("--platform linux/arm64 golang:1.24 AS build")
	require.NoError(t, err)
	assert.Equal(t, Image{Ref: "golang:1.24", Platform: "linux/arm64", Name: "build"}, img)

	img, err = ParseFrom("alpine")
	require.NoError(t, err)
	assert.Equal(t, "alpine", img.Name)

	_, err = ParseFrom("alpine as")
	assert.Error(t, err)
}

func TestParseHealthcheck(t *testing.T) {
	got, err := ParseHealthcheck("--interval 5s --retries 7 CMD curl -f http://localhost/")
	require.NoError(t, err)
	assert.Equal(t, "5s", got.Interval)
	assert.Equal(t, DefaultHealthTimeout, got.Timeout)
	assert.Equal(t, 7, got.Retries)
	assert.Equal(t, "curl -f http://localhost/", got.Command)

	_, err = ParseHealthcheck("--retries many CMD true")
	assert.Error(t, err)
}
