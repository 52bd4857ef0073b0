package command

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var encodedWord = regexp.MustCompile(`"\$\(printf '%s' '([A-Za-z0-9+/=]+)' \| base64 -d\)"`)

// decode unwraps the outermost encoded word of a command line.
func decode(t *testing.T, line string) string {
	t.Helper()
	m := encodedWord.FindStringSubmatch(line)
	require.NotNil(t, m, "no encoded word in %q", line)
	raw, err := base64.StdEncoding.DecodeString(m[1])
	require.NoError(t, err)
	return string(raw)
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_Plain(t *testing.T) {
	cmd := Build(Request{Command: "echo hi"})

	assert.True(t, strings.HasPrefix(cmd.Line, DefaultShell+" "))
	assert.Equal(t, "echo hi", decode(t, cmd.Line))
	assert.Nil(t, cmd.Stdin)
}

func TestBuild_Deterministic(t *testing.T) {
	r := Request{
		Command: "make install",
		Workdir: "/srv/app",
		Env:     map[string]string{"B": "2", "A": "1"},
	}
	assert.Equal(t, Build(r), Build(r))
	assert.Equal(t, "export A='1'; export B='2'; cd '/srv/app' && make install", decode(t, Build(r).Line))
}

func TestBuild_Layers(t *testing.T) {
	cmd := Build(Request{
		Command:  "id",
		Shell:    "/bin/bash -c",
		Workdir:  "/tmp/x",
		User:     "app",
		Escalate: "sudo",
	})

	outer := decode(t, cmd.Line)
	require.True(t, strings.HasPrefix(cmd.Line, "/bin/bash -c "))
	require.True(t, strings.HasPrefix(outer, "sudo -- /bin/bash -c "), outer)

	su := decode(t, outer)
	require.True(t, strings.HasPrefix(su, "su 'app' -c "), su)

	assert.Equal(t, "cd '/tmp/x' && id", decode(t, su))
}

func TestBuild_PasswordOnStdinOnly(t *testing.T) {
	cmd := Build(Request{
		Command:          "whoami",
		Escalate:         "sudo",
		EscalatePassword: "s3cret",
		Env:              map[string]string{PasswordKey: "s3cret", "OK": "yes"},
	})

	assert.Equal(t, []byte("s3cret\n"), cmd.Stdin)

	outer := decode(t, cmd.Line)
	assert.NotContains(t, cmd.Line, "s3cret")
	assert.NotContains(t, outer, "s3cret")
	assert.NotContains(t, outer, PasswordKey)
	assert.Contains(t, outer, "export OK='yes'; sudo --stdin -- /bin/sh -c ")
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExports_SkipsInvalidKeys(t *testing.T) {
	got := Exports(map[string]string{"GOOD": "a b", "bad-key": "x", "1X": "y"})
	assert.Equal(t, "export GOOD='a b'; ", got)
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in))
	}
}
