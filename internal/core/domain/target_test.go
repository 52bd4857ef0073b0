package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ParseAddress Tests
// =============================================================================

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		wantUser string
		wantHost string
		wantPort int
		wantErr  error
	}{
		{"host only", "10.0.0.5", "", "10.0.0.5", 22, nil},
		{"user and host", "root@10.0.0.5", "root", "10.0.0.5", 22, nil},
		{"user host and port", "admin@example.com:2222", "admin", "example.com", 2222, nil},
		{"host and port", "example.com:2200", "", "example.com", 2200, nil},
		{"non numeric port", "example.com:ssh", "", "", 0, ErrTargetPortInvalid},
		{"port out of range", "example.com:70000", "", "", 0, ErrTargetPortInvalid},
		{"empty host", "root@", "", "", 0, ErrTargetHostRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseAddress(tt.address)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, user)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

// =============================================================================
// Target Tests
// =============================================================================

func TestNewTarget_DefaultsNameToAddress(t *testing.T) {
	target, err := NewTarget("root@10.0.0.5", "")
	require.NoError(t, err)

	assert.Equal(t, "root@10.0.0.5", target.Name)
	assert.Equal(t, "10.0.0.5", target.Domain)
	assert.Equal(t, "root", target.User)
	assert.Equal(t, 22, target.Port)
	assert.NoError(t, target.Validate())
}

func TestTarget_Kinds(t *testing.T) {
	local := Target{Name: LocalhostName, Domain: LocalhostName, Port: DefaultSSHPort}
	assert.True(t, local.IsLocal())
	assert.False(t, local.HasVia())

	serial := Target{Name: "console", Domain: "/dev/ttyUSB0", Port: 22}
	assert.True(t, serial.IsSerial())

	jumped := Target{Name: "db", Domain: "db.internal", Port: 22, ViaName: "bastion"}
	assert.True(t, jumped.HasVia())
	assert.False(t, jumped.IsSerial())

	direct := Target{Name: "web", Domain: "web", Port: 22, ViaName: DirectName}
	assert.False(t, direct.HasVia())
}

func TestTarget_Address(t *testing.T) {
	assert.Equal(t, "root@h:22", Target{Domain: "h", Port: 22, User: "root"}.Address())
	assert.Equal(t, "h:2222", Target{Domain: "h", Port: 2222}.Address())
}

// =============================================================================
// Verb Tests
// =============================================================================

func TestVerb_Groups(t *testing.T) {
	assert.True(t, VerbRun.IsDeploy())
	assert.False(t, VerbRun.IsEntrypoint())
	assert.True(t, VerbCmd.IsEntrypoint())
	assert.False(t, VerbFrom.IsSupported())
	assert.False(t, VerbTo.IsSupported())
	assert.Equal(t, VerbExpose, ParseVerb(" expose "))

	for _, v := range []Verb{VerbEntrypoint, VerbExpose, VerbInterface} {
		assert.True(t, v.IsReversible(), string(v))
	}
	assert.False(t, VerbRun.IsReversible())
}
