package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      ChainError
		wantMsg  string
		wantType ChainErrorType
	}{
		{
			name:     "unknown target",
			err:      NewUnknownTargetError("db"),
			wantMsg:  "unknown target: db",
			wantType: ErrorUnknownTarget,
		},
		{
			name:     "cycle",
			err:      NewCycleError("db", "bastion"),
			wantMsg:  "via chain of db loops at bastion",
			wantType: ErrorCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.wantType, tt.err.Type)
		})
	}
}
