package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionManager(t *testing.T) {
	for _, typ := range DebuggerTypes {
		sm, err := NewSessionManager(typ, Options{})
		require.NoError(t, err)
		assert.Equal(t, typ, sm.GetDebuggerType())
		assert.Empty(t, sm.ListSessions())
	}

	_, err := NewSessionManager("gdb", Options{})
	assert.EqualError(t, err, "unsupported debugger type: gdb")
}
