package delve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListenAddr(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"DAP server listening at: 127.0.0.1:41235", "127.0.0.1:41235", true},
		{"API server listening at: 127.0.0.1:38111", "127.0.0.1:38111", true},
		{"API server listening at:    [::1]:2345", "[::1]:2345", true},
		{"2025-01-01T00:00:00Z info layer=debugger launching process", "", false},
		{"Starting simple.go", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseListenAddr(tt.line)
		assert.Equal(t, tt.wantOK, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestCommand(t *testing.T) {
	args, err := Command(Options{Kind: KindDAP})
	require.NoError(t, err)
	assert.Equal(t, []string{"dap", "--listen=127.0.0.1:0"}, args)

	args, err = Command(Options{Kind: KindHeadless, Program: "/tmp/simple", Mode: "exec"})
	require.NoError(t, err)
	assert.Equal(t, []string{"exec", "/tmp/simple", "--headless", "--api-version=2", "--listen=127.0.0.1:0"}, args)

	args, err = Command(Options{Kind: KindHeadless, Program: "./cmd/simple", Args: []string{"-v", "x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"debug", "./cmd/simple", "--headless", "--api-version=2", "--listen=127.0.0.1:0", "--", "-v", "x"}, args)

	_, err = Command(Options{Kind: KindHeadless})
	assert.EqualError(t, err, "headless server requires a program")

	_, err = Command(Options{Kind: KindHeadless, Program: "p", Mode: "core"})
	assert.EqualError(t, err, "unsupported debug mode: core")

	_, err = Command(Options{Kind: "gdb"})
	assert.EqualError(t, err, "unsupported debugger type: gdb")
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestDialGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = Dial(ctx, addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to "+addr)
}
