package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with a log file under the test's temp dir.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd, opts := newRootCmd()
	defer opts.closeLog()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-file", filepath.Join(t.TempDir(), "dlv-fixture.log")))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestMarkersCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "markers")
	require.NoError(t, err)
	for _, name := range []string{"run_start", "add_body", "multiply_body", "calculate_return", "loop_body", "loop_return", "string_print"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, filepath.Join("fixture", "simple", "simple.go")+":")
}

func TestCheckRejectsBadFlags(t *testing.T) {
	tests := []struct {
		args []string
		err  string
	}{
		{[]string{"check", "--parallel", "0"}, "--parallel must be at least 1, got 0"},
		{[]string{"check", "--debugger", "gdb"}, "unsupported debugger type: gdb"},
		{[]string{"check", "--scenario", "nope"}, "unknown scenario: nope"},
		{[]string{"check", "--scenarios", "missing.yaml"}, "missing.yaml"},
		{[]string{"check", "extra"}, `unknown command "extra"`},
	}
	for _, tt := range tests {
		_, err := execute(t, context.Background(), tt.args...)
		require.Error(t, err, "%v", tt.args)
		assert.Contains(t, err.Error(), tt.err, "%v", tt.args)
	}
}

func TestServeRejectsUnknownDebugger(t *testing.T) {
	_, err := execute(t, context.Background(), "serve", "--debugger", "gdb")
	assert.EqualError(t, err, "unsupported debugger type: gdb")
}

func TestDlvFlagDefaultsToEnv(t *testing.T) {
	t.Setenv(dlvEnv, "/opt/dlv")
	cmd, _ := newRootCmd()
	flag := cmd.PersistentFlags().Lookup("dlv")
	require.NotNil(t, flag)
	assert.Equal(t, "/opt/dlv", flag.DefValue)
}

func TestLoadScenarios(t *testing.T) {
	all, err := loadScenarios("", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, all)

	some, err := loadScenarios("", []string{"run-to-exit"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "run-to-exit", some[0].Name)
}
