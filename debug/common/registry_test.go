package common_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/debug/debugtest"
)

func TestNewSessionID(t *testing.T) {
	a := common.NewSessionID()
	b := common.NewSessionID()
	assert.True(t, strings.HasPrefix(a, "session-"))
	assert.NotEqual(t, a, b)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := common.NewRegistry()

	s1 := &debugtest.Session{ID: "session-b"}
	s2 := &debugtest.Session{ID: "session-a", Stops: []debugtest.Stop{{State: common.StopState{Reason: "breakpoint"}}}}

	info := r.Add(s1, "/bin/simple", "exec")
	assert.Equal(t, &common.SessionInfo{ID: "session-b", ProgramPath: "/bin/simple", Mode: "exec", State: "created"}, info)
	r.Add(s2, "/src/simple", "debug")

	_, err := s2.Continue(ctx)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "session-a", list[0].ID)
	assert.Equal(t, "paused", list[0].State)
	assert.Equal(t, "session-b", list[1].ID)
	assert.Equal(t, "running", list[1].State)

	got, err := r.Get("session-b")
	require.NoError(t, err)
	assert.Same(t, s1, got)

	require.NoError(t, r.Remove(ctx, "session-b"))
	assert.True(t, s1.Terminated())

	_, err = r.Get("session-b")
	assert.True(t, errors.Is(err, common.ErrSessionNotFound))
	err = r.Remove(ctx, "session-b")
	assert.True(t, errors.Is(err, common.ErrSessionNotFound))

	require.NoError(t, r.RemoveAll(ctx))
	assert.True(t, s2.Terminated())
	assert.Empty(t, r.List())
}

func TestStopStateString(t *testing.T) {
	stop := &common.StopState{
		Location: common.Location{File: "simple.go", Line: 23, Function: "simple.Add"},
		Reason:   "breakpoint",
	}
	assert.Equal(t, "stopped at simple.go:23 (simple.Add) (breakpoint)", stop.String())
	assert.Equal(t, "exited with status 3", (&common.StopState{Exited: true, ExitStatus: 3}).String())
}
