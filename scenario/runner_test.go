package scenario

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/debug/debugtest"
	"github.com/xhd2015/dlv-fixture/fixture/markers"
)

const pkg = "github.com/xhd2015/dlv-fixture/fixture/simple."

func scenarioNamed(t *testing.T, name string) Scenario {
	t.Helper()
	found, err := Find(Default(), []string{name})
	require.NoError(t, err)
	return found[0]
}

func at(set markers.Set, marker string, offset int, fn string) common.Location {
	m := set[marker]
	return common.Location{File: m.File, Line: m.Line + offset, Function: pkg + fn}
}

func TestRunAddArguments(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{ID: "s", Stops: []debugtest.Stop{
		{
			State:  common.StopState{Location: at(set, "add_body", 0, "Add"), Reason: "breakpoint"},
			Values: map[string]string{"a": "5", "b": "3"},
		},
		{
			State:  common.StopState{Location: at(set, "add_body", 1, "Add"), Reason: "step"},
			Values: map[string]string{"result": "8"},
		},
	}}

	r := &Runner{Markers: set}
	result := r.Run(context.Background(), session, scenarioNamed(t, "add-arguments"))
	require.NoError(t, result.Err)
	assert.True(t, result.Passed())
	require.Len(t, result.Steps, 3)
	assert.Equal(t, "result = 8", result.Steps[2].Detail)

	m := set["add_body"]
	assert.Equal(t, []debugtest.Breakpoint{{File: m.File, Line: m.Line}}, session.Breakpoints())
	assert.Equal(t, []string{
		fmt.Sprintf("break %s:%d", m.File, m.Line),
		"continue", "evaluate a", "evaluate b",
		"next",
		"evaluate result",
	}, session.Calls())
}

func TestRunWrongValue(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{Stops: []debugtest.Stop{{
		State:  common.StopState{Location: at(set, "add_body", 0, "Add")},
		Values: map[string]string{"a": "6", "b": "3"},
	}}}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "add-arguments"))
	require.Error(t, result.Err)
	assert.False(t, result.Passed())
	assert.Equal(t, "step 1 (continue): a: got 6, want 5", result.Err.Error())
	require.Len(t, result.Steps, 1)
	assert.Error(t, result.Steps[0].Err)
}

func TestRunWrongLocation(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{Stops: []debugtest.Stop{{
		State: common.StopState{Location: at(set, "multiply_body", 0, "Multiply")},
	}}}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "add-arguments"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "want marker add_body")
}

func TestRunStackedMarkers(t *testing.T) {
	set := make(markers.Set)
	for name, m := range fixtureMarkers(t) {
		set[name] = m
	}
	body := set["add_body"]
	set["add_entry"] = markers.Marker{Name: "add_entry", File: body.File, Line: body.Line}
	set["zz_add"] = markers.Marker{Name: "zz_add", File: body.File, Line: body.Line}

	for _, want := range []string{"add_body", "add_entry", "zz_add"} {
		session := &debugtest.Session{Stops: []debugtest.Stop{{
			State: common.StopState{Location: at(set, "add_body", 0, "Add"), Reason: "breakpoint"},
		}}}
		sc := Scenario{
			Name:        "stacked",
			Breakpoints: []string{want},
			Steps:       []Step{{Action: ActionContinue, ExpectMarker: want}},
		}
		result := (&Runner{Markers: set}).Run(context.Background(), session, sc)
		assert.NoError(t, result.Err, want)
	}

	session := &debugtest.Session{Stops: []debugtest.Stop{{
		State: common.StopState{Location: at(set, "add_body", 0, "Add")},
	}}}
	sc := Scenario{
		Name:        "stacked-miss",
		Breakpoints: []string{"add_body"},
		Steps:       []Step{{Action: ActionContinue, ExpectMarker: "multiply_body"}},
	}
	result := (&Runner{Markers: set}).Run(context.Background(), session, sc)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "want marker multiply_body")
}

func TestRunUnexpectedExit(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "loop-accumulation"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "program exited with status 0")
}

func TestRunBreakpointFailure(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{FailBreakpoints: true}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "loop-return"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "breakpoint loop_return")
	assert.Empty(t, result.Steps)
}

func TestRunStackAndLocals(t *testing.T) {
	set := fixtureMarkers(t)
	addStop := common.StopState{Location: at(set, "add_body", 0, "Add"), Reason: "breakpoint"}

	session := &debugtest.Session{Stops: []debugtest.Stop{
		{State: addStop},
		{
			State:  addStop,
			Values: map[string]string{"a": "4", "b": "7"},
			Stack:  []common.Location{addStop.Location, {Function: pkg + "Calculate"}, {Function: pkg + "Run"}},
		},
	}}
	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "add-from-calculate"))
	require.NoError(t, result.Err)

	session = &debugtest.Session{Stops: []debugtest.Stop{{
		State: common.StopState{Location: at(set, "loop_return", 0, "LoopExample")},
		Locals: []common.Variable{
			{Name: "w", Type: "io.Writer", Value: "*os.File"},
			{Name: "n", Type: "int", Value: "5"},
			{Name: "total", Type: "int", Value: "10"},
		},
	}}}
	result = (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "loop-return"))
	require.NoError(t, result.Err)
	assert.Equal(t, "w=*os.File n=5 total=10", result.Steps[1].Detail)

	session = &debugtest.Session{Stops: []debugtest.Stop{{
		State:  common.StopState{Location: at(set, "loop_return", 0, "LoopExample")},
		Locals: []common.Variable{{Name: "n", Type: "int", Value: "5"}},
	}}}
	result = (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "loop-return"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "no local total")
}

const fixtureOutput = `Starting simple.go
add(5, 3) = 8
calculate(4, 7) = {sum: 11, product: 28}
Loop iteration 0, total so far: 0
Loop iteration 1, total so far: 1
Loop iteration 2, total so far: 3
Loop iteration 3, total so far: 6
Loop iteration 4, total so far: 10
loop_example(5) = 10
hello, world!
Finished simple.go
`

func TestRunToExit(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{Out: fixtureOutput}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "run-to-exit"))
	require.NoError(t, result.Err)
	assert.Equal(t, "exited with status 0", result.Steps[0].Detail)
}

func TestRunOutputMismatch(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{Out: strings.Replace(fixtureOutput, "hello, world!", "hello world", 1)}

	r := &Runner{Markers: set, OutputTimeout: 50 * time.Millisecond}
	result := r.Run(context.Background(), session, scenarioNamed(t, "run-to-exit"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "output mismatch")
	assert.Contains(t, result.Err.Error(), "hello world")
}

func TestRunDrainsToExit(t *testing.T) {
	set := fixtureMarkers(t)
	stop := common.StopState{Location: at(set, "loop_body", 0, "LoopExample")}
	session := &debugtest.Session{
		Out:   "done\n",
		Stops: []debugtest.Stop{{State: stop}, {State: stop}, {State: stop}},
	}
	sc := Scenario{
		Name:         "drain",
		Breakpoints:  []string{"loop_body"},
		Steps:        []Step{{Action: ActionContinue, ExpectMarker: "loop_body"}},
		ExpectOutput: []string{"done"},
	}

	result := (&Runner{Markers: set}).Run(context.Background(), session, sc)
	require.NoError(t, result.Err)
	calls := session.Calls()
	assert.Equal(t, []string{"continue", "continue", "continue", "continue"}, calls[1:])
}

func TestRunExpectExitedButStopped(t *testing.T) {
	set := fixtureMarkers(t)
	session := &debugtest.Session{Stops: []debugtest.Stop{{
		State: common.StopState{Location: at(set, "run_start", 0, "Run"), Reason: "breakpoint"},
	}}}

	result := (&Runner{Markers: set}).Run(context.Background(), session, scenarioNamed(t, "run-to-exit"))
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "expected the program to exit")
}

func TestRunProgram(t *testing.T) {
	set := fixtureMarkers(t)
	var created []*debugtest.Session
	manager := &debugtest.Manager{
		New: func(program string, args []string, mode string) (*debugtest.Session, error) {
			if program == "/missing" {
				return nil, fmt.Errorf("no such file")
			}
			assert.Equal(t, "exec", mode)
			s := &debugtest.Session{Stops: []debugtest.Stop{
				{
					State:  common.StopState{Location: at(set, "add_body", 0, "Add"), Reason: "breakpoint"},
					Values: map[string]string{"a": "5", "b": "3"},
				},
				{
					State:  common.StopState{Location: at(set, "add_body", 1, "Add"), Reason: "step"},
					Values: map[string]string{"result": "8"},
				},
			}}
			created = append(created, s)
			return s, nil
		},
	}

	r := &Runner{Markers: set}
	result := r.RunProgram(context.Background(), manager, "/tmp/simple", scenarioNamed(t, "add-arguments"))
	require.NoError(t, result.Err)
	assert.Equal(t, "fake", result.Debugger)
	require.Len(t, created, 1)
	assert.True(t, created[0].Terminated())
	assert.Empty(t, manager.ListSessions())

	result = r.RunProgram(context.Background(), manager, "/missing", scenarioNamed(t, "add-arguments"))
	assert.EqualError(t, result.Err, "failed to start debug session: no such file")
	assert.Equal(t, "fake", result.Debugger)
	assert.Equal(t, "add-arguments", result.Scenario)
}
