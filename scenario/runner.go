package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/fixture/markers"
	"github.com/xhd2015/dlv-fixture/log"
)

const (
	defaultOutputTimeout = 2 * time.Second
	// continues allowed while running the program to completion
	maxDrainContinues = 100
)

// Runner executes scenarios on debug sessions it does not own: the caller
// creates the session and terminates it afterwards.
type Runner struct {
	Markers markers.Set
	Logger  log.Logger
	// OutputTimeout bounds the wait for output still in flight after the
	// program exited.
	OutputTimeout time.Duration
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int
	Action string
	Detail string
	Err    error
}

// Result is the outcome of one scenario.
type Result struct {
	Scenario string
	Debugger string
	Steps    []StepResult
	Duration time.Duration
	Err      error
}

func (r *Result) Passed() bool {
	return r.Err == nil
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		return log.Nop()
	}
	return r.Logger
}

// Run executes sc on session, stopping at the first failure.
func (r *Runner) Run(ctx context.Context, session common.Session, sc Scenario) *Result {
	start := time.Now()
	result := &Result{Scenario: sc.Name}
	result.Err = r.run(ctx, session, sc, result)
	result.Duration = time.Since(start)
	if result.Err != nil {
		r.logger().Warnf("scenario %s failed: %v", sc.Name, result.Err)
	} else {
		r.logger().Infof("scenario %s passed in %v", sc.Name, result.Duration)
	}
	return result
}

// RunProgram debugs program in a new session of manager, runs sc on it and
// terminates the session.
func (r *Runner) RunProgram(ctx context.Context, manager common.SessionManager, program string, sc Scenario) *Result {
	info, err := manager.CreateSession(ctx, program, nil, "exec")
	if err != nil {
		return &Result{Scenario: sc.Name, Debugger: manager.GetDebuggerType(), Err: fmt.Errorf("failed to start debug session: %w", err)}
	}
	defer func() {
		if err := manager.TerminateSession(context.WithoutCancel(ctx), info.ID); err != nil && !errors.Is(err, common.ErrSessionNotFound) {
			r.logger().Warnf("terminate session %s: %v", info.ID, err)
		}
	}()

	var result *Result
	session, err := manager.GetSession(info.ID)
	if err != nil {
		result = &Result{Scenario: sc.Name, Err: err}
	} else {
		result = r.Run(ctx, session, sc)
	}
	result.Debugger = manager.GetDebuggerType()
	return result
}

func (r *Runner) run(ctx context.Context, session common.Session, sc Scenario, result *Result) error {
	if err := sc.CheckMarkers(r.Markers); err != nil {
		return err
	}
	for _, name := range sc.Breakpoints {
		m, _ := r.Markers.Lookup(name)
		if _, err := session.SetBreakpoint(ctx, m.File, m.Line); err != nil {
			return fmt.Errorf("breakpoint %s: %w", m, err)
		}
	}

	exited := false
	for i, step := range sc.Steps {
		detail, stop, err := r.runStep(ctx, session, step)
		result.Steps = append(result.Steps, StepResult{Index: i + 1, Action: step.Action, Detail: detail, Err: err})
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		if stop != nil && stop.Exited {
			exited = true
		}
	}

	if sc.ExpectOutput == nil {
		return nil
	}
	if !exited {
		if err := runToExit(ctx, session); err != nil {
			return err
		}
	}
	return r.checkOutput(ctx, session, sc.ExpectOutput)
}

func (r *Runner) runStep(ctx context.Context, session common.Session, step Step) (string, *common.StopState, error) {
	switch step.Action {
	case ActionContinue, ActionNext, ActionStepIn, ActionStepOut:
		stop, err := execute(ctx, session, step.Action)
		if err != nil {
			return "", nil, err
		}
		detail := stop.String()
		if err := r.checkStop(ctx, session, step, stop); err != nil {
			return detail, stop, err
		}
		return detail, stop, nil
	case ActionEvaluate:
		value, err := session.Evaluate(ctx, step.Expr)
		if err != nil {
			return "", nil, err
		}
		detail := fmt.Sprintf("%s = %s", step.Expr, value)
		if step.Expect != "" && value != step.Expect {
			return detail, nil, fmt.Errorf("%s: got %s, want %s", step.Expr, value, step.Expect)
		}
		return detail, nil, r.checkVars(ctx, session, step.ExpectVars)
	case ActionLocals:
		vars, err := session.Locals(ctx)
		if err != nil {
			return "", nil, err
		}
		values := make(map[string]string, len(vars))
		parts := make([]string, 0, len(vars))
		for _, v := range vars {
			values[v.Name] = v.Value
			parts = append(parts, v.Name+"="+v.Value)
		}
		detail := strings.Join(parts, " ")
		for _, name := range sortedKeys(step.ExpectVars) {
			got, ok := values[name]
			if !ok {
				return detail, nil, fmt.Errorf("no local %s", name)
			}
			if want := step.ExpectVars[name]; got != want {
				return detail, nil, fmt.Errorf("%s: got %s, want %s", name, got, want)
			}
		}
		return detail, nil, nil
	case ActionStack:
		stack, err := session.Stacktrace(ctx, step.Frame+1)
		if err != nil {
			return "", nil, err
		}
		if len(stack) <= step.Frame {
			return "", nil, fmt.Errorf("stack has %d frames, want frame %d", len(stack), step.Frame)
		}
		loc := stack[step.Frame]
		detail := fmt.Sprintf("frame %d: %s", step.Frame, loc)
		return detail, nil, r.checkLocation(step, loc)
	default:
		return "", nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

func execute(ctx context.Context, session common.Session, action string) (*common.StopState, error) {
	switch action {
	case ActionContinue:
		return session.Continue(ctx)
	case ActionNext:
		return session.Next(ctx)
	case ActionStepIn:
		return session.StepIn(ctx)
	case ActionStepOut:
		return session.StepOut(ctx)
	}
	return nil, fmt.Errorf("%q is not an execution action", action)
}

func (r *Runner) checkStop(ctx context.Context, session common.Session, step Step, stop *common.StopState) error {
	if step.ExpectExited {
		if !stop.Exited {
			return fmt.Errorf("expected the program to exit, %s", stop)
		}
		return nil
	}
	if stop.Exited {
		if step.ExpectMarker != "" || step.ExpectFunction != "" || len(step.ExpectVars) > 0 {
			return fmt.Errorf("program exited with status %d", stop.ExitStatus)
		}
		return nil
	}
	if err := r.checkLocation(step, stop.Location); err != nil {
		return err
	}
	return r.checkVars(ctx, session, step.ExpectVars)
}

func (r *Runner) checkLocation(step Step, loc common.Location) error {
	if step.ExpectMarker != "" {
		if !hasMarker(r.Markers.ByLine(loc.File, loc.Line), step.ExpectMarker) {
			want, _ := r.Markers.Lookup(step.ExpectMarker)
			return fmt.Errorf("stopped at %s:%d, want marker %s", loc.File, loc.Line, want)
		}
	}
	if step.ExpectFunction != "" && !strings.HasSuffix(loc.Function, step.ExpectFunction) {
		return fmt.Errorf("stopped in %s, want %s", loc.Function, step.ExpectFunction)
	}
	return nil
}

func hasMarker(list []markers.Marker, name string) bool {
	for _, m := range list {
		if m.Name == name {
			return true
		}
	}
	return false
}

func (r *Runner) checkVars(ctx context.Context, session common.Session, vars map[string]string) error {
	for _, name := range sortedKeys(vars) {
		got, err := session.Evaluate(ctx, name)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", name, err)
		}
		if want := vars[name]; got != want {
			return fmt.Errorf("%s: got %s, want %s", name, got, want)
		}
	}
	return nil
}

// runToExit continues until the program exits.
func runToExit(ctx context.Context, session common.Session) error {
	for i := 0; i < maxDrainContinues; i++ {
		stop, err := session.Continue(ctx)
		if err != nil {
			return fmt.Errorf("running to exit: %w", err)
		}
		if stop.Exited {
			return nil
		}
	}
	return fmt.Errorf("program still running after %d continues", maxDrainContinues)
}

// checkOutput compares the program's output with want, waiting briefly for
// output the debugger has not delivered yet.
func (r *Runner) checkOutput(ctx context.Context, session common.Session, want []string) error {
	timeout := r.OutputTimeout
	if timeout <= 0 {
		timeout = defaultOutputTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		got := outputLines(session.Output())
		if cmp.Equal(want, got, cmpopts.EquateEmpty()) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("output mismatch (-want +got):\n%s", cmp.Diff(want, got, cmpopts.EquateEmpty()))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func outputLines(output string) []string {
	output = strings.TrimRight(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
