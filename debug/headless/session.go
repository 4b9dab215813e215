// Package headless drives a Delve headless server over its JSON-RPC API.
package headless

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/debug/delve"
	"github.com/xhd2015/dlv-fixture/log"
)

const (
	detachTimeout = 5 * time.Second
	// default stack depth when none is requested
	defaultDepth = 50
)

// error patterns that indicate the program has exited
var exitPatterns = []string{
	"process exited",
	"has exited with status",
	"process not found",
	"no such process",
}

var exitStatusRegex = regexp.MustCompile(`has exited with status (-?\d+)`)

// SessionManager manages headless debug sessions, one dlv server each.
type SessionManager struct {
	dlv      string
	logger   log.Logger
	registry *common.Registry
}

var _ common.SessionManager = (*SessionManager)(nil)

// NewSessionManager creates a new headless session manager. dlv is the
// Delve binary, "dlv" when empty.
func NewSessionManager(dlv string, logger log.Logger) *SessionManager {
	if logger == nil {
		logger = log.Nop()
	}
	return &SessionManager{
		dlv:      dlv,
		logger:   logger,
		registry: common.NewRegistry(),
	}
}

func (sm *SessionManager) GetDebuggerType() string {
	return delve.KindHeadless
}

func (sm *SessionManager) CreateSession(ctx context.Context, programPath string, args []string, mode string) (*common.SessionInfo, error) {
	if mode == "" {
		mode = "exec"
	}
	sm.logger.Infof("creating headless session for %s (mode %s)", programPath, mode)

	process, err := delve.Start(ctx, delve.Options{
		Dlv:     sm.dlv,
		Kind:    delve.KindHeadless,
		Program: programPath,
		Args:    args,
		Mode:    mode,
		Logger:  sm.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Delve headless server: %w", err)
	}

	conn, err := delve.Dial(ctx, process.Addr())
	if err != nil {
		process.Stop()
		return nil, err
	}

	session := newSession(common.NewSessionID(), NewClient(conn, sm.logger), sm.logger)
	session.process = process
	session.output = process.Output
	return sm.registry.Add(session, programPath, mode), nil
}

func (sm *SessionManager) TerminateSession(ctx context.Context, sessionID string) error {
	return sm.registry.Remove(ctx, sessionID)
}

func (sm *SessionManager) TerminateAll(ctx context.Context) error {
	return sm.registry.RemoveAll(ctx)
}

func (sm *SessionManager) ListSessions() []*common.SessionInfo {
	return sm.registry.List()
}

func (sm *SessionManager) GetSession(sessionID string) (common.Session, error) {
	return sm.registry.Get(sessionID)
}

// Session is a headless debug session. Delve holds the program at its entry
// point until the first Continue.
type Session struct {
	id      string
	client  *Client
	process *delve.Process
	output  func() string
	logger  log.Logger

	opMu       sync.Mutex
	paused     atomic.Bool
	running    atomic.Bool
	terminated atomic.Bool
	exited     bool
}

var _ common.Session = (*Session)(nil)

func newSession(id string, client *Client, logger log.Logger) *Session {
	return &Session{
		id:     id,
		client: client,
		logger: logger,
		output: func() string { return "" },
	}
}

func (s *Session) GetID() string {
	return s.id
}

// SetBreakpoint sets a breakpoint at the given file and line
func (s *Session) SetBreakpoint(ctx context.Context, file string, line int) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.exited {
		return 0, common.ErrExited
	}

	out, err := sendRequest[rpc2.CreateBreakpointOut](ctx, s.client, RPCCreateBreakpoint, rpc2.CreateBreakpointIn{
		Breakpoint: api.Breakpoint{File: file, Line: line},
	})
	if err != nil {
		if isExitError(err) {
			s.markExited(err)
			return 0, common.ErrExited
		}
		return 0, fmt.Errorf("failed to set breakpoint: %w", err)
	}
	s.logger.Infof("breakpoint %d set at %s:%d", out.Breakpoint.ID, file, line)
	return out.Breakpoint.ID, nil
}

// Continue continues execution until the next breakpoint or exit
func (s *Session) Continue(ctx context.Context) (*common.StopState, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.exited {
		return nil, common.ErrExited
	}
	return s.command(ctx, api.Continue)
}

func (s *Session) Next(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, api.Next)
}

func (s *Session) StepIn(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, api.Step)
}

func (s *Session) StepOut(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, api.StepOut)
}

func (s *Session) step(ctx context.Context, name string) (*common.StopState, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkPaused(); err != nil {
		return nil, err
	}
	return s.command(ctx, name)
}

func (s *Session) checkPaused() error {
	if s.exited {
		return common.ErrExited
	}
	if !s.paused.Load() {
		return common.ErrNotPaused
	}
	return nil
}

// command runs an execution command; Delve answers once the program stops.
//
// running is published before terminated is read, and Terminate does the
// reverse, so one of them always sees the other.
func (s *Session) command(ctx context.Context, name string) (*common.StopState, error) {
	s.running.Store(true)
	defer s.running.Store(false)
	if s.terminated.Load() {
		return nil, common.ErrExited
	}

	s.paused.Store(false)
	out, err := sendRequest[rpc2.CommandOut](ctx, s.client, RPCCommand, api.DebuggerCommand{Name: name})
	if err != nil {
		if isExitError(err) {
			return s.markExited(err), nil
		}
		if s.terminated.Load() {
			s.exited = true
			return nil, fmt.Errorf("%s interrupted: %w", name, common.ErrExited)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	state := out.State
	if state.Exited {
		s.exited = true
		return &common.StopState{Exited: true, ExitStatus: state.ExitStatus}, nil
	}

	stop := &common.StopState{Reason: "pause"}
	if name != api.Continue {
		stop.Reason = "step"
	}
	if th := state.CurrentThread; th != nil {
		stop.File = th.File
		stop.Line = th.Line
		if th.Function != nil {
			stop.Function = th.Function.Name()
		}
		if th.Breakpoint != nil {
			stop.Reason = "breakpoint"
		}
	}
	s.paused.Store(true)
	s.logger.Debugf("session %s %s", s.id, stop)
	return stop, nil
}

func (s *Session) markExited(err error) *common.StopState {
	s.exited = true
	s.paused.Store(false)
	stop := &common.StopState{Exited: true}
	if m := exitStatusRegex.FindStringSubmatch(err.Error()); m != nil {
		stop.ExitStatus, _ = strconv.Atoi(m[1])
	}
	return stop
}

func isExitError(err error) bool {
	msg := err.Error()
	for _, pattern := range exitPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func currentScope() api.EvalScope {
	return api.EvalScope{
		GoroutineID: -1, // current goroutine
		Frame:       0,
	}
}

// Evaluate evaluates an expression in the current frame
func (s *Session) Evaluate(ctx context.Context, expr string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkPaused(); err != nil {
		return "", err
	}

	cfg := loadConfig
	out, err := sendRequest[rpc2.EvalOut](ctx, s.client, RPCEval, rpc2.EvalIn{
		Scope: currentScope(),
		Expr:  expr,
		Cfg:   &cfg,
	})
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s: %w", expr, err)
	}
	return FormatValue(out.Variable), nil
}

// Locals returns the function arguments followed by the local variables.
func (s *Session) Locals(ctx context.Context) ([]common.Variable, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkPaused(); err != nil {
		return nil, err
	}

	argsOut, err := sendRequest[rpc2.ListFunctionArgsOut](ctx, s.client, RPCListFunctionArgs, rpc2.ListFunctionArgsIn{
		Scope: currentScope(),
		Cfg:   loadConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list function arguments: %w", err)
	}
	localsOut, err := sendRequest[rpc2.ListLocalVarsOut](ctx, s.client, RPCListLocalVars, rpc2.ListLocalVarsIn{
		Scope: currentScope(),
		Cfg:   loadConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list local variables: %w", err)
	}

	vars := make([]common.Variable, 0, len(argsOut.Args)+len(localsOut.Variables))
	for _, list := range [][]api.Variable{argsOut.Args, localsOut.Variables} {
		for i := range list {
			vars = append(vars, common.Variable{
				Name:  list[i].Name,
				Type:  list[i].Type,
				Value: FormatValue(&list[i]),
			})
		}
	}
	return vars, nil
}

// Stacktrace returns up to depth frames of the current goroutine.
func (s *Session) Stacktrace(ctx context.Context, depth int) ([]common.Location, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.checkPaused(); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = defaultDepth
	}

	out, err := sendRequest[rpc2.StacktraceOut](ctx, s.client, RPCStacktrace, rpc2.StacktraceIn{
		Id:    -1,
		Depth: depth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stack trace: %w", err)
	}
	locs := make([]common.Location, 0, len(out.Locations))
	for _, frame := range out.Locations {
		loc := common.Location{File: frame.File, Line: frame.Line}
		if frame.Function != nil {
			loc.Function = frame.Function.Name()
		}
		locs = append(locs, loc)
	}
	// Delve returns depth+1 frames
	if len(locs) > depth {
		locs = locs[:depth]
	}
	return locs, nil
}

// Output returns what the program printed so far.
func (s *Session) Output() string {
	return s.output()
}

// Terminate kills the program when it is still alive, then stops dlv.
// A command blocked on a running program has its connection cut, since
// Delve cannot answer a detach before the command returns.
func (s *Session) Terminate(ctx context.Context) error {
	if !s.terminated.CompareAndSwap(false, true) {
		return nil
	}
	if s.running.Load() {
		s.client.Abort()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.paused.Store(false)

	if !s.exited && !s.client.IsClosed() {
		dctx, cancel := context.WithTimeout(ctx, detachTimeout)
		_, err := sendRequest[rpc2.DetachOut](dctx, s.client, RPCDetach, rpc2.DetachIn{Kill: true})
		cancel()
		// the server may drop the connection before answering
		if err != nil && !isExitError(err) {
			s.logger.Warnf("detach session %s: %v", s.id, err)
		}
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debugf("closing delve connection: %v", err)
	}
	if s.process != nil {
		s.process.Stop()
	}
	s.exited = true
	return nil
}

func (s *Session) IsPaused() bool {
	return s.paused.Load()
}
