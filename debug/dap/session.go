package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/debug/delve"
	"github.com/xhd2015/dlv-fixture/log"
)

const (
	disconnectTimeout = 5 * time.Second
	// bounds the stack trace IsPaused may send while collecting an owed stop
	pollTimeout = time.Second
)

var stopEvents = []string{"stopped", "exited", "terminated"}

// SessionManager manages DAP debug sessions, one dlv dap server each.
type SessionManager struct {
	dlv      string
	logger   log.Logger
	registry *common.Registry
}

var _ common.SessionManager = (*SessionManager)(nil)

// NewSessionManager creates a new DAP session manager. dlv is the Delve
// binary, "dlv" when empty.
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
	return delve.KindDAP
}

func (sm *SessionManager) CreateSession(ctx context.Context, programPath string, args []string, mode string) (*common.SessionInfo, error) {
	if mode == "" {
		mode = "exec"
	}
	sm.logger.Infof("creating dap session for %s (mode %s)", programPath, mode)

	process, err := delve.Start(ctx, delve.Options{
		Dlv:    sm.dlv,
		Kind:   delve.KindDAP,
		Logger: sm.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Delve DAP server: %w", err)
	}

	conn, err := delve.Dial(ctx, process.Addr())
	if err != nil {
		process.Stop()
		return nil, err
	}

	client := NewClient(NewConnTransport(conn), sm.logger)
	session, err := startSession(ctx, common.NewSessionID(), client, process, sm.logger, programPath, mode, args)
	if err != nil {
		client.Close()
		process.Stop()
		return nil, err
	}
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

// Session is a DAP debug session. The program is launched but stays
// unconfigured until the first Continue, so breakpoints set before it are
// in place when main starts.
//
// An execution request whose context ends before the program stops leaves
// the stop owed: the next request collects it from the event queue.
type Session struct {
	id      string
	client  *Client
	process *delve.Process
	logger  log.Logger

	// opMu serializes requests. paused, pending and terminated are read
	// without it.
	opMu        sync.Mutex
	paused      atomic.Bool
	pending     atomic.Bool
	terminated  atomic.Bool
	breakpoints map[string][]int
	configured  bool
	exited      bool
	exitCode    int
	exitSeen    bool
	threadID    int
	frameID     int
	frameKnown  bool
}

var _ common.Session = (*Session)(nil)

// startSession initializes the adapter and launches the program.
func startSession(ctx context.Context, id string, client *Client, process *delve.Process, logger log.Logger, program string, mode string, args []string) (*Session, error) {
	if _, err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize debug adapter: %w", err)
	}
	if err := client.Launch(ctx, program, mode, args); err != nil {
		return nil, fmt.Errorf("failed to launch program: %w", err)
	}
	if _, err := client.WaitForEvent(ctx, "initialized"); err != nil {
		return nil, fmt.Errorf("failed waiting for initialized event: %w", err)
	}
	return &Session{
		id:          id,
		client:      client,
		process:     process,
		logger:      logger,
		breakpoints: make(map[string][]int),
	}, nil
}

func (s *Session) GetID() string {
	return s.id
}

// SetBreakpoint adds line to the breakpoints of file.
func (s *Session) SetBreakpoint(ctx context.Context, file string, line int) (int, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.exited {
		return 0, common.ErrExited
	}

	lines := s.breakpoints[file]
	known := false
	for _, l := range lines {
		if l == line {
			known = true
			break
		}
	}
	if !known {
		lines = append(append([]int(nil), lines...), line)
	}

	bps, err := s.client.SetBreakpoints(ctx, file, lines)
	if err != nil {
		return 0, fmt.Errorf("failed to set breakpoint: %w", err)
	}
	for _, bp := range bps {
		if bp.Line != line {
			continue
		}
		if !bp.Verified {
			return 0, fmt.Errorf("breakpoint at %s:%d not verified: %s", file, line, bp.Message)
		}
		s.breakpoints[file] = lines
		s.logger.Infof("breakpoint %d set at %s:%d", bp.Id, file, line)
		return bp.Id, nil
	}
	return 0, fmt.Errorf("no breakpoint reported at %s:%d", file, line)
}

// Continue starts the program on first use, resumes it afterwards. While a
// stop is owed the program is already running, so Continue waits for it.
func (s *Session) Continue(ctx context.Context) (*common.StopState, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.exited {
		return nil, common.ErrExited
	}
	if s.pending.Load() {
		return s.waitStop(ctx)
	}

	if !s.configured {
		if err := s.client.ConfigurationDone(ctx); err != nil {
			return nil, fmt.Errorf("failed to start program: %w", err)
		}
		s.configured = true
	} else {
		if !s.paused.Load() {
			return nil, common.ErrNotPaused
		}
		if err := s.client.Continue(ctx, s.threadID); err != nil {
			return nil, fmt.Errorf("failed to continue execution: %w", err)
		}
	}
	s.paused.Store(false)
	return s.waitStop(ctx)
}

func (s *Session) Next(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, "step over", s.client.Next)
}

func (s *Session) StepIn(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, "step in", s.client.StepIn)
}

func (s *Session) StepOut(ctx context.Context) (*common.StopState, error) {
	return s.step(ctx, "step out", s.client.StepOut)
}

// step waits for an owed stop first and steps from there.
func (s *Session) step(ctx context.Context, what string, send func(context.Context, int) error) (*common.StopState, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.pending.Load() && !s.exited {
		stop, err := s.waitStop(ctx)
		if err != nil {
			return nil, err
		}
		if stop.Exited {
			return stop, nil
		}
	}
	if err := s.checkPaused(); err != nil {
		return nil, err
	}
	if err := send(ctx, s.threadID); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	s.paused.Store(false)
	return s.waitStop(ctx)
}

// inspectable collects an owed stop that has already arrived and reports
// whether the program can be inspected.
func (s *Session) inspectable(ctx context.Context) error {
	if _, err := s.pollStop(ctx); err != nil {
		return err
	}
	if err := s.checkPaused(); err != nil {
		return err
	}
	if !s.frameKnown {
		frames, err := s.client.StackTrace(ctx, s.threadID, 1)
		if err != nil {
			return fmt.Errorf("failed to get top frame: %w", err)
		}
		if len(frames) == 0 {
			return fmt.Errorf("thread %d has no frames", s.threadID)
		}
		s.frameID, s.frameKnown = frames[0].Id, true
	}
	return nil
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

// waitStop waits for the program to stop or terminate.
func (s *Session) waitStop(ctx context.Context) (*common.StopState, error) {
	for {
		event, err := s.client.WaitForEvent(ctx, stopEvents...)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return s.exitState(), nil
			}
			s.pending.Store(true)
			return nil, err
		}
		if state, done, err := s.handleStop(ctx, event); done {
			return state, err
		}
	}
}

// pollStop collects an owed stop from the events already queued. It returns
// nil when nothing is owed or the program is still running.
func (s *Session) pollStop(ctx context.Context) (*common.StopState, error) {
	for s.pending.Load() && !s.exited {
		event, err := s.client.PollEvent(stopEvents...)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return s.exitState(), nil
			}
			return nil, err
		}
		if event == nil {
			return nil, nil
		}
		if state, done, err := s.handleStop(ctx, event); done {
			return state, err
		}
	}
	return nil, nil
}

// handleStop applies a stop event. done is false for events that do not
// end the wait.
func (s *Session) handleStop(ctx context.Context, event dap.EventMessage) (*common.StopState, bool, error) {
	switch e := event.(type) {
	case *dap.StoppedEvent:
		s.pending.Store(false)
		s.paused.Store(true)
		s.threadID = e.Body.ThreadId
		s.frameKnown = false
		frames, err := s.client.StackTrace(ctx, s.threadID, 1)
		if err != nil {
			return nil, true, fmt.Errorf("failed to get stop location: %w", err)
		}
		state := &common.StopState{Reason: e.Body.Reason}
		if len(frames) > 0 {
			s.frameID, s.frameKnown = frames[0].Id, true
			state.Location = location(frames[0])
		}
		s.logger.Debugf("session %s %s", s.id, state)
		return state, true, nil
	case *dap.ExitedEvent:
		s.exitCode, s.exitSeen = e.Body.ExitCode, true
	case *dap.TerminatedEvent:
		return s.exitState(), true, nil
	}
	return nil, false, nil
}

func (s *Session) exitState() *common.StopState {
	s.exited = true
	s.pending.Store(false)
	s.paused.Store(false)
	if !s.exitSeen {
		s.exitCode, _ = s.client.ExitStatus()
	}
	return &common.StopState{Exited: true, ExitStatus: s.exitCode}
}

func location(frame dap.StackFrame) common.Location {
	loc := common.Location{Line: frame.Line, Function: frame.Name}
	if frame.Source != nil {
		loc.File = frame.Source.Path
	}
	return loc
}

// Evaluate evaluates expr in the top frame.
func (s *Session) Evaluate(ctx context.Context, expr string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.inspectable(ctx); err != nil {
		return "", err
	}
	result, err := s.client.Evaluate(ctx, expr, s.frameID)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s: %w", expr, err)
	}
	return result, nil
}

// Locals returns the arguments and locals of the top frame.
func (s *Session) Locals(ctx context.Context) ([]common.Variable, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.inspectable(ctx); err != nil {
		return nil, err
	}
	scopes, err := s.client.Scopes(ctx, s.frameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scopes: %w", err)
	}
	var vars []common.Variable
	for _, scope := range scopes {
		if scope.Expensive || scope.VariablesReference == 0 {
			continue
		}
		dapVars, err := s.client.Variables(ctx, scope.VariablesReference)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", scope.Name, err)
		}
		for _, v := range dapVars {
			vars = append(vars, common.Variable{Name: v.Name, Type: v.Type, Value: v.Value})
		}
	}
	return vars, nil
}

// Stacktrace returns up to depth frames of the stopped thread.
func (s *Session) Stacktrace(ctx context.Context, depth int) ([]common.Location, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.inspectable(ctx); err != nil {
		return nil, err
	}
	frames, err := s.client.StackTrace(ctx, s.threadID, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack trace: %w", err)
	}
	locs := make([]common.Location, 0, len(frames))
	for _, frame := range frames {
		locs = append(locs, location(frame))
	}
	return locs, nil
}

func (s *Session) Output() string {
	return s.client.Output()
}

// Terminate disconnects, killing the program, and stops the dlv server. It
// does not take opMu: an execution request blocked on a running program
// holds it until the closed connection releases it.
func (s *Session) Terminate(ctx context.Context) error {
	if !s.terminated.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	select {
	case <-s.client.Done():
	default:
		dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		if err := s.client.Disconnect(dctx, true); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to disconnect: %w", err))
		}
		cancel()
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debugf("closing dap connection: %v", err)
	}
	if s.process != nil {
		s.process.Stop()
	}

	s.opMu.Lock()
	s.exited = true
	s.pending.Store(false)
	s.paused.Store(false)
	s.opMu.Unlock()
	return errors.Join(errs...)
}

// IsPaused reports whether the program is stopped. An owed stop that has
// arrived is collected unless another request holds the session.
func (s *Session) IsPaused() bool {
	if s.pending.Load() && s.opMu.TryLock() {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		if _, err := s.pollStop(ctx); err != nil {
			s.logger.Debugf("session %s: collecting stop: %v", s.id, err)
		}
		cancel()
		s.opMu.Unlock()
	}
	return s.paused.Load()
}
