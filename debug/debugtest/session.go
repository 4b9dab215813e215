// Package debugtest provides a scripted common.Session for tests that need a
// debugger without starting Delve.
package debugtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xhd2015/dlv-fixture/debug/common"
)

// Stop is one scripted pause of the fake program.
type Stop struct {
	State  common.StopState
	Values map[string]string
	Locals []common.Variable
	Stack  []common.Location
}

// Breakpoint records a SetBreakpoint call.
type Breakpoint struct {
	File string
	Line int
}

// Session replays Stops in order: every execution request (continue, next,
// step in, step out) moves to the next one. Running past the last stop
// reports an exit with status 0.
type Session struct {
	ID string
	// Stops are consumed by execution requests.
	Stops []Stop
	// Out is what Output returns once the program has exited.
	Out string
	// FailBreakpoints makes SetBreakpoint fail.
	FailBreakpoints bool

	mu          sync.Mutex
	current     *Stop
	exited      bool
	terminated  bool
	breakpoints []Breakpoint
	calls       []string
}

var _ common.Session = (*Session)(nil)

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) SetBreakpoint(ctx context.Context, file string, line int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("break %s:%d", file, line))
	if s.FailBreakpoints {
		return 0, fmt.Errorf("could not find %s:%d", file, line)
	}
	s.breakpoints = append(s.breakpoints, Breakpoint{File: file, Line: line})
	return len(s.breakpoints), nil
}

func (s *Session) Continue(ctx context.Context) (*common.StopState, error) {
	return s.advance("continue")
}

func (s *Session) Next(ctx context.Context) (*common.StopState, error) {
	return s.advance("next")
}

func (s *Session) StepIn(ctx context.Context) (*common.StopState, error) {
	return s.advance("step_in")
}

func (s *Session) StepOut(ctx context.Context) (*common.StopState, error) {
	return s.advance("step_out")
}

func (s *Session) advance(call string) (*common.StopState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.exited {
		return nil, common.ErrExited
	}
	if len(s.Stops) == 0 {
		s.exited = true
		s.current = nil
		return &common.StopState{Exited: true}, nil
	}
	stop := s.Stops[0]
	s.Stops = s.Stops[1:]
	if stop.State.Exited {
		s.exited = true
		s.current = nil
	} else {
		s.current = &stop
	}
	state := stop.State
	return &state, nil
}

func (s *Session) Evaluate(ctx context.Context, expr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "evaluate "+expr)
	if s.current == nil {
		return "", common.ErrNotPaused
	}
	v, ok := s.current.Values[expr]
	if !ok {
		return "", fmt.Errorf("could not find symbol value for %s", expr)
	}
	return v, nil
}

func (s *Session) Locals(ctx context.Context) ([]common.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "locals")
	if s.current == nil {
		return nil, common.ErrNotPaused
	}
	return s.current.Locals, nil
}

func (s *Session) Stacktrace(ctx context.Context, depth int) ([]common.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stack")
	if s.current == nil {
		return nil, common.ErrNotPaused
	}
	stack := s.current.Stack
	if depth > 0 && len(stack) > depth {
		stack = stack[:depth]
	}
	return stack, nil
}

func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		return ""
	}
	return s.Out
}

func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "terminate")
	s.terminated = true
	return nil
}

func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Breakpoints returns the breakpoints set so far.
func (s *Session) Breakpoints() []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Breakpoint(nil), s.breakpoints...)
}

// Calls returns every request made against the session, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Terminated reports whether Terminate was called.
func (s *Session) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Manager is a common.SessionManager handing out sessions built by New.
type Manager struct {
	New func(program string, args []string, mode string) (*Session, error)

	registry *common.Registry
	once     sync.Once
}

var _ common.SessionManager = (*Manager)(nil)

func (m *Manager) reg() *common.Registry {
	m.once.Do(func() {
		m.registry = common.NewRegistry()
	})
	return m.registry
}

func (m *Manager) GetDebuggerType() string {
	return "fake"
}

func (m *Manager) CreateSession(ctx context.Context, programPath string, args []string, mode string) (*common.SessionInfo, error) {
	session, err := m.New(programPath, args, mode)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		session.ID = common.NewSessionID()
	}
	return m.reg().Add(session, programPath, mode), nil
}

func (m *Manager) TerminateSession(ctx context.Context, sessionID string) error {
	return m.reg().Remove(ctx, sessionID)
}

func (m *Manager) TerminateAll(ctx context.Context) error {
	return m.reg().RemoveAll(ctx)
}

func (m *Manager) ListSessions() []*common.SessionInfo {
	return m.reg().List()
}

func (m *Manager) GetSession(sessionID string) (common.Session, error) {
	return m.reg().Get(sessionID)
}
