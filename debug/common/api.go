package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotPaused is returned by inspection and stepping on a running target.
	ErrNotPaused = errors.New("program is not paused")
	// ErrExited is returned by execution requests after the target exited.
	ErrExited = errors.New("program has exited")
)

// Location is a position in the debugged program.
type Location struct {
	File     string
	Line     int
	Function string
}

func (l Location) String() string {
	if l.Function == "" {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Function)
}

// StopState describes where an execution request left the program.
type StopState struct {
	Location
	Reason     string
	Exited     bool
	ExitStatus int
}

func (s *StopState) String() string {
	if s.Exited {
		return fmt.Sprintf("exited with status %d", s.ExitStatus)
	}
	if s.Reason == "" {
		return "stopped at " + s.Location.String()
	}
	return fmt.Sprintf("stopped at %s (%s)", s.Location.String(), s.Reason)
}

// Variable is a formatted variable of the current frame.
type Variable struct {
	Name  string
	Type  string
	Value string
}

// Session is a single debugged program.
type Session interface {
	// GetID returns the session ID
	GetID() string

	// SetBreakpoint sets a breakpoint at the given file and line and returns its ID
	SetBreakpoint(ctx context.Context, file string, line int) (int, error)

	// Continue runs until the next breakpoint or program exit
	Continue(ctx context.Context) (*StopState, error)

	// Next steps over the current line
	Next(ctx context.Context) (*StopState, error)

	// StepIn steps into the current function
	StepIn(ctx context.Context) (*StopState, error)

	// StepOut steps out of the current function
	StepOut(ctx context.Context) (*StopState, error)

	// Evaluate evaluates an expression in the top frame
	Evaluate(ctx context.Context, expr string) (string, error)

	// Locals lists arguments and local variables of the top frame
	Locals(ctx context.Context) ([]Variable, error)

	// Stacktrace returns up to depth frames of the current goroutine
	Stacktrace(ctx context.Context, depth int) ([]Location, error)

	// Output returns the program output captured so far
	Output() string

	// Terminate ends the debug session and the debugger process
	Terminate(ctx context.Context) error

	// IsPaused returns whether the program is stopped and inspectable
	IsPaused() bool
}

// SessionManager creates and tracks sessions for one debugger backend.
type SessionManager interface {
	// GetDebuggerType returns the type of debugger being used
	GetDebuggerType() string

	// CreateSession starts a debugger for program and registers the session
	CreateSession(ctx context.Context, programPath string, args []string, mode string) (*SessionInfo, error)

	// TerminateSession terminates a debug session
	TerminateSession(ctx context.Context, sessionID string) error

	// TerminateAll terminates every registered session
	TerminateAll(ctx context.Context) error

	// ListSessions returns the active sessions ordered by ID
	ListSessions() []*SessionInfo

	// GetSession returns a debug session by ID
	GetSession(sessionID string) (Session, error)
}

// SessionInfo holds information about a debug session
type SessionInfo struct {
	ID          string
	ProgramPath string
	Mode        string
	State       string
}
