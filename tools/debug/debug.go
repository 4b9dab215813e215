// Package debug exposes debug sessions and fixture scenarios as MCP tools.
package debug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/fixture/markers"
	"github.com/xhd2015/dlv-fixture/log"
	"github.com/xhd2015/dlv-fixture/scenario"
)

const defaultStackDepth = 20

type ToolOptions struct {
	Logger log.Logger
	// Markers resolves marker names for set_breakpoint and run_scenario.
	Markers markers.Set
	// Scenarios are the scenarios run_scenario can run.
	Scenarios []scenario.Scenario
	// Program is the fixture binary run_scenario debugs when the request
	// names none.
	Program string
}

type tools struct {
	sessionManager common.SessionManager
	opts           ToolOptions
}

// RegisterTools registers the debug tools with the MCP server
func RegisterTools(s *server.MCPServer, sessionManager common.SessionManager, opts ToolOptions) error {
	if sessionManager == nil {
		return fmt.Errorf("missing session manager")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	t := &tools{sessionManager: sessionManager, opts: opts}

	t.registerStartDebugTool(s)
	t.registerTerminateDebugTool(s)
	t.registerListSessionsTool(s)
	t.registerSetBreakpointTool(s)
	t.registerExecutionTool(s, "continue", "Continue execution until a breakpoint is hit or the program exits", common.Session.Continue)
	t.registerExecutionTool(s, "next", "Step over current line in a debug session", common.Session.Next)
	t.registerExecutionTool(s, "step_in", "Step into function in a debug session", common.Session.StepIn)
	t.registerExecutionTool(s, "step_out", "Step out of function in a debug session", common.Session.StepOut)
	t.registerEvaluateTool(s)
	t.registerListLocalsTool(s)
	t.registerStacktraceTool(s)
	t.registerProgramOutputTool(s)
	t.registerListMarkersTool(s)
	t.registerRunScenarioTool(s)
	return nil
}

// LoggingMiddleware logs every tool call and its outcome.
func LoggingMiddleware(logger log.Logger) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			logger.Debugf("tool %s: %v", request.Params.Name, request.GetArguments())
			result, err := next(ctx, request)
			switch {
			case err != nil:
				logger.Errorf("tool %s failed after %v: %v", request.Params.Name, time.Since(start), err)
			case result != nil && result.IsError:
				logger.Warnf("tool %s returned an error result after %v", request.Params.Name, time.Since(start))
			default:
				logger.Infof("tool %s done in %v", request.Params.Name, time.Since(start))
			}
			return result, err
		}
	}
}

func getDefaultMode(program string) (string, error) {
	// if is dir, then debug
	state, err := os.Stat(program)
	if err != nil {
		return "", err
	}
	if state.IsDir() {
		return "debug", nil
	}
	if strings.HasSuffix(program, ".go") {
		if strings.HasSuffix(program, "_test.go") {
			return "test", nil
		}
		return "debug", nil
	}
	return "exec", nil
}

func sessionIDOption() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("ID of the debug session"),
	)
}

// session looks up the session named by the request's session_id.
func (t *tools) session(request mcp.CallToolRequest) (common.Session, *mcp.CallToolResult) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	session, err := t.sessionManager.GetSession(sessionID)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err))
	}
	return session, nil
}

// describeStop renders a stop, naming the markers at the stop line if any.
func (t *tools) describeStop(stop *common.StopState) string {
	if stop.Exited {
		return fmt.Sprintf("Program exited with status %d", stop.ExitStatus)
	}
	text := fmt.Sprintf("Stopped at %s", stop.Location)
	if stop.Reason != "" {
		text += fmt.Sprintf(" (%s)", stop.Reason)
	}
	if list := t.opts.Markers.ByLine(stop.File, stop.Line); len(list) > 0 {
		names := make([]string, len(list))
		for i, m := range list {
			names[i] = m.Name
		}
		label := "marker"
		if len(names) > 1 {
			label = "markers"
		}
		text += fmt.Sprintf(" [%s %s]", label, strings.Join(names, ", "))
	}
	return text
}

func (t *tools) registerStartDebugTool(s *server.MCPServer) {
	tool := mcp.NewTool("start_debug",
		mcp.WithDescription("Start a debug session for a Go program. The program stays stopped until the first continue, so breakpoints can be set first."),
		mcp.WithString("program",
			mcp.Required(),
			mcp.Description("Path to Go program to debug (absolute or relative)"),
		),
		mcp.WithArray("args",
			mcp.WithStringItems(),
			mcp.Description("Arguments passed to the program"),
		),
		mcp.WithString("mode",
			mcp.Enum("debug", "test", "exec"),
			mcp.Description("Debug mode: debug compiles a main package or .go file, test compiles a test package, exec runs a prebuilt binary. Inferred from program when omitted."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		program, err := request.RequireString("program")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		mode := request.GetString("mode", "")
		if mode == "" {
			mode, err = getDefaultMode(program)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to get default mode: %v", err)), nil
			}
		}
		args := request.GetStringSlice("args", nil)

		// Convert relative path to absolute
		if !filepath.IsAbs(program) {
			absPath, err := filepath.Abs(program)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to get absolute path: %v", err)), nil
			}
			program = absPath
		}

		t.opts.Logger.Infof("start_debug: program=%s mode=%s args=%v", program, mode, args)
		info, err := t.sessionManager.CreateSession(ctx, program, args, mode)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start debug session: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Debug session started with ID: %s\nProgram: %s\nMode: %s",
			info.ID, info.ProgramPath, mode)), nil
	})
}

func (t *tools) registerTerminateDebugTool(s *server.MCPServer) {
	tool := mcp.NewTool("terminate_debug",
		mcp.WithDescription("Terminate a debug session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session to terminate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := t.sessionManager.TerminateSession(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to terminate debug session: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Debug session %s terminated", sessionID)), nil
	})
}

func (t *tools) registerListSessionsTool(s *server.MCPServer) {
	tool := mcp.NewTool("list_debug_sessions",
		mcp.WithDescription("List active debug sessions"),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := t.sessionManager.ListSessions()
		if len(sessions) == 0 {
			return mcp.NewToolResultText("No active debug sessions"), nil
		}

		var b strings.Builder
		b.WriteString("Active debug sessions:\n")
		for _, session := range sessions {
			fmt.Fprintf(&b, "\nID: %s\nProgram: %s\nMode: %s\nState: %s\n",
				session.ID, session.ProgramPath, session.Mode, session.State)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func (t *tools) registerSetBreakpointTool(s *server.MCPServer) {
	tool := mcp.NewTool("set_breakpoint",
		mcp.WithDescription("Set a breakpoint in a debug session, either at file and line or at a named breakpoint marker"),
		sessionIDOption(),
		mcp.WithString("file",
			mcp.Description("Source file to set breakpoint in (absolute path)"),
		),
		mcp.WithNumber("line",
			mcp.Description("Line number to set breakpoint at"),
		),
		mcp.WithString("marker",
			mcp.Description("Breakpoint marker name, see list_markers; replaces file and line"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}

		file := request.GetString("file", "")
		line := request.GetInt("line", 0)
		if name := request.GetString("marker", ""); name != "" {
			m, err := t.opts.Markers.Lookup(name)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			file, line = m.File, m.Line
		}
		if file == "" || line <= 0 {
			return mcp.NewToolResultError("either marker or file and line are required"), nil
		}

		id, err := session.SetBreakpoint(ctx, file, line)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to set breakpoint: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Breakpoint set at %s:%d (ID: %d)", file, line, id)), nil
	})
}

func (t *tools) registerExecutionTool(s *server.MCPServer, name string, description string, run func(common.Session, context.Context) (*common.StopState, error)) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		sessionIDOption(),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}
		stop, err := run(session, ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", strings.ReplaceAll(name, "_", " "), err)), nil
		}
		return mcp.NewToolResultText(t.describeStop(stop)), nil
	})
}

func (t *tools) registerEvaluateTool(s *server.MCPServer) {
	tool := mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate an expression in the current frame of a paused debug session"),
		sessionIDOption(),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}
		expression, err := request.RequireString("expression")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := session.Evaluate(ctx, expression)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate expression: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Expression result: %s", result)), nil
	})
}

func (t *tools) registerListLocalsTool(s *server.MCPServer) {
	tool := mcp.NewTool("list_locals",
		mcp.WithDescription("List the arguments and local variables of the current frame"),
		sessionIDOption(),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}
		vars, err := session.Locals(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list local variables: %v", err)), nil
		}
		if len(vars) == 0 {
			return mcp.NewToolResultText("No local variables found."), nil
		}

		var b strings.Builder
		b.WriteString("Local variables:\n")
		for _, v := range vars {
			fmt.Fprintf(&b, "%s = (%s) %s\n", v.Name, v.Type, v.Value)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func (t *tools) registerStacktraceTool(s *server.MCPServer) {
	tool := mcp.NewTool("stacktrace",
		mcp.WithDescription("Get the stack trace of the stopped goroutine"),
		sessionIDOption(),
		mcp.WithNumber("depth",
			mcp.DefaultNumber(defaultStackDepth),
			mcp.Description("Maximum number of frames"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}
		frames, err := session.Stacktrace(ctx, request.GetInt("depth", defaultStackDepth))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get stacktrace: %v", err)), nil
		}

		var b strings.Builder
		for i, frame := range frames {
			fmt.Fprintf(&b, "#%d %s\n    at %s:%d\n", i, frame.Function, frame.File, frame.Line)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func (t *tools) registerProgramOutputTool(s *server.MCPServer) {
	tool := mcp.NewTool("program_output",
		mcp.WithDescription("Get what the debugged program has printed so far"),
		sessionIDOption(),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := t.session(request)
		if errResult != nil {
			return errResult, nil
		}
		output := session.Output()
		if output == "" {
			return mcp.NewToolResultText("No output yet."), nil
		}
		return mcp.NewToolResultText(output), nil
	})
}

func (t *tools) registerListMarkersTool(s *server.MCPServer) {
	tool := mcp.NewTool("list_markers",
		mcp.WithDescription("List the breakpoint markers of the fixture source"),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if len(t.opts.Markers) == 0 {
			return mcp.NewToolResultText("No breakpoint markers"), nil
		}
		var b strings.Builder
		for _, m := range t.opts.Markers.Sorted() {
			fmt.Fprintf(&b, "%s %s:%d\n", m.Name, m.File, m.Line)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func (t *tools) registerRunScenarioTool(s *server.MCPServer) {
	nameOpts := []mcp.PropertyOption{
		mcp.Required(),
		mcp.Description("Scenario name"),
	}
	if len(t.opts.Scenarios) > 0 {
		names := make([]string, 0, len(t.opts.Scenarios))
		for _, sc := range t.opts.Scenarios {
			names = append(names, sc.Name)
		}
		nameOpts = append(nameOpts, mcp.Enum(names...))
	}
	tool := mcp.NewTool("run_scenario",
		mcp.WithDescription("Run a scripted debugger scenario in a fresh debug session and report each step"),
		mcp.WithString("name", nameOpts...),
		mcp.WithString("program",
			mcp.Description("Fixture binary to debug; defaults to the one the server was started with"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		found, err := scenario.Find(t.opts.Scenarios, []string{name})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		program := request.GetString("program", t.opts.Program)
		if program == "" {
			return mcp.NewToolResultError("no program to debug"), nil
		}

		runner := &scenario.Runner{Markers: t.opts.Markers, Logger: t.opts.Logger}
		result := runner.RunProgram(ctx, t.sessionManager, program, found[0])
		var b strings.Builder
		if scenario.WriteReport(&b, []*scenario.Result{result}) > 0 {
			return mcp.NewToolResultError(b.String()), nil
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}
