// Package dap drives Delve through the Debug Adapter Protocol.
package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"

	"github.com/xhd2015/dlv-fixture/log"
)

// ErrClosed is returned once the adapter connection is gone.
var ErrClosed = errors.New("DAP connection closed")

var exitRegex = regexp.MustCompile(`has exited with status (-?\d+)`)

// Client is a DAP client. Responses are routed to their requests by
// sequence number; events other than output are queued for WaitForEvent.
type Client struct {
	transport Transport
	logger    log.Logger
	seq       atomic.Int64

	events chan dap.Message

	mu         sync.Mutex
	pending    map[int]chan dap.Message
	output     strings.Builder
	exitStatus int
	exitSeen   bool
	readErr    error

	done chan struct{}
	wg   sync.WaitGroup
}

func NewClient(transport Transport, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		transport: transport,
		logger:    logger,
		events:    make(chan dap.Message, 100),
		pending:   make(map[int]chan dap.Message),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	for {
		msg, err := c.transport.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			c.logger.Debugf("dap read loop stopped: %v", err)
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			resp := m.GetResponse()
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestSeq]
			delete(c.pending, resp.RequestSeq)
			c.mu.Unlock()
			if ok {
				ch <- msg
			} else {
				c.logger.Warnf("dap response for unknown request %d (%s)", resp.RequestSeq, resp.Command)
			}
		case *dap.OutputEvent:
			c.recordOutput(m.Body.Category, m.Body.Output)
		case dap.EventMessage:
			c.logger.Debugf("dap event: %s", m.GetEvent().Event)
			select {
			case c.events <- msg:
			default:
				// full, drop the oldest
				select {
				case <-c.events:
				default:
				}
				c.events <- msg
			}
		default:
			c.logger.Debugf("dap message ignored: %T", msg)
		}
	}
}

func (c *Client) recordOutput(category string, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch category {
	case "stdout":
		c.output.WriteString(text)
	default:
		if m := exitRegex.FindStringSubmatch(text); m != nil {
			if status, err := strconv.Atoi(m[1]); err == nil {
				c.exitStatus = status
				c.exitSeen = true
			}
		}
		c.logger.Debugf("dap %s: %s", category, strings.TrimSpace(text))
	}
}

// Output returns the program's stdout received so far.
func (c *Client) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

// ExitStatus returns the exit status reported by the adapter, if any.
func (c *Client) ExitStatus() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitStatus, c.exitSeen
}

// Done is closed when the connection stops delivering messages.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}

func (c *Client) send(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	request := req.GetRequest()
	seq := int(c.seq.Add(1))
	request.Seq = seq

	respChan := make(chan dap.Message, 1)
	c.mu.Lock()
	c.pending[seq] = respChan
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}

	if err := c.transport.WriteMessage(req); err != nil {
		drop()
		return nil, fmt.Errorf("failed to send %s request: %w", request.Command, err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-c.done:
		drop()
		return nil, c.closedErr()
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

// call sends req and returns its response as T. Unsuccessful responses
// become errors carrying the adapter's message.
func call[T dap.ResponseMessage](ctx context.Context, c *Client, req dap.RequestMessage) (T, error) {
	var zero T
	msg, err := c.send(ctx, req)
	if err != nil {
		return zero, err
	}
	if er, ok := msg.(*dap.ErrorResponse); ok {
		detail := er.Message
		if er.Body.Error != nil && er.Body.Error.Format != "" {
			detail = er.Body.Error.Format
		}
		return zero, fmt.Errorf("%s failed: %s", er.Command, detail)
	}
	if resp, ok := msg.(dap.ResponseMessage); ok && !resp.GetResponse().Success {
		return zero, fmt.Errorf("%s failed: %s", resp.GetResponse().Command, resp.GetResponse().Message)
	}
	resp, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %T", msg)
	}
	return resp, nil
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

func (c *Client) Initialize(ctx context.Context) (*dap.InitializeResponse, error) {
	return call[*dap.InitializeResponse](ctx, c, &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "dlv-fixture",
			ClientName:      "dlv-fixture",
			AdapterID:       "go",
			Locale:          "en-US",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	})
}

// Launch asks the adapter to start program. The program's stdout comes back
// as output events.
func (c *Client) Launch(ctx context.Context, program string, mode string, args []string) error {
	launchArgs := map[string]interface{}{
		"request":     "launch",
		"mode":        mode,
		"program":     program,
		"stopOnEntry": false,
		"outputMode":  "remote",
	}
	if len(args) > 0 {
		launchArgs["args"] = args
	}
	raw, err := json.Marshal(launchArgs)
	if err != nil {
		return fmt.Errorf("failed to marshal launch arguments: %w", err)
	}
	_, err = call[*dap.LaunchResponse](ctx, c, &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: raw,
	})
	return err
}

// SetBreakpoints replaces the breakpoints of file with lines.
func (c *Client) SetBreakpoints(ctx context.Context, file string, lines []int) ([]dap.Breakpoint, error) {
	bps := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		bps[i] = dap.SourceBreakpoint{Line: line}
	}
	resp, err := call[*dap.SetBreakpointsResponse](ctx, c, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: file},
			Breakpoints: bps,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := call[*dap.ConfigurationDoneResponse](ctx, c, &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	})
	return err
}

func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := call[*dap.ContinueResponse](ctx, c, &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	})
	return err
}

func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := call[*dap.NextResponse](ctx, c, &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: threadID},
	})
	return err
}

func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := call[*dap.StepInResponse](ctx, c, &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: threadID},
	})
	return err
}

func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := call[*dap.StepOutResponse](ctx, c, &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: threadID},
	})
	return err
}

// StackTrace returns up to levels frames of threadID, all of them when
// levels is 0.
func (c *Client) StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error) {
	resp, err := call[*dap.StackTraceResponse](ctx, c, &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: threadID, Levels: levels},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	resp, err := call[*dap.ScopesResponse](ctx, c, &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

func (c *Client) Variables(ctx context.Context, ref int) ([]dap.Variable, error) {
	resp, err := call[*dap.VariablesResponse](ctx, c, &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: ref},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates expr in frameID using the watch context.
func (c *Client) Evaluate(ctx context.Context, expr string, frameID int) (string, error) {
	resp, err := call[*dap.EvaluateResponse](ctx, c, &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expr,
			FrameId:    frameID,
			Context:    "watch",
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Body.Result, nil
}

func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := call[*dap.DisconnectResponse](ctx, c, &dap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
	})
	return err
}

// WaitForEvent returns the next queued event named one of names, discarding
// the others.
func (c *Client) WaitForEvent(ctx context.Context, names ...string) (dap.EventMessage, error) {
	for {
		select {
		case msg := <-c.events:
			if event, ok := matchEvent(msg, names); ok {
				return event, nil
			}
		case <-c.done:
			return c.PollEvent(names...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PollEvent is WaitForEvent without blocking: it returns a nil event when
// no queued event matches and the connection is still open.
func (c *Client) PollEvent(names ...string) (dap.EventMessage, error) {
	for {
		select {
		case msg := <-c.events:
			if event, ok := matchEvent(msg, names); ok {
				return event, nil
			}
		default:
			select {
			case <-c.done:
				return nil, c.closedErr()
			default:
				return nil, nil
			}
		}
	}
}

func matchEvent(msg dap.Message, names []string) (dap.EventMessage, bool) {
	event, ok := msg.(dap.EventMessage)
	if !ok {
		return nil, false
	}
	for _, name := range names {
		if event.GetEvent().Event == name {
			return event, true
		}
	}
	return nil, false
}

// Close closes the transport and waits for the read loop to finish.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.wg.Wait()
	return err
}
