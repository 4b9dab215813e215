// Package delve starts Delve servers and connects to them.
package delve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xhd2015/dlv-fixture/log"
)

// Server kinds
const (
	KindDAP      = "dap"
	KindHeadless = "headless"
)

const (
	startTimeout = 10 * time.Second
	stopGrace    = 2 * time.Second
)

var listenRegex = regexp.MustCompile(`(?:DAP|API) server listening at:\s*(\S+)`)

// Options describes the Delve server to start.
type Options struct {
	// Dlv is the dlv binary, "dlv" when empty.
	Dlv string
	// Kind is KindDAP or KindHeadless.
	Kind string
	// Program, Args and Mode are only used by headless servers; DAP
	// servers receive them in the launch request.
	Program string
	Args    []string
	Mode    string
	// Dir is the working directory of the server.
	Dir    string
	Logger log.Logger
}

// Process is a running Delve server.
type Process struct {
	cmd    *exec.Cmd
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	logger log.Logger

	mu     sync.Mutex
	output strings.Builder
	exited bool
}

// Command returns the dlv arguments for opts.
func Command(opts Options) ([]string, error) {
	switch opts.Kind {
	case KindDAP:
		return []string{"dap", "--listen=127.0.0.1:0"}, nil
	case KindHeadless:
		if opts.Program == "" {
			return nil, fmt.Errorf("headless server requires a program")
		}
		dlvCommand := "debug"
		switch opts.Mode {
		case "exec", "test":
			dlvCommand = opts.Mode
		case "", "debug":
		default:
			return nil, fmt.Errorf("unsupported debug mode: %s", opts.Mode)
		}
		args := []string{dlvCommand, opts.Program, "--headless", "--api-version=2", "--listen=127.0.0.1:0"}
		if len(opts.Args) > 0 {
			args = append(args, "--")
			args = append(args, opts.Args...)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("unsupported debugger type: %s", opts.Kind)
	}
}

// Start runs dlv and waits until it reports its listening address.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	dlv := opts.Dlv
	if dlv == "" {
		dlv = "dlv"
	}
	args, err := Command(opts)
	if err != nil {
		return nil, err
	}

	// the server outlives ctx, which only bounds startup
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, dlv, args...)
	cmd.Dir = opts.Dir
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	opts.Logger.Infof("starting delve: %s %s", dlv, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start delve: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debugf("delve exited: %v", err)
		}
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		close(p.done)
	}()

	addrChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go p.scan(stdout, addrChan, errChan)

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case addr := <-addrChan:
		p.addr = addr
		opts.Logger.Infof("delve %s server listening at %s (pid %d)", opts.Kind, addr, cmd.Process.Pid)
		return p, nil
	case scanErr := <-errChan:
		p.Stop()
		return nil, scanErr
	case <-timer.C:
		p.Stop()
		return nil, fmt.Errorf("timeout waiting for delve to start")
	case <-ctx.Done():
		p.Stop()
		return nil, ctx.Err()
	}
}

// scan reports the listening address, then keeps collecting stdout, which
// carries the target's output for headless servers.
func (p *Process) scan(stdout io.Reader, addrChan chan<- string, errChan chan<- error) {
	scanner := bufio.NewScanner(stdout)
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if !found {
			if addr, ok := ParseListenAddr(line); ok {
				found = true
				addrChan <- addr
				continue
			}
			p.logger.Debugf("delve: %s", line)
			continue
		}
		p.mu.Lock()
		p.output.WriteString(line)
		p.output.WriteByte('\n')
		p.mu.Unlock()
	}
	if found {
		return
	}
	if err := scanner.Err(); err != nil {
		errChan <- fmt.Errorf("error reading delve stdout: %w", err)
		return
	}
	errChan <- fmt.Errorf("delve exited without printing address")
}

// ParseListenAddr extracts the address from Delve's
// "DAP server listening at:" or "API server listening at:" line.
func ParseListenAddr(line string) (string, bool) {
	m := listenRegex.FindStringSubmatch(line)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func (p *Process) Addr() string {
	return p.addr
}

// Output returns what the server printed after its address line.
func (p *Process) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.String()
}

// Exited reports whether the dlv process is gone.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Stop cancels the process and waits for it to exit, killing it when it
// outlives a short grace period. Stop may be called more than once.
func (p *Process) Stop() {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(stopGrace):
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warnf("failed to kill delve process: %v", err)
		}
		<-p.done
	}
}

// Dial connects to addr, retrying with exponential backoff until ctx is done.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	var lastErr error
	conn, err := backoff.RetryNotifyWithData(
		func() (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(startTimeout)), ctx),
		func(err error, _ time.Duration) {
			lastErr = err
		},
	)
	if err != nil {
		if lastErr != nil && !errors.Is(err, lastErr) {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, errors.Join(lastErr, err))
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}
