// Package debug creates session managers for the supported debugger types.
package debug

import (
	"fmt"

	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/debug/dap"
	"github.com/xhd2015/dlv-fixture/debug/delve"
	"github.com/xhd2015/dlv-fixture/debug/headless"
	"github.com/xhd2015/dlv-fixture/log"
)

// DebuggerTypes lists the supported debugger types.
var DebuggerTypes = []string{delve.KindDAP, delve.KindHeadless}

// Options configures the session managers.
type Options struct {
	// Dlv is the dlv binary, "dlv" when empty.
	Dlv    string
	Logger log.Logger
}

// NewSessionManager creates a new session manager based on the debugger type
func NewSessionManager(debuggerType string, opts Options) (common.SessionManager, error) {
	switch debuggerType {
	case delve.KindDAP:
		return dap.NewSessionManager(opts.Dlv, opts.Logger), nil
	case delve.KindHeadless:
		return headless.NewSessionManager(opts.Dlv, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported debugger type: %s", debuggerType)
	}
}
