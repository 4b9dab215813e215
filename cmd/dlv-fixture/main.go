package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xhd2015/dlv-fixture/log"
)

// install: go install ./cmd/dlv-fixture

const dlvEnv = "DLV_FIXTURE_DLV"

// globalOptions are the flags shared by every command.
type globalOptions struct {
	dlv     string
	logFile string
	verbose bool

	logger   log.Logger
	closeLog func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd, opts := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	opts.closeLog()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd returns the root command and the global options it fills in.
// The caller closes the log with opts.closeLog once the command returns.
func newRootCmd() (*cobra.Command, *globalOptions) {
	opts := &globalOptions{logger: log.Nop(), closeLog: func() {}}

	rootCmd := &cobra.Command{
		Use:   "dlv-fixture",
		Short: "Debugger test fixture driven through Delve",
		Long: `dlv-fixture builds a small Go program with optimizations disabled, runs it
under Delve (DAP or headless JSON-RPC) and checks scripted debugger scenarios
against it. The same debug sessions are served as MCP tools.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dlv, "dlv", os.Getenv(dlvEnv), "Path to the dlv binary (env "+dlvEnv+", default dlv from PATH)")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file (default ~/.dlv-fixture/dlv-fixture.log)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Also log to stderr")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newMarkersCommand(opts),
	)
	return rootCmd, opts
}

func (o *globalOptions) init() error {
	file := o.logFile
	if file == "" {
		var err error
		file, err = log.DefaultFile()
		if err != nil {
			return err
		}
	}
	logger, closeFn, err := log.New(log.Options{File: file, Verbose: o.verbose})
	if err != nil {
		return err
	}
	o.logger = logger
	o.closeLog = closeFn
	return nil
}
