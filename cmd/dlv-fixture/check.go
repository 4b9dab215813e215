package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xhd2015/dlv-fixture/debug"
	"github.com/xhd2015/dlv-fixture/debug/common"
	"github.com/xhd2015/dlv-fixture/scenario"
)

const debuggerAll = "all"

type checkOptions struct {
	debugger  string
	scenarios []string
	file      string
	parallel  int
}

func newCheckCommand(g *globalOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Build the fixture and run debugger scenarios against it",
		Long: `Build the fixture, run every scenario (or the ones named with --scenario)
under each selected debugger and print a report. The command fails when any
scenario fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd, g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.debugger, "debugger", debuggerAll, "Debugger to check: 'dap', 'headless' or 'all'")
	cmd.Flags().StringArrayVarP(&opts.scenarios, "scenario", "s", nil, "Scenario to run, repeatable (default all)")
	cmd.Flags().StringVar(&opts.file, "scenarios", "", "YAML scenario file (default: the built-in scenarios)")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 4, "Scenarios run at the same time")
	return cmd
}

func (o *checkOptions) debuggers() ([]string, error) {
	if o.debugger == debuggerAll {
		return debug.DebuggerTypes, nil
	}
	for _, d := range debug.DebuggerTypes {
		if d == o.debugger {
			return []string{d}, nil
		}
	}
	return nil, fmt.Errorf("unsupported debugger type: %s", o.debugger)
}

func check(cmd *cobra.Command, g *globalOptions, opts *checkOptions) error {
	ctx := cmd.Context()
	logger := g.logger
	if opts.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1, got %d", opts.parallel)
	}
	debuggers, err := opts.debuggers()
	if err != nil {
		return err
	}
	scenarios, err := loadScenarios(opts.file, opts.scenarios)
	if err != nil {
		return err
	}
	env, err := loadFixtureEnv()
	if err != nil {
		return err
	}
	var markerErrs []error
	for _, sc := range scenarios {
		markerErrs = append(markerErrs, sc.CheckMarkers(env.markers))
	}
	if err := errors.Join(markerErrs...); err != nil {
		return err
	}

	program, cleanup, err := env.build(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	logger.Infof("built fixture %s", program)

	managers := make([]common.SessionManager, 0, len(debuggers))
	for _, d := range debuggers {
		m, err := debug.NewSessionManager(d, debug.Options{Dlv: g.dlv, Logger: logger})
		if err != nil {
			return err
		}
		managers = append(managers, m)
	}
	defer func() {
		for _, m := range managers {
			if err := m.TerminateAll(context.WithoutCancel(ctx)); err != nil {
				logger.Warnf("failed to terminate %s sessions: %v", m.GetDebuggerType(), err)
			}
		}
	}()

	runner := &scenario.Runner{Markers: env.markers, Logger: logger}
	results := make([]*scenario.Result, len(managers)*len(scenarios))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.parallel)
	for i, m := range managers {
		for j, sc := range scenarios {
			idx := i*len(scenarios) + j
			eg.Go(func() error {
				results[idx] = runner.RunProgram(egCtx, m, program, sc)
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if failed := scenario.WriteReport(cmd.OutOrStdout(), results); failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}
