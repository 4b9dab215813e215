package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/xhd2015/dlv-fixture/debug"
	"github.com/xhd2015/dlv-fixture/debug/delve"
	"github.com/xhd2015/dlv-fixture/log"
	"github.com/xhd2015/dlv-fixture/scenario"
	debugtools "github.com/xhd2015/dlv-fixture/tools/debug"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	debugger string
	listen   string
	program  string
}

func newServeCommand(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve debug sessions as MCP tools",
		Long: `Serve debug sessions as MCP tools over stdio, or over SSE with --listen.

The fixture is built once at startup so run_scenario has a program to debug.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.debugger, "debugger", delve.KindHeadless, "Type of debugger to use: 'headless' or 'dap'")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "Serve SSE on this address instead of stdio, e.g. 127.0.0.1:12763")
	cmd.Flags().StringVar(&opts.program, "program", "", "Prebuilt fixture binary for run_scenario (default: build one)")
	return cmd
}

func serve(ctx context.Context, g *globalOptions, opts *serveOptions) error {
	logger := g.logger
	sessionManager, err := debug.NewSessionManager(opts.debugger, debug.Options{Dlv: g.dlv, Logger: logger})
	if err != nil {
		return err
	}

	env, err := loadFixtureEnv()
	if err != nil {
		return err
	}
	program := opts.program
	if program == "" {
		built, cleanup, err := env.build(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		program = built
	}

	s := server.NewMCPServer(
		"Go Delve Debugger Fixture MCP",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(debugtools.LoggingMiddleware(logger)),
	)
	if err := debugtools.RegisterTools(s, sessionManager, debugtools.ToolOptions{
		Logger:    logger,
		Markers:   env.markers,
		Scenarios: scenario.Default(),
		Program:   program,
	}); err != nil {
		return err
	}
	defer func() {
		if err := sessionManager.TerminateAll(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("failed to terminate sessions: %v", err)
		}
	}()

	if opts.listen == "" {
		logger.Infof("MCP server (%s) listening on stdio", opts.debugger)
		return server.ServeStdio(s, server.WithErrorLogger(log.StdLogger(logger)))
	}
	return serveSSE(ctx, s, opts.listen, logger)
}

func serveSSE(ctx context.Context, s *server.MCPServer, listen string, logger log.Logger) error {
	sseServer := server.NewSSEServer(s)
	errChan := make(chan error, 1)
	go func() {
		logger.Infof("MCP server listening on %s", listen)
		errChan <- sseServer.Start(listen)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("sse server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := sseServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down sse server: %w", err)
	}
	return nil
}
