package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xhd2015/dlv-fixture/fixture"
	"github.com/xhd2015/dlv-fixture/fixture/markers"
	"github.com/xhd2015/dlv-fixture/scenario"
)

// fixtureEnv is the fixture source tree the commands work on.
type fixtureEnv struct {
	root    string
	markers markers.Set
}

func loadFixtureEnv() (*fixtureEnv, error) {
	root, err := fixture.FindModuleRoot(".")
	if err != nil {
		return nil, fmt.Errorf("run dlv-fixture inside the dlv-fixture module: %w", err)
	}
	set, err := markers.ParseFile(fixture.SourceFile(root))
	if err != nil {
		return nil, fmt.Errorf("failed to read breakpoint markers: %w", err)
	}
	return &fixtureEnv{root: root, markers: set}, nil
}

// build compiles the fixture into a new temporary directory. The returned
// cleanup removes it.
func (e *fixtureEnv) build(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "dlv-fixture-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }
	program := filepath.Join(dir, "simple")
	if err := fixture.Build(ctx, e.root, program); err != nil {
		cleanup()
		return "", nil, err
	}
	return program, cleanup, nil
}

// loadScenarios reads file, or the embedded scenarios when file is empty,
// and keeps the named ones.
func loadScenarios(file string, names []string) ([]scenario.Scenario, error) {
	scenarios := scenario.Default()
	if file != "" {
		var err error
		scenarios, err = scenario.LoadFile(file)
		if err != nil {
			return nil, err
		}
	}
	return scenario.Find(scenarios, names)
}
