// Package fixture locates and builds the debugger fixture program.
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MainPackage is the import path, relative to the module root, of the fixture command.
const MainPackage = "./cmd/simple"

// FindModuleRoot walks up from dir until it finds a directory holding go.mod.
func FindModuleRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find module root with go.mod")
		}
		dir = parent
	}
}

// SourceFile returns the absolute path of the fixture source, which carries
// the breakpoint markers.
func SourceFile(root string) string {
	return filepath.Join(root, "fixture", "simple", "simple.go")
}

// Build compiles the fixture into output with optimizations and inlining
// disabled.
func Build(ctx context.Context, root string, output string) error {
	cmd := exec.CommandContext(ctx, "go", "build", "-gcflags=all=-N -l", "-o", output, MainPackage)
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("failed to build fixture: %w", err)
		}
		return fmt.Errorf("failed to build fixture: %w: %s", err, msg)
	}
	return nil
}
