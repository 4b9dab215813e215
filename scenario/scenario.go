// Package scenario loads and runs scripted debugger checks against the
// simple fixture.
package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xhd2015/dlv-fixture/fixture/markers"
)

// Step actions
const (
	ActionContinue = "continue"
	ActionNext     = "next"
	ActionStepIn   = "step_in"
	ActionStepOut  = "step_out"
	ActionEvaluate = "evaluate"
	ActionLocals   = "locals"
	ActionStack    = "stack"
)

var actions = map[string]bool{
	ActionContinue: true,
	ActionNext:     true,
	ActionStepIn:   true,
	ActionStepOut:  true,
	ActionEvaluate: true,
	ActionLocals:   true,
	ActionStack:    true,
}

//go:embed simple.yaml
var defaultScenarios []byte

// File is a scenario document.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario sets breakpoints on markers, then runs its steps in order.
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Breakpoints []string `yaml:"breakpoints,omitempty"`
	Steps       []Step   `yaml:"steps"`
	// ExpectOutput, when set, is compared line by line with the program's
	// output after it has run to completion.
	ExpectOutput []string `yaml:"expect_output,omitempty"`
}

// Step is one debugger request and what its result must look like.
type Step struct {
	Action string `yaml:"action"`

	// continue, next, step_in, step_out and stack
	ExpectMarker   string `yaml:"expect_marker,omitempty"`
	ExpectFunction string `yaml:"expect_function,omitempty"`
	ExpectExited   bool   `yaml:"expect_exited,omitempty"`

	// evaluate
	Expr   string `yaml:"expr,omitempty"`
	Expect string `yaml:"expect,omitempty"`

	// stack
	Frame int `yaml:"frame,omitempty"`

	// checked by evaluating each name after execution steps, and against
	// the listed variables for locals
	ExpectVars map[string]string `yaml:"expect_vars,omitempty"`
}

func (s Step) isExecution() bool {
	switch s.Action {
	case ActionContinue, ActionNext, ActionStepIn, ActionStepOut:
		return true
	}
	return false
}

// Load reads a scenario document and validates it.
func Load(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty scenario document")
		}
		return nil, fmt.Errorf("failed to parse scenarios: %w", err)
	}
	if err := Validate(f.Scenarios); err != nil {
		return nil, err
	}
	return f.Scenarios, nil
}

func LoadFile(path string) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scenarios, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// Default returns the built-in scenarios for the simple fixture.
func Default() []Scenario {
	scenarios, err := Load(bytes.NewReader(defaultScenarios))
	if err != nil {
		panic(fmt.Errorf("built-in scenarios: %w", err))
	}
	return scenarios
}

// Validate checks names are present and unique and every step is well formed.
func Validate(scenarios []Scenario) error {
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios")
	}
	seen := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario #%d: missing name", i+1)
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate scenario: %s", sc.Name)
		}
		seen[sc.Name] = true

		if len(sc.Steps) == 0 {
			return fmt.Errorf("scenario %s: no steps", sc.Name)
		}
		for j, step := range sc.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("scenario %s step %d: %w", sc.Name, j+1, err)
			}
		}
	}
	return nil
}

func (s Step) validate() error {
	if !actions[s.Action] {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Action == ActionEvaluate && s.Expr == "" {
		return fmt.Errorf("evaluate needs expr")
	}
	if s.Frame < 0 {
		return fmt.Errorf("negative frame %d", s.Frame)
	}
	if s.ExpectExited && (s.ExpectMarker != "" || s.ExpectFunction != "" || len(s.ExpectVars) > 0) {
		return fmt.Errorf("expect_exited cannot be combined with location or variable expectations")
	}
	if s.ExpectExited && !s.isExecution() {
		return fmt.Errorf("expect_exited needs an execution action")
	}
	return nil
}

// CheckMarkers reports breakpoints and expectations naming unknown markers.
func (sc Scenario) CheckMarkers(set markers.Set) error {
	var errs []error
	for _, name := range sc.Breakpoints {
		if _, err := set.Lookup(name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, step := range sc.Steps {
		if step.ExpectMarker == "" {
			continue
		}
		if _, err := set.Lookup(step.ExpectMarker); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Find returns the named scenarios, all of them when names is empty.
func Find(scenarios []Scenario, names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	byName := make(map[string]Scenario, len(scenarios))
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}
	result := make([]Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario: %s", name)
		}
		result = append(result, sc)
	}
	return result, nil
}
