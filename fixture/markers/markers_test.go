package markers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package demo

func add(a, b int) int {
	// BREAKPOINT_MARKER: add_body
	result := a + b
	return result
}

func main() {
	// BREAKPOINT_MARKER: main_start

	// a comment between marker and target
	x := add(1, 2)
	// BREAKPOINT_MARKER: first
	// BREAKPOINT_MARKER: second
	println(x)
}
`

func TestParse(t *testing.T) {
	set, err := Parse("demo.go", strings.NewReader(sample))
	require.NoError(t, err)

	want := Set{
		"add_body":   {Name: "add_body", File: "demo.go", Line: 5},
		"main_start": {Name: "main_start", File: "demo.go", Line: 13},
		"first":      {Name: "first", File: "demo.go", Line: 16},
		"second":     {Name: "second", File: "demo.go", Line: 16},
	}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"add_body", "first", "main_start", "second"}, set.Names())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "empty name",
			src:     "// BREAKPOINT_MARKER:\nx := 1\n",
			wantErr: "empty marker name",
		},
		{
			name:    "duplicate",
			src:     "// BREAKPOINT_MARKER: a\nx := 1\n// BREAKPOINT_MARKER: a\ny := 2\n",
			wantErr: `duplicate marker "a"`,
		},
		{
			name:    "dangling",
			src:     "x := 1\n// BREAKPOINT_MARKER: tail\n\n",
			wantErr: `marker "tail" has no target line`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("f.go", strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLookupAndByLine(t *testing.T) {
	set, err := Parse("/src/demo/demo.go", strings.NewReader(sample))
	require.NoError(t, err)

	m, err := set.Lookup("add_body")
	require.NoError(t, err)
	assert.Equal(t, 5, m.Line)

	_, err = set.Lookup("missing")
	assert.EqualError(t, err, "unknown marker: missing")

	got := set.ByLine("demo/demo.go", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "add_body", got[0].Name)

	assert.Empty(t, set.ByLine("/src/demo/other.go", 5))
	assert.Empty(t, set.ByLine("/src/demo/demo.go", 6))
}

func TestByLineStacked(t *testing.T) {
	src := `package demo

func f() int {
	// BREAKPOINT_MARKER: zeta
	// BREAKPOINT_MARKER: alpha
	// BREAKPOINT_MARKER: mid
	x := 1
	return x
}
`
	set, err := Parse("/src/demo/stacked.go", strings.NewReader(src))
	require.NoError(t, err)

	// every run returns all of them in name order
	for i := 0; i < 20; i++ {
		got := set.ByLine("/src/demo/stacked.go", 7)
		assert.Equal(t, []Marker{
			{Name: "alpha", File: "/src/demo/stacked.go", Line: 7},
			{Name: "mid", File: "/src/demo/stacked.go", Line: 7},
			{Name: "zeta", File: "/src/demo/stacked.go", Line: 7},
		}, got)
	}
	sorted := set.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "alpha", sorted[0].Name)
	assert.Equal(t, "zeta", sorted[2].Name)
}

// The fixture's markers must each land on the statement scenarios expect.
func TestFixtureMarkers(t *testing.T) {
	path := filepath.Join("..", "simple", "simple.go")
	set, err := ParseFile(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")

	wantTargets := map[string]string{
		"run_start":        `fmt.Fprintln(ew, "Starting simple.go")`,
		"add_body":         "result := a + b",
		"multiply_body":    "result := a * b",
		"calculate_return": "return CalculationResult{",
		"loop_body":        "total += i",
		"loop_return":      "return total",
		"string_print":     "fmt.Fprintln(w, combined)",
	}
	assert.ElementsMatch(t, keys(wantTargets), set.Names())

	for name, want := range wantTargets {
		m, err := set.Lookup(name)
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(m.File))
		assert.Equal(t, want, strings.TrimSpace(lines[m.Line-1]), "marker %s", name)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
