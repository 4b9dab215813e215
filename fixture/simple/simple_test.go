package simple

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	assert.Equal(t, 8, Add(5, 3))
	assert.Equal(t, 0, Add(-2, 2))
}

func TestMultiply(t *testing.T) {
	assert.Equal(t, 28, Multiply(4, 7))
	assert.Equal(t, 0, Multiply(0, 9))
}

func TestCalculate(t *testing.T) {
	assert.Equal(t, CalculationResult{Sum: 11, Product: 28}, Calculate(4, 7))
}

func TestLoopExample(t *testing.T) {
	var buf bytes.Buffer
	total := LoopExample(&buf, 5)

	assert.Equal(t, 10, total)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Loop iteration 0, total so far: 0", lines[0])
	assert.Equal(t, "Loop iteration 3, total so far: 6", lines[3])
	assert.Equal(t, "Loop iteration 4, total so far: 10", lines[4])
}

func TestLoopExampleEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, LoopExample(&buf, 0))
	assert.Empty(t, buf.String())

	assert.Equal(t, 0, LoopExample(&buf, -3))
	assert.Empty(t, buf.String())
}

func TestStringExample(t *testing.T) {
	var buf bytes.Buffer
	StringExample(&buf)
	assert.Equal(t, "hello, world!\n", buf.String())
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Run(&buf))

	want := strings.Join([]string{
		"Starting simple.go",
		"add(5, 3) = 8",
		"calculate(4, 7) = {sum: 11, product: 28}",
		"Loop iteration 0, total so far: 0",
		"Loop iteration 1, total so far: 1",
		"Loop iteration 2, total so far: 3",
		"Loop iteration 3, total so far: 6",
		"Loop iteration 4, total so far: 10",
		"loop_example(5) = 10",
		"hello, world!",
		"Finished simple.go",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

type failingWriter struct {
	calls int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestRunWriteError(t *testing.T) {
	w := &failingWriter{}
	err := Run(w)

	require.EqualError(t, err, "disk full")
	assert.Equal(t, 1, w.calls, "writes after the first failure must not reach the writer")
}
