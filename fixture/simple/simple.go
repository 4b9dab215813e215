// Package simple is the sample program debugger scenarios run against.
//
// Every function is straight-line, one statement per line, with a named
// local for each intermediate value. Lines that scenarios break on are
// tagged with BREAKPOINT_MARKER comments; a marker names the next line that
// is neither blank nor a comment. Renaming a local breaks the scenarios in
// package scenario.
package simple

import (
	"fmt"
	"io"
)

// CalculationResult holds the sum and product of two integers.
type CalculationResult struct {
	Sum     int
	Product int
}

func Add(a, b int) int {
	// BREAKPOINT_MARKER: add_body
	result := a + b
	return result
}

func Multiply(a, b int) int {
	// BREAKPOINT_MARKER: multiply_body
	result := a * b
	return result
}

func Calculate(x, y int) CalculationResult {
	sumResult := Add(x, y)
	productResult := Multiply(x, y)
	// BREAKPOINT_MARKER: calculate_return
	return CalculationResult{
		Sum:     sumResult,
		Product: productResult,
	}
}

// LoopExample sums the integers in [0, n), writing one line per iteration.
func LoopExample(w io.Writer, n int) int {
	total := 0
	for i := 0; i < n; i++ {
		// BREAKPOINT_MARKER: loop_body
		total += i
		fmt.Fprintf(w, "Loop iteration %d, total so far: %d\n", i, total)
	}
	// BREAKPOINT_MARKER: loop_return
	return total
}

func StringExample(w io.Writer) {
	greeting := "hello"
	name := "world"
	combined := fmt.Sprintf("%s, %s!", greeting, name)
	// BREAKPOINT_MARKER: string_print
	fmt.Fprintln(w, combined)
}

// Run writes the whole fixture sequence to w and returns the first write
// error, if any.
func Run(w io.Writer) error {
	ew := &errWriter{w: w}

	// BREAKPOINT_MARKER: run_start
	fmt.Fprintln(ew, "Starting simple.go")

	result := Add(5, 3)
	fmt.Fprintf(ew, "add(5, 3) = %d\n", result)

	calcResult := Calculate(4, 7)
	fmt.Fprintf(ew, "calculate(4, 7) = {sum: %d, product: %d}\n", calcResult.Sum, calcResult.Product)

	loopResult := LoopExample(ew, 5)
	fmt.Fprintf(ew, "loop_example(5) = %d\n", loopResult)

	StringExample(ew)

	fmt.Fprintln(ew, "Finished simple.go")
	return ew.err
}

// errWriter swallows writes after the first failure.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return len(p), nil
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
