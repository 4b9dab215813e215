package scenario

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteReport prints one line per scenario, the failing step's details
// under failures, and a summary line. It returns the number of failures.
func WriteReport(w io.Writer, results []*Result) int {
	failed := 0
	var total time.Duration
	for _, r := range results {
		total += r.Duration
		name := r.Scenario
		if r.Debugger != "" {
			name = r.Debugger + "/" + r.Scenario
		}
		if r.Passed() {
			fmt.Fprintf(w, "PASS %s (%s)\n", name, r.Duration.Round(time.Millisecond))
			continue
		}
		failed++
		fmt.Fprintf(w, "FAIL %s (%s)\n", name, r.Duration.Round(time.Millisecond))
		for _, step := range r.Steps {
			status := "ok"
			if step.Err != nil {
				status = "FAILED"
			}
			fmt.Fprintf(w, "    %d %s %s: %s\n", step.Index, step.Action, status, step.Detail)
		}
		for _, line := range strings.Split(r.Err.Error(), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed (%s)\n", len(results)-failed, failed, total.Round(time.Millisecond))
	return failed
}
