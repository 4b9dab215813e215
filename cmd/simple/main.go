// Command simple is the debugger fixture binary. Build it with
// -gcflags=all=-N -l so every line and local stays inspectable.
package main

import (
	"fmt"
	"os"

	"github.com/xhd2015/dlv-fixture/fixture/simple"
)

func main() {
	if err := simple.Run(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
