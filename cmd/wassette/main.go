// Command wassette runs the component host: a process that loads
// WebAssembly Components, enforces their capability policies, and exposes
// their exports as MCP tools.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
