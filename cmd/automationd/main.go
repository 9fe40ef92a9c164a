// Command automationd runs the workflow automation runtime as a
// standalone daemon: it loads configuration, connects the chosen store
// backend, and serves the HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
