// Command top-agent runs a single coding task headlessly against an LLM.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// exitError carries a process exit code for runs that finished without
// completing the task. The report has already been written by then.
type exitError struct {
	code   int
	status string
}

func (e *exitError) Error() string {
	return "run ended with status " + e.status
}
