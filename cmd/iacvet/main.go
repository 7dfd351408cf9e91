package main

import (
	"errors"
	"fmt"
	"os"
)

// exitError ends the process with code and no further output; the command
// has already written everything the user needs.
type exitError struct {
	code   int
	reason string
}

func (e *exitError) Error() string { return e.reason }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
