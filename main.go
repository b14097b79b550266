package main

import (
	"fmt"
	"os"
)

func main() {
	cc := &CLIContext{}
	err := newRootCmd(cc).Execute()

	if closeErr := cc.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", closeErr)
	}

	if err != nil {
		exitOnError(err)
	}
}
