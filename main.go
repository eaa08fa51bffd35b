package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Failed operations have already been reported with their results.
		if errors.Is(err, errReported) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
