// Command pi is the scheduler's CLI entrypoint: it drives the scheduler
// core against a demo provider (run), prints a live metrics summary
// (status), and benchmarks the bounded concurrency pool in isolation
// (bench) -- exercising the scheduling packages end to end so the module
// is runnable, not just a library. internal/lock is not used by any
// command.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
