package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pi",
	Short: "pi drives the agent-orchestration scheduling core",
	Long:  `pi exercises the priority queue, rate limiter, backoff driver, concurrency pool, penalty controller, and metrics collector end to end.`,
}
