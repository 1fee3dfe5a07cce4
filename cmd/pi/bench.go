package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/run-pi/pi/internal/pool"
	"github.com/run-pi/pi/internal/provider"
)

var (
	benchCount       int
	benchConcurrency int
	benchProviderURL string
	benchAbort       bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "drive the bounded concurrency pool directly against the demo provider",
	RunE:  runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVar(&benchCount, "count", 100, "number of invocations")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 8, "max in-flight invocations")
	benchCmd.Flags().StringVar(&benchProviderURL, "provider-url", "", "HTTP endpoint for the demo provider (empty simulates locally)")
	benchCmd.Flags().BoolVar(&benchAbort, "abort-on-error", false, "cancel remaining invocations on the first error")
}

func runBench(cmd *cobra.Command, args []string) error {
	dp := provider.New(benchProviderURL)

	items := make([]int, benchCount)
	for i := range items {
		items[i] = i
	}

	start := time.Now()
	results, err := pool.RunWithConcurrencyLimit(context.Background(), items, benchConcurrency,
		func(ctx context.Context, i int, index int) (string, error) {
			return dp.Call(ctx, "bash_edit", fmt.Sprintf("bench item %d", i))
		},
		pool.Options{AbortOnError: benchAbort},
	)
	elapsed := time.Since(start)

	if err != nil {
		return fmt.Errorf("bench run failed: %w", err)
	}

	fmt.Printf("completed %d invocations at concurrency %d in %s (%.1f/s)\n",
		len(results), benchConcurrency, elapsed, float64(len(results))/elapsed.Seconds())
	return nil
}
