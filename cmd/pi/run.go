package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/run-pi/pi/internal/config"
	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/metrics/httpexport"
	"github.com/run-pi/pi/internal/metrics/store"
	"github.com/run-pi/pi/internal/penalty"
	"github.com/run-pi/pi/internal/provider"
	"github.com/run-pi/pi/internal/ratelimit"
	"github.com/run-pi/pi/internal/retry"
	"github.com/run-pi/pi/internal/sched/core"
	"github.com/run-pi/pi/internal/sched/queue"
	"github.com/run-pi/pi/internal/task"
)

// storeFileName is the fixed SQLite file name created inside whatever
// directory PI_METRICS_DIR names.
const storeFileName = "metrics.db"

var demoTools = []string{
	"question", "read_file", "bash_edit", "subagent_single", "subagent_parallel", "agent_team",
}

var (
	runTaskCount   int
	runConcurrency int
	runProviderURL string
	runServeAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "submit demo tasks through the scheduler core and report the outcome",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runTaskCount, "tasks", 20, "number of demo tasks to submit")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 4, "base parallelism for the scheduler core")
	runCmd.Flags().StringVar(&runProviderURL, "provider-url", "", "HTTP endpoint for the demo provider (empty simulates locally)")
	runCmd.Flags().StringVar(&runServeAddr, "serve", "", "also expose metrics over HTTP at this address while running, e.g. 127.0.0.1:9090")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	q := queue.New()
	limiter := ratelimit.NewFromEnv()
	pc := penalty.NewFromEnv()
	mc := metrics.New()

	c := core.New(q, limiter, pc, mc, core.Config{
		BaseParallelism: runConcurrency,
		Backoff:         retry.Config{MaxRetries: 3},
	})
	c.Start(ctx)
	defer c.Stop()

	if runServeAddr != "" {
		srv := httpexport.Serve(runServeAddr, mc)
		defer func() { _ = srv.Shutdown(context.Background()) }()
		fmt.Printf("metrics exposed at http://%s/summary\n", runServeAddr)
	}

	mcfg := config.LoadMetrics()
	if mcfg.Dir != "" {
		if err := os.MkdirAll(mcfg.Dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir %s: %w", mcfg.Dir, err)
		}
		st, err := store.Open(filepath.Join(mcfg.Dir, storeFileName))
		if err != nil {
			return fmt.Errorf("open metrics store: %w", err)
		}
		defer func() { _ = st.Close() }()
		st.StartFlushing(mc, mcfg.IntervalDuration(), time.Hour, mcfg.MaxFileSizeB)
		fmt.Printf("persisting metrics summaries to %s\n", mcfg.Dir)
	}

	dp := provider.New(runProviderURL)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed int

	for i := 0; i < runTaskCount; i++ {
		tool := demoTools[rand.Intn(len(demoTools))]
		meta := task.Meta{
			Tool:       tool,
			Provider:   "demo",
			Model:      "demo-1",
			Priority:   task.InferPriority(tool, task.InferContext{}),
			CostRounds: task.InferCost(tool, task.InferContext{}),
			Source:     task.SourceUserInteractive,
		}

		wg.Add(1)
		go func(meta task.Meta) {
			defer wg.Done()
			_, err := c.Submit(ctx, meta, func(ctx context.Context, attempt int) (any, error) {
				return dp.Call(ctx, meta.Tool, "demo prompt")
			})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(meta)
	}

	wg.Wait()

	fmt.Printf("submitted %d tasks, %d failed\n\n", runTaskCount, failed)
	fmt.Print(renderSummary("run summary", mc.GetSummary(time.Hour)))
	return nil
}
