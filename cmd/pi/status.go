package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/metrics/store"
)

var (
	statusAddr      string
	statusWindowSec int
	statusSince     string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "fetch and render the metrics summary from a running `pi run --serve` instance, or its persisted history",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:9090", "address of a running pi instance's metrics export")
	statusCmd.Flags().IntVar(&statusWindowSec, "window", 60, "summary window in seconds")
	statusCmd.Flags().StringVar(&statusSince, "since", "", "read persisted summaries from this PI_METRICS_DIR instead of polling --addr")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusSince != "" {
		return runStatusFromStore(statusSince)
	}

	url := fmt.Sprintf("http://%s/summary?window_ms=%d", statusAddr, statusWindowSec*1000)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("reach metrics endpoint at %s: %w", statusAddr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned %d", resp.StatusCode)
	}

	var s metrics.Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	fmt.Print(renderSummary(fmt.Sprintf("status (last %ds)", statusWindowSec), s))
	return nil
}

// runStatusFromStore reads the persisted summary history a `pi run` instance
// wrote under dir (with PI_METRICS_DIR set) instead of polling a live
// instance's HTTP export.
func runStatusFromStore(dir string) error {
	st, err := store.Open(filepath.Join(dir, storeFileName))
	if err != nil {
		return fmt.Errorf("open metrics store at %s: %w", dir, err)
	}
	defer func() { _ = st.Close() }()

	rows, err := st.RecentSummaries(20)
	if err != nil {
		return fmt.Errorf("read persisted summaries: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no persisted summaries found")
		return nil
	}

	fmt.Print(renderRows(fmt.Sprintf("status history (%s)", dir), rows))
	return nil
}
