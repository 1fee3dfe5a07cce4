package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/run-pi/pi/internal/metrics"
	"github.com/run-pi/pi/internal/metrics/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle  = lipgloss.NewStyle().Bold(true)
)

// renderSummary lays out a metrics.Summary as a small label/value table,
// the way cmd/pi status and the end-of-run report both want it.
func renderSummary(title string, s metrics.Summary) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	row := func(label string, value any) {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(value))))
	}

	row("total", s.Total)
	row("success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100))
	row("mean wait (ms)", fmt.Sprintf("%.1f", s.MeanWaitMs))
	row("mean exec (ms)", fmt.Sprintf("%.1f", s.MeanExecMs))
	row("p50 wait (ms)", fmt.Sprintf("%.1f", s.P50WaitMs))
	row("p99 wait (ms)", fmt.Sprintf("%.1f", s.P99WaitMs))

	if len(s.ByPriority) > 0 {
		b.WriteString(labelStyle.Render("  by priority:\n"))
		for p, n := range s.ByPriority {
			b.WriteString(fmt.Sprintf("    %s: %d\n", p, n))
		}
	}
	return b.String()
}

// renderRows lays out persisted summary history, newest first, the way
// cmd/pi status --since wants it.
func renderRows(title string, rows []store.Row) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	for _, r := range rows {
		recordedAt := time.UnixMilli(r.RecordedAtMs).Format(time.RFC3339)
		b.WriteString(fmt.Sprintf("  %s total=%s success=%s p50=%sms p99=%sms\n",
			labelStyle.Render(recordedAt),
			valueStyle.Render(fmt.Sprint(r.Total)),
			valueStyle.Render(fmt.Sprintf("%.1f%%", r.SuccessRate*100)),
			valueStyle.Render(fmt.Sprintf("%.1f", r.P50WaitMs)),
			valueStyle.Render(fmt.Sprintf("%.1f", r.P99WaitMs)),
		))
	}
	return b.String()
}
