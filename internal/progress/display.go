package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"segcompact/internal/compaction"
)

// Source lists the operations currently running
type Source interface {
	Compactions() []compaction.Info
}

// Display periodically renders pass progress and running operations
type Display struct {
	tracker  *Tracker
	source   Source
	interval time.Duration
	out      io.Writer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a display writing to out every interval
func NewDisplay(tracker *Tracker, source Source, interval time.Duration, out io.Writer) *Display {
	return &Display{
		tracker:  tracker,
		source:   source,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the refresh loop
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop renders the final summary and waits for the loop to exit
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.Render(), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.RenderFinal(), "\n"))
			return
		}
	}
}

// Render returns the lines of the periodic display
func (d *Display) Render() []string {
	status := d.tracker.GetStatus()

	lines := []string{
		"",
		"Compaction progress",
		strings.Repeat("=", 51),
		fmt.Sprintf("Tables: %d/%d (%.1f%%)", status.ProcessedTables, status.TotalTables, status.TablesPercent()),
		"    " + progressBar(status.TablesPercent(), 40),
		fmt.Sprintf("Data:   %s/%s (%.1f%%)", FormatBytes(status.ProcessedBytes), FormatBytes(status.TotalBytes), status.BytesPercent()),
		"    " + progressBar(status.BytesPercent(), 40),
		fmt.Sprintf("Speed:  %s current, %s average", FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed)),
		fmt.Sprintf("Time:   %s elapsed, %s remaining", FormatDuration(time.Since(status.StartTime)), FormatDuration(status.ETA)),
	}

	infos := d.source.Compactions()
	if len(infos) > 0 {
		lines = append(lines, "", fmt.Sprintf("Running (%d):", len(infos)))
		for _, info := range infos {
			pct := Percent(info.BytesComplete(), info.TotalBytes())
			lines = append(lines, fmt.Sprintf("  %s %s", info, progressBar(pct, 20)))
		}
	}

	return lines
}

// RenderFinal returns the lines of the completion summary
func (d *Display) RenderFinal() []string {
	status := d.tracker.GetStatus()

	return []string{
		"",
		"Compaction pass finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Tables:    %d", status.ProcessedTables),
		fmt.Sprintf("Compacted: %d", status.CompactedTables),
		fmt.Sprintf("Skipped:   %d", status.SkippedTables),
		fmt.Sprintf("Stopped:   %d", status.StoppedTables),
		fmt.Sprintf("Failed:    %d", status.FailedTables),
		fmt.Sprintf("Data:      %s", FormatBytes(status.ProcessedBytes)),
		fmt.Sprintf("Duration:  %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("Speed:     %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a terminal
func IsTerminalSupported() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
