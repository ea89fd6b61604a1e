package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var statsMetrics = []string{
	"aarma_batches_received_total",
	"aarma_batches_persisted_total",
	"aarma_batches_skipped_total",
	"aarma_dlq_total",
	"aarma_queue_length",
	"aarma_wal_size_bytes",
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus metrics endpoint and print live counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					values, err := fetchMetrics(ctx, url)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, formatSnapshot(time.Now(), values))
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func fetchMetrics(ctx context.Context, url string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseMetrics(resp.Body, statsMetrics)
}

// parseMetrics reads unlabelled samples for names from the text exposition
// format.
func parseMetrics(r io.Reader, names []string) (map[string]float64, error) {
	values := make(map[string]float64, len(names))
	for _, n := range names {
		values[n] = 0
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range names {
			if strings.HasPrefix(line, key+" ") {
				var v float64
				if _, err := fmt.Sscanf(line, key+" %g", &v); err == nil {
					values[key] = v
				}
			}
		}
	}
	return values, scanner.Err()
}

func formatSnapshot(at time.Time, v map[string]float64) string {
	return fmt.Sprintf("[%s] received=%.0f persisted=%.0f skipped=%.0f dlq=%.0f queue=%.0f wal_bytes=%.0f",
		at.Format(time.RFC3339),
		v["aarma_batches_received_total"],
		v["aarma_batches_persisted_total"],
		v["aarma_batches_skipped_total"],
		v["aarma_dlq_total"],
		v["aarma_queue_length"],
		v["aarma_wal_size_bytes"],
	)
}
