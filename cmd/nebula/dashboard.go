package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebula-stream/nebula/internal/dashboard"
	"github.com/nebula-stream/nebula/internal/metrics"
)

var dashboardAddr string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch terminal dashboard",
	Long: `Dashboard starts a Bubble Tea terminal dashboard that polls a
running node's /v1/snapshot endpoint and renders queue depth, watermark,
active queries, and recent log lines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector(logger)
		defer collector.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go pollRemote(ctx, dashboardAddr, collector)

		return dashboard.Run(collector)
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "http://localhost:4301", "Address of a running node's metrics endpoint")
	rootCmd.AddCommand(dashboardCmd)
}

func pollRemote(ctx context.Context, addr string, collector *metrics.Collector) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := fetchSnapshot(client, addr)
			if err != nil {
				continue
			}
			collector.SetQueueDepth(snap.QueueDepth)
			collector.SetGlobalWatermark(snap.GlobalWatermark)
			collector.SetActiveQueries(snap.ActiveQueries)
		}
	}
}

func fetchSnapshot(client *http.Client, addr string) (*metrics.Snapshot, error) {
	resp, err := client.Get(addr + "/v1/snapshot")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
