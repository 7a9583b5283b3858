package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebula-stream/nebula/internal/metrics"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last-known state of a running node",
	Long:  `Status reads the node's periodically persisted metrics snapshot from disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := metrics.ReadStateFile()
		if err != nil {
			fmt.Println("No node state found. Is a node running?")
			fmt.Printf("  (error: %v)\n", err)
			return nil
		}
		snap := state.Snapshot

		age := time.Since(snap.Timestamp)
		stale := ""
		if age > 10*time.Second {
			stale = fmt.Sprintf(" (stale — %s ago)", age.Truncate(time.Second))
		}

		fmt.Printf("As of:              %s%s\n", snap.Timestamp.Format(time.RFC3339), stale)
		fmt.Printf("Queue depth:        %d\n", snap.QueueDepth)
		fmt.Printf("Global watermark:   %d\n", snap.GlobalWatermark)
		fmt.Printf("Active queries:     %d\n", snap.ActiveQueries)
		fmt.Printf("Tuples processed:   %d\n", snap.ProcessedTuplesTotal)
		fmt.Printf("Buffers processed:  %d\n", snap.ProcessedBuffersTotal)
		if snap.PlacementFailures > 0 {
			fmt.Printf("Placement failures: %d\n", snap.PlacementFailures)
		}
		if snap.AmendmentFailures > 0 {
			fmt.Printf("Amendment failures: %d\n", snap.AmendmentFailures)
		}
		if n := state.GlobalPlanNodeCount(); n > 0 {
			fmt.Printf("Execution nodes:    %d\n", n)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
