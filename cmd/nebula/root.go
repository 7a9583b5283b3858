package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nebula-stream/nebula/internal/config"
)

var (
	cfg       = config.Default()
	logger    zerolog.Logger
	logOutput io.Writer

	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "nebula",
	Short: "Distributed stream-processing engine node",
	Long: `nebula runs one node of a NebulaStream-style stream-processing engine:
a pipelined, buffer-at-a-time execution runtime plus the coordinator-side
placement and shared-plan amendment core, reachable over a JSON/HTTP
control-plane RPC surface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		switch logFormat {
		case "json":
			logOutput = os.Stdout
		default:
			logOutput = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(logOutput).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)

		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()

	f.Uint64Var(&cfg.NodeID, "node-id", 0, "Node id (0 lets the coordinator mint one on registration)")
	f.IntVar(&cfg.Buffer.NumBuffers, "buffer-pool-size", cfg.Buffer.NumBuffers, "Number of pooled buffers")
	f.IntVar(&cfg.Buffer.BufferSize, "buffer-size", cfg.Buffer.BufferSize, "Size in bytes of each pooled buffer")
	f.IntVar(&cfg.Runtime.NumWorkerThreads, "worker-threads", cfg.Runtime.NumWorkerThreads, "Number of task-queue worker threads")
	f.IntVar(&cfg.Shredder.RingWidth, "shredder-ring-width", cfg.Shredder.RingWidth, "SequenceShredder ring width")
	f.StringVar(&cfg.Control.ListenAddr, "listen-addr", cfg.Control.ListenAddr, "Control-plane RPC listen address")
	f.StringVar(&cfg.Control.MetricsAddr, "metrics-addr", cfg.Control.MetricsAddr, "Metrics/dashboard listen address")
	f.IntVar(&cfg.Control.RetryAttempts, "retry-attempts", cfg.Control.RetryAttempts, "NetworkDisconnected retry attempts (validated only; no component retries on it)")

	f.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
