package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nebula-stream/nebula/internal/controlplane"
	"github.com/nebula-stream/nebula/internal/dashboard"
	"github.com/nebula-stream/nebula/internal/metrics"
	"github.com/nebula-stream/nebula/internal/runtime"
)

const shutdownGrace = 10 * time.Second

var runDashboard bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coordinator+worker node",
	Long: `Run starts one NebulaStream node: a node-local QueryManager driving
deployed sub-plans, and a control-plane HTTP server exposing the
coordinator RPC surface (node/source registration, topology parenting,
query deploy/undeploy/statistics) plus a Prometheus /metrics endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector(logger)
		defer collector.Close()

		if runDashboard {
			// Route this node's own log lines into the collector's log
			// ring instead of stderr, so the foreground dashboard shows
			// them rather than them leaking behind the alt screen.
			logger = zerolog.New(metrics.NewLogWriter(collector)).With().Timestamp().Logger().Level(logger.GetLevel())
		}

		queryMgr := runtime.NewQueryManager(cfg.Runtime.NumWorkerThreads, logger)
		queryMgr.Start()
		defer func() {
			if err := queryMgr.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("query manager shutdown")
			}
		}()

		coord := controlplane.New(queryMgr, collector, logger)
		server := controlplane.NewServer(coord, logger)
		defer server.Close()

		if persister, err := metrics.NewStatePersister(collector, coord.GlobalPlan(), logger); err != nil {
			logger.Warn().Err(err).Msg("state persister disabled")
		} else {
			persister.Start()
			defer persister.Stop()
		}

		httpSrv := &http.Server{Addr: cfg.Control.ListenAddr, Handler: server.Handler()}
		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.Control.ListenAddr).Msg("control plane listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		// A second, dedicated listener for the metrics/snapshot endpoints,
		// so a dashboard or a Prometheus scraper can reach a node without
		// sharing its control-plane RPC port.
		var metricsSrv *http.Server
		if cfg.Control.MetricsAddr != "" && cfg.Control.MetricsAddr != cfg.Control.ListenAddr {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("GET /metrics", collector.Handler())
			metricsMux.HandleFunc("GET /v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
				snapshotJSON(w, collector)
			})
			metricsSrv = &http.Server{Addr: cfg.Control.MetricsAddr, Handler: metricsMux}
			go func() {
				logger.Info().Str("addr", cfg.Control.MetricsAddr).Msg("metrics listening")
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
		}

		shutdown := func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if metricsSrv != nil {
				return metricsSrv.Shutdown(shutdownCtx)
			}
			return nil
		}

		if runDashboard {
			dashErr := dashboard.Run(collector)
			if err := shutdown(); err != nil {
				return err
			}
			return dashErr
		}

		ctx := cmd.Context()
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDashboard, "dashboard", false, "Show the terminal dashboard in the foreground while the node runs")
	rootCmd.AddCommand(runCmd)
}

func snapshotJSON(w http.ResponseWriter, collector *metrics.Collector) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(collector.Snapshot())
}
