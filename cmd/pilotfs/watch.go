package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/westy4ever/PilotFS-sub000/internal/config"
	"github.com/westy4ever/PilotFS-sub000/internal/schedule"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run background cleanup and re-check jobs, optionally serving metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched, err := schedule.New(a.core.Jobs(), a.logger)
			if err != nil {
				return err
			}
			if err := sched.Start(); err != nil {
				return err
			}
			defer func() { <-sched.Stop().Done() }()

			if addr := a.cfg.Metrics.Addr; addr != "" {
				srv := metricsServer(addr, a.metrics)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
						stop()
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.logger.Info().Str("addr", addr).Msg("serving metrics on /metrics")
			}

			a.logger.Info().Strs("jobs", sched.Names()).Msg("watching; press Ctrl+C to stop")
			<-ctx.Done()
			a.logger.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().String("metrics-addr", "", "listen address for the Prometheus endpoint, e.g. :9273")
	cmd.Flags().String("cleanup-schedule", "", "cron spec of the stale-mount cleanup")
	cmd.Flags().String("recheck-schedule", "", "cron spec of the connection re-check")
	return cmd
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the configuration file",
		Annotations: map[string]string{skipCore: "true"},
	}

	var system, force bool
	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write the effective configuration to a YAML file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipCore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Path(system)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.Write(a.cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "write the system-wide file instead of the user file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
