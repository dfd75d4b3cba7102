// Command pilotfs discovers storage hosts, manages saved remote connections
// and mounts CIFS shares.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/westy4ever/PilotFS-sub000/internal/config"
	"github.com/westy4ever/PilotFS-sub000/internal/logging"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote"
)

// skipCore marks commands that run without building a Core.
const skipCore = "skip-core"

type app struct {
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger
	metrics *prometheus.Registry
	core    *remote.Core
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pilotfs",
		Short:         "Discover, test and mount remote storage",
		Version:       remote.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, err = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			if cmd.Annotations[skipCore] != "" {
				return nil
			}
			a.metrics = prometheus.NewRegistry()
			a.core, err = remote.New(cfg, a.logger, a.metrics)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is <user config dir>/pilotfs/pilotfs.yaml)")
	cmd.PersistentFlags().String("registry", "", "connection registry file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (console, json)")

	cmd.AddCommand(
		newDiscoverCmd(a),
		newScanCmd(a),
		newDevicesCmd(a),
		newConnCmd(a),
		newMountCmd(a),
		newUmountCmd(a),
		newMountsCmd(a),
		newCleanupCmd(a),
		newSharesCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// parsePorts parses a comma-separated port list.
func parsePorts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("ports list is empty")
	}
	parts := strings.Split(s, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		var v int
		_, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &v)
		if err != nil || v <= 0 || v > 65535 {
			return nil, fmt.Errorf("invalid port: %q", p)
		}
		ports = append(ports, v)
	}
	return ports, nil
}

// result turns an (ok, message) outcome into command output or an error.
func result(cmd *cobra.Command, ok bool, msg string) error {
	if !ok {
		return fmt.Errorf("%s", msg)
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
