// Package remote wires the pilotfs remote-connection and mount components
// together from one explicit configuration.
package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/internal/cmdexec"
	"github.com/westy4ever/PilotFS-sub000/internal/config"
	"github.com/westy4ever/PilotFS-sub000/internal/metrics"
	"github.com/westy4ever/PilotFS-sub000/internal/schedule"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/arp"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/diag"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/dns"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/mount"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netbios"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netlog"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/oui"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/protocols"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/scanner"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/ssdp"
)

// Job names.
const (
	JobCleanup = "cleanup"
	JobRecheck = "recheck"
)

// Core owns every component. Nothing in it is process-global; two Cores with
// different configurations can coexist.
type Core struct {
	Config    config.Config
	Registry  *registry.Registry
	Log       *netlog.Log
	Metrics   *metrics.Metrics
	Pinger    *probe.Pinger
	Ports     *probe.PortProber
	Resolver  *dns.Resolver
	Scanner   *scanner.Scanner
	Diagnoser *diag.Pipeline
	Reconnect *diag.Reconnector
	Mounts    *mount.Manager

	logger zerolog.Logger
}

// New builds a Core. reg may be nil to skip metric registration.
func New(cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	store, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return nil, err
	}

	c := &Core{
		Config:   cfg,
		Registry: store,
		Log:      netlog.New(cfg.Log.NetworkEntries),
		Metrics:  m,
		Ports:    probe.NewPortProber(),
		Resolver: dns.NewResolver(cfg.Discovery.DNSTimeout, logger),
		logger:   logger.With().Str("component", "core").Logger(),
	}
	runner := cmdexec.Exec{}
	c.Pinger = probe.NewPinger(runner, cfg.Probe.PingCacheTTL, logger)

	opts := []scanner.Option{
		scanner.WithMetrics(m),
		scanner.WithDevices(ssdp.NewDiscovery(cfg.Discovery.SSDPTimeout, logger)),
	}
	if cfg.Discovery.ReverseDNS {
		opts = append(opts, scanner.WithReverseDNS(c.Resolver))
	}
	if cfg.Discovery.NetBIOS {
		opts = append(opts, scanner.WithNetBIOS(netbios.NewResolver(cfg.Discovery.DNSTimeout, logger)))
	}
	if cfg.Discovery.ARP && arp.IsSupported() {
		opts = append(opts, scanner.WithARP(arp.NewResolver(cfg.Discovery.PingTimeout, logger)))
		opts = append(opts, scanner.WithVendors(oui.NewDB(cfg.Discovery.OUIPath, logger)))
	}
	c.Scanner = scanner.New(scanner.Config{
		Workers:     cfg.Discovery.Workers,
		Deadline:    cfg.Discovery.Deadline,
		PingTimeout: cfg.Discovery.PingTimeout,
		PortTimeout: cfg.Discovery.PortTimeout,
		Ports:       cfg.Discovery.Ports,
	}, c.Pinger, c.Ports, logger, opts...)

	c.Diagnoser = diag.NewPipeline(diag.Config{
		PingCount:   cfg.Diagnose.PingCount,
		PingTimeout: cfg.Diagnose.PingTimeout,
		PortTimeout: cfg.Diagnose.PortTimeout,
		TestTimeout: cfg.Diagnose.TestTimeout,
	}, diag.Deps{
		Store:    c.Registry,
		Resolver: c.Resolver,
		Pinger:   c.Pinger,
		Ports:    c.Ports,
		Testers:  protocols.DefaultSet(c.Ports, logger),
		Log:      c.Log,
		Metrics:  m,
	}, logger)

	c.Reconnect = diag.NewReconnector(diag.ReconnectConfig{
		Enabled:     cfg.Reconnect.Enabled,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Delay:       cfg.Reconnect.Delay,
	}, c.Diagnoser, m, logger)

	var table mount.Table = mount.PartitionTable{}
	if cfg.Mount.Table == "findmnt" {
		table = mount.FindmntTable{Runner: runner, Timeout: cfg.Mount.ListTimeout}
	}
	c.Mounts = mount.NewManager(mount.Config{
		PreflightPing:  cfg.Mount.PreflightPing,
		PingTimeout:    cfg.Diagnose.PingTimeout,
		MountTimeout:   cfg.Mount.MountTimeout,
		UmountTimeout:  cfg.Mount.UmountTimeout,
		ListTimeout:    cfg.Mount.ListTimeout,
		ShareTimeout:   cfg.Mount.ShareTimeout,
		Versions:       cfg.Mount.Versions,
		CredentialsDir: cfg.Mount.CredentialsDir,
	}, mount.Deps{
		Runner:  runner,
		Table:   table,
		Pinger:  c.Pinger,
		Log:     c.Log,
		Metrics: m,
	}, logger)

	m.SetConnections(c.Registry.StatusCounts())
	c.logger.Debug().
		Str("registry", cfg.Registry.Path).
		Int("connections", c.Registry.Len()).
		Str("version", Version).
		Msg("core ready")
	return c, nil
}

// CheckResult is the outcome of one connection in CheckAll.
type CheckResult struct {
	Name    string
	Success bool
	Message string
}

// CheckAll diagnoses every saved connection with at most workers diagnoses in
// flight and refreshes the connection gauge.
func (c *Core) CheckAll(ctx context.Context, workers int) []CheckResult {
	recs := c.Registry.List()
	if workers <= 0 {
		workers = 4
	}
	results := make([]CheckResult, len(recs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, rec := range recs {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = CheckResult{Name: name, Message: ctx.Err().Error()}
				return
			}
			ok, msg, _ := c.Diagnoser.Diagnose(ctx, name)
			results[i] = CheckResult{Name: name, Success: ok, Message: msg}
		}(i, rec.Name)
	}
	wg.Wait()
	c.Metrics.SetConnections(c.Registry.StatusCounts())
	return results
}

// Jobs returns the background jobs configured for this Core.
func (c *Core) Jobs() []schedule.Job {
	return []schedule.Job{
		{
			Name: JobCleanup,
			Spec: c.Config.Schedule.Cleanup,
			Run: func(ctx context.Context) error {
				ok, n := c.Mounts.CleanupMounts(ctx)
				if !ok {
					return fmt.Errorf("stale mount cleanup incomplete (%d cleaned)", n)
				}
				return nil
			},
		},
		{
			Name: JobRecheck,
			Spec: c.Config.Schedule.Recheck,
			Run: func(ctx context.Context) error {
				failed := 0
				for _, r := range c.CheckAll(ctx, 0) {
					if !r.Success {
						failed++
					}
				}
				c.logger.Info().Int("connections", c.Registry.Len()).Int("failed", failed).Msg("connections re-checked")
				return nil
			},
		},
	}
}
