// Package scanner finds hosts on a local subnet and the storage services they
// expose.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/internal/metrics"
	"github.com/westy4ever/PilotFS-sub000/internal/scanner"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/arp"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/dns"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netbios"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/network"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/ssdp"
)

// DefaultPorts are probed by Scan when the caller supplies none.
var DefaultPorts = []int{21, 22, 80, 139, 443, 445, 8080, 9090}

const (
	// DefaultPingTimeout bounds each discovery ping.
	DefaultPingTimeout = time.Second
	// DefaultPortTimeout bounds each port probe during Scan.
	DefaultPortTimeout = time.Second
)

// Pinger is satisfied by *probe.Pinger.
type Pinger interface {
	Ping(ctx context.Context, host string, count int, timeout time.Duration) probe.PingResult
}

// PortChecker is satisfied by *probe.PortProber.
type PortChecker interface {
	CheckPort(ctx context.Context, host string, port int, timeout time.Duration) probe.PortResult
}

// ReverseResolver is satisfied by *dns.Resolver.
type ReverseResolver interface {
	LookupMultiple(ctx context.Context, ips []string) []*dns.Result
}

// MACResolver is satisfied by *arp.Resolver.
type MACResolver interface {
	LookupMultiple(ctx context.Context, ips []string) []*arp.Result
}

// NameResolver is satisfied by *netbios.Resolver.
type NameResolver interface {
	LookupMultiple(ctx context.Context, ips []string) []*netbios.Result
}

// VendorDB is satisfied by *oui.DB.
type VendorDB interface {
	LookupName(mac string) string
}

// DeviceFinder is satisfied by *ssdp.Discovery.
type DeviceFinder interface {
	DiscoverStorage(ctx context.Context) ([]ssdp.Device, error)
}

// Config controls sweep sizing and probe timeouts.
type Config struct {
	Workers     int
	Deadline    time.Duration
	PingTimeout time.Duration
	PortTimeout time.Duration
	Ports       []int
}

// HostInfo is a discovered host with whatever could be learned about it.
type HostInfo struct {
	IP        string
	Hostname  string
	Hostnames []string
	MAC       string
	Vendor    string
	// NetBIOSName and Workgroup come from a NetBIOS node status reply.
	NetBIOSName string
	Workgroup   string
	// FileServer is set when the host announced the SMB file server service.
	FileServer bool
}

// Scanner runs discovery sweeps and per-host port scans.
type Scanner struct {
	cfg     Config
	pinger  Pinger
	ports   PortChecker
	rdns    ReverseResolver
	arp     MACResolver
	nbns    NameResolver
	vendors VendorDB
	devices DeviceFinder
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures optional collaborators.
type Option func(*Scanner)

// WithReverseDNS enables hostname enrichment.
func WithReverseDNS(r ReverseResolver) Option { return func(s *Scanner) { s.rdns = r } }

// WithARP enables MAC enrichment.
func WithARP(r MACResolver) Option { return func(s *Scanner) { s.arp = r } }

// WithNetBIOS enables NetBIOS name and file server enrichment.
func WithNetBIOS(r NameResolver) Option { return func(s *Scanner) { s.nbns = r } }

// WithVendors enables vendor enrichment from MAC addresses.
func WithVendors(db VendorDB) Option { return func(s *Scanner) { s.vendors = db } }

// WithDevices enables SSDP device discovery.
func WithDevices(f DeviceFinder) Option { return func(s *Scanner) { s.devices = f } }

// WithMetrics records discovery metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scanner) { s.metrics = m } }

// New creates a Scanner.
func New(cfg Config, pinger Pinger, ports PortChecker, logger zerolog.Logger, opts ...Option) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = scanner.DefaultWorkers
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = scanner.DefaultDeadline
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = DefaultPortTimeout
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = DefaultPorts
	}
	s := &Scanner{
		cfg:    cfg,
		pinger: pinger,
		ports:  ports,
		logger: logger.With().Str("component", "scanner").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover pings every host address of subnet and returns the set that
// answered. Hosts whose probe misses the sweep deadline are absent from the
// result; that is not an error. An unparseable subnet is.
func (s *Scanner) Discover(ctx context.Context, subnet string) (map[string]struct{}, error) {
	ips, err := network.ExpandSubnet(subnet)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	start := time.Now()
	res := scanner.Sweep(ctx, ips, scanner.Options{Workers: s.cfg.Workers, Deadline: s.cfg.Deadline},
		func(ctx context.Context, ip string) bool {
			return s.pinger.Ping(ctx, ip, 1, s.cfg.PingTimeout).Reachable
		})
	elapsed := time.Since(start)

	found := make(map[string]struct{}, len(res.Up))
	for _, ip := range res.Up {
		found[ip] = struct{}{}
	}

	ev := s.logger.Info()
	if !res.Complete {
		ev = s.logger.Warn()
	}
	ev.Str("subnet", subnet).
		Int("candidates", len(ips)).
		Int("probed", res.Probed).
		Int("up", len(found)).
		Dur("elapsed", elapsed).
		Msg("discovery finished")
	s.metrics.RecordDiscovery(len(found), elapsed.Seconds())
	return found, nil
}

// Scan probes ports on host one at a time, in order. It returns the open ports
// and the probe result for every port checked.
func (s *Scanner) Scan(ctx context.Context, host string, ports []int) ([]int, map[int]probe.PortResult) {
	if len(ports) == 0 {
		ports = s.cfg.Ports
	}
	open := make([]int, 0, len(ports))
	results := make(map[int]probe.PortResult, len(ports))

	for _, p := range ports {
		if ctx.Err() != nil {
			break
		}
		r := s.ports.CheckPort(ctx, host, p, s.cfg.PortTimeout)
		results[p] = r
		if r.Open {
			open = append(open, p)
			s.logger.Debug().Str("host", host).Int("port", p).Str("service", ServiceName(p)).Msg("port open")
		}
	}
	return open, results
}

// Enrich looks up hostnames, MAC addresses and vendors for hosts. Every step
// is best effort; missing collaborators leave fields empty. Output is sorted
// by address.
func (s *Scanner) Enrich(ctx context.Context, hosts []string) []HostInfo {
	ips := append([]string(nil), hosts...)
	network.SortIPs(ips)

	infos := make([]HostInfo, len(ips))
	for i, ip := range ips {
		infos[i].IP = ip
	}

	if s.rdns != nil {
		for i, r := range s.rdns.LookupMultiple(ctx, ips) {
			if r != nil && r.Error == nil {
				infos[i].Hostname = r.Hostname
				infos[i].Hostnames = r.All
			}
		}
	}
	if s.arp != nil {
		for i, r := range s.arp.LookupMultiple(ctx, ips) {
			if r != nil && r.IsUp {
				infos[i].MAC = r.MACAddress
			}
		}
	}
	if s.nbns != nil {
		for i, r := range s.nbns.LookupMultiple(ctx, ips) {
			if r == nil || r.Error != nil {
				continue
			}
			infos[i].NetBIOSName = r.Hostname
			infos[i].Workgroup = r.Workgroup
			infos[i].FileServer = r.FileServer
			if infos[i].MAC == "" {
				infos[i].MAC = r.MAC
			}
		}
	}
	if s.vendors != nil {
		for i := range infos {
			if infos[i].MAC != "" {
				infos[i].Vendor = s.vendors.LookupName(infos[i].MAC)
			}
		}
	}
	return infos
}

// Devices lists UPnP devices on the local network.
func (s *Scanner) Devices(ctx context.Context) ([]ssdp.Device, error) {
	if s.devices == nil {
		return nil, fmt.Errorf("device discovery is not configured")
	}
	return s.devices.DiscoverStorage(ctx)
}

// LocalSubnets returns the /24 prefixes of this machine's IPv4 interfaces.
func (s *Scanner) LocalSubnets() ([]string, error) {
	return network.LocalSubnets()
}
