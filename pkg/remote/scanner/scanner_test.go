package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/arp"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/dns"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netbios"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/ssdp"
)

type stubPinger struct {
	mu    sync.Mutex
	up    map[string]bool
	delay map[string]time.Duration
	calls int
}

func (p *stubPinger) Ping(ctx context.Context, host string, count int, timeout time.Duration) probe.PingResult {
	p.mu.Lock()
	p.calls++
	d := p.delay[host]
	p.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return probe.PingResult{Host: host, Reachable: p.up[host]}
}

type stubPorts struct {
	open  map[int]bool
	order []int
}

func (s *stubPorts) CheckPort(ctx context.Context, host string, port int, timeout time.Duration) probe.PortResult {
	s.order = append(s.order, port)
	r := probe.PortResult{Host: host, Port: port, Open: s.open[port]}
	if !r.Open {
		r.Error = "connection refused"
	}
	return r
}

func TestDiscover_ReturnsExactlyReachableHosts(t *testing.T) {
	pinger := &stubPinger{up: map[string]bool{"192.168.1.1": true, "192.168.1.50": true}}
	s := New(Config{Workers: 16}, pinger, &stubPorts{}, zerolog.Nop())

	found, err := s.Discover(context.Background(), "192.168.1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"192.168.1.1": {}, "192.168.1.50": {}}, found)
	assert.Equal(t, 254, pinger.calls)
}

func TestDiscover_DeadlineDropsSlowHosts(t *testing.T) {
	pinger := &stubPinger{
		up:    map[string]bool{"192.168.1.1": true, "192.168.1.50": true},
		delay: map[string]time.Duration{"192.168.1.50": 500 * time.Millisecond},
	}
	s := New(Config{Workers: 254, Deadline: 100 * time.Millisecond}, pinger, &stubPorts{}, zerolog.Nop())

	found, err := s.Discover(context.Background(), "192.168.1.0/24")
	require.NoError(t, err)
	assert.Contains(t, found, "192.168.1.1")
	assert.NotContains(t, found, "192.168.1.50")
}

func TestDiscover_InvalidSubnet(t *testing.T) {
	s := New(Config{}, &stubPinger{}, &stubPorts{}, zerolog.Nop())
	_, err := s.Discover(context.Background(), "not-a-subnet")
	assert.Error(t, err)
}

func TestScan_DefaultPortsSequential(t *testing.T) {
	ports := &stubPorts{open: map[int]bool{22: true, 445: true}}
	s := New(Config{}, &stubPinger{}, ports, zerolog.Nop())

	open, results := s.Scan(context.Background(), "192.168.1.50", nil)
	assert.Equal(t, []int{22, 445}, open)
	assert.Len(t, results, len(DefaultPorts))
	assert.Equal(t, DefaultPorts, ports.order)
	assert.False(t, results[21].Open)
	assert.Equal(t, "connection refused", results[21].Error)
}

func TestScan_CustomPorts(t *testing.T) {
	ports := &stubPorts{open: map[int]bool{5005: true}}
	s := New(Config{}, &stubPinger{}, ports, zerolog.Nop())

	open, results := s.Scan(context.Background(), "nas", []int{5005, 5006})
	assert.Equal(t, []int{5005}, open)
	assert.Len(t, results, 2)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "SMB/CIFS", ServiceName(445))
	assert.Equal(t, "FTP", ServiceName(21))
	assert.Equal(t, "Unknown", ServiceName(12345))
}

type stubRDNS struct{}

func (stubRDNS) LookupMultiple(ctx context.Context, ips []string) []*dns.Result {
	out := make([]*dns.Result, len(ips))
	for i, ip := range ips {
		if ip == "192.168.1.50" {
			out[i] = &dns.Result{IP: ip, Hostname: "nas.lan", All: []string{"nas.lan"}}
		} else {
			out[i] = &dns.Result{IP: ip, Error: errors.New("no PTR")}
		}
	}
	return out
}

type stubARP struct{}

func (stubARP) LookupMultiple(ctx context.Context, ips []string) []*arp.Result {
	out := make([]*arp.Result, len(ips))
	for i, ip := range ips {
		out[i] = &arp.Result{IP: ip}
		if ip == "192.168.1.50" {
			out[i].IsUp = true
			out[i].MACAddress = "00:11:32:aa:bb:cc"
		}
	}
	return out
}

type stubNetBIOS struct{}

func (stubNetBIOS) LookupMultiple(ctx context.Context, ips []string) []*netbios.Result {
	out := make([]*netbios.Result, len(ips))
	for i, ip := range ips {
		out[i] = &netbios.Result{IP: ip, Error: errors.New("timeout")}
		if ip == "192.168.1.50" {
			out[i] = &netbios.Result{IP: ip, Hostname: "DISKSTATION", Workgroup: "WORKGROUP", FileServer: true, MAC: "00:11:32:ff:ff:ff"}
		}
	}
	return out
}

type stubVendors map[string]string

func (v stubVendors) LookupName(mac string) string { return v[mac] }

func TestEnrich(t *testing.T) {
	s := New(Config{}, &stubPinger{}, &stubPorts{}, zerolog.Nop(),
		WithReverseDNS(stubRDNS{}),
		WithARP(stubARP{}),
		WithVendors(stubVendors{"00:11:32:aa:bb:cc": "Synology Incorporated"}))

	infos := s.Enrich(context.Background(), []string{"192.168.1.50", "192.168.1.1"})
	require.Len(t, infos, 2)
	assert.Equal(t, HostInfo{IP: "192.168.1.1"}, infos[0])
	assert.Equal(t, "nas.lan", infos[1].Hostname)
	assert.Equal(t, "00:11:32:aa:bb:cc", infos[1].MAC)
	assert.Equal(t, "Synology Incorporated", infos[1].Vendor)
}

func TestEnrich_NetBIOS(t *testing.T) {
	s := New(Config{}, &stubPinger{}, &stubPorts{}, zerolog.Nop(),
		WithNetBIOS(stubNetBIOS{}),
		WithVendors(stubVendors{"00:11:32:ff:ff:ff": "Synology Incorporated"}))

	infos := s.Enrich(context.Background(), []string{"192.168.1.1", "192.168.1.50"})
	require.Len(t, infos, 2)
	assert.Equal(t, HostInfo{IP: "192.168.1.1"}, infos[0])
	assert.Equal(t, "DISKSTATION", infos[1].NetBIOSName)
	assert.Equal(t, "WORKGROUP", infos[1].Workgroup)
	assert.True(t, infos[1].FileServer)
	assert.Equal(t, "Synology Incorporated", infos[1].Vendor)
}

type stubDevices struct{}

func (stubDevices) DiscoverStorage(ctx context.Context) ([]ssdp.Device, error) {
	return []ssdp.Device{{IP: "192.168.1.50", FriendlyName: "DiskStation"}}, nil
}

func TestDevices(t *testing.T) {
	s := New(Config{}, &stubPinger{}, &stubPorts{}, zerolog.Nop())
	_, err := s.Devices(context.Background())
	assert.Error(t, err)

	s = New(Config{}, &stubPinger{}, &stubPorts{}, zerolog.Nop(), WithDevices(stubDevices{}))
	devices, err := s.Devices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DiskStation", devices[0].Label())
}
