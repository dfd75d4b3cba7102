package diag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netlog"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/protocols"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
)

type check struct {
	status  registry.Status
	latency *float64
}

type memStore struct {
	mu      sync.Mutex
	records map[string]registry.Record
	checks  []check
}

func (s *memStore) Get(name string) (registry.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[name]
	return r, ok
}

func (s *memStore) RecordCheck(name string, status registry.Status, latency *float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return &errs.NotFoundError{Name: name}
	}
	s.checks = append(s.checks, check{status, latency})
	return nil
}

type stubResolver struct{ err error }

func (r stubResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []string{"192.168.1.50"}, nil
}

type stubPinger struct {
	reachable bool
	latency   float64
	calls     int
}

func (p *stubPinger) Ping(ctx context.Context, host string, count int, timeout time.Duration) probe.PingResult {
	p.calls++
	out := "64 bytes from 192.168.1.50"
	if !p.reachable {
		out = "100% packet loss"
	}
	return probe.PingResult{Host: host, Reachable: p.reachable, LatencyMs: p.latency, Output: out}
}

type stubPorts struct {
	open  bool
	calls int
}

func (s *stubPorts) CheckPort(ctx context.Context, host string, port int, timeout time.Duration) probe.PortResult {
	s.calls++
	r := probe.PortResult{Host: host, Port: port, Open: s.open, ResponseTimeMs: 2.5}
	if !s.open {
		r.Error = "connection refused"
	}
	return r
}

type fixture struct {
	store    *memStore
	resolver stubResolver
	pinger   *stubPinger
	ports    *stubPorts
	testers  protocols.Set
	log      *netlog.Log
	tested   int
}

func newFixture() *fixture {
	f := &fixture{
		store: &memStore{records: map[string]registry.Record{
			"nas": {Name: "nas", Type: registry.TypeSFTP, Host: "nas.lan", Port: 22, Username: "u", Password: "p"},
		}},
		pinger: &stubPinger{reachable: true, latency: 0.8},
		ports:  &stubPorts{open: true},
		log:    netlog.New(100),
	}
	f.testers = protocols.Set{SFTP: protocols.TesterFunc(func(ctx context.Context, t protocols.Target) (bool, string) {
		f.tested++
		return true, "SFTP connection successful (/home/u)"
	})}
	return f
}

func (f *fixture) pipeline() *Pipeline {
	return NewPipeline(Config{}, Deps{
		Store:    f.store,
		Resolver: f.resolver,
		Pinger:   f.pinger,
		Ports:    f.ports,
		Testers:  f.testers,
		Log:      f.log,
	}, zerolog.Nop())
}

func stepNames(r Report) []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

func TestDiagnose_Success(t *testing.T) {
	f := newFixture()
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	require.True(t, ok)
	assert.Equal(t, "Connection successful", msg)
	assert.Equal(t, []string{StepDNS, StepPing, StepPort, "SFTP Test"}, stepNames(report))
	_, failed := report.Failed()
	assert.False(t, failed)

	require.Len(t, f.store.checks, 1)
	assert.Equal(t, registry.StatusOnline, f.store.checks[0].status)
	require.NotNil(t, f.store.checks[0].latency)
	assert.Equal(t, 0.8, *f.store.checks[0].latency)
	assert.Equal(t, 4, f.log.Len())
}

func TestDiagnose_DNSFailureStopsImmediately(t *testing.T) {
	f := newFixture()
	f.resolver = stubResolver{err: errors.New("no such host")}
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Equal(t, "DNS resolution failed", msg)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StepDNS, report.Steps[0].Name)
	assert.False(t, report.Steps[0].Success)
	assert.Zero(t, f.pinger.calls)
	assert.Zero(t, f.ports.calls)

	require.Len(t, f.store.checks, 1)
	assert.Equal(t, registry.StatusOffline, f.store.checks[0].status)
}

func TestDiagnose_Unreachable(t *testing.T) {
	f := newFixture()
	f.pinger.reachable = false
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Equal(t, "Host is unreachable", msg)
	assert.Equal(t, []string{StepDNS, StepPing}, stepNames(report))
	assert.Zero(t, f.ports.calls)
}

func TestDiagnose_ClosedPort(t *testing.T) {
	f := newFixture()
	f.ports.open = false
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Equal(t, "Port 22 is closed", msg)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, []string{StepDNS, StepPing, StepPort}, stepNames(report))
	failed, _ := report.Failed()
	assert.Equal(t, StepPort, failed.Name)
	assert.Zero(t, f.tested)
}

func TestDiagnose_ProtocolFailure(t *testing.T) {
	f := newFixture()
	f.testers.SFTP = protocols.TesterFunc(func(context.Context, protocols.Target) (bool, string) {
		return false, "SSH handshake failed: unable to authenticate"
	})
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Equal(t, "SSH handshake failed: unable to authenticate", msg)
	assert.Len(t, report.Steps, 4)
}

func TestDiagnose_PanickingTester(t *testing.T) {
	f := newFixture()
	f.testers.SFTP = protocols.TesterFunc(func(context.Context, protocols.Target) (bool, string) {
		panic("nil session")
	})
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Contains(t, msg, "nil session")
	step, failed := report.Failed()
	require.True(t, failed)
	assert.Equal(t, "SFTP Test", step.Name)
}

func TestDiagnose_UnsupportedType(t *testing.T) {
	f := newFixture()
	f.testers = protocols.Set{}
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "nas")

	assert.False(t, ok)
	assert.Equal(t, "Unsupported type: sftp", msg)
	assert.Len(t, report.Steps, 4)
}

func TestDiagnose_UnknownConnection(t *testing.T) {
	f := newFixture()
	ok, msg, report := f.pipeline().Diagnose(context.Background(), "ghost")

	assert.False(t, ok)
	assert.Equal(t, "Connection 'ghost' not found", msg)
	assert.Empty(t, report.Steps)
	assert.Empty(t, f.store.checks)
}

func TestDiagnose_LatencyFallsBackToPortTime(t *testing.T) {
	f := newFixture()
	f.pinger.latency = 0
	ok, _, _ := f.pipeline().Diagnose(context.Background(), "nas")
	require.True(t, ok)
	assert.Equal(t, 2.5, *f.store.checks[0].latency)
}

type countingDiagnoser struct {
	succeedOn int
	calls     int
}

func (d *countingDiagnoser) Diagnose(ctx context.Context, name string) (bool, string, Report) {
	d.calls++
	if d.succeedOn > 0 && d.calls >= d.succeedOn {
		return true, "Connection successful", Report{}
	}
	return false, "Host is unreachable", Report{}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestReconnect_AlwaysFailing(t *testing.T) {
	d := &countingDiagnoser{}
	r := NewReconnector(ReconnectConfig{Enabled: true}, d, nil, zerolog.Nop())
	var slept int
	r.sleep = func(ctx context.Context, dur time.Duration) error {
		slept++
		assert.Equal(t, time.Second, dur)
		return nil
	}

	ok, msg := r.Reconnect(context.Background(), "nas", 3)
	assert.False(t, ok)
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, 2, slept)
	assert.Contains(t, msg, "3 attempts")
	assert.Contains(t, msg, "Host is unreachable")
}

func TestReconnect_SucceedsOnSecondAttempt(t *testing.T) {
	d := &countingDiagnoser{succeedOn: 2}
	r := NewReconnector(ReconnectConfig{Enabled: true}, d, nil, zerolog.Nop())
	r.sleep = noSleep

	ok, msg := r.Reconnect(context.Background(), "nas", 5)
	assert.True(t, ok)
	assert.Equal(t, "Connected on attempt 2", msg)
	assert.Equal(t, 2, d.calls)
}

func TestReconnect_Disabled(t *testing.T) {
	d := &countingDiagnoser{}
	r := NewReconnector(ReconnectConfig{Enabled: false}, d, nil, zerolog.Nop())

	ok, msg := r.Reconnect(context.Background(), "nas", 3)
	assert.False(t, ok)
	assert.Equal(t, "Auto-reconnect disabled", msg)
	assert.Zero(t, d.calls)
}

func TestReconnect_DefaultAttemptsAndCancel(t *testing.T) {
	d := &countingDiagnoser{}
	r := NewReconnector(ReconnectConfig{Enabled: true}, d, nil, zerolog.Nop())
	r.sleep = noSleep
	ok, msg := r.Reconnect(context.Background(), "nas", 0)
	assert.False(t, ok)
	assert.Equal(t, DefaultAttempts, d.calls)
	assert.Contains(t, msg, "Failed after 3 attempts")

	d = &countingDiagnoser{}
	r = NewReconnector(ReconnectConfig{Enabled: true, Delay: time.Hour}, d, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, msg = r.Reconnect(ctx, "nas", 3)
	assert.False(t, ok)
	assert.Equal(t, 1, d.calls)
	assert.Contains(t, msg, "cancelled")
}
