// Package diag validates saved connections. A diagnosis runs DNS resolution,
// ping, a port check and a protocol test in that order and stops at the first
// failure; Reconnector retries a diagnosis.
package diag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/internal/metrics"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netlog"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/protocols"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
)

// Step names.
const (
	StepDNS  = "DNS Resolution"
	StepPing = "Ping"
	StepPort = "Port Check"
)

// maxResult caps the text stored per step.
const maxResult = 200

// Resolver is satisfied by *dns.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]string, error)
}

// Pinger is satisfied by *probe.Pinger.
type Pinger interface {
	Ping(ctx context.Context, host string, count int, timeout time.Duration) probe.PingResult
}

// PortChecker is satisfied by *probe.PortProber.
type PortChecker interface {
	CheckPort(ctx context.Context, host string, port int, timeout time.Duration) probe.PortResult
}

// Store is satisfied by *registry.Registry.
type Store interface {
	Get(name string) (registry.Record, bool)
	RecordCheck(name string, status registry.Status, latency *float64, at time.Time) error
}

// Step is one entry of a report.
type Step struct {
	Name    string
	Success bool
	Result  string
}

// Report lists the steps a diagnosis ran, up to and including the first
// failure.
type Report struct {
	Connection string
	Type       registry.Type
	Steps      []Step
	Started    time.Time
	Finished   time.Time
}

// Failed returns the failing step, if any.
func (r Report) Failed() (Step, bool) {
	for _, s := range r.Steps {
		if !s.Success {
			return s, true
		}
	}
	return Step{}, false
}

// Config holds probe parameters.
type Config struct {
	PingCount   int
	PingTimeout time.Duration
	PortTimeout time.Duration
	TestTimeout time.Duration
}

// Deps are the collaborators of a Pipeline. Log and Metrics may be nil.
type Deps struct {
	Store    Store
	Resolver Resolver
	Pinger   Pinger
	Ports    PortChecker
	Testers  protocols.Set
	Log      *netlog.Log
	Metrics  *metrics.Metrics
}

// Pipeline runs diagnoses.
type Pipeline struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config, deps Deps, logger zerolog.Logger) *Pipeline {
	if cfg.PingCount <= 0 {
		cfg.PingCount = 1
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = probe.DefaultPingTimeout
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = probe.DefaultPortTimeout
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = protocols.DefaultTimeout
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "diagnose").Logger(),
	}
}

// run tracks one diagnosis in progress.
type run struct {
	p      *Pipeline
	rec    registry.Record
	report Report
}

func (r *run) add(name string, ok bool, result string) {
	result = errs.Truncate(result, maxResult)
	r.report.Steps = append(r.report.Steps, Step{Name: name, Success: ok, Result: result})

	level := netlog.LevelInfo
	if !ok {
		level = netlog.LevelError
	}
	r.p.deps.Log.Add(level, "diagnose", r.rec.Host, fmt.Sprintf("%s [%s]: %s", r.rec.Name, name, result))
	r.p.deps.Metrics.RecordStep(name, ok)
	r.p.logger.Debug().
		Str("connection", r.rec.Name).
		Str("step", name).
		Bool("success", ok).
		Str("result", result).
		Msg("diagnostic step")
}

// Diagnose checks the named connection. It never returns an error; failures
// are reported through the boolean, the message and the report.
func (p *Pipeline) Diagnose(ctx context.Context, name string) (bool, string, Report) {
	start := p.now()
	rec, ok := p.deps.Store.Get(name)
	if !ok {
		return false, fmt.Sprintf("Connection '%s' not found", name),
			Report{Connection: name, Started: start, Finished: p.now()}
	}

	r := &run{p: p, rec: rec, report: Report{Connection: name, Type: rec.Type, Started: start}}
	success, msg, latency := p.steps(ctx, r)

	r.report.Finished = p.now()
	p.deps.Metrics.RecordDiagnosis(string(rec.Type), r.report.Finished.Sub(start).Seconds())

	status := registry.StatusOffline
	if success {
		status = registry.StatusOnline
	}
	if err := p.deps.Store.RecordCheck(name, status, latency, r.report.Finished); err != nil {
		p.logger.Error().Err(err).Str("connection", name).Msg("could not record check result")
	}

	ev := p.logger.Info()
	if !success {
		ev = p.logger.Warn()
	}
	ev.Str("connection", name).Bool("success", success).Int("steps", len(r.report.Steps)).Msg(msg)
	return success, msg, r.report
}

func (p *Pipeline) steps(ctx context.Context, r *run) (bool, string, *float64) {
	rec := r.rec

	addrs, err := p.deps.Resolver.Resolve(ctx, rec.Host)
	if err != nil {
		r.add(StepDNS, false, err.Error())
		return false, "DNS resolution failed", nil
	}
	r.add(StepDNS, true, "Resolved to "+strings.Join(addrs, ", "))

	ping := p.deps.Pinger.Ping(ctx, rec.Host, p.cfg.PingCount, p.cfg.PingTimeout)
	if !ping.Reachable {
		r.add(StepPing, false, firstNonEmpty(ping.Output, "no reply"))
		return false, "Host is unreachable", nil
	}
	r.add(StepPing, true, fmt.Sprintf("Reachable (%.2f ms)", ping.LatencyMs))

	port := p.deps.Ports.CheckPort(ctx, rec.Host, rec.Port, p.cfg.PortTimeout)
	if !port.Open {
		r.add(StepPort, false, fmt.Sprintf("Port %d: %s", rec.Port, firstNonEmpty(port.Error, "closed")))
		return false, fmt.Sprintf("Port %d is closed", rec.Port), nil
	}
	r.add(StepPort, true, fmt.Sprintf("Port %d open (%.2f ms)", rec.Port, port.ResponseTimeMs))

	step := rec.Type.Label() + " Test"
	tester, ok := p.deps.Testers.For(rec.Type)
	if !ok {
		msg := fmt.Sprintf("Unsupported type: %s", rec.Type)
		r.add(step, false, msg)
		return false, msg, nil
	}
	testOK, testMsg := safeTest(ctx, tester, protocols.TargetFor(rec, p.cfg.TestTimeout))
	r.add(step, testOK, testMsg)
	if !testOK {
		return false, errs.Truncate(testMsg, maxResult), nil
	}

	latency := ping.LatencyMs
	if latency <= 0 {
		latency = port.ResponseTimeMs
	}
	return true, "Connection successful", &latency
}

// safeTest turns a panicking tester into a failed step.
func safeTest(ctx context.Context, t protocols.Tester, target protocols.Target) (ok bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			ok, msg = false, fmt.Sprintf("connection test failed: %v", r)
		}
	}()
	return t.TestConnection(ctx, target)
}

func firstNonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
