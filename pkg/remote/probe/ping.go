package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/westy4ever/PilotFS-sub000/internal/cmdexec"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

const (
	// DefaultCacheTTL is how long a ping result is reused.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultPingTimeout is the per-reply wait used when none is given.
	DefaultPingTimeout = time.Second
	// maxOutput caps the raw ping output kept in a result.
	maxOutput = 500
)

var (
	pingRTTRegex = regexp.MustCompile(`time[=<]\s*([0-9.]+)\s*ms`)
	pingAvgRegex = regexp.MustCompile(`(?:rtt|round-trip)[^=]*=\s*[0-9.]+/([0-9.]+)/`)
)

// PingResult is the outcome of one ping probe.
type PingResult struct {
	Host      string
	Reachable bool
	// LatencyMs is zero when no round-trip time could be parsed.
	LatencyMs float64
	Output    string
	Timestamp time.Time
	Cached    bool
}

type cacheEntry struct {
	result  PingResult
	expires time.Time
}

// Pinger runs the platform ping utility and caches results per
// (host, count, timeout) so a burst of checks against the same host spawns a
// single process.
type Pinger struct {
	runner cmdexec.Runner
	ttl    time.Duration
	goos   string
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewPinger creates a Pinger. ttl <= 0 selects DefaultCacheTTL.
func NewPinger(runner cmdexec.Runner, ttl time.Duration, logger zerolog.Logger) *Pinger {
	if runner == nil {
		runner = cmdexec.Exec{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Pinger{
		runner: runner,
		ttl:    ttl,
		goos:   runtime.GOOS,
		now:    time.Now,
		logger: logger.With().Str("component", "ping").Logger(),
		cache:  make(map[string]cacheEntry),
	}
}

// Ping sends count echo requests to host, waiting timeout for each reply.
func (p *Pinger) Ping(ctx context.Context, host string, count int, timeout time.Duration) PingResult {
	if count <= 0 {
		count = 1
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	host = strings.TrimSpace(host)
	if host == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, " \t\n") {
		return PingResult{Host: host, Output: "invalid host", Timestamp: p.now()}
	}

	key := fmt.Sprintf("%s|%d|%s", host, count, timeout)
	if res, ok := p.lookup(key); ok {
		return res
	}

	// The shared run must not inherit one caller's cancellation; it is
	// bounded by the subprocess timeout instead.
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		if res, ok := p.lookup(key); ok {
			return res, nil
		}
		res, cacheable := p.run(shared, host, count, timeout)
		if cacheable {
			p.store(key, res)
		}
		return res, nil
	})
	select {
	case r := <-ch:
		return r.Val.(PingResult)
	case <-ctx.Done():
		return PingResult{Host: host, Output: "ping cancelled", Timestamp: p.now()}
	}
}

// Forget drops every cached result for host.
func (p *Pinger) Forget(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.cache {
		if strings.HasPrefix(k, host+"|") {
			delete(p.cache, k)
		}
	}
}

// ClearCache drops all cached results.
func (p *Pinger) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string]cacheEntry)
	p.mu.Unlock()
}

func (p *Pinger) lookup(key string) (PingResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[key]
	if !ok {
		return PingResult{}, false
	}
	if p.now().After(e.expires) {
		delete(p.cache, key)
		return PingResult{}, false
	}
	res := e.result
	res.Cached = true
	return res, true
}

func (p *Pinger) store(key string, res PingResult) {
	p.mu.Lock()
	p.cache[key] = cacheEntry{result: res, expires: p.now().Add(p.ttl)}
	p.mu.Unlock()
}

// run executes ping. The second return value is false when the outcome says
// nothing about the host (spawn failure).
func (p *Pinger) run(ctx context.Context, host string, count int, timeout time.Duration) (PingResult, bool) {
	res := PingResult{Host: host, Timestamp: p.now()}
	// The subprocess bound must exceed the probe's own timeout so ping can
	// finish and report on its own.
	bound := time.Duration(count)*time.Second + timeout + time.Second

	out, err := p.runner.Run(ctx, bound, "ping", pingArgs(p.goos, host, count, timeout)...)
	text := out.Combined()
	switch {
	case errs.IsTimeout(err):
		res.Output = fmt.Sprintf("ping timed out after %s", bound)
		p.logger.Debug().Str("host", host).Dur("bound", bound).Msg("ping subprocess timed out")
		return res, true
	case err != nil && !errors.Is(err, cmdexec.ErrNonZeroExit):
		res.Output = errs.Truncate("ping unavailable: "+err.Error(), maxOutput)
		p.logger.Warn().Err(err).Str("host", host).Msg("ping could not be started")
		return res, false
	}

	res.Reachable = err == nil
	res.LatencyMs = parseLatency(text)
	res.Output = errs.Truncate(text, maxOutput)
	p.logger.Debug().
		Str("host", host).
		Bool("reachable", res.Reachable).
		Float64("latency_ms", res.LatencyMs).
		Msg("ping finished")
	return res, true
}

func pingArgs(goos, host string, count int, timeout time.Duration) []string {
	n := strconv.Itoa(count)
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)
	switch goos {
	case "windows":
		return []string{"-n", n, "-w", ms, host}
	case "darwin", "freebsd", "openbsd", "netbsd":
		return []string{"-c", n, "-W", ms, host}
	default:
		secs := int(math.Ceil(timeout.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", n, "-W", strconv.Itoa(secs), host}
	}
}

// parseLatency prefers the summary average and falls back to the first
// per-reply time= token.
func parseLatency(output string) float64 {
	for _, re := range []*regexp.Regexp{pingAvgRegex, pingRTTRegex} {
		m := re.FindStringSubmatch(output)
		if len(m) < 2 {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64); err == nil {
			return v
		}
	}
	return 0
}
