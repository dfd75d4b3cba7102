// Package dns resolves connection host names for the diagnostic pipeline and
// performs reverse (PTR) lookups to label discovered hosts.
//
// Forward lookups query the nameservers from resolv.conf directly with
// github.com/miekg/dns so a failure is attributable to DNS. Names the
// nameservers do not know (hosts file entries, mDNS .local names) fall back to
// the system resolver.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the default timeout for DNS lookups.
const DefaultTimeout = 2 * time.Second

// DefaultWorkers is the default number of concurrent reverse lookups.
const DefaultWorkers = 32

// DefaultConfigPath is the resolver configuration read for nameservers.
const DefaultConfigPath = "/etc/resolv.conf"

// ErrNoAddress is returned when a name resolves to no usable address.
var ErrNoAddress = errors.New("no address found")

// Result contains the result of a reverse DNS lookup.
type Result struct {
	IP       string
	Hostname string   // Primary hostname (first result)
	All      []string // All returned hostnames
	Error    error
}

// Resolver performs forward and reverse lookups.
type Resolver struct {
	Timeout    time.Duration
	Workers    int
	ConfigPath string
	// Servers overrides the resolv.conf nameservers (host:port).
	Servers []string

	// system handles the fallback path and reverse lookups.
	system interface {
		LookupHost(ctx context.Context, host string) ([]string, error)
		LookupAddr(ctx context.Context, addr string) ([]string, error)
	}
	logger zerolog.Logger

	once     sync.Once
	servers  []string
	ndots    int
	searches []string
}

// NewResolver creates a resolver with defaults.
func NewResolver(timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		Timeout:    timeout,
		Workers:    DefaultWorkers,
		ConfigPath: DefaultConfigPath,
		system:     net.DefaultResolver,
		logger:     logger.With().Str("component", "dns").Logger(),
	}
}

// Resolve returns the addresses of host. IP literals are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSuffix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil, fmt.Errorf("resolve: empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	addrs, dnsErr := r.queryServers(lookupCtx, host)
	if len(addrs) > 0 {
		r.logger.Debug().Str("host", host).Strs("addrs", addrs).Msg("resolved via nameserver")
		return addrs, nil
	}

	addrs, sysErr := r.system.LookupHost(lookupCtx, host)
	if sysErr == nil && len(addrs) > 0 {
		r.logger.Debug().Str("host", host).Strs("addrs", addrs).Msg("resolved via system resolver")
		return addrs, nil
	}

	err := sysErr
	if err == nil {
		err = dnsErr
	}
	if err == nil {
		err = ErrNoAddress
	}
	r.logger.Debug().Err(err).Str("host", host).Msg("resolution failed")
	return nil, fmt.Errorf("resolve %s: %w", host, err)
}

func (r *Resolver) loadConfig() {
	r.once.Do(func() {
		r.ndots = 1
		if len(r.Servers) > 0 {
			r.servers = r.Servers
			return
		}
		conf, err := mdns.ClientConfigFromFile(r.ConfigPath)
		if err != nil {
			r.logger.Debug().Err(err).Str("path", r.ConfigPath).Msg("no resolver configuration")
			return
		}
		for _, s := range conf.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, conf.Port))
		}
		r.ndots = conf.Ndots
		r.searches = conf.Search
	})
}

// candidates expands host with the configured search domains.
func (r *Resolver) candidates(host string) []string {
	conf := &mdns.ClientConfig{Ndots: r.ndots, Search: r.searches}
	return conf.NameList(host)
}

func (r *Resolver) queryServers(ctx context.Context, host string) ([]string, error) {
	r.loadConfig()
	if len(r.servers) == 0 {
		return nil, nil
	}

	client := &mdns.Client{Timeout: r.Timeout}
	var lastErr error
	for _, name := range r.candidates(host) {
		for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
			for _, server := range r.servers {
				addrs, err := exchange(ctx, client, server, name, qtype)
				if err != nil {
					lastErr = err
					continue
				}
				if len(addrs) > 0 {
					return addrs, nil
				}
				break // authoritative empty answer; try the next type
			}
		}
	}
	return nil, lastErr
}

func exchange(ctx context.Context, client *mdns.Client, server, name string, qtype uint16) ([]string, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	in, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if in.Rcode == mdns.RcodeNameError {
		return nil, nil
	}
	if in.Rcode != mdns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", server, mdns.RcodeToString[in.Rcode])
	}
	return answerAddrs(in), nil
}

func answerAddrs(in *mdns.Msg) []string {
	var addrs []string
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *mdns.A:
			addrs = append(addrs, v.A.String())
		case *mdns.AAAA:
			addrs = append(addrs, v.AAAA.String())
		}
	}
	return addrs
}

// LookupAddr performs a reverse DNS (PTR) lookup for the given IP address.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}

	lookupCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	names, err := r.system.LookupAddr(lookupCtx, ip)
	if err != nil {
		res.Error = err
		return res, err
	}

	for i, name := range names {
		names[i] = strings.TrimSuffix(name, ".")
	}
	res.All = names
	if len(names) > 0 {
		res.Hostname = names[0]
	}
	return res, nil
}

// LookupMultiple performs reverse DNS lookups on multiple IPs concurrently.
// Results are in input order.
func (r *Resolver) LookupMultiple(ctx context.Context, ips []string) []*Result {
	if len(ips) == 0 {
		return nil
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]*Result, len(ips))
	jobs := make(chan int, len(ips))
	var wg sync.WaitGroup

	for i := 0; i < workers && i < len(ips); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx], _ = r.LookupAddr(ctx, ips[idx])
			}
		}()
	}

	for i := range ips {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}
