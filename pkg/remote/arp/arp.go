//go:build linux || darwin || freebsd || netbsd || openbsd

// Package arp looks up the MAC address of discovered hosts so the scanner can
// label them with a vendor. ARP operations may require elevated privileges;
// failures are reported per host and never abort a scan.
package arp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/j-keck/arping"
	"github.com/rs/zerolog"
)

// arping keeps its timeout in a package variable.
var arpingMu sync.Mutex

// Resolver performs ARP lookups.
type Resolver struct {
	Timeout time.Duration
	Workers int

	ping   func(ip net.IP) (net.HardwareAddr, time.Duration, error)
	logger zerolog.Logger
}

// NewResolver creates an ARP resolver with defaults.
func NewResolver(timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		Timeout: timeout,
		Workers: DefaultWorkers,
		ping:    arpingPing,
		logger:  logger.With().Str("component", "arp").Logger(),
	}
}

func arpingPing(ip net.IP) (net.HardwareAddr, time.Duration, error) {
	return arping.Ping(ip)
}

// LookupAddr sends an ARP request for ip and returns the responder's MAC.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}
	parsed, err := parseIPv4(ip)
	if err != nil {
		res.Error = err
		return res, err
	}

	type reply struct {
		mac net.HardwareAddr
		dur time.Duration
		err error
	}
	ch := make(chan reply, 1)
	start := time.Now()

	go func() {
		arpingMu.Lock()
		arping.SetTimeout(r.Timeout)
		mac, dur, err := r.ping(parsed)
		arpingMu.Unlock()
		ch <- reply{mac: mac, dur: dur, err: err}
	}()

	select {
	case <-ctx.Done():
		res.Duration = time.Since(start)
		res.Error = ctx.Err()
		return res, ctx.Err()
	case rep := <-ch:
		res.Duration = rep.dur
		if rep.err != nil {
			res.Error = rep.err
			r.logger.Debug().Err(rep.err).Str("ip", ip).Msg("no arp reply")
			return res, rep.err
		}
		res.MACAddress = rep.mac.String()
		res.IsUp = true
		r.logger.Debug().Str("ip", ip).Str("mac", res.MACAddress).Dur("rtt", rep.dur).Msg("arp reply")
		return res, nil
	}
}

// LookupMultiple performs ARP lookups on multiple IPs concurrently.
// Results are in input order.
func (r *Resolver) LookupMultiple(ctx context.Context, ips []string) []*Result {
	results := make([]*Result, len(ips))
	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, ip := range ips {
		wg.Add(1)
		go func(idx int, addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx], _ = r.LookupAddr(ctx, addr)
		}(i, ip)
	}

	wg.Wait()
	return results
}

// IsSupported reports whether ARP lookups work on this platform.
func IsSupported() bool {
	return true
}
