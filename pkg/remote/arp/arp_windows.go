//go:build windows

package arp

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Resolver is a stub on Windows; every lookup returns ErrNotSupported.
type Resolver struct {
	Timeout time.Duration
	Workers int
}

// NewResolver creates an ARP resolver.
func NewResolver(timeout time.Duration, _ zerolog.Logger) *Resolver {
	return &Resolver{Timeout: timeout, Workers: DefaultWorkers}
}

// LookupAddr always returns ErrNotSupported.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	return &Result{IP: ip, Error: ErrNotSupported}, ErrNotSupported
}

// LookupMultiple returns an error result per IP.
func (r *Resolver) LookupMultiple(ctx context.Context, ips []string) []*Result {
	results := make([]*Result, len(ips))
	for i, ip := range ips {
		results[i] = &Result{IP: ip, Error: ErrNotSupported}
	}
	return results
}

// IsSupported reports whether ARP lookups work on this platform.
func IsSupported() bool {
	return false
}
