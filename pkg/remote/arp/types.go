package arp

import (
	"errors"
	"net"
	"time"
)

const (
	// DefaultTimeout is the default timeout for ARP lookups.
	DefaultTimeout = 1 * time.Second
	// DefaultWorkers bounds concurrent lookups; the OS may rate-limit ARP.
	DefaultWorkers = 32
)

var (
	// ErrNotSupported is returned when ARP is called on unsupported platforms.
	ErrNotSupported = errors.New("ARP lookup is not supported on this platform")
	// ErrInvalidIP is returned when an invalid IP address is provided.
	ErrInvalidIP = errors.New("invalid IP address")
	// ErrIPv6NotSupported is returned when attempting ARP on an IPv6 address.
	ErrIPv6NotSupported = errors.New("ARP is not supported for IPv6 addresses")
)

// Result contains the result of an ARP lookup.
type Result struct {
	IP         string
	MACAddress string
	IsUp       bool
	Duration   time.Duration
	Error      error
}

func parseIPv4(ip string) (net.IP, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, ErrInvalidIP
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, ErrIPv6NotSupported
	}
	return v4, nil
}
