//go:build linux || darwin || freebsd || netbsd || openbsd

package arp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLookupAddr_InvalidInput(t *testing.T) {
	r := NewResolver(0, zerolog.Nop())
	if r.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", r.Timeout)
	}
	if _, err := r.LookupAddr(context.Background(), "not-an-ip"); !errors.Is(err, ErrInvalidIP) {
		t.Errorf("expected ErrInvalidIP, got %v", err)
	}
	if _, err := r.LookupAddr(context.Background(), "fe80::1"); !errors.Is(err, ErrIPv6NotSupported) {
		t.Errorf("expected ErrIPv6NotSupported, got %v", err)
	}
}

func TestLookupMultiple_Order(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:32:aa:bb:cc")
	r := NewResolver(time.Second, zerolog.Nop())
	r.ping = func(ip net.IP) (net.HardwareAddr, time.Duration, error) {
		if ip.String() == "192.168.1.50" {
			return mac, time.Millisecond, nil
		}
		return nil, 0, errors.New("timeout")
	}

	results := r.LookupMultiple(context.Background(), []string{"192.168.1.1", "192.168.1.50"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].IsUp || results[0].Error == nil {
		t.Errorf("192.168.1.1 should have failed: %+v", results[0])
	}
	if !results[1].IsUp || results[1].MACAddress != "00:11:32:aa:bb:cc" {
		t.Errorf("unexpected result for 192.168.1.50: %+v", results[1])
	}
}

func TestLookupAddr_Cancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewResolver(time.Second, zerolog.Nop())
	r.ping = func(ip net.IP) (net.HardwareAddr, time.Duration, error) {
		<-block
		return nil, 0, errors.New("unreachable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.LookupAddr(ctx, "192.168.1.9"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
