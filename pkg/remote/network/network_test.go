// Package network tests for subnet expansion and host validation.
package network

import (
	"net"
	"strings"
	"testing"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

func TestEnumerateIPs(t *testing.T) {
	tests := []struct {
		cidr     string
		expected int
	}{
		{"192.168.1.0/30", 2},
		{"192.168.1.0/29", 6},
		{"192.168.1.0/28", 14},
		{"192.168.1.0/24", 254},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			ips, err := EnumerateIPs(tt.cidr)
			if err != nil {
				t.Fatalf("EnumerateIPs(%s) failed: %v", tt.cidr, err)
			}
			if len(ips) != tt.expected {
				t.Errorf("EnumerateIPs(%s) returned %d IPs, expected %d", tt.cidr, len(ips), tt.expected)
			}
		})
	}
}

func TestExpandSubnet(t *testing.T) {
	for _, in := range []string{"192.168.1", "192.168.1.x", "192.168.1.*", "192.168.1.77", " 192.168.1 ", "192.168.1.0/24"} {
		t.Run(in, func(t *testing.T) {
			ips, err := ExpandSubnet(in)
			if err != nil {
				t.Fatalf("ExpandSubnet(%q) failed: %v", in, err)
			}
			if len(ips) != 254 {
				t.Fatalf("expected 254 addresses, got %d", len(ips))
			}
			if ips[0] != "192.168.1.1" || ips[253] != "192.168.1.254" {
				t.Errorf("unexpected bounds %s .. %s", ips[0], ips[253])
			}
		})
	}
}

func TestExpandSubnet_Invalid(t *testing.T) {
	for _, in := range []string{"", "192.168", "a.b.c", "300.1.1", "192.168.1.0/abc", "fe80::/64", "1.2.3.4.5", "10.0.0.0/8", "0.0.0.0/0", "192.168.0.0/21"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ExpandSubnet(in); err == nil {
				t.Errorf("expected error for %q", in)
			}
		})
	}
}

func TestExpandSubnet_PrefixLimit(t *testing.T) {
	ips, err := ExpandSubnet("10.1.0.0/22")
	if err != nil {
		t.Fatalf("ExpandSubnet(/22) failed: %v", err)
	}
	if len(ips) != 1022 {
		t.Errorf("expected 1022 addresses, got %d", len(ips))
	}

	_, err = ExpandSubnet("10.0.0.0/8")
	if !errs.IsValidation(err) {
		t.Errorf("expected a validation error for a /8, got %v", err)
	}
}

func TestIsValidHost(t *testing.T) {
	valid := []string{"nas", "nas.local", "192.168.1.10", "fd00::1", "my-server.example.com", "a1.b2"}
	for _, h := range valid {
		if !IsValidHost(h) {
			t.Errorf("IsValidHost(%q) = false, want true", h)
		}
	}
	invalid := []string{"", "-nas", "nas-", "nas;rm -rf /", "host name", "a..b", "nas|x", strings.Repeat("a", 256)}
	for _, h := range invalid {
		if IsValidHost(h) {
			t.Errorf("IsValidHost(%q) = true, want false", h)
		}
	}
}

func TestSortIPs(t *testing.T) {
	ips := []string{"192.168.1.50", "nas", "192.168.1.1", "192.168.1.10"}
	SortIPs(ips)
	want := []string{"192.168.1.1", "192.168.1.10", "192.168.1.50", "nas"}
	for i := range want {
		if ips[i] != want[i] {
			t.Fatalf("SortIPs = %v, want %v", ips, want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"8.8.8.8", false},
	}
	for _, tt := range tests {
		if got := IsPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
			t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}

func TestSubnetsFromAddrs(t *testing.T) {
	mk := func(cidr string) net.Addr {
		ip, n, _ := net.ParseCIDR(cidr)
		n.IP = ip
		return n
	}
	got := subnetsFromAddrs([]net.Addr{
		mk("127.0.0.1/8"),
		mk("192.168.1.20/24"),
		mk("192.168.1.21/24"),
		mk("10.0.5.2/16"),
		mk("fe80::1/64"),
	})
	if len(got) != 2 || got[0] != "10.0.5" || got[1] != "192.168.1" {
		t.Errorf("subnetsFromAddrs = %v", got)
	}
}
