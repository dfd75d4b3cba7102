// Package network expands subnets into candidate addresses and validates
// host and address syntax.
package network

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

// MaxHostLength is the longest host name accepted anywhere in the core.
const MaxHostLength = 255

// MinPrefixLen is the shortest IPv4 prefix ExpandSubnet will expand; a /22
// holds 1022 hosts.
const MinPrefixLen = 22

var hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*\.?$`)

// ExpandSubnet returns the usable host addresses of subnet as strings.
//
// subnet may be a three-octet prefix ("192.168.1"), a prefix with a wildcard
// last octet ("192.168.1.x", "192.168.1.*"), a host address whose /24 is
// meant ("192.168.1.17"), or an IPv4 CIDR ("10.0.0.0/28") no wider than
// MinPrefixLen. The first three forms expand to the 254 hosts of the /24.
func ExpandSubnet(subnet string) ([]string, error) {
	s := strings.TrimSpace(subnet)
	if s == "" {
		return nil, fmt.Errorf("empty subnet")
	}
	if strings.Contains(s, "/") {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		if ones, bits := ipnet.Mask.Size(); bits == 32 && ones < MinPrefixLen {
			return nil, errs.Invalid("subnet", "%s is wider than /%d", s, MinPrefixLen)
		}
		return EnumerateIPStrings(s)
	}

	parts := strings.Split(s, ".")
	switch {
	case len(parts) == 4 && (parts[3] == "x" || parts[3] == "*" || parts[3] == ""):
		parts = parts[:3]
	case len(parts) == 4:
		if net.ParseIP(s).To4() == nil {
			return nil, fmt.Errorf("invalid subnet %q", subnet)
		}
		parts = parts[:3]
	case len(parts) != 3:
		return nil, fmt.Errorf("invalid subnet %q: want a.b.c or CIDR", subnet)
	}
	return EnumerateIPStrings(strings.Join(parts, ".") + ".0/24")
}

// EnumerateIPs returns all usable host IPs in a CIDR (excludes network and broadcast).
func EnumerateIPs(cidr string) ([]net.IP, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	return enumerateIPsFromNet(ipnet), nil
}

// EnumerateIPStrings returns all usable host IPs in a CIDR as strings.
func EnumerateIPStrings(cidr string) ([]string, error) {
	ips, err := EnumerateIPs(cidr)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPv4 host addresses in %q", cidr)
	}
	result := make([]string, len(ips))
	for i, ip := range ips {
		result[i] = ip.String()
	}
	return result, nil
}

func enumerateIPsFromNet(n *net.IPNet) []net.IP {
	var res []net.IP
	base := n.IP.To4()
	if base == nil {
		return res
	}
	mask := net.IP(n.Mask).To4()
	if mask == nil {
		return res
	}
	network := ipToUint32(base) & ipToUint32(mask)
	broadcast := network | ^ipToUint32(mask)
	for u := network + 1; u < broadcast; u++ {
		res = append(res, uint32ToIP(u))
	}
	return res
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// IsIP reports whether s is a literal IPv4 or IPv6 address.
func IsIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsHostname reports whether s is a syntactically valid DNS host name.
func IsHostname(s string) bool {
	return len(s) > 0 && len(s) <= MaxHostLength && hostnameRe.MatchString(s)
}

// IsValidHost reports whether s is an IP literal or a valid host name.
func IsValidHost(s string) bool {
	return IsIP(s) || IsHostname(s)
}

// CompareIP orders addresses numerically; non-IP strings sort after IPs
// and lexically among themselves.
func CompareIP(a, b string) int {
	ia, ib := net.ParseIP(a), net.ParseIP(b)
	switch {
	case ia == nil && ib == nil:
		return strings.Compare(a, b)
	case ia == nil:
		return 1
	case ib == nil:
		return -1
	}
	aa, bb := ia.To16(), ib.To16()
	for i := 0; i < len(aa) && i < len(bb); i++ {
		if aa[i] != bb[i] {
			if aa[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SortIPs sorts addresses in place using CompareIP.
func SortIPs(ips []string) {
	sort.Slice(ips, func(i, j int) bool { return CompareIP(ips[i], ips[j]) < 0 })
}

// IsPrivateIP checks if an IP address is in private (RFC 1918) address space.
func IsPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 10 ||
			(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
			(ip4[0] == 192 && ip4[1] == 168)
	}
	return false
}

// LocalSubnets returns the a.b.c prefixes of the host's non-loopback IPv4
// interface addresses, sorted and de-duplicated.
func LocalSubnets() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}
	return subnetsFromAddrs(addrs), nil
}

func subnetsFromAddrs(addrs []net.Addr) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		prefix := fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])
		if _, dup := seen[prefix]; dup {
			continue
		}
		seen[prefix] = struct{}{}
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}
