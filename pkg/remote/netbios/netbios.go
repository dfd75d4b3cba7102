// Package netbios asks SMB hosts for their NetBIOS names with a Node Status
// (NBSTAT) query over UDP/137, like nmblookup -A. It needs no privileges.
package netbios

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Port is the NetBIOS Name Service port.
	Port = 137
	// DefaultTimeout bounds one lookup.
	DefaultTimeout = 2 * time.Second
	// DefaultWorkers bounds concurrent lookups.
	DefaultWorkers = 32
)

// Name suffixes of interest.
const (
	SuffixWorkstation = 0x00
	SuffixFileServer  = 0x20
)

// ErrNoNames is returned for a response with an empty name table.
var ErrNoNames = errors.New("no names in response")

// Name is one entry of a node's name table.
type Name struct {
	Name    string
	Suffix  byte
	IsGroup bool
	Active  bool
}

// Result is the outcome of one Node Status query.
type Result struct {
	IP string
	// Hostname is the first unique workstation name.
	Hostname string
	// Workgroup is the first group workstation name.
	Workgroup string
	// FileServer is set when the node registers the file server service, i.e.
	// it offers SMB shares.
	FileServer bool
	MAC        string
	Names      []Name
	Error      error
}

// Resolver performs NetBIOS node status lookups.
type Resolver struct {
	Timeout time.Duration
	Workers int
	// Port is the destination port; zero means Port.
	Port   int
	logger zerolog.Logger
}

// NewResolver creates a Resolver. timeout <= 0 selects DefaultTimeout.
func NewResolver(timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		Timeout: timeout,
		Workers: DefaultWorkers,
		Port:    Port,
		logger:  logger.With().Str("component", "netbios").Logger(),
	}
}

// LookupAddr sends a Node Status request to ip and parses the reply.
func (r *Resolver) LookupAddr(ctx context.Context, ip string) (*Result, error) {
	res := &Result{IP: ip}
	target := net.ParseIP(ip)
	if target == nil || target.To4() == nil {
		res.Error = fmt.Errorf("invalid IPv4 address: %q", ip)
		return res, res.Error
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		res.Error = fmt.Errorf("udp listen: %w", err)
		return res, res.Error
	}
	defer conn.Close()

	deadline := time.Now().Add(r.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	// Unblock the read when ctx is cancelled before the deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	port := r.Port
	if port == 0 {
		port = Port
	}
	if _, err := conn.WriteTo(buildRequest(), &net.UDPAddr{IP: target, Port: port}); err != nil {
		res.Error = fmt.Errorf("send request: %w", err)
		return res, res.Error
	}

	buf := make([]byte, 2048)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		res.Error = fmt.Errorf("read response: %w", err)
		return res, res.Error
	}
	if err := parseResponse(buf[:n], res); err != nil {
		res.Error = fmt.Errorf("parse response: %w", err)
		return res, res.Error
	}
	r.logger.Debug().Str("ip", ip).Str("name", res.Hostname).Str("workgroup", res.Workgroup).Bool("file_server", res.FileServer).Msg("node status")
	return res, nil
}

// LookupMultiple queries ips with at most Workers in flight. Results are in
// input order and never nil.
func (r *Resolver) LookupMultiple(ctx context.Context, ips []string) []*Result {
	out := make([]*Result, len(ips))
	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, ip := range ips {
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = &Result{IP: ip, Error: ctx.Err()}
				return
			}
			out[i], _ = r.LookupAddr(ctx, ip)
		}(i, ip)
	}
	wg.Wait()
	return out
}

// buildRequest encodes a Node Status request for the wildcard name "*"
// (RFC 1002 section 4.2.17).
func buildRequest() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [6]uint16{0x1337, 0x0000, 1, 0, 0, 0})

	buf.WriteByte(32)
	name := make([]byte, 16)
	name[0] = '*'
	for _, b := range name {
		buf.WriteByte('A' + (b>>4)&0x0F)
		buf.WriteByte('A' + b&0x0F)
	}
	buf.WriteByte(0)

	_ = binary.Write(&buf, binary.BigEndian, [2]uint16{0x0021, 0x0001})
	return buf.Bytes()
}

// parseResponse reads the name table and unit id of a Node Status response.
// The fixed header, echoed question name and RR fields end at offset 56.
func parseResponse(data []byte, res *Result) error {
	const tableStart = 57
	if len(data) < tableStart {
		return fmt.Errorf("response too short: %d bytes", len(data))
	}
	count := int(data[tableStart-1])
	if count == 0 {
		return ErrNoNames
	}

	off := tableStart
	for i := 0; i < count && off+18 <= len(data); i++ {
		entry := data[off : off+18]
		flags := binary.BigEndian.Uint16(entry[16:18])
		n := Name{
			Name:    strings.TrimRight(string(entry[:15]), " \x00"),
			Suffix:  entry[15],
			IsGroup: flags&0x8000 != 0,
			Active:  flags&0x0400 != 0,
		}
		res.Names = append(res.Names, n)

		switch {
		case n.Suffix == SuffixWorkstation && !n.IsGroup && res.Hostname == "":
			res.Hostname = n.Name
		case n.Suffix == SuffixWorkstation && n.IsGroup && res.Workgroup == "":
			res.Workgroup = n.Name
		case n.Suffix == SuffixFileServer && !n.IsGroup:
			res.FileServer = true
		}
		off += 18
	}

	if off+6 <= len(data) {
		mac := net.HardwareAddr(data[off : off+6])
		if !bytes.Equal(mac, make([]byte, 6)) {
			res.MAC = mac.String()
		}
	}
	return nil
}

// SuffixName describes a name suffix.
func SuffixName(suffix byte) string {
	switch suffix {
	case 0x00:
		return "Workstation"
	case 0x03:
		return "Messenger"
	case 0x1B:
		return "Domain Master Browser"
	case 0x1C:
		return "Domain Controller"
	case 0x1D:
		return "Local Master Browser"
	case 0x1E:
		return "Browser Election"
	case 0x20:
		return "File Server"
	default:
		return "0x" + strings.ToUpper(strconv.FormatUint(uint64(suffix), 16))
	}
}
