// Package probe implements the two single-target reachability checks used by
// the scanner and the diagnostic pipeline: a TCP connect probe and an ICMP
// ping through the platform ping utility.
//
// Probes never return errors. "Host unreachable" is an expected outcome and is
// reported in the result value.
package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"time"
)

// DefaultPortTimeout is used when CheckPort is called with a zero timeout.
const DefaultPortTimeout = 3 * time.Second

// PortResult is the outcome of one TCP connect probe.
type PortResult struct {
	Host           string
	Port           int
	Open           bool
	ResponseTimeMs float64
	Error          string
	Timestamp      time.Time
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// PortProber checks whether a TCP port accepts connections.
type PortProber struct {
	// Dial overrides the dialer, mainly for tests.
	Dial DialFunc
}

// NewPortProber returns a prober backed by net.Dialer.
func NewPortProber() *PortProber {
	return &PortProber{}
}

// CheckPort opens a TCP connection to host:port. Success means the handshake
// completed within timeout.
func (p *PortProber) CheckPort(ctx context.Context, host string, port int, timeout time.Duration) PortResult {
	res := PortResult{Host: host, Port: port, Timestamp: time.Now()}
	if host == "" {
		res.Error = "empty host"
		return res
	}
	if port < 1 || port > 65535 {
		res.Error = "port out of range"
		return res
	}
	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}

	start := time.Now()
	conn, err := dial(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	elapsed := time.Since(start)
	if err != nil {
		res.Error = describeDialError(err)
		return res
	}
	_ = conn.Close()

	res.Open = true
	res.ResponseTimeMs = float64(elapsed.Microseconds()) / 1000
	return res
}

func describeDialError(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return "name resolution failed: " + dnsErr.Err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return "timed out"
	case isTimeout(err):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
