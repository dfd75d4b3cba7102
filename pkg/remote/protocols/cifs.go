package protocols

import (
	"context"
	"time"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
)

// SMBPort is checked by the CIFS test regardless of the record's port.
const SMBPort = 445

// PortChecker is satisfied by *probe.PortProber.
type PortChecker interface {
	CheckPort(ctx context.Context, host string, port int, timeout time.Duration) probe.PortResult
}

// CIFS treats an open SMB port as proof the share server is up. Share access
// is verified when mounting.
type CIFS struct {
	ports PortChecker
}

// NewCIFS creates a CIFS tester.
func NewCIFS(ports PortChecker) *CIFS {
	if ports == nil {
		ports = probe.NewPortProber()
	}
	return &CIFS{ports: ports}
}

// TestConnection implements Tester.
func (c *CIFS) TestConnection(ctx context.Context, t Target) (bool, string) {
	timeout := t.Timeout
	if timeout <= 0 || timeout > probe.DefaultPortTimeout {
		timeout = probe.DefaultPortTimeout
	}
	res := c.ports.CheckPort(ctx, t.Host, SMBPort, timeout)
	if !res.Open {
		return false, "SMB port 445 not reachable: " + res.Error
	}
	return true, "SMB service available"
}
