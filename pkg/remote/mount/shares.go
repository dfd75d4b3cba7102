package mount

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/network"
)

// Share is one entry of a server's share list.
type Share struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment,omitempty"`
}

// ListShares enumerates the shares of server with smbclient. Anonymous
// access is used when username is empty.
func (m *Manager) ListShares(ctx context.Context, server, username, password, domain string) ([]Share, error) {
	server = strings.TrimSpace(server)
	if !network.IsValidHost(server) {
		return nil, errs.Invalid("server", "%q is not a valid IP address or hostname", server)
	}
	for field, v := range map[string]string{"username": username, "password": password, "domain": domain} {
		if strings.ContainsAny(v, "\r\n\x00") {
			return nil, errs.Invalid(field, "must not contain line breaks")
		}
	}

	args := []string{"-L", "//" + server, "-g"}
	if username != "" {
		authPath, err := writeCredentials(m.cfg.CredentialsDir, username, password, domain)
		if err != nil {
			return nil, err
		}
		defer os.Remove(authPath)
		args = append(args, "-A", authPath)
	} else {
		args = append(args, "-N")
	}

	res, err := m.deps.Runner.Run(ctx, m.cfg.ShareTimeout, "smbclient", args...)
	if err != nil {
		if errs.IsTimeout(err) {
			return nil, err
		}
		out := res.Combined()
		if out == "" {
			out = err.Error()
		}
		return nil, fmt.Errorf("list shares on %s: %s", server, errs.Truncate(out, maxError))
	}

	shares := parseShares(res.Stdout)
	m.logger.Debug().Str("server", server).Int("shares", len(shares)).Msg("listed shares")
	return shares, nil
}

// parseShares reads the grepable (-g) output of smbclient -L:
//
//	Disk|public|Public files
//	IPC|IPC$|IPC Service
func parseShares(out string) []Share {
	var shares []Share
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "Disk", "IPC", "Printer":
		default:
			continue
		}
		s := Share{Type: parts[0], Name: parts[1]}
		if len(parts) == 3 {
			s.Comment = parts[2]
		}
		shares = append(shares, s)
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Name < shares[j].Name })
	return shares
}
