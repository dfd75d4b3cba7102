package protocols

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
)

// FTP logs in and changes to the connection path.
//
// Options: "tls" = "explicit" | "implicit"; "insecure" = "true" skips
// certificate verification.
type FTP struct {
	logger zerolog.Logger
}

// NewFTP creates an FTP tester.
func NewFTP(logger zerolog.Logger) *FTP {
	return &FTP{logger: logger.With().Str("component", "ftp").Logger()}
}

// TestConnection implements Tester.
func (f *FTP) TestConnection(ctx context.Context, t Target) (bool, string) {
	port := t.Port
	if port == 0 {
		port = 21
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	opts := []ftp.DialOption{ftp.DialWithTimeout(t.timeout()), ftp.DialWithContext(ctx)}
	tlsConf := &tls.Config{ServerName: t.Host, InsecureSkipVerify: t.option("insecure") == "true"}
	switch t.option("tls") {
	case "explicit":
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConf))
	case "implicit":
		opts = append(opts, ftp.DialWithTLS(tlsConf))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return failure("FTP connect failed", err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := t.Username, t.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return failure("FTP login failed", err)
	}
	if t.Path != "" {
		if err := conn.ChangeDir(t.Path); err != nil {
			return failure("FTP path not accessible", err)
		}
	}
	dir, err := conn.CurrentDir()
	if err != nil {
		return failure("FTP session failed", err)
	}

	f.logger.Debug().Str("addr", addr).Str("user", user).Str("dir", dir).Msg("ftp login ok")
	return true, "FTP connection successful (" + dir + ")"
}
