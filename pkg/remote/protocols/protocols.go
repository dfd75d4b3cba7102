// Package protocols holds the per-protocol connection tests run as the last
// step of a diagnosis. Each test opens a real client session with the
// connection's credentials and reports (ok, message); none of them return
// errors.
package protocols

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
)

// DefaultTimeout bounds one connection test.
const DefaultTimeout = 10 * time.Second

// maxMessage caps error text returned to the caller.
const maxMessage = 200

// Target is what a Tester connects to.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
	Path     string
	Options  map[string]string
	Timeout  time.Duration
}

// TargetFor builds a Target from a saved connection.
func TargetFor(rec registry.Record, timeout time.Duration) Target {
	return Target{
		Host:     rec.Host,
		Port:     rec.Port,
		Username: rec.Username,
		Password: rec.Password,
		Path:     rec.Path,
		Options:  rec.Options,
		Timeout:  timeout,
	}
}

func (t Target) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

func (t Target) option(key string) string {
	if t.Options == nil {
		return ""
	}
	return t.Options[key]
}

// Tester checks that a session can be opened against a target.
type Tester interface {
	TestConnection(ctx context.Context, target Target) (bool, string)
}

// TesterFunc adapts a function to Tester.
type TesterFunc func(ctx context.Context, target Target) (bool, string)

// TestConnection calls f.
func (f TesterFunc) TestConnection(ctx context.Context, target Target) (bool, string) {
	return f(ctx, target)
}

// Set maps each connection type to its tester.
type Set struct {
	FTP    Tester
	SFTP   Tester
	WebDAV Tester
	CIFS   Tester
}

// DefaultSet returns the library-backed testers.
func DefaultSet(ports PortChecker, logger zerolog.Logger) Set {
	return Set{
		FTP:    NewFTP(logger),
		SFTP:   NewSFTP(logger),
		WebDAV: NewWebDAV(logger),
		CIFS:   NewCIFS(ports),
	}
}

// For returns the tester for t. It reports false for an unknown type or a
// type with no tester configured.
func (s Set) For(t registry.Type) (Tester, bool) {
	var tester Tester
	switch t {
	case registry.TypeFTP:
		tester = s.FTP
	case registry.TypeSFTP:
		tester = s.SFTP
	case registry.TypeWebDAV:
		tester = s.WebDAV
	case registry.TypeCIFS:
		tester = s.CIFS
	}
	return tester, tester != nil
}

func failure(prefix string, err error) (bool, string) {
	return false, errs.Truncate(fmt.Sprintf("%s: %v", prefix, err), maxMessage)
}

// runBounded runs fn in a goroutine and gives up when ctx ends. Client
// libraries without context support use it.
func runBounded(ctx context.Context, fn func() (bool, string)) (bool, string) {
	type outcome struct {
		ok  bool
		msg string
	}
	ch := make(chan outcome, 1)
	go func() {
		ok, msg := fn()
		ch <- outcome{ok, msg}
	}()
	select {
	case <-ctx.Done():
		return false, "connection test cancelled: " + ctx.Err().Error()
	case o := <-ch:
		return o.ok, o.msg
	}
}
