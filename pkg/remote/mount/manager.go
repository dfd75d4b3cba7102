// Package mount mounts and unmounts CIFS shares through mount(8) and
// umount(8).
//
// Credentials never appear on a command line. They are written to a
// short-lived mode-0600 file referenced by the credentials= option, and the
// file is removed when the attempt returns.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/westy4ever/PilotFS-sub000/internal/cmdexec"
	"github.com/westy4ever/PilotFS-sub000/internal/metrics"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/netlog"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/network"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/probe"
)

// CredentialsPattern is the glob of credentials files in the credentials
// directory.
const CredentialsPattern = "pilotfs-cifs-*.cred"

// maxError caps OS error text in messages.
const maxError = 200

// DefaultVersions are tried in order.
var DefaultVersions = []string{"3.0", "2.0", "1.0"}

var shareRegex = regexp.MustCompile(`^[A-Za-z0-9_.$-]+$`)

// Options that must not be passed by callers.
var reservedOptions = map[string]bool{
	"credentials": true,
	"username":    true,
	"user":        true,
	"password":    true,
	"pass":        true,
	"guest":       true,
	"vers":        true,
}

// Config controls the manager.
type Config struct {
	PreflightPing  bool
	PingTimeout    time.Duration
	MountTimeout   time.Duration
	UmountTimeout  time.Duration
	ListTimeout    time.Duration
	ShareTimeout   time.Duration
	Versions       []string
	CredentialsDir string
}

func (c *Config) setDefaults() {
	if c.PingTimeout <= 0 {
		c.PingTimeout = probe.DefaultPingTimeout
	}
	if c.MountTimeout <= 0 {
		c.MountTimeout = 30 * time.Second
	}
	if c.UmountTimeout <= 0 {
		c.UmountTimeout = 15 * time.Second
	}
	if c.ListTimeout <= 0 {
		c.ListTimeout = 5 * time.Second
	}
	if c.ShareTimeout <= 0 {
		c.ShareTimeout = 15 * time.Second
	}
	if len(c.Versions) == 0 {
		c.Versions = DefaultVersions
	}
	if c.CredentialsDir == "" {
		c.CredentialsDir = os.TempDir()
	}
}

// Pinger is satisfied by *probe.Pinger.
type Pinger interface {
	Ping(ctx context.Context, host string, count int, timeout time.Duration) probe.PingResult
}

// Deps are the collaborators of a Manager. Pinger is required only when
// PreflightPing is set; Log and Metrics may be nil.
type Deps struct {
	Runner  cmdexec.Runner
	Table   Table
	Pinger  Pinger
	Log     *netlog.Log
	Metrics *metrics.Metrics
}

// Request describes a CIFS mount.
type Request struct {
	Server     string
	Share      string
	MountPoint string
	Username   string
	Password   string
	Domain     string
	// Options are extra mount options such as "uid=1000" or "ro".
	Options []string
}

// Entry is a mount this manager made.
type Entry struct {
	MountPoint string    `json:"mount_point"`
	Server     string    `json:"server"`
	Share      string    `json:"share"`
	Options    []string  `json:"options"`
	Version    string    `json:"version"`
	MountedAt  time.Time `json:"mounted_at"`
}

// Source returns //server/share.
func (e Entry) Source() string {
	return "//" + e.Server + "/" + e.Share
}

// Manager mounts CIFS shares and tracks the mounts it made. The tracked set
// is a cache; destructive operations consult the OS table.
type Manager struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	list   func(ctx context.Context, path string, timeout time.Duration) error
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps, logger zerolog.Logger) *Manager {
	cfg.setDefaults()
	if deps.Runner == nil {
		deps.Runner = cmdexec.Exec{}
	}
	if deps.Table == nil {
		deps.Table = PartitionTable{}
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		now:     time.Now,
		list:    listDir,
		logger:  logger.With().Str("component", "mount").Logger(),
		entries: make(map[string]Entry),
	}
}

func (m *Manager) validate(req *Request) error {
	req.Server = strings.TrimSpace(req.Server)
	req.Share = strings.Trim(strings.TrimSpace(req.Share), "/")
	if !network.IsValidHost(req.Server) {
		return errs.Invalid("server", "%q is not a valid IP address or hostname", req.Server)
	}
	if !shareRegex.MatchString(req.Share) {
		return errs.Invalid("share", "%q may only contain letters, digits, '_', '-', '.' and '$'", req.Share)
	}
	if !filepath.IsAbs(req.MountPoint) {
		return errs.Invalid("mount point", "%q must be an absolute path", req.MountPoint)
	}
	req.MountPoint = filepath.Clean(req.MountPoint)
	for field, v := range map[string]string{"username": req.Username, "password": req.Password, "domain": req.Domain} {
		if strings.ContainsAny(v, "\r\n\x00") {
			return errs.Invalid(field, "must not contain line breaks")
		}
	}
	for _, opt := range req.Options {
		if opt == "" || strings.ContainsAny(opt, ", \t\r\n\x00") {
			return errs.Invalid("options", "%q is not a single mount option", opt)
		}
		key := strings.ToLower(strings.SplitN(opt, "=", 2)[0])
		if reservedOptions[key] {
			return errs.Invalid("options", "%q is set by the mount manager", key)
		}
	}
	return nil
}

// MountCIFS mounts //Server/Share at MountPoint. It tries each configured
// SMB version in order and stops at the first success or at a timeout.
func (m *Manager) MountCIFS(ctx context.Context, req Request) (bool, string) {
	if err := m.validate(&req); err != nil {
		return false, err.Error()
	}
	source := "//" + req.Server + "/" + req.Share

	if m.cfg.PreflightPing && m.deps.Pinger != nil {
		if res := m.deps.Pinger.Ping(ctx, req.Server, 1, m.cfg.PingTimeout); !res.Reachable {
			m.deps.Log.Add(netlog.LevelWarn, "mount", req.Server, "pre-flight ping failed")
			return false, "Server unreachable"
		}
	}

	if err := os.MkdirAll(req.MountPoint, 0o755); err != nil {
		return false, errs.Truncate("Cannot create mount point: "+err.Error(), maxError)
	}

	// An unreadable table cannot rule out an existing mount, so the forced
	// unmount runs anyway and its failure is ignored.
	mounted, err := m.IsMounted(ctx, req.MountPoint)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Str("mount_point", req.MountPoint).Msg("mount table unavailable, unmounting blindly")
		_, _ = m.deps.Runner.Run(ctx, m.cfg.UmountTimeout, "umount", "-f", "-l", req.MountPoint)
		m.forget(req.MountPoint)
	case mounted:
		m.logger.Info().Str("mount_point", req.MountPoint).Msg("path already mounted, unmounting first")
		if _, err := m.deps.Runner.Run(ctx, m.cfg.UmountTimeout, "umount", "-f", "-l", req.MountPoint); err != nil {
			m.logger.Warn().Err(err).Str("mount_point", req.MountPoint).Msg("pre-mount unmount failed")
		}
		m.forget(req.MountPoint)
	}

	var lastErr string
	for _, version := range m.cfg.Versions {
		opts, err := m.attempt(ctx, req, source, version)
		m.deps.Metrics.RecordMountAttempt(version, err == nil)
		if err == nil {
			entry := Entry{
				MountPoint: req.MountPoint,
				Server:     req.Server,
				Share:      req.Share,
				Options:    opts,
				Version:    version,
				MountedAt:  m.now(),
			}
			m.mu.Lock()
			m.entries[req.MountPoint] = entry
			m.mu.Unlock()

			m.logger.Info().Str("source", source).Str("mount_point", req.MountPoint).Str("version", version).Msg("mounted")
			m.deps.Log.Add(netlog.LevelInfo, "mount", req.Server, fmt.Sprintf("mounted %s at %s (SMB %s)", source, req.MountPoint, version))
			return true, fmt.Sprintf("Mounted %s at %s (SMB %s)", source, req.MountPoint, version)
		}

		var timeout *errs.NetworkTimeoutError
		if errors.As(err, &timeout) {
			m.logger.Warn().Str("source", source).Str("version", version).Dur("timeout", timeout.Timeout).Msg("mount timed out")
			m.deps.Log.Add(netlog.LevelError, "mount", req.Server, "mount timed out")
			return false, fmt.Sprintf("Mount timed out after %s", timeout.Timeout)
		}
		if ctx.Err() != nil {
			return false, "Mount cancelled"
		}

		var merr *errs.MountError
		if errors.As(err, &merr) && merr.Output != "" {
			lastErr = merr.Output
		} else {
			lastErr = err.Error()
		}
		m.logger.Debug().Str("source", source).Str("version", version).Str("error", lastErr).Msg("mount attempt failed")
	}

	msg := errs.Truncate(lastErr, maxError)
	m.deps.Log.Add(netlog.LevelError, "mount", req.Server, "mount failed: "+msg)
	m.logger.Warn().Str("source", source).Str("error", msg).Msg("mount failed with every protocol version")
	return false, "Mount failed: " + msg
}

// attempt runs one mount with the given SMB version. The credentials file it
// writes is removed before it returns.
func (m *Manager) attempt(ctx context.Context, req Request, source, version string) ([]string, error) {
	opts := make([]string, 0, len(req.Options)+2)
	if req.Username != "" {
		credPath, err := writeCredentials(m.cfg.CredentialsDir, req.Username, req.Password, req.Domain)
		if err != nil {
			return nil, &errs.MountError{Op: "mount", Target: req.MountPoint, Err: err}
		}
		defer os.Remove(credPath)
		opts = append(opts, "credentials="+credPath)
	} else {
		opts = append(opts, "guest")
	}
	opts = append(opts, req.Options...)
	opts = append(opts, "vers="+version)

	res, err := m.deps.Runner.Run(ctx, m.cfg.MountTimeout, "mount", "-t", "cifs", source, req.MountPoint, "-o", strings.Join(opts, ","))
	if err != nil {
		if errs.IsTimeout(err) {
			return nil, err
		}
		return nil, &errs.MountError{Op: "mount", Target: req.MountPoint, Output: res.Combined(), Err: err}
	}
	// Recorded options must not point at the removed credentials file.
	recorded := append([]string(nil), req.Options...)
	return append(recorded, "vers="+version), nil
}

// writeCredentials creates a mount.cifs credentials file readable only by
// the owner.
func writeCredentials(dir, username, password, domain string) (string, error) {
	f, err := os.CreateTemp(dir, CredentialsPattern)
	if err != nil {
		return "", fmt.Errorf("create credentials file: %w", err)
	}
	path := f.Name()
	var b strings.Builder
	b.WriteString("username=" + username + "\n")
	b.WriteString("password=" + password + "\n")
	if domain != "" {
		b.WriteString("domain=" + domain + "\n")
	}

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("chmod credentials file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write credentials file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close credentials file: %w", err)
	}
	return path, nil
}

// Umount unmounts mountPoint. A path the OS does not list as mounted is a
// successful no-op.
func (m *Manager) Umount(ctx context.Context, mountPoint string, force, lazy bool) (bool, string) {
	if !filepath.IsAbs(mountPoint) {
		return false, errs.Invalid("mount point", "%q must be an absolute path", mountPoint).Error()
	}
	mountPoint = filepath.Clean(mountPoint)

	mounted, err := m.IsMounted(ctx, mountPoint)
	if err != nil {
		m.logger.Warn().Err(err).Msg("mount table unavailable, attempting unmount anyway")
		mounted = true
	}
	if !mounted {
		m.forget(mountPoint)
		return true, mountPoint + " is not mounted"
	}

	args := make([]string, 0, 3)
	if force {
		args = append(args, "-f")
	}
	if lazy {
		args = append(args, "-l")
	}
	args = append(args, mountPoint)

	res, err := m.deps.Runner.Run(ctx, m.cfg.UmountTimeout, "umount", args...)
	m.deps.Metrics.RecordUnmount(err == nil)
	switch {
	case errs.IsTimeout(err):
		m.deps.Log.Add(netlog.LevelError, "mount", "", "unmount of "+mountPoint+" timed out")
		return false, "Unmount timed out"
	case err != nil:
		out := res.Combined()
		if out == "" {
			out = err.Error()
		}
		msg := errs.Truncate(out, maxError)
		m.deps.Log.Add(netlog.LevelError, "mount", "", "unmount of "+mountPoint+" failed: "+msg)
		return false, "Unmount failed: " + msg
	}

	m.forget(mountPoint)
	m.logger.Info().Str("mount_point", mountPoint).Bool("force", force).Bool("lazy", lazy).Msg("unmounted")
	m.deps.Log.Add(netlog.LevelInfo, "mount", "", "unmounted "+mountPoint)
	return true, "Unmounted " + mountPoint
}

// CleanupMounts force-unmounts network mounts whose mount point can no
// longer be listed. It returns false if any of those unmounts failed, and
// the number cleaned.
func (m *Manager) CleanupMounts(ctx context.Context) (bool, int) {
	mounts, err := m.deps.Table.Mounts(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("cannot read mount table")
		return false, 0
	}
	m.prune(mounts)

	ok := true
	cleaned := 0
	for _, mi := range mounts {
		if !mi.IsNetwork() {
			continue
		}
		err := m.list(ctx, mi.Target, m.cfg.ListTimeout)
		if err == nil {
			continue
		}
		m.logger.Info().Err(err).Str("mount_point", mi.Target).Str("source", mi.Source).Msg("stale mount detected")
		if _, err := m.deps.Runner.Run(ctx, m.cfg.UmountTimeout, "umount", "-f", "-l", mi.Target); err != nil {
			ok = false
			m.logger.Warn().Err(err).Str("mount_point", mi.Target).Msg("could not remove stale mount")
			continue
		}
		cleaned++
		m.forget(mi.Target)
		m.deps.Log.Add(netlog.LevelWarn, "mount", "", "removed stale mount "+mi.Target)
	}

	m.deps.Metrics.RecordCleanup(cleaned)
	if cleaned > 0 {
		m.logger.Info().Int("cleaned", cleaned).Msg("stale mounts removed")
	}
	return ok, cleaned
}

// prune drops cached entries that are no longer in the OS table.
func (m *Manager) prune(mounts []MountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mp := range m.entries {
		if _, ok := find(mounts, mp); !ok {
			delete(m.entries, mp)
			m.logger.Debug().Str("mount_point", mp).Msg("dropping mount no longer in OS table")
		}
	}
}

func (m *Manager) forget(mountPoint string) {
	m.mu.Lock()
	delete(m.entries, mountPoint)
	m.mu.Unlock()
}

// IsMounted checks the OS table for path.
func (m *Manager) IsMounted(ctx context.Context, path string) (bool, error) {
	mounts, err := m.deps.Table.Mounts(ctx)
	if err != nil {
		return false, err
	}
	_, ok := find(mounts, path)
	return ok, nil
}

// NetworkMounts returns the network filesystems in the OS table, including
// ones this manager did not make.
func (m *Manager) NetworkMounts(ctx context.Context) ([]MountInfo, error) {
	mounts, err := m.deps.Table.Mounts(ctx)
	if err != nil {
		return nil, err
	}
	out := mounts[:0]
	for _, mi := range mounts {
		if mi.IsNetwork() {
			out = append(out, mi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

// Mounts returns the mounts made by this manager, sorted by mount point.
func (m *Manager) Mounts() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		e.Options = append([]string(nil), e.Options...)
		out = append(out, e)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MountPoint < out[j].MountPoint })
	return out
}

// listDir reads one directory entry from path. A hung network filesystem can
// block the read indefinitely, so the read runs in its own goroutine.
func listDir(ctx context.Context, path string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- err
			return
		}
		defer f.Close()
		_, err = f.Readdirnames(1)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return &errs.NetworkTimeoutError{Op: "list " + path, Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}
