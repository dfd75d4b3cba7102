// Package config loads pilotfs settings from defaults, a YAML file,
// PILOTFS_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the base name searched for in the config directories.
const FileName = "pilotfs"

// Config is the full pilotfs configuration.
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Probe     ProbeConfig     `mapstructure:"probe" yaml:"probe"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Diagnose  DiagnoseConfig  `mapstructure:"diagnose" yaml:"diagnose"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Mount     MountConfig     `mapstructure:"mount" yaml:"mount"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" yaml:"schedule"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// NetworkEntries caps the in-memory network event log.
	NetworkEntries int `mapstructure:"network_entries" yaml:"network_entries"`
}

type ProbeConfig struct {
	PingCacheTTL time.Duration `mapstructure:"ping_cache_ttl" yaml:"ping_cache_ttl"`
}

type DiscoveryConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	Deadline    time.Duration `mapstructure:"deadline" yaml:"deadline"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	PortTimeout time.Duration `mapstructure:"port_timeout" yaml:"port_timeout"`
	Ports       []int         `mapstructure:"ports" yaml:"ports"`
	ReverseDNS  bool          `mapstructure:"reverse_dns" yaml:"reverse_dns"`
	NetBIOS     bool          `mapstructure:"netbios" yaml:"netbios"`
	ARP         bool          `mapstructure:"arp" yaml:"arp"`
	OUIPath     string        `mapstructure:"oui_path" yaml:"oui_path"`
	SSDPTimeout time.Duration `mapstructure:"ssdp_timeout" yaml:"ssdp_timeout"`
	DNSTimeout  time.Duration `mapstructure:"dns_timeout" yaml:"dns_timeout"`
}

type DiagnoseConfig struct {
	PingCount   int           `mapstructure:"ping_count" yaml:"ping_count"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	PortTimeout time.Duration `mapstructure:"port_timeout" yaml:"port_timeout"`
	TestTimeout time.Duration `mapstructure:"test_timeout" yaml:"test_timeout"`
}

type ReconnectConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

type MountConfig struct {
	PreflightPing  bool          `mapstructure:"preflight_ping" yaml:"preflight_ping"`
	MountTimeout   time.Duration `mapstructure:"mount_timeout" yaml:"mount_timeout"`
	UmountTimeout  time.Duration `mapstructure:"umount_timeout" yaml:"umount_timeout"`
	ListTimeout    time.Duration `mapstructure:"list_timeout" yaml:"list_timeout"`
	ShareTimeout   time.Duration `mapstructure:"share_timeout" yaml:"share_timeout"`
	Versions       []string      `mapstructure:"versions" yaml:"versions"`
	CredentialsDir string        `mapstructure:"credentials_dir" yaml:"credentials_dir"`
	// Table selects the mount table reader: "gopsutil" or "findmnt".
	Table string `mapstructure:"table" yaml:"table"`
}

type ScheduleConfig struct {
	// Cleanup is the cron spec of the stale-mount cleanup; empty disables it.
	Cleanup string `mapstructure:"cleanup" yaml:"cleanup"`
	// Recheck is the cron spec of the saved-connection re-check; empty disables it.
	Recheck string `mapstructure:"recheck" yaml:"recheck"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns the default settings keyed by their dotted viper path.
func Defaults() map[string]any {
	return map[string]any{
		"registry.path":          DefaultRegistryPath(),
		"log.level":              "info",
		"log.format":             "console",
		"log.network_entries":    1000,
		"probe.ping_cache_ttl":   5 * time.Minute,
		"discovery.workers":      64,
		"discovery.deadline":     30 * time.Second,
		"discovery.ping_timeout": time.Second,
		"discovery.port_timeout": time.Second,
		"discovery.ports":        []int{21, 22, 80, 139, 443, 445, 8080, 9090},
		"discovery.reverse_dns":  true,
		"discovery.netbios":      true,
		"discovery.arp":          false,
		"discovery.oui_path":     "",
		"discovery.ssdp_timeout": 3 * time.Second,
		"discovery.dns_timeout":  2 * time.Second,
		"diagnose.ping_count":    1,
		"diagnose.ping_timeout":  time.Second,
		"diagnose.port_timeout":  3 * time.Second,
		"diagnose.test_timeout":  10 * time.Second,
		"reconnect.enabled":      true,
		"reconnect.max_attempts": 3,
		"reconnect.delay":        time.Second,
		"mount.preflight_ping":   true,
		"mount.mount_timeout":    30 * time.Second,
		"mount.umount_timeout":   15 * time.Second,
		"mount.list_timeout":     5 * time.Second,
		"mount.share_timeout":    15 * time.Second,
		"mount.versions":         []string{"3.0", "2.0", "1.0"},
		"mount.credentials_dir":  "",
		"mount.table":            "gopsutil",
		"schedule.cleanup":       "*/15 * * * *",
		"schedule.recheck":       "",
		"metrics.addr":           "",
	}
}

// Dir returns the user or system configuration directory.
func Dir(system bool) (string, error) {
	if system {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.Getenv("ProgramData"), "PilotFS"), nil
		}
		return "/etc/pilotfs", nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, "pilotfs"), nil
}

// Path returns the config file path in Dir(system).
func Path(system bool) (string, error) {
	dir, err := Dir(system)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName+".yaml"), nil
}

// DefaultRegistryPath is connections.json in the user config directory, or in
// the working directory when that cannot be determined.
func DefaultRegistryPath() string {
	dir, err := Dir(false)
	if err != nil {
		return "connections.json"
	}
	return filepath.Join(dir, "connections.json")
}

// Flag names bound to config keys when the command defines them.
var flagKeys = map[string]string{
	"registry":         "registry.path",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"workers":          "discovery.workers",
	"deadline":         "discovery.deadline",
	"no-preflight":     "mount.preflight_ping",
	"mount-timeout":    "mount.mount_timeout",
	"metrics-addr":     "metrics.addr",
	"cleanup-schedule": "schedule.cleanup",
	"recheck-schedule": "schedule.recheck",
}

// Load builds a Config. file, when non-empty, is read instead of searching
// the standard locations and must exist.
func Load(cmd *cobra.Command, file string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		if dir, err := Dir(false); err == nil {
			v.AddConfigPath(dir)
		}
		if dir, err := Dir(true); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("pilotfs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			f := cmd.Flags().Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if name == "no-preflight" {
				v.Set(key, f.Value.String() != "true")
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return c, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.Registry.Path == "" {
		return errors.New("registry.path must not be empty")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	switch c.Mount.Table {
	case "gopsutil", "findmnt":
	default:
		return fmt.Errorf("mount.table must be gopsutil or findmnt, got %q", c.Mount.Table)
	}
	for _, p := range c.Discovery.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("discovery.ports: %d is out of range", p)
		}
	}
	return nil
}

// Write stores c as YAML at path with owner-only permissions, creating the
// directory if needed.
func Write(c Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
