// Package oui resolves MAC addresses to vendor names using an IEEE OUI
// database file (oui.txt).
package oui

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/oui"
	"github.com/rs/zerolog"
)

// DefaultPaths are the locations searched when no database path is configured.
var DefaultPaths = []string{
	"/usr/share/ieee-data/oui.txt",
	"/usr/share/misc/oui.txt",
	"/var/lib/ieee-data/oui.txt",
}

// ErrNoDatabase is returned when no OUI database file could be found.
var ErrNoDatabase = errors.New("no OUI database available")

// VendorInfo contains information about a MAC address vendor.
type VendorInfo struct {
	Manufacturer string
	Address      []string
	Country      string
	Prefix       string
}

// DB is a lazily loaded vendor database.
type DB struct {
	path   string
	logger zerolog.Logger

	once sync.Once
	db   oui.OuiDB
	err  error
}

// NewDB returns a database backed by path. An empty path searches
// DefaultPaths on first use.
func NewDB(path string, logger zerolog.Logger) *DB {
	return &DB{
		path:   path,
		logger: logger.With().Str("component", "oui").Logger(),
	}
}

func (d *DB) load() error {
	d.once.Do(func() {
		path := d.path
		if path == "" {
			for _, p := range DefaultPaths {
				if _, err := os.Stat(p); err == nil {
					path = p
					break
				}
			}
		}
		if path == "" {
			d.err = ErrNoDatabase
			return
		}
		db, err := oui.OpenStaticFile(path)
		if err != nil {
			d.err = fmt.Errorf("open OUI database %s: %w", path, err)
			return
		}
		d.db = db
		d.logger.Debug().Str("path", path).Msg("OUI database loaded")
	})
	return d.err
}

// Loaded reports whether the database has been opened successfully.
func (d *DB) Loaded() bool {
	return d.load() == nil
}

// Lookup returns vendor information for mac. Unknown prefixes return (nil, nil).
// The MAC address can be "00:11:22:33:44:55", "00-11-22-33-44-55" or "001122334455".
func (d *DB) Lookup(mac string) (*VendorInfo, error) {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return nil, fmt.Errorf("invalid MAC address %q", mac)
	}
	if err := d.load(); err != nil {
		return nil, err
	}

	hw, err := net.ParseMAC(norm)
	if err != nil {
		return nil, fmt.Errorf("parse MAC address: %w", err)
	}

	entry, err := d.db.Query(hw.String())
	if err != nil {
		if errors.Is(err, oui.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("OUI lookup: %w", err)
	}

	return &VendorInfo{
		Manufacturer: entry.Manufacturer,
		Address:      entry.Address,
		Country:      entry.Country,
		Prefix:       entry.Prefix.String(),
	}, nil
}

// LookupName returns just the manufacturer name, or "" when unknown.
func (d *DB) LookupName(mac string) string {
	v, err := d.Lookup(mac)
	if err != nil || v == nil {
		return ""
	}
	return v.Manufacturer
}

// NormalizeMAC normalizes various MAC address formats to lower-case
// colon-separated form. Returns empty string if invalid.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.NewReplacer("-", "", ":", "", ".", "").Replace(mac)
	if len(mac) != 12 {
		return ""
	}
	for _, c := range mac {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return ""
		}
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		mac[0:2], mac[2:4], mac[4:6], mac[6:8], mac[8:10], mac[10:12])
}
