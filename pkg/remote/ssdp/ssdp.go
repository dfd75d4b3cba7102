// Package ssdp finds UPnP devices on the local network so NAS boxes and media
// servers can be suggested as connection hosts.
package ssdp

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	gossdp "github.com/koron/go-ssdp"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the default timeout for SSDP discovery.
const DefaultTimeout = 3 * time.Second

// Search targets.
const (
	All         = gossdp.All
	RootDevice  = gossdp.RootDevice
	MediaServer = "urn:schemas-upnp-org:device:MediaServer:1"
)

// Device is one UPnP device that answered an M-SEARCH.
type Device struct {
	IP           string
	Location     string // URL to device description XML
	Server       string
	USN          string
	ST           string
	FriendlyName string
	Manufacturer string
	ModelName    string
}

// Label returns the most descriptive name available.
func (d Device) Label() string {
	switch {
	case d.FriendlyName != "":
		return d.FriendlyName
	case d.ModelName != "":
		return strings.TrimSpace(d.Manufacturer + " " + d.ModelName)
	default:
		return d.Server
	}
}

type searchFunc func(target string, waitSec int) ([]gossdp.Service, error)

// Discovery performs SSDP searches.
type Discovery struct {
	Timeout time.Duration

	search searchFunc
	client *http.Client
	logger zerolog.Logger
}

// NewDiscovery creates an SSDP discovery helper.
func NewDiscovery(timeout time.Duration, logger zerolog.Logger) *Discovery {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Discovery{
		Timeout: timeout,
		search: func(target string, waitSec int) ([]gossdp.Service, error) {
			return gossdp.Search(target, waitSec, "")
		},
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "ssdp").Logger(),
	}
}

// Discover sends an M-SEARCH for target and returns the devices that answered,
// de-duplicated by USN and sorted by IP.
func (s *Discovery) Discover(ctx context.Context, target string) ([]Device, error) {
	if target == "" {
		target = All
	}
	waitSec := int(s.Timeout.Seconds())
	if waitSec < 1 {
		waitSec = 1
	}

	type reply struct {
		services []gossdp.Service
		err      error
	}
	ch := make(chan reply, 1)
	go func() {
		services, err := s.search(target, waitSec)
		ch <- reply{services, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("SSDP search: %w", r.err)
		}
		devices := convert(r.services)
		s.logger.Debug().Str("target", target).Int("devices", len(devices)).Msg("search finished")
		return devices, nil
	}
}

// DiscoverStorage searches for root devices and media servers and fetches
// their descriptions.
func (s *Discovery) DiscoverStorage(ctx context.Context) ([]Device, error) {
	seen := make(map[string]bool)
	var devices []Device
	var lastErr error

	for _, target := range []string{RootDevice, MediaServer} {
		found, err := s.Discover(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return devices, ctx.Err()
			}
			lastErr = err
			continue
		}
		for _, d := range found {
			key := d.USN
			if key == "" {
				key = d.IP + d.Location
			}
			if !seen[key] {
				seen[key] = true
				devices = append(devices, d)
			}
		}
	}
	if len(devices) == 0 && lastErr != nil {
		return nil, lastErr
	}

	s.Describe(ctx, devices)
	sortDevices(devices)
	return devices, nil
}

type description struct {
	Device struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// Describe fetches each device's description XML and fills in its name
// fields. Failures leave the device unchanged.
func (s *Discovery) Describe(ctx context.Context, devices []Device) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, 5)

	for i := range devices {
		if devices[i].Location == "" {
			continue
		}
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			desc, err := s.fetchDescription(ctx, d.Location)
			if err != nil {
				s.logger.Debug().Err(err).Str("location", d.Location).Msg("description unavailable")
				return
			}
			d.FriendlyName = strings.TrimSpace(desc.Device.FriendlyName)
			d.Manufacturer = strings.TrimSpace(desc.Device.Manufacturer)
			d.ModelName = strings.TrimSpace(desc.Device.ModelName)
		}(&devices[i])
	}
	wg.Wait()
}

func (s *Discovery) fetchDescription(ctx context.Context, location string) (*description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var desc description
	if err := xml.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode description: %w", err)
	}
	return &desc, nil
}

func convert(services []gossdp.Service) []Device {
	devices := make([]Device, 0, len(services))
	seen := make(map[string]bool)
	for _, svc := range services {
		if svc.USN != "" {
			if seen[svc.USN] {
				continue
			}
			seen[svc.USN] = true
		}
		devices = append(devices, Device{
			IP:       hostFromURL(svc.Location),
			Location: svc.Location,
			Server:   svc.Server,
			USN:      svc.USN,
			ST:       svc.Type,
		})
	}
	sortDevices(devices)
	return devices
}

func sortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := net.ParseIP(devices[i].IP), net.ParseIP(devices[j].IP)
		if a == nil || b == nil {
			return devices[i].IP < devices[j].IP
		}
		return string(a.To16()) < string(b.To16())
	})
}

// hostFromURL extracts the IP from a URL like "http://192.168.1.1:8080/desc.xml".
func hostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		return ip.String()
	}
	return ""
}
