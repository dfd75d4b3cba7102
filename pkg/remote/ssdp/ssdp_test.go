package ssdp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gossdp "github.com/koron/go-ssdp"
	"github.com/rs/zerolog"
)

func TestNewDiscovery(t *testing.T) {
	d := NewDiscovery(0, zerolog.Nop())
	if d.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, d.Timeout)
	}
	if All != "ssdp:all" || RootDevice != "upnp:rootdevice" {
		t.Errorf("unexpected search targets %q %q", All, RootDevice)
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://192.168.1.50:5000/desc.xml", "192.168.1.50"},
		{"http://192.168.1.1/rootDesc.xml", "192.168.1.1"},
		{"http://nas.local:5000/desc.xml", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := hostFromURL(tt.url); got != tt.want {
			t.Errorf("hostFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestDiscover_DedupesAndSorts(t *testing.T) {
	d := NewDiscovery(time.Second, zerolog.Nop())
	d.search = func(target string, waitSec int) ([]gossdp.Service, error) {
		return []gossdp.Service{
			{Type: target, USN: "uuid:b", Location: "http://192.168.1.50:5000/desc.xml"},
			{Type: target, USN: "uuid:a", Location: "http://192.168.1.9:80/desc.xml"},
			{Type: target, USN: "uuid:b", Location: "http://192.168.1.50:5000/desc.xml"},
		}, nil
	}

	devices, err := d.Discover(context.Background(), "")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].IP != "192.168.1.9" || devices[1].IP != "192.168.1.50" {
		t.Errorf("unexpected order: %s, %s", devices[0].IP, devices[1].IP)
	}
	if devices[0].ST != All {
		t.Errorf("empty target should search %q, got %q", All, devices[0].ST)
	}
}

func TestDiscoverStorage_Describes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>DiskStation</friendlyName>
    <manufacturer>Synology</manufacturer>
    <modelName>DS920+</modelName>
  </device>
</root>`))
	}))
	defer srv.Close()

	d := NewDiscovery(time.Second, zerolog.Nop())
	d.search = func(target string, waitSec int) ([]gossdp.Service, error) {
		return []gossdp.Service{{Type: target, USN: "uuid:nas", Location: srv.URL + "/desc.xml"}}, nil
	}

	devices, err := d.DiscoverStorage(context.Background())
	if err != nil {
		t.Fatalf("DiscoverStorage failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].Label() != "DiskStation" || devices[0].ModelName != "DS920+" {
		t.Errorf("unexpected device %+v", devices[0])
	}
}

func TestDiscover_Error(t *testing.T) {
	d := NewDiscovery(time.Second, zerolog.Nop())
	d.search = func(string, int) ([]gossdp.Service, error) {
		return nil, errors.New("no multicast interface")
	}
	if _, err := d.Discover(context.Background(), All); err == nil {
		t.Error("expected error")
	}
	if _, err := d.DiscoverStorage(context.Background()); err == nil {
		t.Error("expected error when every search fails")
	}
}

func TestDeviceLabel(t *testing.T) {
	if got := (Device{Manufacturer: "QNAP", ModelName: "TS-453D"}).Label(); got != "QNAP TS-453D" {
		t.Errorf("Label = %q", got)
	}
	if got := (Device{Server: "Linux UPnP/1.0"}).Label(); got != "Linux UPnP/1.0" {
		t.Errorf("Label = %q", got)
	}
}
