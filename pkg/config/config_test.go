// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billbridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// ============================================================
// Loading
// ============================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Upstream.Protocol != "ccnet" || cfg.Downstream.Protocol != "id003" {
		t.Errorf("protocols = %s/%s", cfg.Upstream.Protocol, cfg.Downstream.Protocol)
	}
	if cfg.Downstream.Phy.Parity != ParityEven || cfg.Upstream.Phy.Parity != ParityNone {
		t.Errorf("parity = %s/%s", cfg.Upstream.Phy.Parity, cfg.Downstream.Phy.Parity)
	}
	if cfg.Downstream.Datalink.PollPeriod != 100*time.Millisecond {
		t.Errorf("poll period = %v", cfg.Downstream.Datalink.PollPeriod)
	}
	if cfg.Timing.StatusTTL != 1500*time.Millisecond || cfg.Timing.StartupTimeout != 200*time.Millisecond {
		t.Errorf("timing = %+v", cfg.Timing)
	}
	if cfg.Currency != "EUR" || cfg.Log.Level != "info" || cfg.Redis.Address != "" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
downstream:
  protocol: cctalk
  port: /dev/ttyS3
  phy:
    parity: none
  datalink:
    poll_period: 250ms
timing:
  status_ttl: 2s
currency: usd
log:
  level: proto
`)
	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Downstream.Protocol != "cctalk" || cfg.Downstream.Port != "/dev/ttyS3" {
		t.Errorf("downstream = %+v", cfg.Downstream)
	}
	if cfg.Downstream.Datalink.PollPeriod != 250*time.Millisecond {
		t.Errorf("poll period = %v", cfg.Downstream.Datalink.PollPeriod)
	}
	if cfg.Timing.StatusTTL != 2*time.Second {
		t.Errorf("status ttl = %v", cfg.Timing.StatusTTL)
	}
	// untouched keys keep their defaults
	if cfg.Downstream.Phy.Baud != 9600 || cfg.Timing.ResponseTimeout != 50*time.Millisecond {
		t.Errorf("defaults lost: baud %d, response %v", cfg.Downstream.Phy.Baud, cfg.Timing.ResponseTimeout)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BILLBRIDGE_DOWNSTREAM_PHY_BAUD", "19200")
	t.Setenv("BILLBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Downstream.Phy.Baud != 19200 {
		t.Errorf("baud = %d, want 19200", cfg.Downstream.Phy.Baud)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %s", cfg.Log.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(New(filepath.Join(t.TempDir(), "absent.yaml"))); err == nil {
		t.Error("Load() accepted a missing config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"upstream not ccnet", "upstream:\n  protocol: id003\n"},
		{"downstream ccnet", "downstream:\n  protocol: ccnet\n"},
		{"unknown protocol", "downstream:\n  protocol: mdb\n"},
		{"bad parity", "downstream:\n  phy:\n    parity: mark\n"},
		{"bad polarity", "upstream:\n  phy:\n    polarity: flipped\n"},
		{"zero baud", "upstream:\n  phy:\n    baud: 0\n"},
		{"no port or url", "downstream:\n  port: \"\"\n"},
		{"bad sync", "downstream:\n  datalink:\n    sync: zz\n"},
		{"three byte sync", "downstream:\n  datalink:\n    sync: \"020304\"\n"},
		{"negative ttl", "timing:\n  status_ttl: -1s\n"},
		{"currency", "currency: EURO\n"},
		{"log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(New(writeConfig(t, tt.body))); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestLinkConfig_Framing(t *testing.T) {
	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	f, err := cfg.Upstream.Framing()
	if err != nil {
		t.Fatalf("Framing() error: %v", err)
	}
	if len(f.Sync) != 2 || f.Sync[0] != bp.CCNETSync1 || f.ChecksumLength != 2 {
		t.Errorf("upstream framing = %+v", f)
	}

	link := cfg.Downstream
	link.Datalink.Sync = "fc"
	link.Datalink.InterByteTimeout = 5 * time.Millisecond
	f, err = link.Framing()
	if err != nil {
		t.Fatalf("Framing() error: %v", err)
	}
	if len(f.Sync) != 1 || f.Sync[0] != bp.ID003Sync || f.InterByteTimeout != 5*time.Millisecond {
		t.Errorf("downstream framing = %+v", f)
	}
}

// ============================================================
// Hot Reload
// ============================================================

func TestReload(t *testing.T) {
	path := writeConfig(t, "downstream:\n  datalink:\n    poll_period: 100ms\n")
	v := New(path)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	live := NewLive(cfg)

	var gotOld, gotNew *Config
	onChange := func(old, updated *Config) { gotOld, gotNew = old, updated }

	if err := os.WriteFile(path, []byte("downstream:\n  datalink:\n    poll_period: 0s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	reload(v, live, logging.Discard(), onChange)

	if gotOld != cfg || gotNew == nil || gotNew.Downstream.Datalink.PollPeriod != 0 {
		t.Fatalf("onChange(%v, %v)", gotOld, gotNew)
	}
	if live.Get() != gotNew {
		t.Error("live config not updated")
	}

	// an invalid edit keeps the previous snapshot
	if err := os.WriteFile(path, []byte("currency: EURO\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	gotNew = nil
	reload(v, live, logging.Discard(), onChange)
	if gotNew != nil || live.Get().Currency != "EUR" {
		t.Error("invalid config was applied")
	}
}

// ============================================================
// Blob Store
// ============================================================

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "state", "billbridge.db"))
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Blob(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.ReadBlob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadBlob(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.WriteBlob("k", []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteBlob() error: %v", err)
	}
	got, err := s.ReadBlob("k")
	if err != nil || len(got) != 3 || got[2] != 3 {
		t.Errorf("ReadBlob() = % X, %v", got, err)
	}
}

func TestStore_Interfaces(t *testing.T) {
	s := openTestStore(t)
	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	down := cfg.Downstream
	down.Protocol = "cctalk"
	down.Datalink.Sync = "01"

	if err := s.SaveInterfaces(cfg.Upstream, down); err != nil {
		t.Fatalf("SaveInterfaces() error: %v", err)
	}
	up2, down2, err := s.LoadInterfaces()
	if err != nil {
		t.Fatalf("LoadInterfaces() error: %v", err)
	}
	if up2 != cfg.Upstream || down2 != down {
		t.Errorf("loaded %+v / %+v", up2, down2)
	}
}

func TestStore_CorruptBlob(t *testing.T) {
	s := openTestStore(t)

	if _, _, err := s.LoadInterfaces(); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store error = %v, want ErrNotFound", err)
	}

	if err := s.WriteBlob(InterfacesKey, []byte{0xFF, 0x00, 0x13}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadInterfaces(); !errors.Is(err, ErrCorruptBlob) {
		t.Errorf("garbage error = %v, want ErrCorruptBlob", err)
	}

	// a well formed blob from another format
	if err := s.WriteBlob(InterfacesKey, []byte{0xA1, 0x01, 0x01}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadInterfaces(); !errors.Is(err, ErrCorruptBlob) {
		t.Errorf("wrong magic error = %v, want ErrCorruptBlob", err)
	}
}
