package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/backkem/uavcan/pkg/node"
	"github.com/pion/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigExample(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NodeID != 42 {
		t.Fatalf("unexpected node id: %v", cfg.NodeID)
	}
	if cfg.Bus != "bench" {
		t.Fatalf("unexpected bus: %q", cfg.Bus)
	}
	if cfg.ListenAddr != ":9382" {
		t.Fatalf("unexpected listen: %q", cfg.ListenAddr)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1] != "127.0.0.1:9384" {
		t.Fatalf("unexpected peers: %+v", cfg.Peers)
	}
	if cfg.Discovery {
		t.Fatalf("expected discovery disabled")
	}
	if cfg.Instance != "bench-node-42" {
		t.Fatalf("unexpected instance: %q", cfg.Instance)
	}
	if cfg.StatusInterval != 500*time.Millisecond {
		t.Fatalf("unexpected status interval: %v", cfg.StatusInterval)
	}
	if cfg.OfflineTimeout != 2*time.Second {
		t.Fatalf("unexpected offline timeout: %v", cfg.OfflineTimeout)
	}
	if cfg.VendorCode != 0x1234 {
		t.Fatalf("unexpected vendor code: %#x", cfg.VendorCode)
	}
	if cfg.LogLevel != logging.LogLevelDebug {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.PoolBlocks != 128 {
		t.Fatalf("unexpected pool blocks: %d", cfg.PoolBlocks)
	}
	if cfg.FailurePolicy != node.FailureFatal {
		t.Fatalf("unexpected failure policy: %v", cfg.FailurePolicy)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	cfg, err := loadServiceConfig(writeConfig(t, "bus = \"lab\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	want := defaultServiceConfig()
	want.Bus = "lab"
	if cfg.NodeID != 0 || !cfg.Discovery || cfg.StatusInterval != want.StatusInterval ||
		cfg.ListenAddr != want.ListenAddr || cfg.LogLevel != want.LogLevel {
		t.Fatalf("config = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadServiceConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "colour = \"red\"\n", "unknown key"},
		{"node id range", "node_id = 200\n", "node_id"},
		{"bad duration", "status_interval = \"soon\"\n", "status_interval"},
		{"bad log level", "log_level = \"loud\"\n", "log level"},
		{"bad policy", "failure_policy = \"ignore\"\n", "failure policy"},
		{"vendor range", "vendor_code = 70000\n", "vendor_code"},
		{"syntax", "bus = \n", "load node config"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadServiceConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("loadServiceConfig() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*serviceConfig)
		wantErr bool
	}{
		{"defaults", func(*serviceConfig) {}, false},
		{"active", func(c *serviceConfig) { c.NodeID = 127 }, false},
		{"node id", func(c *serviceConfig) { c.NodeID = 128 }, true},
		{"empty bus", func(c *serviceConfig) { c.Bus = "" }, true},
		{"empty listen", func(c *serviceConfig) { c.ListenAddr = "" }, true},
		{"zero interval", func(c *serviceConfig) { c.StatusInterval = 0 }, true},
		{"sub-millisecond interval", func(c *serviceConfig) { c.StatusInterval = 500 * time.Nanosecond }, true},
		{"fractional interval", func(c *serviceConfig) { c.StatusInterval = 1500 * time.Microsecond }, true},
		{"fractional timeout", func(c *serviceConfig) { c.OfflineTimeout = 3*time.Second + time.Microsecond }, true},
		{"timeout below interval", func(c *serviceConfig) { c.OfflineTimeout = c.StatusInterval }, true},
		{"negative pool", func(c *serviceConfig) { c.PoolBlocks = -1 }, true},
		{"bad peer", func(c *serviceConfig) { c.Peers = []string{"no-port"} }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultServiceConfig()
			tc.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseFlagsOverridesFile(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-config", "ex.config.toml",
		"-node-id", "7",
		"-peer", "10.0.0.1:9382",
		"-log-level", "warn",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.NodeID != 7 {
		t.Errorf("NodeID = %v, want 7", cfg.NodeID)
	}
	if cfg.Bus != "bench" {
		t.Errorf("Bus = %q, want file value", cfg.Bus)
	}
	if len(cfg.Peers) != 3 || cfg.Peers[2] != "10.0.0.1:9382" {
		t.Errorf("Peers = %v", cfg.Peers)
	}
	if cfg.LogLevel != logging.LogLevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	if cfg.Discovery {
		t.Error("Discovery = true, want file value false")
	}
}

func TestParseFlagsErrors(t *testing.T) {
	tests := [][]string{
		{"-node-id", "300"},
		{"-log-level", "loud"},
		{"-bus", ""},
		{"-config", "missing.toml"},
	}
	for _, args := range tests {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) succeeded, want error", args)
		}
	}
}

func TestParseFlagsRejectsSubMillisecondInterval(t *testing.T) {
	path := writeConfig(t, "status_interval = \"500ns\"\n")
	if _, err := parseFlags([]string{"-config", path}); err == nil || !strings.Contains(err.Error(), "status interval") {
		t.Errorf("parseFlags() error = %v, want status interval rejected", err)
	}
}
