package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/backkem/uavcan/pkg/discovery"
	"github.com/backkem/uavcan/pkg/node"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// serviceConfig is the runtime configuration of uavcan-node.
type serviceConfig struct {
	NodeID         transfer.NodeID
	Bus            string
	ListenAddr     string
	Peers          []string
	Discovery      bool
	Instance       string
	StatusInterval time.Duration
	OfflineTimeout time.Duration
	VendorCode     uint16
	LogLevel       logging.LogLevel
	PoolBlocks     int
	FailurePolicy  node.FailurePolicy
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Bus:            "default",
		ListenAddr:     fmt.Sprintf(":%d", discovery.DefaultPort),
		Discovery:      true,
		StatusInterval: time.Second,
		OfflineTimeout: monitorOfflineTimeout,
		LogLevel:       logging.LogLevelInfo,
		FailurePolicy:  node.FailureLog,
	}
}

// uavcan-node config.toml keys.
type fileConfig struct {
	NodeID         int      `toml:"node_id"`
	Bus            string   `toml:"bus"`
	Listen         string   `toml:"listen"`
	Peers          []string `toml:"peers"`
	Discovery      bool     `toml:"discovery"`
	Instance       string   `toml:"instance"`
	StatusInterval string   `toml:"status_interval"`
	OfflineTimeout string   `toml:"offline_timeout"`
	VendorCode     int      `toml:"vendor_code"`
	LogLevel       string   `toml:"log_level"`
	PoolBlocks     int      `toml:"pool_blocks"`
	FailurePolicy  string   `toml:"failure_policy"`
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load node config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("node_id") {
		if raw.NodeID < 0 || raw.NodeID > int(transfer.NodeIDMax) {
			return serviceConfig{}, fmt.Errorf("node_id %d out of range", raw.NodeID)
		}
		cfg.NodeID = transfer.NodeID(raw.NodeID)
	}

	if meta.IsDefined("bus") {
		cfg.Bus = strings.TrimSpace(raw.Bus)
	}

	if meta.IsDefined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}

	if meta.IsDefined("peers") {
		cfg.Peers = normalizePeers(raw.Peers)
	}

	if meta.IsDefined("discovery") {
		cfg.Discovery = raw.Discovery
	}

	if meta.IsDefined("instance") {
		cfg.Instance = strings.TrimSpace(raw.Instance)
	}

	if meta.IsDefined("status_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StatusInterval))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse status_interval: %w", err)
		}
		cfg.StatusInterval = d
	}

	if meta.IsDefined("offline_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.OfflineTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse offline_timeout: %w", err)
		}
		cfg.OfflineTimeout = d
	}

	if meta.IsDefined("vendor_code") {
		if raw.VendorCode < 0 || raw.VendorCode > 0xFFFF {
			return serviceConfig{}, fmt.Errorf("vendor_code %d out of range", raw.VendorCode)
		}
		cfg.VendorCode = uint16(raw.VendorCode)
	}

	if meta.IsDefined("log_level") {
		lvl, err := parseLogLevel(raw.LogLevel)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.LogLevel = lvl
	}

	if meta.IsDefined("pool_blocks") {
		cfg.PoolBlocks = raw.PoolBlocks
	}

	if meta.IsDefined("failure_policy") {
		p, err := parseFailurePolicy(raw.FailurePolicy)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.FailurePolicy = p
	}

	return cfg, nil
}

func (c serviceConfig) validate() error {
	if c.NodeID != transfer.NodeIDBroadcast && !c.NodeID.IsUnicast() {
		return node.ErrInvalidNodeID
	}
	if c.Bus == "" {
		return discovery.ErrInvalidBusName
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.StatusInterval < time.Millisecond || c.StatusInterval%time.Millisecond != 0 {
		return fmt.Errorf("status interval must be a positive whole number of milliseconds, got %v", c.StatusInterval)
	}
	if c.OfflineTimeout%time.Millisecond != 0 {
		return fmt.Errorf("offline timeout must be a whole number of milliseconds, got %v", c.OfflineTimeout)
	}
	if c.OfflineTimeout <= c.StatusInterval {
		return fmt.Errorf("offline timeout %v must exceed status interval %v", c.OfflineTimeout, c.StatusInterval)
	}
	if c.PoolBlocks < 0 {
		return node.ErrInvalidPool
	}
	for _, p := range c.Peers {
		if _, err := net.ResolveUDPAddr("udp", p); err != nil {
			return fmt.Errorf("peer %q: %w", p, err)
		}
	}
	return nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func parseFailurePolicy(s string) (node.FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "log":
		return node.FailureLog, nil
	case "fatal":
		return node.FailureFatal, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

func normalizePeers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
