// uavcan-node is a bus participant on a CAN segment emulated over UDP.
//
// The node publishes NodeStatus periodically, tracks the status of every
// other node on the segment and logs changes. Segment members find each other
// over mDNS unless discovery is disabled.
//
// Usage:
//
//	uavcan-node [options]
//
// Options:
//
//	-config     Path to a TOML config file (see ex.config.toml)
//	-node-id    Node ID 1-127, 0 stays passive (default: 0)
//	-bus        Segment name (default: "default")
//	-listen     UDP listen address (default: ":9382")
//	-peer       Static peer address, repeatable
//	-discovery  Find segment members over mDNS (default: true)
//	-log-level  disabled, error, warn, info, debug or trace (default: info)
//
// Example:
//
//	uavcan-node -node-id 10 -bus bench -peer 192.168.1.20:9382
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/backkem/uavcan/pkg/can"
	"github.com/backkem/uavcan/pkg/discovery"
	"github.com/backkem/uavcan/pkg/node"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// spinSlice bounds one Spin call so the main loop can notice shutdown.
const spinSlice = 100 * time.Millisecond

// peerRefreshInterval is how often the segment is browsed for new members.
const peerRefreshInterval = 30 * time.Second

type peerList []string

func (p *peerList) String() string     { return strings.Join(*p, ",") }
func (p *peerList) Set(v string) error { *p = append(*p, v); return nil }

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("node error: %v", err)
	}
}

func parseFlags(args []string) (serviceConfig, error) {
	fs := flag.NewFlagSet("uavcan-node", flag.ContinueOnError)

	var (
		configPath string
		nodeID     uint
		bus        string
		listen     string
		peers      peerList
		disc       bool
		logLevel   string
	)
	fs.StringVar(&configPath, "config", "", "Path to a TOML config file")
	fs.UintVar(&nodeID, "node-id", 0, "Node ID 1-127, 0 stays passive")
	fs.StringVar(&bus, "bus", "", "Segment name")
	fs.StringVar(&listen, "listen", "", "UDP listen address")
	fs.Var(&peers, "peer", "Static peer address, repeatable")
	fs.BoolVar(&disc, "discovery", true, "Find segment members over mDNS")
	fs.StringVar(&logLevel, "log-level", "", "Log level")

	if err := fs.Parse(args); err != nil {
		return serviceConfig{}, err
	}

	cfg := defaultServiceConfig()
	if configPath != "" {
		loaded, err := loadServiceConfig(configPath)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg = loaded
	}

	// Flags set explicitly override the file.
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			if nodeID > uint(transfer.NodeIDMax) {
				flagErr = fmt.Errorf("node-id %d out of range", nodeID)
				return
			}
			cfg.NodeID = transfer.NodeID(nodeID)
		case "bus":
			cfg.Bus = strings.TrimSpace(bus)
		case "listen":
			cfg.ListenAddr = strings.TrimSpace(listen)
		case "peer":
			cfg.Peers = append(cfg.Peers, normalizePeers(peers)...)
		case "discovery":
			cfg.Discovery = disc
		case "log-level":
			lvl, err := parseLogLevel(logLevel)
			if err != nil {
				flagErr = err
				return
			}
			cfg.LogLevel = lvl
		}
	})
	if flagErr != nil {
		return serviceConfig{}, flagErr
	}

	if err := cfg.validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func newLoggerFactory(level logging.LogLevel) logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	return lf
}

func run(ctx context.Context, cfg serviceConfig) error {
	lf := newLoggerFactory(cfg.LogLevel)
	logger := lf.NewLogger("uavcan-node")

	var peers []net.Addr
	for _, p := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return fmt.Errorf("resolve peer %q: %w", p, err)
		}
		peers = append(peers, addr)
	}

	bus, err := can.NewUDP(can.UDPConfig{
		ListenAddr:    cfg.ListenAddr,
		Peers:         peers,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer bus.Close()

	n, err := node.NewStandalone(node.Config{
		Driver:        bus,
		NodeID:        cfg.NodeID,
		PoolBlocks:    cfg.PoolBlocks,
		FailurePolicy: cfg.FailurePolicy,
		LoggerFactory: lf,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	pub, err := startStatusPublisher(n, cfg.StatusInterval, cfg.VendorCode, lf)
	if err != nil {
		return fmt.Errorf("status publisher: %w", err)
	}
	defer pub.stop()

	if _, err := newMonitor(n, cfg.OfflineTimeout, lf); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	if cfg.Discovery {
		seg, err := startSegment(ctx, cfg, bus, n.NodeID(), lf)
		if err != nil {
			return err
		}
		defer seg.close()
	}

	logger.Infof("node %s on bus %q listening on %s", n.NodeID(), cfg.Bus, bus.LocalAddr())

	for ctx.Err() == nil {
		if err := n.SpinFor(spinSlice); err != nil {
			logger.Warnf("spin: %v", err)
		}
	}

	st := n.Dispatcher().Stats()
	logger.Infof("shutting down: rx=%d tx=%d transfers rx=%d tx=%d dropped=%d",
		st.FramesRx, st.FramesTx, st.TransfersRx, st.TransfersTx, bus.Dropped())
	return nil
}

// segment advertises this node and adds discovered members as bus peers.
type segment struct {
	adv    *discovery.Advertiser
	cancel context.CancelFunc
	done   chan struct{}
}

func startSegment(ctx context.Context, cfg serviceConfig, bus *can.UDP, id transfer.NodeID, lf logging.LoggerFactory) (*segment, error) {
	port := discovery.DefaultPort
	if addr, ok := bus.LocalAddr().(*net.UDPAddr); ok {
		port = addr.Port
	}

	adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Instance:      cfg.Instance,
		Port:          port,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	if err := adv.Advertise(discovery.SegmentTXT{Bus: cfg.Bus, NodeID: id}); err != nil {
		return nil, err
	}

	browser, err := discovery.NewBrowser(discovery.BrowserConfig{LoggerFactory: lf})
	if err != nil {
		adv.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &segment{adv: adv, cancel: cancel, done: make(chan struct{})}
	logger := lf.NewLogger("segment")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(peerRefreshInterval)
		defer ticker.Stop()

		for {
			peers, err := browser.Collect(ctx, cfg.Bus, adv.InstanceName())
			if err != nil {
				logger.Warnf("browse: %v", err)
			}
			for _, p := range peers {
				addr, err := p.Addr()
				if err != nil {
					continue
				}
				bus.AddPeer(addr)
			}
			logger.Debugf("%d segment peers", bus.PeerCount())

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return s, nil
}

func (s *segment) close() {
	s.cancel()
	<-s.done
	s.adv.Close()
}
