package discovery

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 5 * time.Second

// Peer is a discovered member of a bus segment.
type Peer struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the UDP bus port.
	Port int

	// IPs contains the resolved addresses, sorted by preference.
	IPs []net.IP

	// TXT is the parsed segment record.
	TXT SegmentTXT
}

// Addr returns the UDP address of the peer's preferred IP.
func (p *Peer) Addr() (*net.UDPAddr, error) {
	if len(p.IPs) == 0 {
		return nil, ErrNoAddresses
	}
	return &net.UDPAddr{IP: p.IPs[0], Port: p.Port}, nil
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// BrowserConfig holds configuration for the Browser.
type BrowserConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds browse operations whose context has no deadline.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Browser discovers the members of bus segments.
type Browser struct {
	config   BrowserConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewBrowser creates a new Browser with the given configuration.
func NewBrowser(config BrowserConfig) (*Browser, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}

	b := &Browser{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("discovery")
	}
	return b, nil
}

// Browse streams the members of the segment named bus until the context is
// cancelled or the browse timeout expires. An empty bus matches every
// segment. Entries with malformed TXT records are skipped.
func (b *Browser) Browse(ctx context.Context, bus string) (<-chan Peer, error) {
	results := make(chan Peer)
	entries := make(chan *zeroconf.ServiceEntry)

	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
	}

	go func() {
		defer close(entries)
		if err := b.resolver.Browse(ctx, ServiceBus, DefaultDomain, entries); err != nil && b.log != nil {
			b.log.Warnf("browse %s failed: %v", ServiceBus, err)
		}
	}()

	go func() {
		defer cancel()
		defer close(results)

		for entry := range entries {
			peer, ok := b.toPeer(entry)
			if !ok || (bus != "" && peer.TXT.Bus != bus) {
				continue
			}
			select {
			case results <- peer:
			case <-ctx.Done():
				// Keep draining so the resolver goroutine can finish.
			}
		}
	}()

	return results, nil
}

// Collect browses and returns every member of bus found before the context
// or browse timeout ends, skipping instance self.
func (b *Browser) Collect(ctx context.Context, bus, self string) ([]Peer, error) {
	peers, err := b.Browse(ctx, bus)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Peer
	for p := range peers {
		if p.Instance == self || seen[p.Instance] {
			continue
		}
		seen[p.Instance] = true
		out = append(out, p)
	}
	return out, nil
}

func (b *Browser) toPeer(entry *zeroconf.ServiceEntry) (Peer, bool) {
	if entry == nil {
		return Peer{}, false
	}
	txt, err := ParseSegmentTXT(entry.Text)
	if err != nil {
		if b.log != nil {
			b.log.Debugf("ignoring %s: %v", entry.Instance, err)
		}
		return Peer{}, false
	}

	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)

	return Peer{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      SortIPsByPreference(ips),
		TXT:      *txt,
	}, true
}

// SortIPsByPreference orders addresses for reaching a bus peer: IPv4 first,
// then routable IPv6, then link-local and loopback addresses.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 99
	case ip.IsLoopback():
		return 80
	case ip.IsLinkLocalUnicast():
		return 50
	case ip.To4() != nil:
		return 0
	case ip.IsGlobalUnicast():
		return 10
	default:
		return 60
	}
}
