package can

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// UDPConfig configures a UDP bus driver.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection is created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":9382").
	// Ignored if Conn is provided.
	ListenAddr string

	// Peers are the initial members of the bus segment.
	Peers []net.Addr

	// QueueCapacity is the receive queue size. Default: DefaultQueueCapacity.
	QueueCapacity int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// UDP emulates a shared CAN bus over UDP: every transmitted frame is sent to
// every peer of the segment, and frames from any peer are received.
type UDP struct {
	conn    net.PacketConn
	rx      *Queue
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu     sync.RWMutex
	peers  map[string]net.Addr
	closed bool
}

// NewUDP creates a UDP bus driver and starts its read loop.
func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:    config.Conn,
		rx:      NewQueue(config.QueueCapacity),
		closeCh: make(chan struct{}),
		peers:   make(map[string]net.Addr),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("can-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	for _, p := range config.Peers {
		u.peers[p.String()] = p
	}

	if u.log != nil {
		u.log.Infof("starting UDP bus on %s with %d peers", u.conn.LocalAddr(), len(u.peers))
	}

	u.wg.Add(1)
	go u.readLoop()

	return u, nil
}

// AddPeer adds a member to the bus segment. Adding a known peer is a no-op.
func (u *UDP) AddPeer(addr net.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()

	key := addr.String()
	if _, ok := u.peers[key]; ok {
		return
	}
	u.peers[key] = addr
	if u.log != nil {
		u.log.Infof("added bus peer %s", key)
	}
}

// RemovePeer removes a member from the bus segment.
func (u *UDP) RemovePeer(addr net.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.peers, addr.String())
}

// PeerCount returns the number of peers.
func (u *UDP) PeerCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.peers)
}

// LocalAddr returns the local address the driver is listening on.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Receive implements Driver.
func (u *UDP) Receive() (Frame, bool, error) {
	return u.rx.Receive()
}

// Wait implements Driver.
func (u *UDP) Wait(timeout time.Duration) error {
	return u.rx.Wait(timeout)
}

// Transmit implements Driver. The frame is sent to every peer; the first
// write error is returned after all peers were tried.
func (u *UDP) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	peers := make([]net.Addr, 0, len(u.peers))
	for _, p := range u.peers {
		peers = append(peers, p)
	}
	u.mu.RUnlock()

	if len(peers) == 0 {
		return ErrNoPeers
	}

	data := f.Encode()
	var firstErr error
	for _, p := range peers {
		if _, err := u.conn.WriteTo(data, p); err != nil {
			if u.log != nil {
				u.log.Warnf("send to %s failed: %v", p, err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Dropped returns the number of frames lost to receive queue overflow.
func (u *UDP) Dropped() uint64 {
	return u.rx.Dropped()
}

// Close stops the read loop and closes the connection.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP bus")
	}

	close(u.closeCh)

	// Unblock the pending read.
	u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	u.rx.Close()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, 64)
	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				continue
			}
		}

		f, err := DecodeFrame(buf[:n])
		if err != nil {
			if u.log != nil {
				u.log.Debugf("discarding %d bytes from %v: %v", n, addr, err)
			}
			continue
		}

		if err := u.rx.Push(f); err != nil && u.log != nil {
			u.log.Warnf("dropping frame %v from %v: %v", f, addr, err)
		}
	}
}

var _ Driver = (*UDP)(nil)
