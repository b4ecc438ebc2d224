package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/node"
	"github.com/backkem/uavcan/pkg/scheduler"
	"github.com/backkem/uavcan/pkg/status"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// NodeStatus message (uavcan.protocol.NodeStatus).
const (
	nodeStatusDataType  transfer.DataTypeID = 341
	nodeStatusSignature transfer.Signature  = 0x0F0868D0C1A7C6F1
	nodeStatusSize                          = 7
)

type health uint8

const (
	healthOK health = iota
	healthWarning
	healthError
	healthCritical
)

func (h health) String() string {
	switch h {
	case healthOK:
		return "ok"
	case healthWarning:
		return "warning"
	case healthError:
		return "error"
	case healthCritical:
		return "critical"
	default:
		return fmt.Sprintf("health(%d)", uint8(h))
	}
}

type opMode uint8

const (
	modeOperational    opMode = 0
	modeInitialization opMode = 1
	modeMaintenance    opMode = 2
	modeSoftwareUpdate opMode = 3
	modeOffline        opMode = 7
)

func (m opMode) String() string {
	switch m {
	case modeOperational:
		return "operational"
	case modeInitialization:
		return "initialization"
	case modeMaintenance:
		return "maintenance"
	case modeSoftwareUpdate:
		return "software-update"
	case modeOffline:
		return "offline"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// nodeStatus is the periodic heartbeat every active node publishes.
type nodeStatus struct {
	Uptime  uint32 // seconds
	Health  health
	Mode    opMode
	SubMode uint8
	Vendor  uint16
}

func (s nodeStatus) encode() [nodeStatusSize]byte {
	var b [nodeStatusSize]byte
	binary.LittleEndian.PutUint32(b[0:4], s.Uptime)
	b[4] = uint8(s.Health&0x3)<<6 | uint8(s.Mode&0x7)<<3 | s.SubMode&0x7
	binary.LittleEndian.PutUint16(b[5:7], s.Vendor)
	return b
}

func decodeNodeStatus(p []byte) (nodeStatus, error) {
	if len(p) < nodeStatusSize {
		return nodeStatus{}, fmt.Errorf("node status: %d bytes: %w", len(p), status.ErrInvalidMarshalData)
	}
	return nodeStatus{
		Uptime:  binary.LittleEndian.Uint32(p[0:4]),
		Health:  health(p[4] >> 6),
		Mode:    opMode(p[4] >> 3 & 0x7),
		SubMode: p[4] & 0x7,
		Vendor:  binary.LittleEndian.Uint16(p[5:7]),
	}, nil
}

// statusPublisher broadcasts NodeStatus on a periodic timer. Nothing is
// published while the node is passive.
type statusPublisher struct {
	n       node.Node
	started clock.Monotonic
	vendor  uint16
	timer   *scheduler.Timer
	log     logging.LeveledLogger

	health health
	mode   opMode
}

func startStatusPublisher(n node.Node, period time.Duration, vendor uint16, lf logging.LoggerFactory) (*statusPublisher, error) {
	p := &statusPublisher{
		n:       n,
		started: n.MonotonicTime(),
		vendor:  vendor,
		health:  healthOK,
		mode:    modeOperational,
	}
	if lf != nil {
		p.log = lf.NewLogger("status")
	}

	t, err := n.Scheduler().AddPeriodic(p.started, period, p.publish)
	if err != nil {
		return nil, err
	}
	p.timer = t
	return p, nil
}

func (p *statusPublisher) setHealth(h health) { p.health = h }
func (p *statusPublisher) setMode(m opMode)   { p.mode = m }

func (p *statusPublisher) stop() {
	p.timer.Cancel()
}

func (p *statusPublisher) publish(ev scheduler.TimerEvent) {
	if p.n.IsPassiveMode() {
		return
	}

	buf, err := p.n.MarshalBufferProvider().Lease()
	if err != nil {
		p.n.RegisterInternalFailure(err.Error())
		return
	}
	defer buf.Release()

	msg := nodeStatus{
		Uptime: uint32(ev.Scheduled.Sub(p.started) / time.Second),
		Health: p.health,
		Mode:   p.mode,
		Vendor: p.vendor,
	}
	b := msg.encode()
	if _, err := buf.Write(b[:]); err != nil {
		p.n.RegisterInternalFailure(err.Error())
		return
	}

	err = p.n.Dispatcher().Send(&transfer.OutgoingTransfer{
		DataType:  nodeStatusDataType,
		Kind:      transfer.KindMessageBroadcast,
		Priority:  transfer.PriorityLowest,
		Signature: nodeStatusSignature,
		Payload:   buf.Bytes(),
	})
	if err != nil && p.log != nil {
		p.log.Warnf("publish node status: %v", err)
	}
}
