package main

import (
	"sort"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/dispatch"
	"github.com/backkem/uavcan/pkg/node"
	"github.com/backkem/uavcan/pkg/scheduler"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// monitorOfflineTimeout is how long a node may stay silent before it is
// reported offline.
const monitorOfflineTimeout = 3 * time.Second

type peerEntry struct {
	ID       transfer.NodeID
	Status   nodeStatus
	LastSeen clock.Monotonic
}

// monitor tracks the NodeStatus of every node on the bus.
type monitor struct {
	n       node.Node
	timeout time.Duration
	peers   map[transfer.NodeID]*peerEntry
	log     logging.LeveledLogger

	// onChange is called when a node appears, changes health or mode, or
	// goes offline (online is false).
	onChange func(e peerEntry, online bool)
}

func newMonitor(n node.Node, timeout time.Duration, lf logging.LoggerFactory) (*monitor, error) {
	if timeout <= 0 {
		timeout = monitorOfflineTimeout
	}
	m := &monitor{
		n:       n,
		timeout: timeout,
		peers:   make(map[transfer.NodeID]*peerEntry),
	}
	if lf != nil {
		m.log = lf.NewLogger("monitor")
	}

	err := n.Dispatcher().RegisterListener(dispatch.ListenerDescriptor{
		DataType:  nodeStatusDataType,
		Kind:      transfer.KindMessageBroadcast,
		Signature: nodeStatusSignature,
		Name:      "uavcan.protocol.NodeStatus",
	}, dispatch.ListenerFunc(m.onTransfer))
	if err != nil {
		return nil, err
	}

	if _, err := n.Scheduler().AddPeriodic(n.MonotonicTime().Add(timeout), timeout/2, m.sweep); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *monitor) onTransfer(t *transfer.IncomingTransfer) {
	if t.Anonymous() {
		return
	}
	st, err := decodeNodeStatus(t.Payload)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("node %s: %v", t.Source, err)
		}
		return
	}

	e, ok := m.peers[t.Source]
	changed := !ok || e.Status.Health != st.Health || e.Status.Mode != st.Mode
	if !ok {
		e = &peerEntry{ID: t.Source}
		m.peers[t.Source] = e
	}
	e.Status = st
	e.LastSeen = t.Timestamp

	if changed {
		if m.log != nil {
			m.log.Infof("node %s: health=%s mode=%s uptime=%ds", t.Source, st.Health, st.Mode, st.Uptime)
		}
		if m.onChange != nil {
			m.onChange(*e, true)
		}
	}
}

func (m *monitor) sweep(ev scheduler.TimerEvent) {
	for id, e := range m.peers {
		if ev.Real.Sub(e.LastSeen) <= m.timeout {
			continue
		}
		delete(m.peers, id)
		if m.log != nil {
			m.log.Infof("node %s offline", id)
		}
		if m.onChange != nil {
			m.onChange(*e, false)
		}
	}
}

// online returns the known nodes ordered by node ID.
func (m *monitor) online() []peerEntry {
	out := make([]peerEntry, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
