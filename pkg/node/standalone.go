package node

import (
	"github.com/backkem/uavcan/pkg/dispatch"
	"github.com/backkem/uavcan/pkg/marshal"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/scheduler"
)

// Standalone is a Node that owns its memory pool, marshal buffers,
// dispatcher and scheduler.
type Standalone struct {
	*Core

	pool    *pool.Fixed
	buffers *marshal.Static
}

// NewStandalone creates a node from config.
func NewStandalone(config Config) (*Standalone, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	p := pool.NewFixed(config.PoolBlocks, config.PoolBlockSize)
	buffers := marshal.NewStatic(config.MarshalBuffers, config.MarshalBufferSize)

	disp, err := dispatch.New(dispatch.Config{
		Driver:            config.Driver,
		Allocator:         p,
		ReassemblySlots:   config.ReassemblySlots,
		ReassemblyTimeout: config.ReassemblyTimeout,
		DuplicateWindow:   config.DuplicateWindow,
		LoggerFactory:     config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{
		Dispatcher:    disp,
		Driver:        config.Driver,
		Clock:         config.Clock,
		FatalHandler:  config.FatalHandler,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	if config.NodeID.IsUnicast() {
		disp.SetNodeID(config.NodeID)
	}

	return &Standalone{
		Core: NewCore(CoreConfig{
			Scheduler:     sched,
			Allocator:     p,
			Buffers:       buffers,
			FailurePolicy: config.FailurePolicy,
			FatalHandler:  config.FatalHandler,
			LoggerFactory: config.LoggerFactory,
		}),
		pool:    p,
		buffers: buffers,
	}, nil
}

// PoolStats returns the memory pool usage.
func (n *Standalone) PoolStats() pool.Stats {
	return n.pool.Stats()
}

// LeasedBuffers returns the number of marshal buffers currently leased.
func (n *Standalone) LeasedBuffers() int {
	return n.buffers.Leased()
}

var _ Node = (*Standalone)(nil)
