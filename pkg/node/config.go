package node

import (
	"time"

	"github.com/backkem/uavcan/pkg/can"
	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/marshal"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/status"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// Memory defaults.
const (
	DefaultPoolBlocks     = 256
	DefaultMarshalBuffers = 2
)

// Config holds all configuration for a Standalone node.
type Config struct {
	// Driver is the bus driver. Required.
	Driver can.Driver

	// Clock is the time base. Default: system clock.
	Clock clock.Clock

	// NodeID, if set, is assigned at construction. Otherwise the node starts
	// passive and stays so until SetNodeID succeeds.
	NodeID transfer.NodeID

	// Memory pool - Optional
	PoolBlocks    int // number of blocks (default: 256)
	PoolBlockSize int // bytes per block (default: pool.DefaultBlockSize)

	// Marshal scratch buffers - Optional
	MarshalBuffers    int // default: 2
	MarshalBufferSize int // default: marshal.DefaultBufferSize

	// Reassembly - Optional (transfer package defaults if zero)
	ReassemblySlots   int
	ReassemblyTimeout time.Duration
	DuplicateWindow   time.Duration

	// FailurePolicy selects what RegisterInternalFailure does.
	FailurePolicy FailurePolicy

	// FatalHandler is the platform fatal-error hook.
	// Default: status.PanicHandler.
	FatalHandler status.FatalHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Driver == nil {
		return ErrDriverRequired
	}

	if c.NodeID != transfer.NodeIDBroadcast && !c.NodeID.IsUnicast() {
		return ErrInvalidNodeID
	}

	if c.PoolBlocks < 0 || c.PoolBlockSize < 0 || c.MarshalBuffers < 0 || c.MarshalBufferSize < 0 {
		return ErrInvalidPool
	}

	if c.FailurePolicy > FailureFatal {
		return ErrInvalidFailurePolicy
	}

	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = clock.NewSystemClock()
	}

	if c.PoolBlocks == 0 {
		c.PoolBlocks = DefaultPoolBlocks
	}

	if c.PoolBlockSize == 0 {
		c.PoolBlockSize = pool.DefaultBlockSize
	}

	if c.MarshalBuffers == 0 {
		c.MarshalBuffers = DefaultMarshalBuffers
	}

	if c.MarshalBufferSize == 0 {
		c.MarshalBufferSize = marshal.DefaultBufferSize
	}
}
