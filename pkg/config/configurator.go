package config

import (
	"context"
	"time"

	"github.com/samsamfire/gosdo/pkg/sdo"
)

// DefaultTimeout bounds each access made by a [NodeConfigurator]
const DefaultTimeout = 3 * time.Second

// NodeConfigurator provides helper methods for
// reading / updating CANopen reserved configuration objects
// i.e. objects between 0x1000 and 0x2000.
// No EDS files need to be loaded for configuring these parameters
// This uses an SDO client to access the different objects
type NodeConfigurator struct {
	client  *sdo.SDOClient
	nodeId  uint8
	timeout time.Duration
}

// Create a new [NodeConfigurator] for given ID and SDOClient
func NewNodeConfigurator(nodeId uint8, client *sdo.SDOClient) *NodeConfigurator {
	configurator := NodeConfigurator{client: client, nodeId: nodeId, timeout: DefaultTimeout}
	return &configurator
}

// SetTimeout changes the time allowed for each access, 0 waits forever
func (config *NodeConfigurator) SetTimeout(timeout time.Duration) {
	config.timeout = timeout
}

func (config *NodeConfigurator) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if config.timeout == 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, config.timeout)
}

func (config *NodeConfigurator) readUint8(ctx context.Context, index uint16, subindex uint8) (uint8, error) {
	ctx, cancel := config.context(ctx)
	defer cancel()
	return config.client.ReadUint8(ctx, config.nodeId, index, subindex)
}

func (config *NodeConfigurator) readUint32(ctx context.Context, index uint16, subindex uint8) (uint32, error) {
	ctx, cancel := config.context(ctx)
	defer cancel()
	return config.client.ReadUint32(ctx, config.nodeId, index, subindex)
}

func (config *NodeConfigurator) readString(ctx context.Context, index uint16, subindex uint8) (string, error) {
	ctx, cancel := config.context(ctx)
	defer cancel()
	return config.client.ReadString(ctx, config.nodeId, index, subindex)
}

func (config *NodeConfigurator) write(ctx context.Context, index uint16, subindex uint8, value any) error {
	ctx, cancel := config.context(ctx)
	defer cancel()
	return config.client.WriteRaw(ctx, config.nodeId, index, subindex, value, false)
}
