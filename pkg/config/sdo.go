package config

import (
	"context"
	"fmt"

	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
)

// Read the parameters of SDO server channel n (0x1200+n).
// The node id sub-index is optional.
func (config *NodeConfigurator) ReadSDOServerParams(ctx context.Context, n uint8) (sdo.Params, error) {
	return config.readSDOParams(ctx, od.EntrySDOServerParameter+uint16(n))
}

// Read the parameters of SDO client channel n (0x1280+n)
func (config *NodeConfigurator) ReadSDOClientParams(ctx context.Context, n uint8) (sdo.Params, error) {
	return config.readSDOParams(ctx, od.EntrySDOClientParameter+uint16(n))
}

func (config *NodeConfigurator) readSDOParams(ctx context.Context, index uint16) (sdo.Params, error) {
	params := sdo.Params{}
	highest, err := config.readUint8(ctx, index, 0)
	if err != nil {
		return params, err
	}
	params.CobIdClientToServer, err = config.readUint32(ctx, index, 1)
	if err != nil {
		return params, err
	}
	params.CobIdServerToClient, err = config.readUint32(ctx, index, 2)
	if err != nil {
		return params, err
	}
	if highest >= sdo.ParamsHighestSubindex {
		params.NodeId, err = config.readUint8(ctx, index, 3)
	}
	return params, err
}

// Update the parameters of SDO server channel n (0x1200+n). Identifiers can
// only change while a channel is invalid, so the channel is invalidated
// first. The default channel (n = 0) cannot be changed.
func (config *NodeConfigurator) WriteSDOServerParams(ctx context.Context, n uint8, params sdo.Params) error {
	if n == 0 {
		return fmt.Errorf("%w : default sdo server channel is read only", sdo.ErrInvalidArgs)
	}
	index := od.EntrySDOServerParameter + uint16(n)
	for subindex := uint8(1); subindex <= 2; subindex++ {
		cobId, err := config.readUint32(ctx, index, subindex)
		if err != nil {
			return err
		}
		if !sdo.IsCobIdValid(cobId) {
			continue
		}
		if err := config.write(ctx, index, subindex, cobId|sdo.CobIdInvalid); err != nil {
			return err
		}
	}
	if err := config.write(ctx, index, 3, params.NodeId); err != nil {
		return err
	}
	if err := config.write(ctx, index, 1, params.CobIdClientToServer); err != nil {
		return err
	}
	return config.write(ctx, index, 2, params.CobIdServerToClient)
}
