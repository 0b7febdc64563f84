package sdo

import (
	"fmt"

	canopen "github.com/samsamfire/gosdo"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/od"
)

// COB-ID bits of the SDO parameter record (0x1200 / 0x1280)
const (
	CobIdInvalid  uint32 = 0x80000000
	CobIdDynamic  uint32 = 0x40000000
	CobIdExtended uint32 = 0x20000000
	cobIdStdMask  uint32 = 0x7FF
	cobIdExtMask  uint32 = 0x1FFFFFFF
)

// ParamsHighestSubindex is sub-index 0 of an SDO parameter record
const ParamsHighestSubindex uint8 = 3

// Params is the communication parameter record of an SDO channel.
// NodeId is the node id of the peer, 0 if unknown.
type Params struct {
	CobIdClientToServer uint32
	CobIdServerToClient uint32
	NodeId              uint8
}

// DefaultServerParams returns the default channel of the server of nodeId,
// 0x600+nodeId from the client and 0x580+nodeId to the client.
func DefaultServerParams(nodeId uint8) Params {
	return Params{
		CobIdClientToServer: ClientBaseId + uint32(nodeId),
		CobIdServerToClient: ServerBaseId + uint32(nodeId),
	}
}

// DefaultClientParams returns the default channel used to reach the server
// of serverNodeId.
func DefaultClientParams(serverNodeId uint8) Params {
	p := DefaultServerParams(serverNodeId)
	p.NodeId = serverNodeId
	return p
}

// IsCobIdValid reports whether the valid bit (bit 31, active low) is clear
func IsCobIdValid(cobId uint32) bool {
	return cobId&CobIdInvalid == 0
}

// CanId extracts the identifier of cobId, with [can.CanEffFlag] set for
// 29 bit identifiers.
func CanId(cobId uint32) uint32 {
	if cobId&CobIdExtended != 0 {
		return can.CanEffFlag | cobId&cobIdExtMask
	}
	return cobId & cobIdStdMask
}

// Valid reports whether both directions of the channel are usable
func (p Params) Valid() bool {
	return IsCobIdValid(p.CobIdClientToServer) && IsCobIdValid(p.CobIdServerToClient) &&
		CanId(p.CobIdClientToServer) != 0 && CanId(p.CobIdServerToClient) != 0
}

func (p Params) String() string {
	return fmt.Sprintf("c2s x%x s2c x%x node %d", p.CobIdClientToServer, p.CobIdServerToClient, p.NodeId)
}

func checkCobId(previous uint32, next uint32) error {
	if next&CobIdExtended == 0 && next&cobIdExtMask&^cobIdStdMask != 0 {
		// 11 bit identifier with bits set above bit 10
		return od.ErrInvalidValue
	}
	if !IsCobIdValid(next) {
		return nil
	}
	canId := CanId(next)
	if IsCobIdValid(previous) && CanId(previous) != 0 && canId != CanId(previous) {
		// identifier can only be changed while the channel is invalid
		return od.ErrInvalidValue
	}
	if canId&can.CanEffFlag == 0 && canId != CanId(previous) && canopen.IsIDRestricted(uint16(canId)) {
		return od.ErrInvalidValue
	}
	return nil
}

// Check verifies that the channel may go from p to next
func (p Params) Check(next Params) error {
	if next.NodeId > canopen.NodeIdMax {
		return od.ErrInvalidValue
	}
	if err := checkCobId(p.CobIdClientToServer, next.CobIdClientToServer); err != nil {
		return err
	}
	return checkCobId(p.CobIdServerToClient, next.CobIdServerToClient)
}
