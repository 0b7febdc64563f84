package sdo

import (
	"testing"

	"github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	server := DefaultServerParams(0x10)
	assert.EqualValues(t, 0x610, server.CobIdClientToServer)
	assert.EqualValues(t, 0x590, server.CobIdServerToClient)
	assert.EqualValues(t, 0, server.NodeId)
	assert.True(t, server.Valid())

	client := DefaultClientParams(0x10)
	assert.EqualValues(t, 0x10, client.NodeId)
	assert.False(t, Params{CobIdInvalid | 0x610, 0x590, 0}.Valid())
	assert.False(t, Params{}.Valid())
}

func TestCanId(t *testing.T) {
	assert.EqualValues(t, 0x610, CanId(0x610))
	assert.EqualValues(t, 0x610, CanId(CobIdInvalid|CobIdDynamic|0x610))
	assert.EqualValues(t, can.CanEffFlag|0x1234567, CanId(CobIdExtended|0x1234567))
	assert.True(t, IsCobIdValid(0x610))
	assert.False(t, IsCobIdValid(CobIdInvalid|0x610))
}

func TestParamsCheck(t *testing.T) {
	current := DefaultServerParams(0x10)
	invalid := Params{CobIdInvalid | 0x610, CobIdInvalid | 0x590, 0}

	assert.Nil(t, current.Check(current))
	assert.Nil(t, current.Check(invalid))
	// identifiers of a valid channel cannot change
	assert.Equal(t, od.ErrInvalidValue, current.Check(Params{0x200, 0x590, 0}))
	assert.Nil(t, invalid.Check(Params{0x200, 0x280, 0}))
	// restricted identifiers
	assert.Equal(t, od.ErrInvalidValue, invalid.Check(Params{0x701, 0x280, 0}))
	assert.Equal(t, od.ErrInvalidValue, invalid.Check(Params{0x200, 0x5A0, 0}))
	// 11 bit identifier out of range
	assert.Equal(t, od.ErrInvalidValue, invalid.Check(Params{0x800, 0x280, 0}))
	assert.Nil(t, invalid.Check(Params{CobIdExtended | 0x800, 0x280, 0}))
	assert.Equal(t, od.ErrInvalidValue, invalid.Check(Params{0x200, 0x280, 128}))
	// never configured
	assert.Nil(t, Params{}.Check(Params{0x200, 0x280, 0x20}))
	assert.Equal(t, od.ErrInvalidValue, Params{}.Check(DefaultClientParams(0x20)))
}

func TestServerSetParams(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.server.SetParams(Params{CobIdInvalid | 0x610, CobIdInvalid | 0x590, 0}))
	assert.Empty(t, f.send(initiate(0x40, indexU8, 0, 0)...))

	require.Nil(t, f.server.SetParams(Params{0x200, 0x280, 0}))
	frame := can.NewFrame(0x200, 0, 8)
	copy(frame.Data[:], initiate(0x40, indexU8, 0, 0))
	require.Nil(t, f.rawPort.Send(frame))
	f.network.Flush()
	require.Len(t, f.raw.frames, 1)
	assert.EqualValues(t, 0x280, f.raw.frames[0].ID)
	assert.EqualValues(t, 0x4F, f.raw.frames[0].Data[0])
	assert.Equal(t, Params{0x200, 0x280, 0}, f.server.Params())

	// busy during a transfer
	f.raw.frames = nil
	require.Nil(t, f.server.SetParams(Params{CobIdInvalid | 0x610, CobIdInvalid | 0x590, 0}))
	require.Nil(t, f.server.SetParams(DefaultServerParams(testNodeId)))
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	assert.Equal(t, ErrBusy, f.server.SetParams(Params{CobIdInvalid, CobIdInvalid, 0}))
}

func TestClientSetServer(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, ErrInvalidArgs, f.client.SetServer(200))
	require.Nil(t, f.client.SetServer(0x20))
	assert.Equal(t, DefaultClientParams(0x20), f.client.Params())

	// nobody answers on the new channel
	var results []Result
	require.Nil(t, f.client.Upload(indexU8, 0, func(r Result) { results = append(results, r) }))
	f.network.Flush()
	assert.Empty(t, results)
	assert.Equal(t, ErrBusy, f.client.SetServer(testNodeId))
	f.clock.Advance(DefaultClientTimeout)
	require.Len(t, results, 1)
	assert.Equal(t, AbortTimeout, results[0].Err)

	require.Nil(t, f.client.SetServer(testNodeId))
	result := f.upload(indexU8, 0, false)
	require.Nil(t, result.Err)
	assert.Equal(t, []byte{0x12}, result.Data)
}
