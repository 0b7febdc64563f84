package sdo

import (
	"encoding/binary"
	"testing"

	"github.com/samsamfire/gosdo/internal/crc"
	"github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initiate(command uint8, index uint16, subindex uint8, size uint32) []byte {
	raw := []byte{command, byte(index), byte(index >> 8), subindex, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(raw[4:], size)
	return raw
}

func segment(command uint8, data []byte) []byte {
	return append([]byte{command}, data...)
}

func TestServerSegmentedDownload(t *testing.T) {
	f := newFixture(t)
	data := pattern(10)
	replies := f.send(initiate(0x21, indexDomain, 0, 10)...)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x60, replies[0].raw[0])
	assert.Equal(t, ServerDownloadSegment, f.server.State())

	replies = f.send(segment(0x00, data[:7])...)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x20, replies[0].raw[0])

	replies = f.send(segment(0x10|4<<1|0x01, data[7:])...)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x30, replies[0].raw[0])
	assert.Equal(t, ServerWaiting, f.server.State())

	variable, _ := f.odict.Variable(indexDomain, 0)
	assert.Equal(t, data, variable.Bytes())
}

func TestServerToggleRejected(t *testing.T) {
	f := newFixture(t)
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	replies := f.send(segment(0x10, pattern(7))...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortToggleBit), replies[0])
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestServerSizeChecks(t *testing.T) {
	f := newFixture(t)

	// more data than indicated
	f.send(initiate(0x21, indexDomain, 0, 3)...)
	replies := f.send(segment(0x00, pattern(7))...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortDataLong), replies[0])

	// last segment before the indicated size
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	f.send(segment(0x00, pattern(7))...)
	replies = f.send(segment(0x10|6<<1|0x01, []byte{1})...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortDataShort), replies[0])

	// indicated size does not match a fixed size object
	replies = f.send(initiate(0x21, indexU32, 0, 8)...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexU32, 0, AbortDataLong), replies[0])
	replies = f.send(initiate(0xC6, indexU32, 0, 2)...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexU32, 0, AbortDataShort), replies[0])
}

func TestServerExpeditedWithoutSize(t *testing.T) {
	f := newFixture(t)
	replies := f.send(0x22, byte(indexU16&0xFF), byte(indexU16>>8), 0, 0xCD, 0xAB, 0xFF, 0xFF)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x60, replies[0].raw[0])
	variable, _ := f.odict.Variable(indexU16, 0)
	value, _ := variable.Value()
	assert.EqualValues(t, uint16(0xABCD), value)
}

func TestServerInvalidRequests(t *testing.T) {
	f := newFixture(t)
	replies := f.send(initiate(0xE0, indexU8, 2, 0)...)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexU8, 2, AbortCmd), replies[0])

	// abort or short frames while waiting are ignored
	abort := abortFrame(indexU8, 0, AbortGeneral)
	assert.Empty(t, f.send(abort.raw[:]...))
	require.Nil(t, f.rawPort.Send(can.NewFrame(testRxId, 0, 3)))
	assert.Empty(t, f.replies())

	// short frame during a transfer
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	require.Nil(t, f.rawPort.Send(can.NewFrame(testRxId, 0, 3)))
	replies = f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortCmd), replies[0])
}

func TestServerClientAbort(t *testing.T) {
	f := newFixture(t)
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	abort := abortFrame(indexDomain, 0, AbortGeneral)
	assert.Empty(t, f.send(abort.raw[:]...))
	assert.Equal(t, ServerWaiting, f.server.State())
	assert.Equal(t, 0, f.clock.Pending())
}

func TestServerTimeout(t *testing.T) {
	f := newFixture(t)
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	f.clock.Advance(DefaultServerTimeout)
	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortTimeout), replies[0])
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestServerStop(t *testing.T) {
	f := newFixture(t)
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	f.server.Stop()
	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortDataDeviceState), replies[0])
	assert.Equal(t, ServerStopped, f.server.State())

	assert.Empty(t, f.send(initiate(0x40, indexU8, 0, 0)...))
	f.server.Start()
	assert.Len(t, f.send(initiate(0x40, indexU8, 0, 0)...), 1)
}

func TestServerBlockDownloadCRC(t *testing.T) {
	data := []byte{1, 2, 3}
	checksum := crc.Compute(data)
	for _, valid := range []bool{true, false} {
		f := newFixture(t)
		replies := f.send(initiate(0xC6, indexDomain, 0, 3)...)
		require.Len(t, replies, 1)
		assert.Equal(t, [8]byte{0xA4, 0x00, 0x20, 0x00, 127}, replies[0].raw)

		replies = f.send(segment(0x81, data)...)
		require.Len(t, replies, 1)
		assert.Equal(t, [8]byte{0xA2, 1, 127}, replies[0].raw)

		end := checksum
		if !valid {
			end++
		}
		replies = f.send(0xC1|4<<2, byte(end), byte(end>>8))
		require.Len(t, replies, 1)
		variable, _ := f.odict.Variable(indexDomain, 0)
		if valid {
			assert.EqualValues(t, 0xA1, replies[0].raw[0])
			assert.Equal(t, data, variable.Bytes())
		} else {
			assert.Equal(t, abortFrame(indexDomain, 0, AbortCRC), replies[0])
			assert.Empty(t, variable.Bytes())
		}
		assert.Equal(t, ServerWaiting, f.server.State())
	}
}

func TestServerBlockDownloadGap(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.server.SetBlockMaxSize(4))
	data := pattern(35)
	seg := func(i int) []byte { return data[i*7 : i*7+7] }

	replies := f.send(initiate(0xC2, indexDomain, 0, 35)...)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 4, replies[0].GetBlockSize())

	assert.Empty(t, f.send(segment(1, seg(0))...))
	// segment 2 lost
	replies = f.send(segment(3, seg(2))...)
	require.Len(t, replies, 1)
	assert.Equal(t, [8]byte{0xA2, 1, 4}, replies[0].raw)
	assert.Empty(t, f.send(segment(4, seg(3))...))

	// client restarts from the second segment
	assert.Empty(t, f.send(segment(1, seg(1))...))
	assert.Empty(t, f.send(segment(2, seg(2))...))
	assert.Empty(t, f.send(segment(2, seg(2))...))
	assert.Empty(t, f.send(segment(3, seg(3))...))
	replies = f.send(segment(0x80|4, seg(4))...)
	require.Len(t, replies, 1)
	assert.Equal(t, [8]byte{0xA2, 4, 4}, replies[0].raw)

	replies = f.send(0xC1)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0xA1, replies[0].raw[0])
	variable, _ := f.odict.Variable(indexDomain, 0)
	assert.Equal(t, data, variable.Bytes())
}

func TestServerBlockDownloadTimeout(t *testing.T) {
	f := newFixture(t)
	f.send(initiate(0xC2, indexDomain, 0, 14)...)
	assert.Empty(t, f.send(segment(1, pattern(7))...))

	// segments received so far are acknowledged once
	f.clock.Advance(DefaultBlockTimeout)
	replies := f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, [8]byte{0xA2, 1, 127}, replies[0].raw)
	assert.Equal(t, ServerBlockDownloadSub, f.server.State())

	f.clock.Advance(DefaultBlockTimeout)
	replies = f.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortTimeout), replies[0])
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestServerBlockDownloadUnknownSize(t *testing.T) {
	f := newFixture(t)
	data := pattern(10)
	f.send(initiate(0xC0, indexDomain, 0, 0)...)
	assert.Empty(t, f.send(segment(1, data[:7])...))
	replies := f.send(segment(0x82, data[7:])...)
	require.Len(t, replies, 1)
	replies = f.send(0xC1 | 4<<2)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0xA1, replies[0].raw[0])
	variable, _ := f.odict.Variable(indexDomain, 0)
	assert.Equal(t, data, variable.Bytes())
}

func TestServerBlockUpload(t *testing.T) {
	f := newFixture(t)
	data := pattern(35)
	variable, _ := f.odict.Variable(indexDomain, 0)
	require.Nil(t, variable.Write(data))

	replies := f.send(0xA4, byte(indexDomain&0xFF), byte(indexDomain>>8), 0, 4, 0)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0xC6, replies[0].raw[0])
	assert.EqualValues(t, 35, replies[0].GetSize())

	replies = f.send(0xA3)
	require.Len(t, replies, 4)
	for i, reply := range replies {
		assert.EqualValues(t, i+1, reply.raw[0])
		assert.Equal(t, data[i*7:i*7+7], reply.raw[1:])
	}

	// only two segments received, resend from the third one
	replies = f.send(0xA2, 2, 4)
	require.Len(t, replies, 3)
	assert.EqualValues(t, 1, replies[0].raw[0])
	assert.Equal(t, data[14:21], replies[0].raw[1:])
	assert.EqualValues(t, 0x83, replies[2].raw[0])
	assert.Equal(t, data[28:35], replies[2].raw[1:])

	replies = f.send(0xA2, 3, 4)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0xC1, replies[0].raw[0])
	assert.Equal(t, crc.Compute(data), replies[0].GetCRC())
	assert.Equal(t, ServerBlockUploadEnd, f.server.State())

	assert.Empty(t, f.send(0xA1))
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestServerBlockUploadErrors(t *testing.T) {
	f := newFixture(t)
	variable, _ := f.odict.Variable(indexDomain, 0)
	require.Nil(t, variable.Write(pattern(35)))

	replies := f.send(0xA4, byte(indexDomain&0xFF), byte(indexDomain>>8), 0, 0, 0)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortBlockSize), replies[0])

	f.send(0xA4, byte(indexDomain&0xFF), byte(indexDomain>>8), 0, 4, 0)
	f.send(0xA3)
	replies = f.send(0xA2, 5, 4)
	require.Len(t, replies, 1)
	assert.Equal(t, abortFrame(indexDomain, 0, AbortSeqNum), replies[0])

	// small values are sent with a normal upload
	replies = f.send(0xA4, byte(indexU32&0xFF), byte(indexU32>>8), 0, 4, 21)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x43, replies[0].raw[0])
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestServerFixedStorage(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.server.SetStorage(transfer.Fixed(8)))
	for _, block := range []bool{false, true} {
		result := f.download(indexDomain, 0, pattern(20), block)
		assert.Equal(t, AbortOutOfMem, result.Err, "block %v", block)
		assert.Equal(t, ServerWaiting, f.server.State())
		require.Nil(t, f.download(indexDomain, 0, pattern(8), block).Err)
		variable, _ := f.odict.Variable(indexDomain, 0)
		assert.Equal(t, pattern(8), variable.Bytes())
	}

	// busy during a transfer
	f.send(initiate(0x21, indexDomain, 0, 10)...)
	assert.Equal(t, ErrBusy, f.server.SetStorage(transfer.Fixed(8)))
}
