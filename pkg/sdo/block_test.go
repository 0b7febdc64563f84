package sdo

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/can/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isBlockSegment(frame can.Frame, blksize uint8) bool {
	seqno := frame.Data[0] & 0x7F
	return seqno >= 1 && seqno <= blksize
}

// dropOnce drops the first segment seqno sent by port
func dropOnce(port *loopback.Port, seqno uint8) loopback.DropFunc {
	dropped := false
	return func(from *loopback.Port, frame can.Frame) bool {
		if dropped || from != port || frame.Data[0]&0x7F != seqno {
			return false
		}
		dropped = true
		return true
	}
}

func contains(messages []SDOMessage, raw [8]byte) bool {
	for _, msg := range messages {
		if msg.raw == raw {
			return true
		}
	}
	return false
}

func TestBlockDownloadLostSegment(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.server.SetBlockMaxSize(4))
	f.network.SetDrop(dropOnce(f.clientPort, 2))

	data := pattern(300)
	result := f.download(indexDomain, 0, data, true)
	require.Nil(t, result.Err)

	history := f.network.History()
	assert.True(t, contains(sent(history, testTxId), [8]byte{0xA2, 1, 4}))
	variable, _ := f.odict.Variable(indexDomain, 0)
	assert.Equal(t, data, variable.Bytes())
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestBlockUploadLostSegment(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.client.SetBlockMaxSize(4))
	data := pattern(300)
	variable, _ := f.odict.Variable(indexDomain, 0)
	require.Nil(t, variable.Write(data))
	f.network.SetDrop(dropOnce(f.serverPort, 3))

	result := f.upload(indexDomain, 0, true)
	require.Nil(t, result.Err)
	assert.Equal(t, data, result.Data)
	assert.True(t, contains(sent(f.network.History(), testRxId), [8]byte{0xA2, 2, 4}))
	assert.Equal(t, ClientWaiting, f.client.State())
}

func TestBlockUploadSwitchesToNormal(t *testing.T) {
	f := newFixture(t)
	result := f.upload(indexU32, 0, true)
	require.Nil(t, result.Err)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, result.Data)

	replies := sent(f.network.History(), testTxId)
	require.Len(t, replies, 1)
	assert.EqualValues(t, 0x43, replies[0].raw[0])
}

func TestBlockDownloadWithoutCRC(t *testing.T) {
	f := newFixture(t)
	f.client.SetCRC(false)
	data := pattern(50)
	result := f.download(indexDomain, 0, data, true)
	require.Nil(t, result.Err)

	requests := sent(f.network.History(), testRxId)
	require.NotEmpty(t, requests)
	assert.EqualValues(t, 0xC2, requests[0].raw[0])
	end := requests[len(requests)-1]
	assert.EqualValues(t, 0xC1|6<<2, end.raw[0])
	assert.EqualValues(t, 0, end.GetCRC())
}

func TestBlockDownloadLostAck(t *testing.T) {
	f := newFixture(t)
	f.network.SetDrop(func(from *loopback.Port, frame can.Frame) bool {
		return from == f.serverPort && frame.Data[0] == 0xA2
	})
	var results []Result
	require.Nil(t, f.client.DownloadBlock(indexDomain, 0, pattern(20), func(r Result) {
		results = append(results, r)
	}))
	f.network.Flush()
	assert.Empty(t, results)

	f.clock.Advance(DefaultClientTimeout)
	f.network.Flush()
	require.Len(t, results, 1)
	assert.Equal(t, AbortTimeout, results[0].Err)
	assert.Equal(t, ServerWaiting, f.server.State())
}

func TestBlockUploadTimeout(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.client.SetBlockMaxSize(4))
	variable, _ := f.odict.Variable(indexDomain, 0)
	require.Nil(t, variable.Write(pattern(100)))
	// only the very first segment gets through
	passed := false
	f.network.SetDrop(func(from *loopback.Port, frame can.Frame) bool {
		if from != f.serverPort || !isBlockSegment(frame, 4) {
			return false
		}
		if !passed {
			passed = true
			return false
		}
		return true
	})
	var results []Result
	require.Nil(t, f.client.UploadBlock(indexDomain, 0, func(r Result) {
		results = append(results, r)
	}))
	f.network.Flush()
	require.Empty(t, results)

	// first expiry acknowledges the first segment, the second one aborts
	f.clock.Advance(DefaultBlockTimeout)
	f.network.Flush()
	f.clock.Advance(DefaultBlockTimeout)
	f.network.Flush()
	require.Len(t, results, 1)
	assert.Equal(t, AbortTimeout, results[0].Err)
	assert.True(t, contains(sent(f.network.History(), testRxId), [8]byte{0xA2, 1, 4}))
}

// Random segment loss must never complete a transfer with wrong data
func TestBlockRandomLoss(t *testing.T) {
	const blksize = 16
	for seed := int64(0); seed < 20; seed++ {
		for _, uploading := range []bool{false, true} {
			t.Run(fmt.Sprintf("seed=%d/upload=%v", seed, uploading), func(t *testing.T) {
				f := newFixture(t)
				rng := rand.New(rand.NewSource(seed))
				data := pattern(1000 + rng.Intn(1000))
				sender := f.clientPort
				if uploading {
					sender = f.serverPort
					variable, _ := f.odict.Variable(indexDomain, 0)
					require.Nil(t, variable.Write(data))
					require.Nil(t, f.client.SetBlockMaxSize(blksize))
				} else {
					require.Nil(t, f.server.SetBlockMaxSize(blksize))
				}
				f.network.SetDrop(func(from *loopback.Port, frame can.Frame) bool {
					return from == sender && isBlockSegment(frame, blksize) && rng.Intn(10) == 0
				})

				var results []Result
				confirm := func(r Result) { results = append(results, r) }
				if uploading {
					require.Nil(t, f.client.UploadBlock(indexDomain, 0, confirm))
				} else {
					require.Nil(t, f.client.DownloadBlock(indexDomain, 0, data, confirm))
				}
				for i := 0; i < 1000 && len(results) == 0; i++ {
					f.network.Flush()
					if len(results) == 0 {
						f.clock.Advance(DefaultBlockTimeout)
					}
				}
				require.Len(t, results, 1)
				require.Nil(t, results[0].Err)
				if uploading {
					assert.True(t, bytes.Equal(data, results[0].Data))
				} else {
					variable, _ := f.odict.Variable(indexDomain, 0)
					assert.True(t, bytes.Equal(data, variable.Bytes()))
				}
			})
		}
	}
}
