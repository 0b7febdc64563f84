package sdo

import (
	"testing"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/internal/clock"
	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/samsamfire/gosdo/pkg/can/loopback"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/stretchr/testify/require"
)

const (
	testNodeId   uint8  = 0x10
	testRxId     uint32 = ClientBaseId + uint32(testNodeId)
	testTxId     uint32 = ServerBaseId + uint32(testNodeId)
	indexDomain  uint16 = 0x2000
	indexU8      uint16 = 0x2001
	indexU16     uint16 = 0x2002
	indexU32     uint16 = 0x2003
	indexU64     uint16 = 0x2004
	indexString  uint16 = 0x2005
	indexRO      uint16 = 0x2006
	indexWO      uint16 = 0x2007
	indexRecord  uint16 = 0x2100
	unknownIndex uint16 = 0x3000
)

func newTestOD(t *testing.T) *od.ObjectDictionary {
	odict := od.NewOD()
	variables := []struct {
		index     uint16
		dataType  uint8
		attribute uint8
		value     string
	}{
		{indexDomain, od.DOMAIN, od.AttributeSdoRw, ""},
		{indexU8, od.UNSIGNED8, od.AttributeSdoRw, "0x12"},
		{indexU16, od.UNSIGNED16, od.AttributeSdoRw, "0x1234"},
		{indexU32, od.UNSIGNED32, od.AttributeSdoRw, "0x12345678"},
		{indexU64, od.UNSIGNED64, od.AttributeSdoRw, "0x1122334455667788"},
		{indexString, od.VISIBLE_STRING, od.AttributeSdoRw, "hello world"},
		{indexRO, od.UNSIGNED32, od.AttributeSdoR, "0x11"},
		{indexWO, od.UNSIGNED32, od.AttributeSdoW, "0"},
	}
	for _, v := range variables {
		_, err := odict.AddVariableType(v.index, "var", v.dataType, v.attribute, v.value)
		require.Nil(t, err)
	}
	record, err := odict.AddRecord(indexRecord, "record", od.ObjectTypeRECORD)
	require.Nil(t, err)
	highest, err := od.NewVariable(0, "highest", od.UNSIGNED8, od.AttributeSdoR, "1")
	require.Nil(t, err)
	member, err := od.NewVariable(1, "member", od.UNSIGNED16, od.AttributeSdoRw, "0x55")
	require.Nil(t, err)
	require.Nil(t, record.AddMember(highest))
	require.Nil(t, record.AddMember(member))
	return odict
}

type frameRecorder struct {
	frames []can.Frame
}

func (r *frameRecorder) Handle(frame can.Frame) {
	r.frames = append(r.frames, frame)
}

// fixture is a server and a client on the same loopback network, plus a
// raw port to talk to the server frame by frame. Nothing is delivered
// until the network is flushed.
type fixture struct {
	t          *testing.T
	network    *loopback.Network
	clock      *clock.FakeClock
	odict      *od.ObjectDictionary
	store      *DictionaryStore
	server     *SDOServer
	client     *SDOClient
	serverPort *loopback.Port
	clientPort *loopback.Port
	rawPort    *loopback.Port
	raw        *frameRecorder
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:       t,
		network: loopback.NewNetwork(),
		clock:   clock.Fake(time.Unix(0, 0)),
		odict:   newTestOD(t),
	}
	f.store = NewDictionaryStore(f.odict)

	var serverBm, clientBm *canopen.BusManager
	f.serverPort, serverBm = f.attach()
	f.clientPort, clientBm = f.attach()
	var err error
	f.server, err = NewSDOServer(serverBm, nil, f.clock, f.store, testNodeId)
	require.Nil(t, err)
	f.client, err = NewSDOClient(clientBm, nil, f.clock, testNodeId)
	require.Nil(t, err)

	f.rawPort = f.network.Open()
	require.Nil(t, f.rawPort.Connect())
	f.raw = &frameRecorder{}
	require.Nil(t, f.rawPort.Subscribe(f.raw))
	return f
}

func (f *fixture) attach() (*loopback.Port, *canopen.BusManager) {
	port := f.network.Open()
	require.Nil(f.t, port.Connect())
	bm := canopen.NewBusManager(port)
	require.Nil(f.t, port.Subscribe(bm))
	return port, bm
}

// run starts a transfer, delivers every frame and returns its result
func (f *fixture) run(start func(confirm Confirm) error) Result {
	f.t.Helper()
	var results []Result
	require.Nil(f.t, start(func(result Result) { results = append(results, result) }))
	f.network.Flush()
	require.Len(f.t, results, 1)
	return results[0]
}

func (f *fixture) download(index uint16, subindex uint8, data []byte, block bool) Result {
	f.t.Helper()
	return f.run(func(confirm Confirm) error {
		if block {
			return f.client.DownloadBlock(index, subindex, data, confirm)
		}
		return f.client.Download(index, subindex, data, confirm)
	})
}

func (f *fixture) upload(index uint16, subindex uint8, block bool) Result {
	f.t.Helper()
	return f.run(func(confirm Confirm) error {
		if block {
			return f.client.UploadBlock(index, subindex, confirm)
		}
		return f.client.Upload(index, subindex, confirm)
	})
}

// send sends raw to the server from the raw port and returns the
// server replies
func (f *fixture) send(raw ...byte) []SDOMessage {
	f.t.Helper()
	frame := can.NewFrame(testRxId, 0, 8)
	copy(frame.Data[:], raw)
	require.Nil(f.t, f.rawPort.Send(frame))
	return f.replies()
}

// replies flushes the network and returns the server frames received by
// the raw port since the last call
func (f *fixture) replies() []SDOMessage {
	f.network.Flush()
	var replies []SDOMessage
	for _, frame := range f.raw.frames {
		if frame.ID == testTxId {
			replies = append(replies, SDOMessage{raw: frame.Data})
		}
	}
	f.raw.frames = nil
	return replies
}

// sent returns the frames with id seen on the network since the last call
func sent(history []can.Frame, id uint32) []SDOMessage {
	var messages []SDOMessage
	for _, frame := range history {
		if frame.ID == id {
			messages = append(messages, SDOMessage{raw: frame.Data})
		}
	}
	return messages
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func abortFrame(index uint16, subindex uint8, code Abort) SDOMessage {
	return newAbortMessage(index, subindex, code)
}
