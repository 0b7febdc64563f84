package virtual

import (
	"bytes"
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *FrameReceiver) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *FrameReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newBroker(t *testing.T) *Broker {
	broker, err := NewBroker("127.0.0.1:0")
	require.Nil(t, err)
	go broker.Serve()
	t.Cleanup(func() { broker.Close() })
	return broker
}

func newVcan(t *testing.T, channel string) *Bus {
	bus, err := NewVirtualCanBus(channel)
	require.Nil(t, err)
	vcan := bus.(*Bus)
	require.Nil(t, vcan.Connect())
	t.Cleanup(func() { vcan.Disconnect() })
	return vcan
}

func TestSerialize(t *testing.T) {
	frame := can.Frame{ID: 0x601, DLC: 8, Data: [8]byte{0x23, 0x00, 0x20, 0x00, 1, 2, 3, 4}}
	raw, err := serializeFrame(frame)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0, 0, 0, 14, 0, 0, 6, 1, 0, 8}, raw[:10])
	decoded, err := readFrame(bytes.NewReader(raw))
	assert.Nil(t, err)
	assert.Equal(t, frame, decoded)
}

func TestSendAndSubscribe(t *testing.T) {
	broker := newBroker(t)
	vcan1 := newVcan(t, broker.Addr())
	vcan2 := newVcan(t, broker.Addr())
	receiver := &FrameReceiver{}
	vcan2.Subscribe(receiver)
	// Give the broker time to register both clients
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 10; i++ {
		frame := can.NewFrame(0x111, 0, 8)
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	assert.Eventually(t, func() bool { return receiver.count() == 10 }, time.Second, 5*time.Millisecond)
	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	for i, frame := range receiver.frames {
		assert.EqualValues(t, i, frame.Data[0])
	}
}

func TestReceiveOwn(t *testing.T) {
	broker := newBroker(t)
	vcan := newVcan(t, broker.Addr())
	receiver := &FrameReceiver{}
	vcan.Subscribe(receiver)
	vcan.SetReceiveOwn(true)
	assert.Nil(t, vcan.Send(can.NewFrame(0x222, 0, 8)))
	assert.Equal(t, 1, receiver.count())
}

func TestSendWithoutConnection(t *testing.T) {
	bus, _ := NewVirtualCanBus("127.0.0.1:1")
	assert.NotNil(t, bus.Send(can.NewFrame(0x1, 0, 0)))
	assert.Nil(t, bus.Disconnect())
}
