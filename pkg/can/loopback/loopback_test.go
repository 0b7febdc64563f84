package loopback

import (
	"context"
	"testing"
	"time"

	can "github.com/samsamfire/gosdo/pkg/can"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	frames []can.Frame
	onRx   func(can.Frame)
}

func (r *recorder) Handle(frame can.Frame) {
	r.frames = append(r.frames, frame)
	if r.onRx != nil {
		r.onRx(frame)
	}
}

func connected(n *Network) (*Port, *recorder) {
	p := n.Open()
	_ = p.Connect()
	r := &recorder{}
	_ = p.Subscribe(r)
	return p, r
}

func TestSendIsQueued(t *testing.T) {
	n := NewNetwork()
	a, ra := connected(n)
	_, rb := connected(n)
	assert.Nil(t, a.Send(can.NewFrame(0x601, 0, 8)))
	assert.Len(t, rb.frames, 0)
	assert.Equal(t, 1, n.Flush())
	assert.Len(t, rb.frames, 1)
	assert.Len(t, ra.frames, 0)
}

func TestFlushDeliversReplies(t *testing.T) {
	n := NewNetwork()
	a, ra := connected(n)
	b, rb := connected(n)
	rb.onRx = func(f can.Frame) {
		if f.ID == 0x601 {
			_ = b.Send(can.NewFrame(0x581, 0, 8))
		}
	}
	_ = a.Send(can.NewFrame(0x601, 0, 8))
	assert.Equal(t, 2, n.Flush())
	assert.Len(t, ra.frames, 1)
	assert.EqualValues(t, 0x581, ra.frames[0].ID)
}

func TestDropAndHistory(t *testing.T) {
	n := NewNetwork()
	a, _ := connected(n)
	_, rb := connected(n)
	n.SetDrop(func(from *Port, f can.Frame) bool { return f.Data[0] == 2 })
	for i := 1; i <= 3; i++ {
		f := can.NewFrame(0x601, 0, 8)
		f.Data[0] = byte(i)
		_ = a.Send(f)
	}
	n.Flush()
	assert.Len(t, rb.frames, 2)
	assert.Len(t, n.History(), 3)
	assert.Len(t, n.History(), 0)
}

func TestDisconnected(t *testing.T) {
	n := NewNetwork()
	p := n.Open()
	assert.Equal(t, can.ErrClosed, p.Send(can.NewFrame(1, 0, 0)))
}

func TestRun(t *testing.T) {
	n := NewNetwork()
	a, _ := connected(n)
	b := n.Open()
	_ = b.Connect()
	received := make(chan can.Frame, 1)
	_ = b.Subscribe(listenerFunc(func(f can.Frame) { received <- f }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)
	_ = a.Send(can.NewFrame(0x123, 0, 8))
	select {
	case f := <-received:
		assert.EqualValues(t, 0x123, f.ID)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

type listenerFunc func(can.Frame)

func (f listenerFunc) Handle(frame can.Frame) { f(frame) }
