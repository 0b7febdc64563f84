package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopBus struct{}

func (nopBus) Connect(...any) error          { return nil }
func (nopBus) Disconnect() error             { return nil }
func (nopBus) Send(Frame) error              { return nil }
func (nopBus) Subscribe(FrameListener) error { return nil }

func TestRegistry(t *testing.T) {
	RegisterInterface("nop", func(channel string) (Bus, error) { return nopBus{}, nil })
	bus, err := NewBus("nop", "x", 0)
	assert.Nil(t, err)
	assert.NotNil(t, bus)
	assert.Contains(t, Interfaces(), "nop")
	_, err = NewBus("unknown", "x", 0)
	assert.NotNil(t, err)
}

func TestFrameString(t *testing.T) {
	f := NewFrame(0x601, 0, 8)
	f.Data = [8]byte{0x40, 0x00, 0x20, 0x00}
	assert.Equal(t, "x601 [8] 40 00 20 00 00 00 00 00", f.String())
	short := NewFrame(0x80, 0, 0)
	assert.Equal(t, "x080 [0] ", short.String())
}
