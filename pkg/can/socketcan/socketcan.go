package socketcan

import (
	"sync"

	sockcan "github.com/brutella/can"
	can "github.com/samsamfire/gosdo/pkg/can"
)

// Wrapper for socketcan around https://github.com/brutella/can

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	mu         sync.Mutex
	bus        *sockcan.Bus
	rxCallback can.FrameListener
	errc       chan error
}

func NewSocketCanBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus, errc: make(chan error, 1)}, nil
}

// "Connect" implementation of Bus interface
// Reception runs in the background until Disconnect
func (s *SocketcanBus) Connect(...any) error {
	go func() {
		s.errc <- s.bus.ConnectAndPublish()
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (s *SocketcanBus) Disconnect() error {
	return s.bus.Disconnect()
}

// Err returns the reason the reception loop stopped, nil while running.
func (s *SocketcanBus) Err() error {
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	return s.bus.Publish(toBrutella(frame))
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.mu.Lock()
	first := s.rxCallback == nil
	s.rxCallback = rxCallback
	s.mu.Unlock()
	if first {
		// brutella/can defines its own "Handle" interface
		s.bus.Subscribe(s)
	}
	return nil
}

// brutella/can specific "Handle" implementation
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	s.mu.Lock()
	listener := s.rxCallback
	s.mu.Unlock()
	if listener != nil {
		listener.Handle(fromBrutella(frame))
	}
}

func toBrutella(frame can.Frame) sockcan.Frame {
	return sockcan.Frame{ID: frame.ID, Length: frame.DLC, Flags: frame.Flags, Data: frame.Data}
}

func fromBrutella(frame sockcan.Frame) can.Frame {
	return can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data}
}
