package canopen

import (
	"sync"

	can "github.com/samsamfire/gosdo/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Bus manager is a wrapper around the CAN bus interface
// Used by the SDO engines to send frames and to receive the frames
// matching their identifiers.
type BusManager struct {
	mu             sync.Mutex
	bus            can.Bus
	frameListeners map[uint32][]can.FrameListener
}

func NewBusManager(bus can.Bus) *BusManager {
	return &BusManager{
		bus:            bus,
		frameListeners: make(map[uint32][]can.FrameListener),
	}
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	listeners := bm.frameListeners[frame.ID]
	// Copy so that listeners may (un)subscribe while handling
	listeners = append([]can.FrameListener(nil), listeners...)
	bm.mu.Unlock()
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus can.Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame can.Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoBus
	}
	err := bus.Send(frame)
	if err != nil {
		log.Warnf("[CAN] %v", err)
	}
	return err
}

func normalizeIdent(ident uint32, rtr bool) uint32 {
	if ident&can.CanEffFlag != 0 {
		ident = can.CanEffFlag | ident&can.CanEffMask
	} else {
		ident &= can.CanSffMask
	}
	if rtr {
		ident |= can.CanRtrFlag
	}
	return ident
}

// Subscribe to a specific CAN ID
// Extended identifiers are passed with [can.CanEffFlag] set
func (bm *BusManager) Subscribe(ident uint32, rtr bool, callback can.FrameListener) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = normalizeIdent(ident, rtr)
	for _, existing := range bm.frameListeners[ident] {
		if existing == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	bm.frameListeners[ident] = append(bm.frameListeners[ident], callback)
	return nil
}

// Unsubscribe callback from a specific CAN ID
func (bm *BusManager) Unsubscribe(ident uint32, rtr bool, callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = normalizeIdent(ident, rtr)
	listeners := bm.frameListeners[ident]
	for i, existing := range listeners {
		if existing == callback {
			listeners = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
	if len(listeners) == 0 {
		delete(bm.frameListeners, ident)
		return
	}
	bm.frameListeners[ident] = listeners
}

// Identifiers returns every identifier with at least one listener
func (bm *BusManager) Identifiers() []uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ids := make([]uint32, 0, len(bm.frameListeners))
	for id := range bm.frameListeners {
		ids = append(ids, id)
	}
	return ids
}
