package can

import (
	"errors"
	"fmt"
	"sort"
)

const (
	CanRtrFlag uint32 = 0x40000000
	CanEffFlag uint32 = 0x80000000
	CanSffMask uint32 = 0x000007FF
	CanEffMask uint32 = 0x1FFFFFFF
)

var ErrClosed = errors.New("bus is closed")

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

func (f Frame) String() string {
	return fmt.Sprintf("x%03x [%d] % x", f.ID, f.DLC, f.Data[:min(int(f.DLC), 8)])
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// Filterer is implemented by buses that can drop frames before they
// reach user space. ids are matched exactly against the standard identifier.
type Filterer interface {
	SetFilters(ids []uint32) error
}

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// Interfaces lists the registered interface types
func Interfaces() []string {
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Currently supported : socketcan, rawcan, virtualcan, loopback
func NewBus(canInterface string, channel string, bitrate int) (Bus, error) {
	createInterface, ok := interfaceRegistry[canInterface]
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel)
}
