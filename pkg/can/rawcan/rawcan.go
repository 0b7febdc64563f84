//go:build linux

// Package rawcan talks to a SocketCAN interface through a raw AF_CAN
// socket. Unlike the socketcan package it can install kernel filters,
// so an SDO client only wakes up for its own response identifiers.
package rawcan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	can "github.com/samsamfire/gosdo/pkg/can"
	"golang.org/x/sys/unix"
)

const frameSize = 16

func init() {
	can.RegisterInterface("rawcan", NewBus)
}

type Bus struct {
	fd         int
	logger     *slog.Logger
	mu         sync.Mutex
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Create a new raw CAN bus. The interface is expected to be up.
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %v", err)
	}
	tv := unix.NsecToTimeval(100_000_000)
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout %v", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Bus{fd: fd, logger: slog.Default().With("service", "[RAWCAN]", "channel", channel)}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
		b.cancel = nil
	}
	return unix.Close(b.fd)
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	raw := encode(frame)
	n, err := unix.Write(b.fd, raw[:])
	if err != nil {
		return err
	}
	if n != frameSize {
		return fmt.Errorf("short write on CAN socket : %v bytes", n)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

// SetFilters restricts reception to the given standard identifiers.
// An empty list restores the default (receive everything).
func (b *Bus) SetFilters(ids []uint32) error {
	if len(ids) == 0 {
		return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER,
			[]unix.CanFilter{{Id: 0, Mask: 0}})
	}
	filters := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		filters = append(filters, unix.CanFilter{Id: id & can.CanSffMask, Mask: can.CanSffMask | can.CanEffFlag | can.CanRtrFlag})
	}
	b.logger.Info("setting option 'CAN_RAW_FILTER'", "filters", filters)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

// Enable own reception on the bus, useful for testing
func (b *Bus) SetReceiveOwn(enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, value)
}

func (b *Bus) processIncoming(ctx context.Context) {
	var raw [frameSize]byte
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN bus reception, closed")
			return
		default:
		}
		n, err := unix.Read(b.fd, raw[:])
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n != frameSize {
			b.logger.Error("exiting CAN bus reception", "err", err, "read", n)
			return
		}
		b.mu.Lock()
		listener := b.rxCallback
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(decode(raw))
		}
	}
}

// Layout of struct can_frame : id (host order), dlc, pad, res0, res1, data
func encode(frame can.Frame) [frameSize]byte {
	var raw [frameSize]byte
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decode(raw [frameSize]byte) can.Frame {
	frame := can.Frame{
		ID:    binary.NativeEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:])
	return frame
}
