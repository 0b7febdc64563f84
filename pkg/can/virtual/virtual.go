package virtual

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	can "github.com/samsamfire/gosdo/pkg/can"
)

// Virtual CAN bus over TCP, compatible with the virtualcan broker
// (https://github.com/windelbouwman/virtualcan). Every frame is sent as
// a 4 byte big endian length followed by the big endian frame struct.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

const writeTimeout = 100 * time.Millisecond

type Bus struct {
	logger       *slog.Logger
	mu           sync.Mutex
	channel      string
	conn         net.Conn
	receiveOwn   bool
	framehandler can.FrameListener
	wg           sync.WaitGroup
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, logger: slog.Default().With("service", "[VIRTUAL]", "channel", channel)}, nil
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	payload := new(bytes.Buffer)
	if err := binary.Write(payload, binary.BigEndian, frame); err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+payload.Len())
	binary.BigEndian.PutUint32(out, uint32(payload.Len()))
	return append(out, payload.Bytes()...), nil
}

func readFrame(r io.Reader) (can.Frame, error) {
	var frame can.Frame
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length != uint32(binary.Size(frame)) {
		return frame, fmt.Errorf("unexpected frame length %v", length)
	}
	err := binary.Read(io.LimitReader(r, int64(length)), binary.BigEndian, &frame)
	return frame, err
}

// "Connect" to broker e.g. localhost:18888
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	b.wg.Add(1)
	go b.handleReception(conn)
	return nil
}

// "Disconnect" from broker
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	b.wg.Wait()
	return err
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	conn := b.conn
	handler := b.framehandler
	receiveOwn := b.receiveOwn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("no active connection, abort send")
	}
	raw, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err = conn.Write(raw); err != nil {
		return err
	}
	if receiveOwn && handler != nil {
		handler.Handle(frame)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) handleReception(conn net.Conn) {
	defer b.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				b.logger.Error("listening routine has closed because", "err", err)
			}
			return
		}
		b.mu.Lock()
		handler := b.framehandler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
}
