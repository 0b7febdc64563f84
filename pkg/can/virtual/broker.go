package virtual

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// Broker relays frames between every connected virtual bus, the way
// the virtualcan server does. Frames are not echoed to their sender.
type Broker struct {
	logger   *slog.Logger
	listener net.Listener
	mu       sync.Mutex
	clients  map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewBroker listens on address e.g. "localhost:18888" or "127.0.0.1:0"
func NewBroker(address string) (*Broker, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Broker{
		logger:   slog.Default().With("service", "[BROKER]"),
		listener: listener,
		clients:  make(map[net.Conn]struct{}),
	}, nil
}

func (b *Broker) Addr() string {
	return b.listener.Addr().String()
}

// Serve accepts clients until Close is called
func (b *Broker) Serve() error {
	for {
		conn, err := b.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}
		b.mu.Lock()
		b.clients[conn] = struct{}{}
		b.mu.Unlock()
		b.wg.Add(1)
		go b.relay(conn)
	}
}

func (b *Broker) relay(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			return
		}
		raw, err := serializeFrame(frame)
		if err != nil {
			b.logger.Warn("failed to serialize frame", "err", err)
			continue
		}
		b.mu.Lock()
		for client := range b.clients {
			if client == conn {
				continue
			}
			if _, err := client.Write(raw); err != nil {
				b.logger.Warn("failed to relay frame", "err", err)
			}
		}
		b.mu.Unlock()
	}
}

// Close stops accepting and disconnects every client
func (b *Broker) Close() error {
	err := b.listener.Close()
	b.mu.Lock()
	for client := range b.clients {
		client.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return err
}
