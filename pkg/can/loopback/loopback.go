// Package loopback provides an in-process CAN network.
//
// Frames sent on one port are queued for every other port of the same
// [Network] and only handed to listeners when the queue is drained,
// either explicitly with [Network.Flush] or continuously with [Network.Run].
// A frame is therefore never delivered from inside the Send call that
// produced it.
package loopback

import (
	"context"
	"sync"

	can "github.com/samsamfire/gosdo/pkg/can"
)

var (
	shared     = NewNetwork()
	sharedOnce sync.Once
)

// Ports created through the interface registry share one network that
// delivers frames in the background.
func init() {
	can.RegisterInterface("loopback", func(channel string) (can.Bus, error) {
		sharedOnce.Do(func() { go shared.Run(context.Background()) })
		return shared.Open(), nil
	})
}

// DropFunc decides whether a frame sent from port is lost.
type DropFunc func(from *Port, frame can.Frame) bool

type delivery struct {
	from  *Port
	frame can.Frame
}

type Network struct {
	mu      sync.Mutex
	ports   []*Port
	queue   []delivery
	drop    DropFunc
	notify  chan struct{}
	history []can.Frame
}

func NewNetwork() *Network {
	return &Network{notify: make(chan struct{}, 1)}
}

// Open attaches a new port to the network.
func (n *Network) Open() *Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	port := &Port{network: n}
	n.ports = append(n.ports, port)
	return port
}

// SetDrop installs a loss model, nil disables it.
func (n *Network) SetDrop(drop DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = drop
}

// History returns every frame accepted by Send since the last call,
// including dropped ones.
func (n *Network) History() []can.Frame {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.history
	n.history = nil
	return h
}

func (n *Network) enqueue(from *Port, frame can.Frame) {
	n.mu.Lock()
	n.history = append(n.history, frame)
	if n.drop != nil && n.drop(from, frame) {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, delivery{from: from, frame: frame})
	n.mu.Unlock()
	select {
	case n.notify <- struct{}{}:
	default:
	}
}

func (n *Network) pop() (delivery, []*Port, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return delivery{}, nil, false
	}
	d := n.queue[0]
	n.queue = n.queue[1:]
	targets := make([]*Port, 0, len(n.ports))
	for _, p := range n.ports {
		if p != d.from || p.receiveOwn {
			targets = append(targets, p)
		}
	}
	return d, targets, true
}

// Flush delivers queued frames, including frames sent by listeners
// while flushing, until the queue is empty. It returns the number of
// frames delivered.
func (n *Network) Flush() int {
	count := 0
	for {
		d, targets, ok := n.pop()
		if !ok {
			return count
		}
		for _, p := range targets {
			p.deliver(d.frame)
		}
		count++
	}
}

// Run flushes continuously until ctx is done.
func (n *Network) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.notify:
			n.Flush()
		}
	}
}

// Port is one node's attachment to a [Network]. It implements [can.Bus].
type Port struct {
	network    *Network
	mu         sync.Mutex
	listener   can.FrameListener
	connected  bool
	receiveOwn bool
}

func (p *Port) Connect(...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *Port) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *Port) Send(frame can.Frame) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return can.ErrClosed
	}
	p.network.enqueue(p, frame)
	return nil
}

func (p *Port) Subscribe(listener can.FrameListener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = listener
	return nil
}

func (p *Port) SetReceiveOwn(receiveOwn bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiveOwn = receiveOwn
}

func (p *Port) deliver(frame can.Frame) {
	p.mu.Lock()
	listener := p.listener
	connected := p.connected
	p.mu.Unlock()
	if connected && listener != nil {
		listener.Handle(frame)
	}
}
