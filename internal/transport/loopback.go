package transport

import (
	"github.com/silvair/otaumcu/internal/protocol"
)

// Loopback is an in-memory Transport for integration tests: Inject feeds a
// frame as if received from the peer, Sent drains what the core wrote back.
type Loopback struct {
	in     chan protocol.Frame
	out    chan protocol.Frame
	closed chan struct{}
}

var _ Transport = (*Loopback)(nil)

// NewLoopback returns a Loopback with the given channel buffering.
func NewLoopback(buffer int) *Loopback {
	return &Loopback{
		in:     make(chan protocol.Frame, buffer),
		out:    make(chan protocol.Frame, buffer),
		closed: make(chan struct{}),
	}
}

// Inject simulates the peer sending a frame to the MCU.
func (l *Loopback) Inject(f protocol.Frame) {
	select {
	case l.in <- f:
	case <-l.closed:
	}
}

// Sent returns the channel the core's outgoing frames land on.
func (l *Loopback) Sent() <-chan protocol.Frame {
	return l.out
}

func (l *Loopback) Recv() (protocol.Frame, error) {
	select {
	case f := <-l.in:
		return f, nil
	case <-l.closed:
		return protocol.Frame{}, ErrClosed
	}
}

func (l *Loopback) Send(op protocol.Opcode, payload []byte) error {
	select {
	case l.out <- protocol.Frame{Opcode: op, Payload: payload}:
		return nil
	case <-l.closed:
		return ErrClosed
	}
}

func (l *Loopback) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
