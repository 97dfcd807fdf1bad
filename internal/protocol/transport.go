package protocol

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send after Close
var ErrTransportClosed = errors.New("transport closed")

// Transport is an ordered, reliable, message-framed byte channel. Direct and
// relay connections both satisfy it.
type Transport interface {
	// Send queues one message for delivery
	Send(data []byte) error
	// Messages yields inbound messages
	Messages() <-chan []byte
	// Ready is closed once the transport can carry messages
	Ready() <-chan struct{}
	// Done is closed once the transport has shut down
	Done() <-chan struct{}
	Close() error
}

// pipeEnd is one side of an in-memory Transport pair
type pipeEnd struct {
	in   chan []byte
	peer *pipeEnd

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPipe returns two connected in-memory transports, already ready
func NewPipe() (Transport, Transport) {
	ready := make(chan struct{})
	close(ready)

	a := &pipeEnd{in: make(chan []byte, 256), ready: ready, closed: make(chan struct{})}
	b := &pipeEnd{in: make(chan []byte, 256), ready: ready, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(data []byte) error {
	select {
	case <-p.closed:
		return ErrTransportClosed
	case <-p.peer.closed:
		return ErrTransportClosed
	default:
	}

	msg := append([]byte(nil), data...)
	select {
	case p.peer.in <- msg:
		return nil
	case <-p.closed:
		return ErrTransportClosed
	case <-p.peer.closed:
		return ErrTransportClosed
	}
}

func (p *pipeEnd) Messages() <-chan []byte {
	return p.in
}

func (p *pipeEnd) Ready() <-chan struct{} {
	return p.ready
}

func (p *pipeEnd) Done() <-chan struct{} {
	return p.closed
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.peer.closeOnce.Do(func() { close(p.peer.closed) })
	})
	return nil
}
