package transport

import (
	"context"
	"sync"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// InMemoryDevice implements Device over a pair of buffered channels, for
// tests that want a real Server/Connection without real I/O.
type InMemoryDevice struct {
	incoming <-chan []byte
	outgoing chan<- []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// InMemoryDevicePair is two InMemoryDevices wired to each other: a
// message written to one is read from the other.
type InMemoryDevicePair struct {
	Client *InMemoryDevice
	Server *InMemoryDevice
}

// NewInMemoryDevicePair returns a connected pair of in-memory Devices.
func NewInMemoryDevicePair() *InMemoryDevicePair {
	clientToServer := make(chan []byte, 16)
	serverToClient := make(chan []byte, 16)

	client := &InMemoryDevice{incoming: serverToClient, outgoing: clientToServer, closed: make(chan struct{})}
	server := &InMemoryDevice{incoming: clientToServer, outgoing: serverToClient, closed: make(chan struct{})}

	return &InMemoryDevicePair{Client: client, Server: server}
}

func (d *InMemoryDevice) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-d.closed:
		return nil, varlinkerr.New("device closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-d.incoming:
		if !ok {
			return nil, varlinkerr.New("device closed")
		}
		return msg, nil
	}
}

func (d *InMemoryDevice) WriteMessage(ctx context.Context, message []byte) error {
	if len(message) > MaxMessageBytes {
		return varlinkerr.Newf("message too large: %d bytes exceeds %d byte limit", len(message), MaxMessageBytes)
	}
	select {
	case <-d.closed:
		return varlinkerr.New("device closed")
	case <-ctx.Done():
		return ctx.Err()
	case d.outgoing <- message:
		return nil
	}
}

func (d *InMemoryDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// inMemoryListener hands out pre-created Devices, one per Accept call,
// useful for driving a Server in tests without a real network listener.
type inMemoryListener struct {
	mu      sync.Mutex
	pending chan Device
	closed  bool
}

// NewInMemoryListener returns a Listener whose Accept calls are fed by
// Offer.
func NewInMemoryListener() *inMemoryListenerHandle {
	l := &inMemoryListener{pending: make(chan Device, 16)}
	return &inMemoryListenerHandle{inMemoryListener: l}
}

// inMemoryListenerHandle exposes Offer alongside the Listener interface.
type inMemoryListenerHandle struct {
	*inMemoryListener
}

// Offer makes dev available to a future Accept call.
func (h *inMemoryListenerHandle) Offer(dev Device) {
	h.pending <- dev
}

func (l *inMemoryListener) Accept(ctx context.Context) (Device, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case dev, ok := <-l.pending:
		if !ok {
			return nil, varlinkerr.New("listener closed")
		}
		return dev, nil
	}
}

func (l *inMemoryListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.pending)
	}
	return nil
}
