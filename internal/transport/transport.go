// Package transport wires a varlink Device abstraction to
// internal/connection: a Device sends and receives whole NUL-terminated
// (or otherwise self-delimited) messages, mirroring the file_operations
// table service-io.c installs on its character device (open, read,
// write, poll, release) but adapted to Go's io/context idioms.
package transport

import (
	"context"
	"sync"

	"github.com/varlink/govarlink/internal/connection"
	"github.com/varlink/govarlink/internal/logging"
	"github.com/varlink/govarlink/internal/varlinkerr"
)

// MaxMessageBytes is the largest single inbound call message a Device
// implementation should accept, matching service_io_fop_write's
// 128 KiB EMSGSIZE limit.
const MaxMessageBytes = 128 * 1024

// Device is one accepted client connection's raw message channel. A
// Device's ReadMessage must return one complete inbound varlink message
// with its framing already stripped. Server passes WriteMessage the
// bytes drained from a connection's reply buffer: one or more reply
// records, each already NUL-terminated. Close unblocks any pending Read
// or Write.
type Device interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, message []byte) error
	Close() error
}

// Listener accepts newly connected Devices, standing in for
// service_io_register's device-file registration — here, "opening the
// device" is "a client connected".
type Listener interface {
	Accept(ctx context.Context) (Device, error)
	Close() error
}

// Dispatcher resolves and invokes calls. service.Registry implements
// this interface.
type Dispatcher = connection.Dispatcher

// Server pairs a Listener with a Dispatcher, running one Connection per
// accepted Device until the Listener or the Server's context is done.
type Server struct {
	listener   Listener
	dispatcher Dispatcher
	logger     logging.Logger

	mu                sync.Mutex
	conns             map[*connection.Connection]struct{}
	envelopeValidator connection.EnvelopeValidator
}

// NewServer returns a Server that will accept Devices from listener and
// dispatch their calls through dispatcher.
func NewServer(listener Listener, dispatcher Dispatcher, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Server{
		listener:   listener,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "transport"),
		conns:      make(map[*connection.Connection]struct{}),
	}
}

// SetEnvelopeValidator installs an optional schema check applied to
// every connection's call and reply envelopes, including connections
// accepted after this call. Pass nil to disable it again.
func (s *Server) SetEnvelopeValidator(v connection.EnvelopeValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopeValidator = v
}

// Serve accepts Devices until ctx is cancelled or Accept returns an
// error, running each accepted Device's connection to completion in its
// own goroutine. It returns once no more Devices will be accepted; it
// does not wait for already-accepted connections to finish.
func (s *Server) Serve(ctx context.Context) error {
	for {
		dev, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return varlinkerr.Wrap(err, "accept failed")
		}
		go s.serveDevice(ctx, dev)
	}
}

// serveDevice runs one Device's connection to completion: a reader
// loop that unpacks and dispatches each inbound call (blocking for as
// long as the bound handler takes, exactly as a single write() syscall
// would), and a writer loop that drains replies as they're produced and
// writes them out, so a streaming handler's replies reach the wire
// without waiting for the call to finish.
func (s *Server) serveDevice(ctx context.Context, dev Device) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := connection.New(s.dispatcher, s.logger)
	conn.SetClosedCallback(func(*connection.Connection) { cancel() })

	s.mu.Lock()
	validator := s.envelopeValidator
	s.mu.Unlock()
	if validator != nil {
		conn.SetEnvelopeValidator(validator)
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	defer func() {
		conn.Close()
		_ = dev.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writeLoop(ctx, dev, conn)
	}()

	s.readLoop(ctx, dev, conn)
	cancel()
	wg.Wait()
}

func (s *Server) readLoop(ctx context.Context, dev Device, conn *connection.Connection) {
	for {
		raw, err := dev.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("read failed, closing connection", "connection", conn.ID, "error", err)
			}
			return
		}
		if err := conn.HandleCall(ctx, raw); err != nil {
			s.logger.Warn("call handling failed", "connection", conn.ID, "error", err)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, dev Device, conn *connection.Connection) {
	for {
		data, err := conn.Recv(ctx)
		if err != nil {
			if varlinkerr.IsOverrun(err) {
				s.logger.Warn("reply buffer overrun, messages were dropped", "connection", conn.ID)
				continue
			}
			if ctx.Err() == nil {
				s.logger.Debug("recv failed, closing connection", "connection", conn.ID, "error", err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := dev.WriteMessage(ctx, data); err != nil {
			s.logger.Warn("write failed, closing connection", "connection", conn.ID, "error", err)
			return
		}
	}
}

// Close closes the listener and every connection accepted so far.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	conns := make([]*connection.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return err
}
