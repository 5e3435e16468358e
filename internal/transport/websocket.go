package transport

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// websocketDevice carries varlink messages as websocket text messages.
// An inbound websocket message is taken whole as one call, with no NUL
// framing. Outbound, each WriteMessage becomes one websocket message
// holding the bytes as given: reply records drained from a connection
// keep their NUL terminators, and one websocket message holds several
// replies when several were queued before the writer drained them.
type websocketDevice struct {
	conn *websocket.Conn
}

func (d *websocketDevice) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := d.conn.Read(ctx)
	if err != nil {
		return nil, varlinkerr.Wrap(err, "websocket read failed")
	}
	if len(data) > MaxMessageBytes {
		return nil, varlinkerr.Newf("message too large: %d bytes exceeds %d byte limit", len(data), MaxMessageBytes)
	}
	return data, nil
}

func (d *websocketDevice) WriteMessage(ctx context.Context, message []byte) error {
	if len(message) > MaxMessageBytes {
		return varlinkerr.Newf("message too large: %d bytes exceeds %d byte limit", len(message), MaxMessageBytes)
	}
	if err := d.conn.Write(ctx, websocket.MessageText, message); err != nil {
		return varlinkerr.Wrap(err, "websocket write failed")
	}
	return nil
}

func (d *websocketDevice) Close() error {
	return d.conn.Close(websocket.StatusNormalClosure, "connection closed")
}

// WebsocketListener is an http.Handler that upgrades every request to a
// websocket connection and offers it as a Device to Accept, so a
// varlink service can be driven from a browser for debugging without a
// separate protocol translation layer.
type WebsocketListener struct {
	accept chan Device

	mu     sync.Mutex
	closed bool
}

// NewWebsocketListener returns a Listener/http.Handler pair: register
// it on an http.ServeMux and run Serve/Accept against it as with any
// other Listener.
func NewWebsocketListener() *WebsocketListener {
	return &WebsocketListener{accept: make(chan Device)}
}

// ServeHTTP implements http.Handler, upgrading the request and handing
// the resulting Device to an Accept call, waiting until one takes it.
// If the request's context is cancelled first, the connection is closed
// without ever being handed out.
func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	dev := &websocketDevice{conn: conn}

	select {
	case l.accept <- dev:
	case <-r.Context().Done():
		_ = dev.Close()
	}
}

func (l *WebsocketListener) Accept(ctx context.Context) (Device, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case dev, ok := <-l.accept:
		if !ok {
			return nil, varlinkerr.New("listener closed")
		}
		return dev, nil
	}
}

func (l *WebsocketListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.accept)
	}
	return nil
}
