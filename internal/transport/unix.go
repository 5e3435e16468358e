package transport

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// unixDevice frames messages over a net.Conn the way the wire protocol
// expects: one NUL-terminated JSON object per message, matching
// connection_reply's `buffer_add_nul` and the client side's own framing.
// Outgoing bytes that already end in NUL (reply records drained from a
// connection) are written as they are; a NUL is appended otherwise.
type unixDevice struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
}

func newUnixDevice(conn net.Conn) *unixDevice {
	return &unixDevice{conn: conn, reader: bufio.NewReader(conn)}
}

// ReadMessage blocks in a goroutine so ctx cancellation can unblock a
// read net.Conn.Read itself doesn't support cancelling, following the
// same select-on-result-channel shape the teacher's NDJSON transport
// uses for its own blocking read.
func (d *unixDevice) ReadMessage(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := d.reader.ReadBytes(0)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		ch <- result{bytes.TrimSuffix(line, []byte{0}), nil}
	}()

	select {
	case <-ctx.Done():
		_ = d.conn.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, varlinkerr.Wrap(r.err, "read failed")
		}
		if len(r.data) > MaxMessageBytes {
			return nil, varlinkerr.Newf("message too large: %d bytes exceeds %d byte limit", len(r.data), MaxMessageBytes)
		}
		return r.data, nil
	}
}

func (d *unixDevice) WriteMessage(ctx context.Context, message []byte) error {
	if len(message) > MaxMessageBytes {
		return varlinkerr.Newf("message too large: %d bytes exceeds %d byte limit", len(message), MaxMessageBytes)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	type result struct{ err error }
	ch := make(chan result, 1)
	go func() {
		out := append([]byte(nil), message...)
		if len(out) == 0 || out[len(out)-1] != 0 {
			out = append(out, 0)
		}
		_, err := d.conn.Write(out)
		ch <- result{err}
	}()

	select {
	case <-ctx.Done():
		_ = d.conn.Close()
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return varlinkerr.Wrap(r.err, "write failed")
		}
		return nil
	}
}

func (d *unixDevice) Close() error {
	return d.conn.Close()
}

// UnixListener accepts client connections on a Unix domain socket,
// standing in for the out-of-scope Linux character device: the example
// daemon listens here instead of registering /dev/varlink-whatever.
type UnixListener struct {
	ln net.Listener
}

// ListenUnix binds a Unix domain socket at path.
func ListenUnix(path string) (*UnixListener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, varlinkerr.Wrapf(err, "failed to listen on %s", path)
	}
	return &UnixListener{ln: ln}, nil
}

func (l *UnixListener) Accept(ctx context.Context) (Device, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		_ = l.ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, varlinkerr.Wrap(r.err, "accept failed")
		}
		return newUnixDevice(r.conn), nil
	}
}

func (l *UnixListener) Close() error {
	return l.ln.Close()
}
