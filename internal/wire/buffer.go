// Package wire implements the low-level pieces of the varlink wire
// format: a growable byte buffer, a cursor-based scanner, and the
// refcounted JSON value graph used to represent call parameters and
// reply values.
package wire

import (
	"fmt"
	"strings"
)

// Buffer is a growable, write-only byte accumulator used to serialize a
// Value into its canonical wire representation. It mirrors the original
// driver's buffer_new/buffer_printf/buffer_add_nul/buffer_steal_data
// contract: callers append to it and, at the end, take the finished
// bytes with Steal, which also resets the buffer to empty.
type Buffer struct {
	b strings.Builder
}

// NewBuffer returns an empty Buffer. initialAlloc is accepted for
// parity with the original API but only used as a capacity hint.
func NewBuffer(initialAlloc int) *Buffer {
	buf := &Buffer{}
	if initialAlloc > 0 {
		buf.b.Grow(initialAlloc)
	}
	return buf
}

// Printf appends a formatted string to the buffer.
func (b *Buffer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&b.b, format, args...)
}

// WriteString appends s verbatim.
func (b *Buffer) WriteString(s string) {
	b.b.WriteString(s)
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) {
	b.b.WriteByte(c)
}

// AddNUL appends a single NUL byte, the record terminator used to frame
// a varlink message on the wire.
func (b *Buffer) AddNUL() {
	b.b.WriteByte(0)
}

// Size returns the number of bytes written so far.
func (b *Buffer) Size() int {
	return b.b.Len()
}

// Steal returns the accumulated bytes and resets the buffer to empty,
// standing in for the original's buffer_steal_data which hands off
// ownership of the underlying allocation to the caller.
func (b *Buffer) Steal() []byte {
	data := []byte(b.b.String())
	b.b.Reset()
	return data
}

// String returns the accumulated bytes without resetting the buffer.
func (b *Buffer) String() string {
	return b.b.String()
}
