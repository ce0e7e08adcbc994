package protocol

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Framer reads and writes protocol fields on a byte stream.
//
// The stream's Read is expected to return (0, nil) when its poll interval
// elapses without data, as serial ports opened by the transport package do.
// That is what lets ReadFull enforce its timeout and ReadCommand watch its
// context.
type Framer struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewFramer returns a Framer over rw. A zero timeout blocks forever on
// incomplete fields.
func NewFramer(rw io.ReadWriter, timeout time.Duration) *Framer {
	return &Framer{rw: rw, timeout: timeout}
}

// ReadCommand waits for a single tag byte. Idle waiting never times out; it
// ends only when a byte arrives, ctx is done or the stream fails.
func (f *Framer) ReadCommand(ctx context.Context) (byte, error) {
	var b [1]byte
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := f.rw.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadFull fills p. It returns ErrTimeout if p is not complete within the
// framer's timeout, measured from the call.
func (f *Framer) ReadFull(p []byte) error {
	_, err := f.Fill(p)
	return err
}

// Fill is ReadFull that also reports how many bytes arrived before an error.
func (f *Framer) Fill(p []byte) (int, error) {
	var deadline time.Time
	if f.timeout > 0 {
		deadline = time.Now().Add(f.timeout)
	}
	off := 0
	for off < len(p) {
		n, err := f.rw.Read(p[off:])
		off += n
		if err != nil && !(err == io.EOF && off == len(p)) {
			return off, errors.Wrapf(err, "read %d of %d bytes", off, len(p))
		}
		if off < len(p) && !deadline.IsZero() && time.Now().After(deadline) {
			return off, errors.Wrapf(ErrTimeout, "read %d of %d bytes", off, len(p))
		}
	}
	return off, nil
}

// ReadU32 reads a little-endian 32-bit integer.
func (f *Framer) ReadU32() (uint32, error) {
	var b [4]byte
	if err := f.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Discard reads and drops n bytes, giving up after the framer's timeout.
func (f *Framer) Discard(n uint32) error {
	buf := make([]byte, min(n, DefaultChunkSize))
	for n > 0 {
		chunk := min(n, uint32(len(buf)))
		if err := f.ReadFull(buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Write sends p in full.
func (f *Framer) Write(p []byte) error {
	for len(p) > 0 {
		n, err := f.rw.Write(p)
		if err != nil {
			return errors.Wrap(err, "write")
		}
		p = p[n:]
	}
	return nil
}

// WriteByte sends a single byte.
func (f *Framer) WriteByte(b byte) error {
	return f.Write([]byte{b})
}

// WriteU32 sends v little-endian.
func (f *Framer) WriteU32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return f.Write(b[:])
}
