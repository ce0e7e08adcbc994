// Package client is the host side of the programmer protocol.
package client

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/protocol"
)

// ProgressFunc is called as data moves; done and total are byte counts.
type ProgressFunc func(done, total int)

// Client issues commands to a programmer. It is not safe for concurrent use.
type Client struct {
	rw           io.ReadWriter
	timeout      time.Duration
	eraseTimeout time.Duration
	progress     ProgressFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets how long to wait for each response field. Default is 2s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEraseTimeout sets how long to wait for a chip erase (and for the final
// acknowledgement of a write). Default is 5 minutes.
func WithEraseTimeout(d time.Duration) Option {
	return func(c *Client) { c.eraseTimeout = d }
}

// WithProgress sets a callback for Read and Write progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) { c.progress = fn }
}

// New returns a Client talking on rw, typically a transport.Port.
func New(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{
		rw:           rw,
		timeout:      2 * time.Second,
		eraseTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetProgress replaces the progress callback.
func (c *Client) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

func (c *Client) reportProgress(done, total int) {
	if c.progress != nil {
		c.progress(done, total)
	}
}

func (c *Client) framer(timeout time.Duration) *protocol.Framer {
	return protocol.NewFramer(c.rw, timeout)
}

// Info describes a detected chip.
type Info struct {
	JEDEC        [3]byte
	Capacity     uint32
	Manufacturer string
	Part         string
}

// Detect asks the programmer for the chip's JEDEC ID and capacity.
func (c *Client) Detect() (*Info, error) {
	fr := c.framer(c.timeout)
	if err := fr.WriteByte(protocol.CmdDetect); err != nil {
		return nil, err
	}

	var resp [protocol.DetectResponseSize]byte
	if err := fr.ReadFull(resp[:1]); err != nil {
		return nil, errors.Wrap(err, "JEDEC ID read failed")
	}
	if err := fr.ReadFull(resp[1:]); err != nil {
		// a lone NACK is how the programmer reports a bus failure
		if resp[0] == protocol.Nack && protocol.IsTimeout(err) {
			return nil, protocol.ErrNack
		}
		return nil, errors.Wrap(err, "JEDEC ID read failed")
	}

	info := &Info{
		JEDEC:    [3]byte(resp[:3]),
		Capacity: binary.LittleEndian.Uint32(resp[3:]),
	}
	info.Manufacturer = spiprog.ManufacturerName(info.JEDEC[0])
	info.Part = spiprog.PartName(info.JEDEC, info.Capacity)
	glog.V(1).Infof("detected %X capacity %d", info.JEDEC, info.Capacity)
	return info, nil
}

func (c *Client) sendRange(fr *protocol.Framer, tag byte, addr, length uint32) error {
	var hdr [9]byte
	hdr[0] = tag
	binary.LittleEndian.PutUint32(hdr[1:5], addr)
	binary.LittleEndian.PutUint32(hdr[5:9], length)
	return fr.Write(hdr[:])
}

// expectAck reads one byte and checks it is ACK.
func expectAck(fr *protocol.Framer) error {
	var b [1]byte
	if err := fr.ReadFull(b[:]); err != nil {
		return err
	}
	switch b[0] {
	case protocol.Ack:
		return nil
	case protocol.Nack:
		return protocol.ErrNack
	default:
		return errors.Wrapf(protocol.ErrNoAck, "got 0x%02X", b[0])
	}
}

// Read returns n bytes from addr.
func (c *Client) Read(addr uint32, n int) ([]byte, error) {
	fr := c.framer(c.timeout)
	if err := c.sendRange(fr, protocol.CmdRead, addr, uint32(n)); err != nil {
		return nil, err
	}
	if err := expectAck(fr); err != nil {
		return nil, errors.Wrap(err, "read")
	}

	out := make([]byte, n)
	const step = 4096
	for off := 0; off < n; {
		chunk := min(step, n-off)
		if err := fr.ReadFull(out[off : off+chunk]); err != nil {
			return nil, errors.Wrapf(err, "read data at offset %d", off)
		}
		off += chunk
		c.reportProgress(off, n)
	}
	return out, nil
}

// Write programs data at addr. The range must have been erased.
func (c *Client) Write(addr uint32, data []byte) error {
	fr := c.framer(c.timeout)
	if err := c.sendRange(fr, protocol.CmdWrite, addr, uint32(len(data))); err != nil {
		return err
	}
	if err := expectAck(fr); err != nil {
		return errors.Wrap(err, "write")
	}

	for off := 0; off < len(data); {
		chunk := min(protocol.DefaultChunkSize, len(data)-off)
		if err := fr.Write(data[off : off+chunk]); err != nil {
			return err
		}
		off += chunk
		c.reportProgress(off, len(data))
	}

	if err := expectAck(c.framer(c.eraseTimeout)); err != nil {
		return errors.Wrap(err, "write failed")
	}
	return nil
}

// Erase erases the whole chip.
func (c *Client) Erase() error {
	fr := c.framer(c.eraseTimeout)
	if err := fr.WriteByte(protocol.CmdErase); err != nil {
		return err
	}
	if err := expectAck(fr); err != nil {
		return errors.Wrap(err, "erase failed")
	}
	return nil
}
